// Package conversation materializes reply threads into durable
// conversation aggregates with a derived title and a per-tenant unique
// slug.
package conversation

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("conversation not found")

	// ErrConflict tags the case where a parent and child activity already
	// belong to two different established conversations. The engine
	// resolves it deterministically (the earlier conversation wins) but
	// the event is never silently dropped.
	ErrConflict = errors.New("activities belong to different conversations")
)

// Conversation is a materialized thread.
type Conversation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Published bool      `json:"published"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Filter narrows FindAndCount results. Zero fields are ignored.
type Filter struct {
	Slug      string
	Published *bool
}

func cloneConversation(c *Conversation) *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
