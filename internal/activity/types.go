// Package activity holds the ingestion engine. Activities arrive from
// platform integrations in arbitrary order, keyed by (tenant, platform,
// source ID). The engine deduplicates them, resolves parent references
// as both sides of an edge become available, and threads linked
// activities into conversations.
package activity

import (
	"errors"
	"time"

	"github.com/threadline/internal/merge"
)

var (
	// ErrInvalidActivity marks input that fails structural validation
	// before any write happens.
	ErrInvalidActivity = errors.New("invalid activity")

	// ErrNotFound is returned when no activity matches the lookup.
	ErrNotFound = errors.New("activity not found")
)

// Activity is one ingested event. ParentID and ConversationID start
// empty and are only ever filled in by link resolution, never cleared.
type Activity struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenantId"`
	Platform       string         `json:"platform"`
	SourceID       string         `json:"sourceId"`
	Type           string         `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	Payload        merge.Document `json:"payload"`
	IsKeyAction    bool           `json:"isKeyAction"`
	Score          float64        `json:"score"`
	MemberID       string         `json:"memberId"`
	ParentID       string         `json:"parentId,omitempty"`
	SourceParentID string         `json:"sourceParentId,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

func cloneActivity(a *Activity) *Activity {
	if a == nil {
		return nil
	}
	out := *a
	out.Payload = merge.Clone(a.Payload)
	return &out
}
