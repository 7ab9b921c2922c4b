// Package member resolves platform identities into stored member records.
//
// A member is one person as seen across platforms: a mapping of platform
// name to handle, a merged schemaless profile, and the earliest known
// activity time. Repeated observations merge into the existing record,
// including handle changes on a platform the member is already known on.
package member

import (
	"errors"
	"time"

	"github.com/threadline/internal/merge"
)

var (
	// ErrNotFound is returned when no member matches a lookup.
	ErrNotFound = errors.New("member not found")

	// ErrAmbiguousIdentity is returned when the handles of one upsert
	// input match two or more distinct stored members. That is a data
	// error on the caller's side and is never resolved silently.
	ErrAmbiguousIdentity = errors.New("member handles match multiple distinct records")

	// ErrNoUsernames is returned when an upsert input carries no
	// platform handle at all.
	ErrNoUsernames = errors.New("member input has no platform handles")
)

// earliestValidJoinedAt is the epoch boundary below which a stored
// joinedAt is treated as an unset placeholder. Some connectors persist
// far-past dates (year 1000 and the like) when the real join time is
// unknown; any real activity timestamp replaces such a value outright.
var earliestValidJoinedAt = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// Member is a stored platform identity.
type Member struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenantId"`
	Usernames   map[string]string `json:"username"`
	DisplayName string            `json:"displayName,omitempty"`
	Email       string            `json:"email,omitempty"`
	Score       int               `json:"score"`
	Profile     merge.Document    `json:"profile,omitempty"`
	JoinedAt    time.Time         `json:"joinedAt"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// UpsertInput carries one observation of a member.
type UpsertInput struct {
	// Usernames maps platform name to handle. At least one entry is
	// required; any entry may be used for the lookup.
	Usernames   map[string]string
	DisplayName string
	Email       string
	Score       int
	Profile     merge.Document
	JoinedAt    time.Time
}

func cloneMember(m *Member) *Member {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Usernames != nil {
		cp.Usernames = make(map[string]string, len(m.Usernames))
		for k, v := range m.Usernames {
			cp.Usernames[k] = v
		}
	}
	cp.Profile = merge.Clone(m.Profile)
	return &cp
}
