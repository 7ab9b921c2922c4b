package member

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/threadline/internal/merge"
	"github.com/threadline/internal/storage"
)

// Service implements find-or-create member resolution.
type Service struct {
	store Store
}

func NewService(store Store) *Service { return &Service{store: store} }

// Upsert resolves input to exactly one stored member, creating or merging
// as needed, and returns the fully resolved record. The lookup considers
// every handle on the input; if different handles resolve to different
// stored members the call fails with ErrAmbiguousIdentity and nothing is
// written.
func (s *Service) Upsert(ctx context.Context, tx storage.Tx, tenantID string, input UpsertInput) (*Member, error) {
	if len(input.Usernames) == 0 {
		return nil, ErrNoUsernames
	}

	existing, err := s.findExisting(ctx, tx, tenantID, input)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		m := &Member{
			TenantID:    tenantID,
			Usernames:   copyUsernames(input.Usernames),
			DisplayName: input.DisplayName,
			Email:       input.Email,
			Score:       input.Score,
			Profile:     merge.Clone(input.Profile),
			JoinedAt:    input.JoinedAt,
		}
		if err := s.store.Create(ctx, tx, m); err != nil {
			return nil, fmt.Errorf("create member: %w", err)
		}
		log.Debug().
			Str("tenantId", tenantID).
			Str("memberId", m.ID).
			Msg("created member")
		return m, nil
	}

	merged := mergeInto(existing, input)
	if err := s.store.Update(ctx, tx, merged); err != nil {
		return nil, fmt.Errorf("update member %s: %w", merged.ID, err)
	}
	return merged, nil
}

// findExisting looks every input handle up and returns the single stored
// member they agree on, nil when none match.
func (s *Service) findExisting(ctx context.Context, tx storage.Tx, tenantID string, input UpsertInput) (*Member, error) {
	var found *Member
	for platform, handle := range input.Usernames {
		if handle == "" {
			continue
		}
		m, err := s.store.FindByUsername(ctx, tx, tenantID, platform, handle)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup member by %s handle: %w", platform, err)
		}
		if found != nil && found.ID != m.ID {
			return nil, fmt.Errorf("%w: %s and %s", ErrAmbiguousIdentity, found.ID, m.ID)
		}
		found = m
	}
	return found, nil
}

// mergeInto folds one observation into an existing record. Usernames are
// unioned with last-write-wins per platform, the profile is deep-merged,
// and joinedAt only ever moves backward except when the stored value is a
// far-past placeholder.
func mergeInto(existing *Member, input UpsertInput) *Member {
	m := cloneMember(existing)
	if m.Usernames == nil {
		m.Usernames = make(map[string]string, len(input.Usernames))
	}
	for platform, handle := range input.Usernames {
		if handle != "" {
			m.Usernames[platform] = handle
		}
	}
	if input.DisplayName != "" {
		m.DisplayName = input.DisplayName
	}
	if input.Email != "" {
		m.Email = input.Email
	}
	if input.Score != 0 {
		m.Score = input.Score
	}
	if input.Profile != nil {
		m.Profile = merge.Documents(m.Profile, input.Profile)
	}
	if !input.JoinedAt.IsZero() {
		switch {
		case m.JoinedAt.Before(earliestValidJoinedAt):
			// Stored value is a sentinel, replace unconditionally.
			m.JoinedAt = input.JoinedAt
		case input.JoinedAt.Before(m.JoinedAt):
			m.JoinedAt = input.JoinedAt
		}
	}
	return m
}

func copyUsernames(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
