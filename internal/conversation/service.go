package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/threadline/internal/storage"
)

// Service creates and mutates conversation aggregates.
type Service struct {
	store Store
}

func NewService(store Store) *Service { return &Service{store: store} }

func (s *Service) Store() Store { return s.store }

// Create materializes a new conversation titled after the thread root.
// The slug is derived from the title and disambiguated per tenant.
func (s *Service) Create(ctx context.Context, tx storage.Tx, tenantID, title string) (*Conversation, error) {
	slug, err := s.uniqueSlug(ctx, tx, tenantID, Slugify(title), "")
	if err != nil {
		return nil, err
	}
	c := &Conversation{
		TenantID: tenantID,
		Title:    title,
		Slug:     slug,
	}
	if err := s.store.Create(ctx, tx, c); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	log.Debug().
		Str("tenantId", tenantID).
		Str("conversationId", c.ID).
		Str("slug", c.Slug).
		Msg("created conversation")
	return c, nil
}

// Retitle regenerates title and slug from new thread-root content.
// Published conversations are immutable; callers must check before
// invoking.
func (s *Service) Retitle(ctx context.Context, tx storage.Tx, c *Conversation, title string) error {
	if c.Published {
		return fmt.Errorf("conversation %s is published, derived fields are frozen", c.ID)
	}
	slug, err := s.uniqueSlug(ctx, tx, c.TenantID, Slugify(title), c.ID)
	if err != nil {
		return err
	}
	c.Title = title
	c.Slug = slug
	return s.store.Update(ctx, tx, c)
}

// Publish marks the conversation published. Publishing is one-way: the
// engine never unpublishes.
func (s *Service) Publish(ctx context.Context, tx storage.Tx, c *Conversation) error {
	if c.Published {
		return nil
	}
	c.Published = true
	return s.store.Update(ctx, tx, c)
}

// FindByID returns one conversation.
func (s *Service) FindByID(ctx context.Context, tx storage.Tx, tenantID, id string) (*Conversation, error) {
	return s.store.FindByID(ctx, tx, tenantID, id)
}

// FindAndCount lists conversations matching the filter.
func (s *Service) FindAndCount(ctx context.Context, tx storage.Tx, tenantID string, f Filter) ([]*Conversation, int, error) {
	return s.store.FindAndCount(ctx, tx, tenantID, f)
}

// uniqueSlug disambiguates base with a numeric suffix until no other
// conversation in the tenant holds it. selfID excludes the conversation
// being retitled from the collision check.
func (s *Service) uniqueSlug(ctx context.Context, tx storage.Tx, tenantID, base, selfID string) (string, error) {
	if base == "" {
		base = "conversation"
	}
	candidate := base
	for suffix := 1; ; suffix++ {
		existing, err := s.store.FindBySlug(ctx, tx, tenantID, candidate)
		if errors.Is(err, ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("check slug %q: %w", candidate, err)
		}
		if selfID != "" && existing.ID == selfID {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(suffix)
	}
}
