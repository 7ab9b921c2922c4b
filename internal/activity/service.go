package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/threadline/internal/conversation"
	"github.com/threadline/internal/member"
	"github.com/threadline/internal/merge"
	"github.com/threadline/internal/storage"
	"github.com/threadline/internal/tenant"
)

// maxThreadDepth bounds the parent walk when locating a thread root.
// Source data should never form cycles, but a corrupt import must not
// hang the engine.
const maxThreadDepth = 100

// UpsertInput is one inbound activity observation. Either MemberID
// references an already resolved member, or Member carries the raw
// identity to resolve inside the same transaction.
type UpsertInput struct {
	Type           string
	Timestamp      time.Time
	Platform       string
	SourceID       string
	SourceParentID string
	Payload        merge.Document
	IsKeyAction    bool
	Score          float64
	MemberID       string
	Member         *member.UpsertInput
}

// Engine is the ingestion core. Every Upsert runs in one transaction:
// member resolution, the activity write, link resolution for both edge
// directions, and conversation threading commit or roll back together.
type Engine struct {
	txm           storage.Manager
	activities    Store
	members       *member.Service
	conversations *conversation.Service
	settings      tenant.SettingsStore
	sync          Notifier
}

// Notifier decouples the engine from the concrete outbound sync surface.
type Notifier interface {
	TriggerMemberSync(ctx context.Context, tenantID, platform, memberID string) error
	TriggerConversationSync(ctx context.Context, tenantID, conversationID string) error
}

// NewEngine wires the engine. sync may be nil when outbound messaging is
// disabled.
func NewEngine(
	txm storage.Manager,
	activities Store,
	members *member.Service,
	conversations *conversation.Service,
	settings tenant.SettingsStore,
	sync Notifier,
) *Engine {
	return &Engine{
		txm:           txm,
		activities:    activities,
		members:       members,
		conversations: conversations,
		settings:      settings,
		sync:          sync,
	}
}

// SetNotifier installs the outbound sync surface after construction.
// The queue that delivers notifications is itself built around the
// engine, so the notifier arrives late.
func (e *Engine) SetNotifier(sync Notifier) { e.sync = sync }

// Upsert ingests one activity. When no activity exists for the input's
// (platform, sourceID) within the tenant a new record is created;
// otherwise the stored record is merged with the input. Either way link
// resolution then runs for both directions of the parent edge and
// conversation membership is settled before the transaction commits.
func (e *Engine) Upsert(ctx context.Context, tenantID string, in UpsertInput) (*Activity, error) {
	if err := validate(tenantID, in); err != nil {
		return nil, err
	}

	var result *Activity
	err := storage.WithTx(ctx, e.txm, func(tx storage.Tx) error {
		var txErr error
		result, txErr = e.upsertInTx(ctx, tx, tenantID, in)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, result)
	return result, nil
}

// CreateWithMember ingests an activity together with the raw identity of
// the member who performed it. The member is resolved first, inside the
// same transaction, and joins at the activity's timestamp when newly
// created.
func (e *Engine) CreateWithMember(ctx context.Context, tenantID string, in UpsertInput) (*Activity, error) {
	if in.Member == nil {
		return nil, fmt.Errorf("%w: member identity is required", ErrInvalidActivity)
	}
	return e.Upsert(ctx, tenantID, in)
}

// FindByID returns one activity.
func (e *Engine) FindByID(ctx context.Context, tenantID, id string) (*Activity, error) {
	return e.activities.FindByID(ctx, nil, tenantID, id)
}

// ListByConversation returns a conversation's activities in creation
// order.
func (e *Engine) ListByConversation(ctx context.Context, tenantID, conversationID string) ([]*Activity, error) {
	return e.activities.ListByConversation(ctx, nil, tenantID, conversationID)
}

func validate(tenantID string, in UpsertInput) error {
	switch {
	case tenantID == "":
		return fmt.Errorf("%w: tenant is required", ErrInvalidActivity)
	case in.Platform == "":
		return fmt.Errorf("%w: platform is required", ErrInvalidActivity)
	case in.SourceID == "":
		return fmt.Errorf("%w: sourceId is required", ErrInvalidActivity)
	case in.MemberID == "" && in.Member == nil:
		return fmt.Errorf("%w: member is required", ErrInvalidActivity)
	}
	return nil
}

func (e *Engine) upsertInTx(ctx context.Context, tx storage.Tx, tenantID string, in UpsertInput) (*Activity, error) {
	memberID := in.MemberID
	if in.Member != nil {
		identity := *in.Member
		// A member created from an activity joins at that activity's
		// time regardless of what the connector claims.
		identity.JoinedAt = in.Timestamp
		m, err := e.members.Upsert(ctx, tx, tenantID, identity)
		if err != nil {
			return nil, err
		}
		memberID = m.ID
	}

	existing, err := e.activities.FindBySourceID(ctx, tx, tenantID, in.Platform, in.SourceID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup activity %s/%s: %w", in.Platform, in.SourceID, err)
	}

	var act *Activity
	if existing == nil {
		act, err = e.activities.Create(ctx, tx, &Activity{
			TenantID:       tenantID,
			Platform:       in.Platform,
			SourceID:       in.SourceID,
			Type:           in.Type,
			Timestamp:      in.Timestamp,
			Payload:        merge.Clone(in.Payload),
			IsKeyAction:    in.IsKeyAction,
			Score:          in.Score,
			MemberID:       memberID,
			SourceParentID: in.SourceParentID,
		})
		if err != nil {
			return nil, err
		}
		log.Debug().
			Str("tenantId", tenantID).
			Str("platform", in.Platform).
			Str("sourceId", in.SourceID).
			Str("activityId", act.ID).
			Msg("created activity")
	} else {
		act = mergeRecord(existing, in, memberID)
		act, err = e.activities.Update(ctx, tx, act)
		if err != nil {
			return nil, err
		}
		log.Debug().
			Str("tenantId", tenantID).
			Str("activityId", act.ID).
			Msg("merged activity")
	}

	return e.resolveLinks(ctx, tx, act)
}

// mergeRecord folds an observation into the stored activity. The payload
// is deep-merged, scalars take the incoming value, and resolved links
// are never cleared.
func mergeRecord(existing *Activity, in UpsertInput, memberID string) *Activity {
	act := cloneActivity(existing)
	act.Payload = merge.Documents(existing.Payload, in.Payload)
	if in.Type != "" {
		act.Type = in.Type
	}
	if !in.Timestamp.IsZero() {
		act.Timestamp = in.Timestamp
	}
	act.IsKeyAction = in.IsKeyAction
	act.Score = in.Score
	if memberID != "" {
		act.MemberID = memberID
	}
	if in.SourceParentID != "" {
		act.SourceParentID = in.SourceParentID
	}
	return act
}

// resolveLinks settles both directions of the parent edge around act:
// the activity's own pending parent reference, and any previously
// ingested activities that were waiting for act to arrive.
func (e *Engine) resolveLinks(ctx context.Context, tx storage.Tx, act *Activity) (*Activity, error) {
	if act.SourceParentID != "" && act.ParentID == "" {
		parent, err := e.activities.FindBySourceID(ctx, tx, act.TenantID, act.Platform, act.SourceParentID)
		switch {
		case errors.Is(err, ErrNotFound):
			// Parent not ingested yet; the edge resolves when it arrives.
		case err != nil:
			return nil, fmt.Errorf("lookup parent %s: %w", act.SourceParentID, err)
		default:
			act.ParentID = parent.ID
			act, err = e.activities.Update(ctx, tx, act)
			if err != nil {
				return nil, err
			}
			if err := e.addToConversation(ctx, tx, act, parent); err != nil {
				return nil, err
			}
		}
	}

	children, err := e.activities.FindUnresolvedChildren(ctx, tx, act.TenantID, act.Platform, act.SourceID)
	if err != nil {
		return nil, fmt.Errorf("lookup waiting children of %s: %w", act.SourceID, err)
	}
	for _, child := range children {
		child.ParentID = act.ID
		child, err = e.activities.Update(ctx, tx, child)
		if err != nil {
			return nil, err
		}
		if err := e.addToConversation(ctx, tx, child, act); err != nil {
			return nil, err
		}
	}

	return e.activities.FindByID(ctx, tx, act.TenantID, act.ID)
}

// addToConversation settles conversation membership for a freshly
// resolved parent edge. The four membership states collapse as follows:
// neither side threaded starts a new conversation from the thread root;
// one side threaded pulls the other in; both sides threaded into
// different conversations is a conflict resolved by keeping the earlier
// conversation. Both local structs reflect the stored state on return.
func (e *Engine) addToConversation(ctx context.Context, tx storage.Tx, child, parent *Activity) error {
	var conv *conversation.Conversation
	var err error

	switch {
	case parent.ConversationID == "" && child.ConversationID == "":
		root, rootErr := e.threadRoot(ctx, tx, parent)
		if rootErr != nil {
			return rootErr
		}
		conv, err = e.conversations.Create(ctx, tx, child.TenantID, titleOf(root.Payload))
		if err != nil {
			return err
		}
		parent.ConversationID = conv.ID
		if parent, err = e.activities.Update(ctx, tx, parent); err != nil {
			return err
		}
		child.ConversationID = conv.ID
		if child, err = e.activities.Update(ctx, tx, child); err != nil {
			return err
		}

	case parent.ConversationID != "" && child.ConversationID == "":
		child.ConversationID = parent.ConversationID
		if child, err = e.activities.Update(ctx, tx, child); err != nil {
			return err
		}
		if conv, err = e.conversations.FindByID(ctx, tx, child.TenantID, child.ConversationID); err != nil {
			return err
		}

	case parent.ConversationID == "" && child.ConversationID != "":
		if conv, err = e.conversations.FindByID(ctx, tx, child.TenantID, child.ConversationID); err != nil {
			return err
		}
		parent.ConversationID = conv.ID
		if parent, err = e.activities.Update(ctx, tx, parent); err != nil {
			return err
		}
		// The conversation was titled after a provisional root; the
		// newly attached parent may reveal the real one.
		if !conv.Published {
			root, rootErr := e.threadRoot(ctx, tx, parent)
			if rootErr != nil {
				return rootErr
			}
			if err = e.conversations.Retitle(ctx, tx, conv, titleOf(root.Payload)); err != nil {
				return err
			}
		}

	case parent.ConversationID != child.ConversationID:
		if conv, err = e.mergeConversations(ctx, tx, parent, child); err != nil {
			return err
		}

	default:
		if conv, err = e.conversations.FindByID(ctx, tx, child.TenantID, child.ConversationID); err != nil {
			return err
		}
	}

	return e.autoPublish(ctx, tx, conv, child, parent)
}

// mergeConversations resolves the both-sides-threaded conflict by
// keeping the earlier-created conversation and folding the other one
// into it.
func (e *Engine) mergeConversations(ctx context.Context, tx storage.Tx, parent, child *Activity) (*conversation.Conversation, error) {
	first, err := e.conversations.FindByID(ctx, tx, parent.TenantID, parent.ConversationID)
	if err != nil {
		return nil, err
	}
	second, err := e.conversations.FindByID(ctx, tx, child.TenantID, child.ConversationID)
	if err != nil {
		return nil, err
	}

	winner, loser := first, second
	if second.CreatedAt.Before(first.CreatedAt) ||
		(second.CreatedAt.Equal(first.CreatedAt) && second.ID < first.ID) {
		winner, loser = second, first
	}

	moved, err := e.activities.ListByConversation(ctx, tx, loser.TenantID, loser.ID)
	if err != nil {
		return nil, err
	}
	for _, a := range moved {
		a.ConversationID = winner.ID
		if _, err := e.activities.Update(ctx, tx, a); err != nil {
			return nil, err
		}
	}
	if err := e.conversations.Store().Delete(ctx, tx, loser.TenantID, loser.ID); err != nil {
		return nil, err
	}

	parent.ConversationID = winner.ID
	child.ConversationID = winner.ID

	log.Warn().
		Err(conversation.ErrConflict).
		Str("tenantId", winner.TenantID).
		Str("kept", winner.ID).
		Str("merged", loser.ID).
		Int("movedActivities", len(moved)).
		Msg("parent edge bridged two conversations")
	return winner, nil
}

// autoPublish evaluates the tenant's policy once membership is settled.
// Published conversations are left alone.
func (e *Engine) autoPublish(ctx context.Context, tx storage.Tx, conv *conversation.Conversation, child, parent *Activity) error {
	if conv == nil || conv.Published {
		return nil
	}
	settings, err := e.settings.FindOrCreateDefault(ctx, tx, conv.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant settings: %w", err)
	}
	publish := conversation.ShouldAutoPublish(settings.AutoPublish, child.Platform, child.Payload) ||
		conversation.ShouldAutoPublish(settings.AutoPublish, parent.Platform, parent.Payload)
	if !publish {
		return nil
	}
	if err := e.conversations.Publish(ctx, tx, conv); err != nil {
		return err
	}
	log.Debug().
		Str("tenantId", conv.TenantID).
		Str("conversationId", conv.ID).
		Str("status", string(settings.AutoPublish.Status)).
		Msg("conversation auto-published")
	return nil
}

// threadRoot walks parent links up from act until an activity with no
// parent, a dangling link, or the depth bound.
func (e *Engine) threadRoot(ctx context.Context, tx storage.Tx, act *Activity) (*Activity, error) {
	current := act
	for depth := 0; current.ParentID != ""; depth++ {
		if depth >= maxThreadDepth {
			log.Warn().
				Str("tenantId", act.TenantID).
				Str("activityId", act.ID).
				Msg("thread depth bound hit while locating root")
			break
		}
		next, err := e.activities.FindByID(ctx, tx, current.TenantID, current.ParentID)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// titleOf extracts displayable thread-root content from a payload.
func titleOf(payload merge.Document) string {
	if t, ok := payload["title"].(string); ok && t != "" {
		return t
	}
	if b, ok := payload["body"].(string); ok && b != "" {
		return b
	}
	return ""
}

// notify queues outbound sync triggers after commit. Delivery failures
// are logged, never surfaced: the write already succeeded.
func (e *Engine) notify(ctx context.Context, act *Activity) {
	if e.sync == nil || act == nil {
		return
	}
	if act.MemberID != "" {
		if err := e.sync.TriggerMemberSync(ctx, act.TenantID, act.Platform, act.MemberID); err != nil {
			log.Warn().Err(err).Str("memberId", act.MemberID).Msg("member sync trigger failed")
		}
	}
	if act.ConversationID != "" {
		if err := e.sync.TriggerConversationSync(ctx, act.TenantID, act.ConversationID); err != nil {
			log.Warn().Err(err).Str("conversationId", act.ConversationID).Msg("conversation sync trigger failed")
		}
	}
}
