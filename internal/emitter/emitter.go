// Package emitter is the outbound message collaborator: it hands
// notifications about ingested records to downstream consumers (search
// indexing, integration sync) with at-least-once delivery. Consumers are
// responsible for idempotent handling; the caller supplies a group key
// for ordering and a deduplication key.
package emitter

import (
	"context"
	"fmt"
)

// Emitter delivers one message to a downstream queue.
type Emitter interface {
	Send(ctx context.Context, groupKey string, payload interface{}, dedupKey string) error
}

// MemberSyncMessage asks the integration layer to sync one member.
type MemberSyncMessage struct {
	Type     string `json:"type"`
	TenantID string `json:"tenantId"`
	Platform string `json:"platform"`
	MemberID string `json:"memberId"`
}

// ConversationSyncMessage asks the indexing layer to refresh one
// conversation.
type ConversationSyncMessage struct {
	Type           string `json:"type"`
	TenantID       string `json:"tenantId"`
	ConversationID string `json:"conversationId"`
}

// Sync wraps an Emitter with the trigger surface used by the ingestion
// engine. Group keys are tenant-scoped; dedup keys are record-scoped so
// repeat triggers for the same record collapse.
type Sync struct {
	emitter Emitter
}

func NewSync(e Emitter) *Sync { return &Sync{emitter: e} }

func (s *Sync) TriggerMemberSync(ctx context.Context, tenantID, platform, memberID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	if memberID == "" {
		return fmt.Errorf("memberID is required")
	}
	return s.emitter.Send(ctx,
		"member-sync-"+tenantID,
		MemberSyncMessage{
			Type:     "sync_member",
			TenantID: tenantID,
			Platform: platform,
			MemberID: memberID,
		},
		"member-sync-"+memberID,
	)
}

func (s *Sync) TriggerConversationSync(ctx context.Context, tenantID, conversationID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	if conversationID == "" {
		return fmt.Errorf("conversationID is required")
	}
	return s.emitter.Send(ctx,
		"conversation-sync-"+tenantID,
		ConversationSyncMessage{
			Type:           "sync_conversation",
			TenantID:       tenantID,
			ConversationID: conversationID,
		},
		"conversation-sync-"+conversationID,
	)
}
