// Package tenant holds per-tenant configuration consumed by the
// conversation materializer, most importantly the auto-publish policy.
package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/threadline/internal/storage"
)

var ErrNotFound = errors.New("not found")

// AutoPublishStatus selects how conversations are published without
// manual review.
type AutoPublishStatus string

const (
	// AutoPublishDisabled never publishes automatically.
	AutoPublishDisabled AutoPublishStatus = "disabled"
	// AutoPublishAll publishes on every materialization or extension.
	AutoPublishAll AutoPublishStatus = "all"
	// AutoPublishCustom publishes only when the triggering activity's
	// channel is on the allow-list for its platform.
	AutoPublishCustom AutoPublishStatus = "custom"
)

// AutoPublishSettings is the tenant's conversation auto-publish
// configuration. ChannelsByPlatform maps a platform name to the channel
// identifiers (repository names, chat channels) allowed to publish.
type AutoPublishSettings struct {
	Status             AutoPublishStatus   `json:"status"`
	ChannelsByPlatform map[string][]string `json:"channelsByPlatform,omitempty"`
}

// ConversationSettings is the stored per-tenant settings record.
type ConversationSettings struct {
	ID          string              `json:"id"`
	TenantID    string              `json:"tenantId"`
	AutoPublish AutoPublishSettings `json:"autoPublish"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// DefaultSettings returns the settings applied to a tenant that has never
// configured auto-publish.
func DefaultSettings(tenantID string) *ConversationSettings {
	return &ConversationSettings{
		TenantID: tenantID,
		AutoPublish: AutoPublishSettings{
			Status: AutoPublishDisabled,
		},
	}
}

// SettingsStore persists per-tenant conversation settings.
type SettingsStore interface {
	// FindOrCreateDefault returns the tenant's settings, creating the
	// default record on first access.
	FindOrCreateDefault(ctx context.Context, tx storage.Tx, tenantID string) (*ConversationSettings, error)

	// Save overwrites the tenant's auto-publish configuration.
	Save(ctx context.Context, tx storage.Tx, tenantID string, ap AutoPublishSettings) (*ConversationSettings, error)
}
