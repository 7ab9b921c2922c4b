/*
Package ingest configuration. All tunable parameters for the river
queues live here.

Tuning notes:
  - MaxWorkers bounds concurrent ingestion per process. Upserts for the
    same (tenant, platform, sourceId) serialize on the activity row, so
    more workers mostly helps across tenants.
  - TenantRate/TenantBurst throttle each tenant's ingestion so one noisy
    connector cannot starve the rest.
  - MaxRetries follows river's default curve; failed jobs keep their
    error history in the river jobs table.
*/
package ingest

import (
	"os"
	"time"

	"github.com/riverqueue/river"
	"golang.org/x/time/rate"

	"github.com/threadline/internal/emitter"
)

// QueueIngest is the river queue inbound envelopes are worked from.
const QueueIngest = "ingest"

// QueueConfig holds all configurable parameters for the queues.
type QueueConfig struct {
	// Worker configuration
	MaxWorkers         int // concurrent ingest workers (default: 10)
	OutboundMaxWorkers int // concurrent outbound delivery workers (default: 5)

	// Retry configuration
	MaxRetries int           // attempts per job before discard (default: 25)
	JobTimeout time.Duration // per-job deadline (default: 1 minute)

	// Per-tenant throttle
	TenantRate  rate.Limit // envelopes per second per tenant (default: 50)
	TenantBurst int        // burst allowance per tenant (default: 100)
}

// DefaultQueueConfig returns the baseline configuration.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:         10,
		OutboundMaxWorkers: 5,
		MaxRetries:         25,
		JobTimeout:         1 * time.Minute,
		TenantRate:         rate.Limit(50),
		TenantBurst:        100,
	}
}

// ProductionQueueConfig favors throughput.
func ProductionQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()
	config.MaxWorkers = 20
	config.OutboundMaxWorkers = 10
	config.JobTimeout = 2 * time.Minute
	return config
}

// DevelopmentQueueConfig fails fast and stays light on connections.
func DevelopmentQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()
	config.MaxWorkers = 3
	config.OutboundMaxWorkers = 2
	config.MaxRetries = 5
	config.JobTimeout = 30 * time.Second
	return config
}

// GetQueueConfig picks the configuration for the current environment.
func GetQueueConfig() *QueueConfig {
	switch os.Getenv("THREADLINE_ENV") {
	case "production":
		return ProductionQueueConfig()
	case "development":
		return DevelopmentQueueConfig()
	default:
		return DefaultQueueConfig()
	}
}

// RiverQueueConfig converts the config to river's queue map.
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		QueueIngest: {
			MaxWorkers: c.MaxWorkers,
		},
		emitter.QueueOutbound: {
			MaxWorkers: c.OutboundMaxWorkers,
		},
	}
}
