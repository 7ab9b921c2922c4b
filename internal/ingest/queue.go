package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/threadline/internal/activity"
	"github.com/threadline/internal/emitter"
)

// Queue owns the river client, its connection pool, and both worker
// sets: envelope ingestion and outbound delivery.
type Queue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewQueue builds the queue around an existing engine. deliverer may be
// nil, in which case outbound messages go to the log sink.
func NewQueue(ctx context.Context, databaseURL string, engine *activity.Engine, deliverer emitter.Deliverer) (*Queue, error) {
	config := GetQueueConfig()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewActivityIngestWorker(engine, NewTenantLimiter(config.TenantRate, config.TenantBurst)))
	river.AddWorker(workers, emitter.NewOutboundWorker(deliverer))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating river client: %w", err)
	}

	return &Queue{client: client, pool: pool, config: config}, nil
}

// NewInsertQueue builds a client used only to enqueue envelopes, with
// no workers attached.
func NewInsertQueue(ctx context.Context, databaseURL string) (*Queue, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating river client: %w", err)
	}
	return &Queue{client: client, pool: pool, config: GetQueueConfig()}, nil
}

// Close releases the pool without draining workers, for insert-only
// clients.
func (q *Queue) Close() { q.pool.Close() }

// Client exposes the river client so the outbound emitter can insert
// through the same pool.
func (q *Queue) Client() *river.Client[pgx.Tx] { return q.client }

// Start launches the workers.
func (q *Queue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

// Stop drains the workers and closes the pool.
func (q *Queue) Stop(ctx context.Context) error {
	err := q.client.Stop(ctx)
	q.pool.Close()
	return err
}

// EnqueueActivity validates raw and queues it for ingestion. Validation
// errors surface immediately so connectors get synchronous feedback on
// malformed envelopes.
func (q *Queue) EnqueueActivity(ctx context.Context, tenantID string, raw json.RawMessage) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant is required", ErrInvalidEnvelope)
	}
	if _, err := ParseEnvelope(raw); err != nil {
		return err
	}

	res, err := q.client.Insert(ctx, ActivityIngestArgs{
		TenantID: tenantID,
		Envelope: raw,
	}, nil)
	if err != nil {
		return fmt.Errorf("queueing envelope: %w", err)
	}
	log.Debug().
		Str("tenantId", tenantID).
		Bool("duplicate", res.UniqueSkippedAsDuplicate).
		Msg("envelope queued")
	return nil
}
