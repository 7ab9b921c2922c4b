package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/threadline/internal/activity"
	"github.com/threadline/internal/member"
)

// ActivityIngestArgs is the job payload for one queued envelope. The
// envelope participates in river's unique-job constraint, so the same
// submission queued twice while a copy is pending runs once.
type ActivityIngestArgs struct {
	TenantID string          `json:"tenant_id"`
	Envelope json.RawMessage `json:"envelope"`
}

func (ActivityIngestArgs) Kind() string { return "activity_ingest" }

func (ActivityIngestArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue: QueueIngest,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
		},
	}
}

// TenantLimiter hands out one token-bucket limiter per tenant.
type TenantLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func NewTenantLimiter(r rate.Limit, burst int) *TenantLimiter {
	return &TenantLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Wait blocks until the tenant's bucket has a token or ctx ends.
func (l *TenantLimiter) Wait(ctx context.Context, tenantID string) error {
	l.mu.Lock()
	limiter, ok := l.limiters[tenantID]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[tenantID] = limiter
	}
	l.mu.Unlock()
	return limiter.Wait(ctx)
}

// ActivityIngestWorker validates and ingests queued envelopes. Input
// that can never succeed is cancelled instead of retried; everything
// else returns to river's retry curve.
type ActivityIngestWorker struct {
	river.WorkerDefaults[ActivityIngestArgs]
	engine *activity.Engine
	limits *TenantLimiter
}

func NewActivityIngestWorker(engine *activity.Engine, limits *TenantLimiter) *ActivityIngestWorker {
	return &ActivityIngestWorker{engine: engine, limits: limits}
}

func (w *ActivityIngestWorker) Work(ctx context.Context, job *river.Job[ActivityIngestArgs]) error {
	args := job.Args
	if w.limits != nil {
		if err := w.limits.Wait(ctx, args.TenantID); err != nil {
			return err
		}
	}

	env, err := ParseEnvelope(args.Envelope)
	if err != nil {
		log.Warn().Err(err).Str("tenantId", args.TenantID).Msg("envelope rejected")
		return river.JobCancel(err)
	}

	act, err := w.engine.Upsert(ctx, args.TenantID, env.Input())
	switch {
	case errors.Is(err, activity.ErrInvalidActivity),
		errors.Is(err, member.ErrAmbiguousIdentity),
		errors.Is(err, member.ErrNoUsernames):
		// Retrying cannot fix the input.
		log.Warn().Err(err).
			Str("tenantId", args.TenantID).
			Str("platform", env.Platform).
			Str("sourceId", env.SourceID).
			Msg("envelope cancelled")
		return river.JobCancel(err)
	case err != nil:
		return err
	}

	log.Debug().
		Str("tenantId", args.TenantID).
		Str("activityId", act.ID).
		Str("sourceId", act.SourceID).
		Msg("envelope ingested")
	return nil
}
