package emitter

import (
	"context"
	"encoding/json"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog/log"
)

// Deliverer pushes one outbound message to its destination transport.
type Deliverer interface {
	Deliver(ctx context.Context, groupKey, dedupKey string, payload json.RawMessage) error
}

// LogDeliverer is the default destination when no transport is
// configured: messages are logged and dropped.
type LogDeliverer struct{}

func (LogDeliverer) Deliver(_ context.Context, groupKey, dedupKey string, payload json.RawMessage) error {
	log.Info().
		Str("groupKey", groupKey).
		Str("dedupKey", dedupKey).
		RawJSON("payload", payload).
		Msg("outbound message delivered to log sink")
	return nil
}

// OutboundWorker drains the outbound queue into the configured
// deliverer. Delivery errors return to river for retry.
type OutboundWorker struct {
	river.WorkerDefaults[OutboundMessageArgs]
	deliverer Deliverer
}

func NewOutboundWorker(d Deliverer) *OutboundWorker {
	if d == nil {
		d = LogDeliverer{}
	}
	return &OutboundWorker{deliverer: d}
}

func (w *OutboundWorker) Work(ctx context.Context, job *river.Job[OutboundMessageArgs]) error {
	args := job.Args
	return w.deliverer.Deliver(ctx, args.GroupKey, args.DedupKey, args.Payload)
}
