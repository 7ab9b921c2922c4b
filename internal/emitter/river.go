package emitter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog/log"
)

// OutboundMessageArgs is the job payload for one outbound message. The
// dedup key participates in river's unique-job constraint, so repeated
// sends of the same message while a copy is still queued collapse into
// one job.
type OutboundMessageArgs struct {
	GroupKey string          `json:"group_key"`
	DedupKey string          `json:"dedup_key"`
	Payload  json.RawMessage `json:"payload"`
}

func (OutboundMessageArgs) Kind() string { return "outbound_message" }

func (OutboundMessageArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue: QueueOutbound,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
		},
	}
}

// QueueOutbound is the river queue outbound messages are inserted into.
const QueueOutbound = "outbound"

// RiverEmitter queues messages as river jobs backed by Postgres.
type RiverEmitter struct {
	client *river.Client[pgx.Tx]
}

func NewRiverEmitter(client *river.Client[pgx.Tx]) *RiverEmitter {
	return &RiverEmitter{client: client}
}

func (e *RiverEmitter) Send(ctx context.Context, groupKey string, payload interface{}, dedupKey string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling outbound payload: %w", err)
	}
	res, err := e.client.Insert(ctx, OutboundMessageArgs{
		GroupKey: groupKey,
		DedupKey: dedupKey,
		Payload:  body,
	}, nil)
	if err != nil {
		return fmt.Errorf("queueing outbound message: %w", err)
	}
	log.Debug().
		Str("groupKey", groupKey).
		Str("dedupKey", dedupKey).
		Bool("duplicate", res.UniqueSkippedAsDuplicate).
		Msg("outbound message queued")
	return nil
}
