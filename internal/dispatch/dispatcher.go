// Package dispatch partitions a campaign's recipients into fixed-size
// batches and sends each batch over one reusable transport connection.
// Failures are per-batch values; a failed batch never aborts the rest
// of the run.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mailflare/mailflare-backend/internal/mail"
	"github.com/mailflare/mailflare-backend/internal/model"
)

// DefaultBatchSize matches the batch size the engine was tuned for.
const DefaultBatchSize = 50

// SubscriberSource re-fetches the still-active subscribers of a batch.
// A subscriber who unsubscribed after resolution is silently skipped.
type SubscriberSource interface {
	ActiveByIDs(ids []uuid.UUID) ([]model.Subscriber, error)
}

// MessageBuilder renders one personalized message.
type MessageBuilder interface {
	Build(c *model.Campaign, sub *model.Subscriber, isTest bool) *mail.Message
}

// BatchOutcome is the result of processing one batch. A failed batch
// counts its full recipient share as failed, matching the incremental
// counters the orchestrator persists.
type BatchOutcome struct {
	Batch   int
	Sent    int
	Skipped int
	Failed  int
	Err     error
}

type Dispatcher struct {
	Subscribers SubscriberSource
	Transports  mail.TransportFactory
	Builder     MessageBuilder
	Cancels     CancelStore
	BatchSize   int
	// Pacing is the delay between batches. Live mode uses it to
	// respect provider throttling; queued mode passes zero and lets
	// the broker pace.
	Pacing time.Duration
	Log    zerolog.Logger
}

// Run processes ids in contiguous batches, preserving resolver order.
// onBatch is invoked after every batch so counters can be persisted
// incrementally; an onBatch error is an orchestration-level failure and
// stops the run. The returned totals cover the batches that ran.
func (d *Dispatcher) Run(ctx context.Context, c *model.Campaign, ids []uuid.UUID, onBatch func(BatchOutcome) error) (sent, failed int, err error) {
	size := d.BatchSize
	if size < 1 {
		size = DefaultBatchSize
	}

	for start, batch := 0, 0; start < len(ids); start, batch = start+size, batch+1 {
		if d.Cancels != nil && d.Cancels.IsCancelled(ctx, c.ID) {
			d.Log.Warn().Str("campaign_id", c.ID.String()).Int("batch", batch).
				Msg("dispatch cancelled, skipping remaining batches")
			break
		}
		if err := ctx.Err(); err != nil {
			return sent, failed, err
		}

		end := min(start+size, len(ids))
		outcome := d.processBatch(c, batch, ids[start:end])
		sent += outcome.Sent
		failed += outcome.Failed

		if outcome.Err != nil {
			d.Log.Error().Err(outcome.Err).
				Str("campaign_id", c.ID.String()).
				Int("batch", batch).
				Int("failed", outcome.Failed).
				Msg("batch failed, continuing")
		} else {
			d.Log.Info().
				Str("campaign_id", c.ID.String()).
				Int("batch", batch).
				Int("sent", outcome.Sent).
				Int("skipped", outcome.Skipped).
				Msg("batch sent")
		}

		if onBatch != nil {
			if err := onBatch(outcome); err != nil {
				return sent, failed, err
			}
		}

		if d.Pacing > 0 && end < len(ids) {
			select {
			case <-time.After(d.Pacing):
			case <-ctx.Done():
				return sent, failed, ctx.Err()
			}
		}
	}
	return sent, failed, nil
}

// processBatch owns one transport for the whole batch. Any failure
// inside the batch is folded into the outcome; the transport is always
// released.
func (d *Dispatcher) processBatch(c *model.Campaign, batch int, ids []uuid.UUID) BatchOutcome {
	outcome := BatchOutcome{Batch: batch}

	t := d.Transports.NewTransport()
	if err := t.Open(); err != nil {
		outcome.Failed = len(ids)
		outcome.Err = err
		return outcome
	}
	defer t.Close()

	subs, err := d.Subscribers.ActiveByIDs(ids)
	if err != nil {
		outcome.Failed = len(ids)
		outcome.Err = err
		return outcome
	}
	outcome.Skipped = len(ids) - len(subs)

	for i := range subs {
		msg := d.Builder.Build(c, &subs[i], false)
		if err := t.Send(msg); err != nil {
			// The whole batch is charged to error_count; recipients
			// within a batch have no defined delivery order.
			outcome.Sent = 0
			outcome.Skipped = 0
			outcome.Failed = len(ids)
			outcome.Err = err
			return outcome
		}
		outcome.Sent++
	}
	return outcome
}
