// Package ingest implements the worker that drains the durable chat log
// through a consumer group and persists batches into the archive. Entries
// are acknowledged only after a successful bulk insert, which makes
// persistence at-least-once across worker crashes and restarts.
package ingest

import (
	"context"
	"log"
	"time"

	"github.com/aurorachat/backend/internal/archive"
	"github.com/aurorachat/backend/internal/metrics"
	"github.com/aurorachat/backend/internal/stream"
)

// DefaultBackoff is how long the worker pauses after any failed iteration
// before resuming the loop.
const DefaultBackoff = 5000 * time.Millisecond

// LogReader is the durable-log surface the worker consumes.
type LogReader interface {
	EnsureGroup(ctx context.Context) error
	ReadBatch(ctx context.Context, consumer string) ([]stream.PendingEntry, []string, error)
	Ack(ctx context.Context, ids ...string) error
}

// BatchStore persists a decoded batch atomically.
type BatchStore interface {
	InsertBatch(ctx context.Context, msgs []archive.Message) error
}

// Worker runs the sequential read -> persist -> ack loop. Horizontal
// scaling is done by running more workers in the same consumer group, never
// by sharing in-memory state.
type Worker struct {
	log      LogReader
	store    BatchStore
	consumer string
	backoff  time.Duration
}

// NewWorker creates a Worker identified by the given consumer name, which
// must be unique within the consumer group.
func NewWorker(logReader LogReader, store BatchStore, consumer string) *Worker {
	return &Worker{
		log:      logReader,
		store:    store,
		consumer: consumer,
		backoff:  DefaultBackoff,
	}
}

// SetBackoff overrides the failure backoff interval.
func (w *Worker) SetBackoff(d time.Duration) {
	w.backoff = d
}

// Run executes the ingestion loop until ctx is cancelled. Cancellation is
// observed only between iterations: a batch that has been read is always
// persisted and acknowledged (or abandoned unacked for redelivery) before
// the worker exits, never left half-done.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.log.EnsureGroup(ctx); err != nil {
		return err
	}

	log.Printf("[ingest] worker %s running (group=%s)", w.consumer, stream.GroupName)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[ingest] worker %s stopping: %v", w.consumer, ctx.Err())
			return ctx.Err()
		default:
		}

		if err := w.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				continue // cancellation surfaces on the next loop check
			}
			log.Printf("[ingest] worker %s iteration failed: %v (backing off %s)", w.consumer, err, w.backoff)
			metrics.IngestBatches.WithLabelValues("failed").Inc()
			w.pause(ctx)
		}
	}
}

// runOnce performs one read -> persist -> ack iteration. An empty read is a
// successful no-op.
func (w *Worker) runOnce(ctx context.Context) error {
	entries, skipped, err := w.log.ReadBatch(ctx, w.consumer)
	if err != nil {
		return err
	}
	if len(entries) == 0 && len(skipped) == 0 {
		return nil
	}

	if len(entries) > 0 {
		batch := make([]archive.Message, len(entries))
		for i, e := range entries {
			batch[i] = archive.Message{
				RoomID:   e.Entry.RoomID,
				UserID:   e.Entry.UserID,
				Username: e.Entry.Username,
				Text:     e.Entry.Text,
			}
		}
		if err := w.store.InsertBatch(ctx, batch); err != nil {
			// No ack: the whole batch stays pending and will be
			// redelivered to this or another consumer.
			return err
		}
	}

	// Persisted entries and undecodable ones are acknowledged together;
	// skipped entries can never be persisted, so leaving them pending
	// would only poison the group.
	ids := make([]string, 0, len(entries)+len(skipped))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	ids = append(ids, skipped...)
	if err := w.log.Ack(ctx, ids...); err != nil {
		// The insert committed but the ack failed: the batch will be
		// redelivered and inserted again.
		return err
	}

	metrics.IngestBatches.WithLabelValues("persisted").Inc()
	metrics.IngestEntries.WithLabelValues("persisted").Add(float64(len(entries)))
	if len(skipped) > 0 {
		log.Printf("[ingest] worker %s skipped %d undecodable entries", w.consumer, len(skipped))
		metrics.IngestEntries.WithLabelValues("skipped").Add(float64(len(skipped)))
	}
	return nil
}

// pause sleeps for the backoff interval, returning early on cancellation.
func (w *Worker) pause(ctx context.Context) {
	t := time.NewTimer(w.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
