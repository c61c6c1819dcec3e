package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/nicktill/tinyfeat/pkg/matrix"
	"github.com/nicktill/tinyfeat/pkg/runner"
	"github.com/nicktill/tinyfeat/pkg/storage"
)

// GarbageCollector is implemented by stores with a reclaimable value log.
type GarbageCollector interface {
	RunGC(discardRatio float64) error
}

// RunBadgerGC runs value log GC every interval until stop is closed. One
// RunGC call per tick keeps each pass short.
func RunBadgerGC(gc GarbageCollector, interval time.Duration, discardRatio float64, log *slog.Logger, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("badger GC scheduler started", slog.Duration("interval", interval))
	for {
		select {
		case <-ticker.C:
			start := time.Now()
			err := gc.RunGC(discardRatio)
			switch {
			case err == nil:
				log.Info("badger GC reclaimed space", slog.Duration("took", time.Since(start).Round(time.Millisecond)))
			case errors.Is(err, badger.ErrNoRewrite):
				log.Debug("badger GC found nothing to rewrite")
			default:
				log.Warn("badger GC failed", slog.Any("error", err))
			}
		case <-stop:
			log.Info("stopping badger GC scheduler")
			return
		}
	}
}

// BroadcastStats periodically publishes store statistics to WebSocket
// clients. Errors back off exponentially so an outage does not flood the log.
func BroadcastStats(ctx context.Context, store storage.Store, hub *ProgressHub, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var consecutiveErrors int
	var lastErrorTime time.Time
	const maxBackoff = 5 * time.Minute

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !hub.HasClients() {
				continue
			}

			stats, err := store.Stats(ctx)
			if err != nil {
				consecutiveErrors++
				now := time.Now()

				// 1s, 2s, 4s ... capped at maxBackoff
				backoff := time.Duration(1<<uint(min(consecutiveErrors-1, 8))) * time.Second
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				if lastErrorTime.IsZero() || now.Sub(lastErrorTime) >= backoff {
					log.Warn("failed to read store stats for broadcast",
						slog.Int("consecutive_errors", consecutiveErrors),
						slog.Duration("backoff", backoff),
						slog.Any("error", err))
					lastErrorTime = now
				}
				continue
			}

			if consecutiveErrors > 0 {
				log.Info("stats broadcast recovered", slog.Int("after_errors", consecutiveErrors))
				consecutiveErrors = 0
			}

			if err := hub.Publish(Event{Type: EventStoreStats, Stats: stats}); err != nil {
				log.Warn("failed to broadcast stats", slog.Any("error", err))
			}
		}
	}
}

// runBatch computes the selected cells of one snapshot in the background.
// The snapshot is checkpointed back under the same handle; the caller has
// already claimed the handle in the batch monitor.
func (s *Server) runBatch(ctx context.Context, h storage.Handle, opts runner.Options) {
	defer s.wg.Done()
	log := s.log.With(slog.String("handle", string(h)))

	fail := func(err error) {
		s.batches.RecordFailure(string(h), err)
		log.Error("background batch failed", slog.Any("error", err))
		s.hub.Publish(Event{Type: EventBatchFailed, Handle: string(h), Error: err.Error()})
	}

	m, err := s.store.Load(ctx, h)
	if err != nil {
		fail(err)
		return
	}

	opts.Logger = log
	opts.Checkpoint = func(ctx context.Context, m *matrix.Matrix) error {
		return s.store.Overwrite(ctx, h, m)
	}
	first := true
	opts.OnProgress = func(p runner.Progress) {
		if first {
			s.batches.SetRunID(string(h), p.RunID)
			first = false
		}
		s.hub.Publish(Event{Type: EventBatchProgress, Handle: string(h), Progress: &p})
	}

	rep, err := runner.New(s.reg, opts).Run(ctx, m)
	if err != nil {
		fail(err)
		return
	}
	s.batches.RecordSuccess(string(h), rep.Computed)
	s.hub.Publish(Event{Type: EventBatchCompleted, Handle: string(h), Report: rep})
}
