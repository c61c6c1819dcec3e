// Package runner computes selected cells of a result matrix.
//
// Work is partitioned into chunks of cells; each chunk is computed by one
// worker into its own result slice and handed back over a channel, where a
// single goroutine writes it into the matrix. Workers never touch the matrix.
//
// One cell failing never aborts the batch: unknown operations, precondition
// failures, unexpected errors, panics, timeouts and non-finite outputs all
// become Error cells with a Reason.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nicktill/tinyfeat/pkg/ids"
	"github.com/nicktill/tinyfeat/pkg/matrix"
	"github.com/nicktill/tinyfeat/pkg/registry"
)

// DefaultChunkSize is the number of cells one worker computes per task.
const DefaultChunkSize = 64

// Registry resolves master operation names.
type Registry interface {
	Lookup(name string) (registry.Entry, error)
}

// CheckpointFunc persists the matrix mid-batch. It runs on the join goroutine,
// so the matrix is not being written while it executes.
type CheckpointFunc func(ctx context.Context, m *matrix.Matrix) error

// Progress is reported after every merged chunk.
type Progress struct {
	RunID  string `json:"run_id"`
	Done   int    `json:"done"`
	Total  int    `json:"total"`
	Good   int    `json:"good"`
	Errors int    `json:"errors"`
}

// Options configures a batch.
type Options struct {
	// Workers bounds concurrent chunks. 0 = runtime.NumCPU().
	Workers int

	// Filter picks the cells to compute. Zero value = Pending cells only.
	Filter matrix.Filter

	// CellTimeout bounds one master evaluation. 0 disables it.
	CellTimeout time.Duration

	// ChunkSize is the number of cells per task. 0 = DefaultChunkSize.
	ChunkSize int

	// MasterMemoSize bounds the per-batch cache of master outputs.
	// 0 disables the memo; sibling columns then recompute their master.
	MasterMemoSize int

	// CheckpointEvery calls Checkpoint after this many merged cells.
	CheckpointEvery int
	Checkpoint      CheckpointFunc

	// OnProgress, if set, is called from the join goroutine.
	OnProgress func(Progress)

	Logger *slog.Logger
}

// Report summarises one batch.
type Report struct {
	RunID       string                `json:"run_id"`
	Selected    int                   `json:"selected"`
	Computed    int                   `json:"computed"`
	Good        int                   `json:"good"`
	Errors      int                   `json:"errors"`
	ByReason    map[matrix.Reason]int `json:"by_reason,omitempty"`
	MemoHits    int                   `json:"memo_hits"`
	Checkpoints int                   `json:"checkpoints"`
	Cancelled   bool                  `json:"cancelled"`
	StartedAt   time.Time             `json:"started_at"`
	Elapsed     time.Duration         `json:"elapsed"`
}

// Runner computes cells against a registry.
type Runner struct {
	reg  Registry
	opts Options
	log  *slog.Logger
}

// New creates a runner.
func New(reg Registry, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Filter.Which == "" {
		opts.Filter.Which = matrix.WhichMissing
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{reg: reg, opts: opts, log: log}
}

type cellResult struct {
	idx     matrix.Index
	cell    matrix.Cell
	memoHit bool
}

// Run computes the selected cells of m in place.
//
// Cancelling ctx stops new cells from starting; cells already running finish
// and are merged. The returned report is always non-nil once selection
// succeeded. On cancellation the error wraps ctx.Err().
func (r *Runner) Run(ctx context.Context, m *matrix.Matrix) (*Report, error) {
	idx, err := m.Select(r.opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("select cells: %w", err)
	}

	rep := &Report{
		RunID:     ids.NewString(),
		Selected:  len(idx),
		ByReason:  make(map[matrix.Reason]int),
		StartedAt: time.Now().UTC(),
	}
	log := r.log.With(slog.String("run_id", rep.RunID))
	log.Info("batch started",
		slog.Int("cells", len(idx)),
		slog.String("which", string(r.opts.Filter.Which)),
		slog.Int("workers", r.opts.Workers))

	b := &batch{
		runner: r,
		m:      m,
		log:    log,
		memo:   newMemo(r.opts.MasterMemoSize),
		// Cells already started finish even after cancellation.
		cellCtx: context.WithoutCancel(ctx),
	}

	results := make(chan []cellResult, r.opts.Workers)
	go func() {
		defer close(results)
		g := new(errgroup.Group)
		g.SetLimit(r.opts.Workers)
		for start := 0; start < len(idx); start += r.opts.ChunkSize {
			if ctx.Err() != nil {
				break
			}
			chunk := idx[start:min(start+r.opts.ChunkSize, len(idx))]
			g.Go(func() error {
				if out := b.compute(ctx, chunk); len(out) > 0 {
					results <- out
				}
				return nil
			})
		}
		g.Wait()
	}()

	sinceCheckpoint := 0
	for out := range results {
		for _, res := range out {
			// Cells are checked on creation, so Set cannot fail here.
			_ = m.Set(res.idx.Row, res.idx.Col, res.cell)
			rep.Computed++
			switch res.cell.Quality {
			case matrix.Good:
				rep.Good++
			case matrix.Error:
				rep.Errors++
				rep.ByReason[res.cell.Reason]++
			}
			if res.memoHit {
				rep.MemoHits++
			}
		}
		sinceCheckpoint += len(out)

		if r.opts.OnProgress != nil {
			r.opts.OnProgress(Progress{
				RunID: rep.RunID, Done: rep.Computed, Total: rep.Selected, Good: rep.Good, Errors: rep.Errors,
			})
		}
		if r.opts.Checkpoint != nil && r.opts.CheckpointEvery > 0 && sinceCheckpoint >= r.opts.CheckpointEvery {
			if err := r.opts.Checkpoint(context.WithoutCancel(ctx), m); err != nil {
				log.Warn("checkpoint failed", slog.Any("error", err))
			} else {
				rep.Checkpoints++
			}
			sinceCheckpoint = 0
		}
	}

	rep.Elapsed = time.Since(rep.StartedAt)
	rep.Cancelled = ctx.Err() != nil && rep.Computed < rep.Selected

	var finalErr error
	if r.opts.Checkpoint != nil && rep.Computed > 0 {
		if err := r.opts.Checkpoint(context.WithoutCancel(ctx), m); err != nil {
			finalErr = fmt.Errorf("final checkpoint: %w", err)
		} else {
			rep.Checkpoints++
		}
	}

	outcome := "completed"
	if rep.Cancelled {
		outcome = "cancelled"
	}
	batchesRun.WithLabelValues(outcome).Inc()
	log.Info("batch finished",
		slog.String("outcome", outcome),
		slog.Int("computed", rep.Computed),
		slog.Int("good", rep.Good),
		slog.Int("errors", rep.Errors),
		slog.Duration("elapsed", rep.Elapsed))

	if rep.Cancelled {
		return rep, fmt.Errorf("batch cancelled after %d of %d cells: %w", rep.Computed, rep.Selected, ctx.Err())
	}
	return rep, finalErr
}

// batch is the state shared by the workers of one Run.
type batch struct {
	runner  *Runner
	m       *matrix.Matrix
	log     *slog.Logger
	memo    *memo
	cellCtx context.Context
}

// compute runs one chunk. It reads the matrix's row and column tables only.
func (b *batch) compute(ctx context.Context, chunk []matrix.Index) []cellResult {
	out := make([]cellResult, 0, len(chunk))
	for _, ix := range chunk {
		if ctx.Err() != nil {
			break
		}
		ts := b.m.Row(ix.Row)
		op := b.m.Column(ix.Col)
		cell, hit := b.computeCell(ts, op)
		out = append(out, cellResult{idx: ix, cell: cell, memoHit: hit})
	}
	return out
}

func (b *batch) computeCell(ts matrix.TimeSeries, op matrix.Operation) (matrix.Cell, bool) {
	log := b.log.With(slog.Int64("row_id", ts.ID), slog.Int64("op_id", op.ID))

	entry, err := b.runner.reg.Lookup(op.Master)
	if err != nil {
		log.Warn("cell failed", slog.String("reason", string(matrix.ReasonUnknownOperation)), slog.Any("error", err))
		return record(matrix.ErrorCell(matrix.ReasonUnknownOperation, math.NaN(), math.NaN())), false
	}

	out, hit := b.memo.do(ts.ID, entry.Name, func() outcome {
		// Operations get their own copy; the row belongs to the matrix.
		return evaluate(b.cellCtx, entry, slices.Clone(ts.Data), b.runner.opts.CellTimeout)
	})
	if hit {
		memoHits.Inc()
	} else {
		cellDuration.Observe(out.elapsed.Seconds())
	}

	cell, err := classify(out, op)
	switch cell.Reason {
	case matrix.ReasonNone:
	case matrix.ReasonUnexpected, matrix.ReasonTimeout:
		log.Warn("cell failed", slog.String("reason", string(cell.Reason)), slog.Any("error", err))
	default:
		log.Debug("cell not computed", slog.String("reason", string(cell.Reason)), slog.Any("error", err))
	}
	return record(cell), hit
}

func record(c matrix.Cell) matrix.Cell {
	cellsComputed.WithLabelValues(c.Quality.String(), string(c.Reason)).Inc()
	return c
}
