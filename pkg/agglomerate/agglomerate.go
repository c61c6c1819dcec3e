// Package agglomerate writes locally computed cells back to a remote
// canonical store.
//
// A sync only ever fills cells: it writes a local Good value over a remote
// cell that is unset or a prior error, chosen by Mode. It refuses to start if
// the remote rows and columns no longer match the local ones, and it stops at
// the first failed write. The remote connection is closed on every path.
package agglomerate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nicktill/tinyfeat/pkg/matrix"
)

// Mode selects which remote cells may be overwritten.
type Mode string

const (
	ModeNull      Mode = "null"      // remote cell unset
	ModeError     Mode = "error"     // remote cell is a prior error
	ModeNullError Mode = "nullerror" // either
)

// ParseMode validates a write mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeNull, ModeError, ModeNullError:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q (want null, error or nullerror)", ErrInvalidMode, s)
	}
}

// Matches reports whether a remote cell in quality q is a candidate.
func (m Mode) Matches(q matrix.Quality) bool {
	switch m {
	case ModeNull:
		return q == matrix.Pending
	case ModeError:
		return q == matrix.Error
	case ModeNullError:
		return q == matrix.Pending || q == matrix.Error
	default:
		return false
	}
}

// Candidate is a remote cell the mode allows overwriting.
type Candidate struct {
	RowID    int64
	ColumnID int64
	Quality  matrix.Quality
}

// Remote is the canonical store a sync writes to. Implementations hold one
// exclusive connection; Close releases it.
type Remote interface {
	// CountRows returns how many of ids exist remotely.
	CountRows(ctx context.Context, ids []int64) (int, error)
	// CountColumns returns how many of ids exist remotely.
	CountColumns(ctx context.Context, ids []int64) (int, error)
	// QueryCells returns the cells within the id sets whose remote quality
	// matches mode.
	QueryCells(ctx context.Context, mode Mode, rowIDs, colIDs []int64) ([]Candidate, error)
	// WriteCell stores value, quality and calc time of one cell.
	WriteCell(ctx context.Context, rowID, colID int64, c matrix.Cell) error
	Close() error
}

// Report counts what a sync did.
type Report struct {
	Mode       Mode `json:"mode"`
	Candidates int  `json:"candidates"`
	Written    int  `json:"written"`
	// LeftPending counts remote errors kept because the local cell is not Good.
	LeftPending int `json:"left_pending"`
	// Skipped counts remote unset cells the local matrix has no Good value for.
	Skipped     int           `json:"skipped"`
	Fingerprint uint64        `json:"fingerprint"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Options configures Run.
type Options struct {
	Logger *slog.Logger

	// OnProgress is called after every successful write.
	OnProgress func(Report)
}

// Run syncs local into remote under mode. remote is closed before Run
// returns. On a write failure the returned report holds the writes that
// already landed.
func Run(ctx context.Context, local *matrix.Matrix, remote Remote, mode Mode, opts Options) (rep *Report, err error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	start := time.Now()

	defer func() {
		if cerr := remote.Close(); cerr != nil {
			log.Warn("closing remote store failed", slog.Any("error", cerr))
			if err == nil {
				err = fmt.Errorf("close remote: %w", cerr)
			}
		}
		syncRuns.WithLabelValues(outcome(err)).Inc()
	}()

	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}

	rowIDs, colIDs := local.RowIDs(), local.ColumnIDs()
	rep = &Report{Mode: mode, Fingerprint: local.Fingerprint()}

	if err := checkDrift(ctx, local, remote, rowIDs, colIDs); err != nil {
		log.Error("sync aborted before any write", slog.Any("error", err))
		return nil, err
	}

	candidates, err := remote.QueryCells(ctx, mode, rowIDs, colIDs)
	if err != nil {
		return nil, fmt.Errorf("query remote cells: %w", err)
	}
	rep.Candidates = len(candidates)

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			rep.Elapsed = time.Since(start)
			return rep, fmt.Errorf("sync cancelled after %d writes: %w", rep.Written, err)
		}

		cell, ok := local.Lookup(cand.RowID, cand.ColumnID)
		if !ok || cell.Quality != matrix.Good {
			if cand.Quality == matrix.Error {
				rep.LeftPending++
				syncCells.WithLabelValues("left_pending").Inc()
			} else {
				rep.Skipped++
				syncCells.WithLabelValues("skipped").Inc()
			}
			continue
		}

		if err := remote.WriteCell(ctx, cand.RowID, cand.ColumnID, cell); err != nil {
			rep.Elapsed = time.Since(start)
			werr := &WriteError{RowID: cand.RowID, ColumnID: cand.ColumnID, Err: err}
			log.Error("remote write failed, aborting sync",
				slog.Int64("row_id", cand.RowID),
				slog.Int64("op_id", cand.ColumnID),
				slog.Int("written", rep.Written),
				slog.Any("error", err))
			return rep, werr
		}
		rep.Written++
		syncCells.WithLabelValues("written").Inc()
		if opts.OnProgress != nil {
			opts.OnProgress(*rep)
		}
	}

	rep.Elapsed = time.Since(start)
	log.Info("sync completed",
		slog.String("mode", string(mode)),
		slog.Int("candidates", rep.Candidates),
		slog.Int("written", rep.Written),
		slog.Int("left_pending", rep.LeftPending),
		slog.Int("skipped", rep.Skipped),
		slog.Duration("elapsed", rep.Elapsed))
	return rep, nil
}

func checkDrift(ctx context.Context, local *matrix.Matrix, remote Remote, rowIDs, colIDs []int64) error {
	remoteRows, err := remote.CountRows(ctx, rowIDs)
	if err != nil {
		return fmt.Errorf("count remote rows: %w", err)
	}
	remoteCols, err := remote.CountColumns(ctx, colIDs)
	if err != nil {
		return fmt.Errorf("count remote columns: %w", err)
	}
	if remoteRows != len(rowIDs) || remoteCols != len(colIDs) {
		return &DriftError{
			LocalRows:     len(rowIDs),
			RemoteRows:    remoteRows,
			LocalColumns:  len(colIDs),
			RemoteColumns: remoteCols,
			Fingerprint:   local.Fingerprint(),
		}
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, ErrIdentityDrift):
		return "drift"
	case errors.Is(err, ErrRemoteWrite):
		return "write_failure"
	default:
		return "failed"
	}
}
