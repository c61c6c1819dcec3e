package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nicktill/tinyfeat/pkg/ids"
	"github.com/nicktill/tinyfeat/pkg/matrix"
)

var (
	// ErrCorruptSnapshot is returned by Load when a stored snapshot violates a
	// structural invariant (rectangularity, id uniqueness, fingerprint).
	ErrCorruptSnapshot = errors.New("storage: corrupt snapshot")

	// ErrNotFound is returned for unknown snapshot handles.
	ErrNotFound = errors.New("storage: snapshot not found")
)

// Store persists result matrices as whole snapshots.
// Implementations: memory (tests), badger (durable cache).
//
// Writes to one handle must be serialized by the caller.
type Store interface {
	// Save writes m under a fresh handle.
	Save(ctx context.Context, m *matrix.Matrix) (Handle, error)

	// Overwrite replaces the snapshot stored under h.
	Overwrite(ctx context.Context, h Handle, m *matrix.Matrix) error

	// Load reads the snapshot stored under h.
	Load(ctx context.Context, h Handle) (*matrix.Matrix, error)

	// Info returns snapshot metadata without reading cells.
	Info(ctx context.Context, h Handle) (*Info, error)

	// List returns every snapshot's metadata, oldest first.
	List(ctx context.Context) ([]Info, error)

	// Delete removes a snapshot.
	Delete(ctx context.Context, h Handle) error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// Handle names a snapshot. Handles are ULIDs so they sort by creation time.
type Handle string

// ParseHandle validates a handle string.
func ParseHandle(s string) (Handle, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return "", fmt.Errorf("invalid snapshot handle %q: %w", s, err)
	}
	return Handle(id.String()), nil
}

// NewHandle returns a monotonic ULID handle.
func NewHandle() Handle {
	return Handle(ids.NewString())
}

// Info describes one stored snapshot.
type Info struct {
	Handle      Handle    `json:"handle"`
	Rows        int       `json:"rows"`
	Columns     int       `json:"columns"`
	Pending     int       `json:"pending"`
	Good        int       `json:"good"`
	Errors      int       `json:"errors"`
	Fingerprint uint64    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewInfo fills counts and fingerprint from m.
func NewInfo(h Handle, m *matrix.Matrix, created, updated time.Time) Info {
	s := m.Summarize()
	return Info{
		Handle:      h,
		Rows:        s.Rows,
		Columns:     s.Columns,
		Pending:     s.Pending,
		Good:        s.Good,
		Errors:      s.Errors,
		Fingerprint: s.Fingerprint,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}
}

// Stats provides storage health and usage info
type Stats struct {
	Snapshots int    `json:"snapshots"`
	Cells     uint64 `json:"cells"`
	SizeBytes uint64 `json:"size_bytes"`
}

// Corrupt wraps a structural failure found while loading h.
func Corrupt(h Handle, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, h, err)
}

// Verify checks a decoded matrix against the metadata it was saved with.
func Verify(info Info, m *matrix.Matrix) error {
	if err := m.Validate(); err != nil {
		return Corrupt(info.Handle, err)
	}
	if m.NumRows() != info.Rows || m.NumColumns() != info.Columns {
		return Corrupt(info.Handle, fmt.Errorf("shape %dx%d, metadata says %dx%d",
			m.NumRows(), m.NumColumns(), info.Rows, info.Columns))
	}
	if fp := m.Fingerprint(); fp != info.Fingerprint {
		return Corrupt(info.Handle, fmt.Errorf("fingerprint %x, metadata says %x", fp, info.Fingerprint))
	}
	return nil
}
