package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nicktill/tinyfeat/pkg/matrix"
	"github.com/nicktill/tinyfeat/pkg/storage"
)

type snapshot struct {
	info storage.Info
	m    *matrix.Matrix
}

// Storage keeps snapshots in memory. Data is lost on restart.
// Useful for testing and one-shot runs.
type Storage struct {
	snapshots map[storage.Handle]snapshot
	mu        sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{snapshots: make(map[storage.Handle]snapshot)}
}

// Save stores a copy of m under a new handle.
func (s *Storage) Save(ctx context.Context, m *matrix.Matrix) (storage.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := m.Validate(); err != nil {
		return "", fmt.Errorf("refusing to save invalid matrix: %w", err)
	}

	h := storage.NewHandle()
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[h] = snapshot{info: storage.NewInfo(h, m, now, now), m: m.Clone()}
	return h, nil
}

// Overwrite replaces the snapshot under h.
func (s *Storage) Overwrite(ctx context.Context, h storage.Handle, m *matrix.Matrix) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid matrix: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.snapshots[h]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, h)
	}
	s.snapshots[h] = snapshot{info: storage.NewInfo(h, m, old.info.CreatedAt, time.Now().UTC()), m: m.Clone()}
	return nil
}

// Load returns a copy of the snapshot under h.
func (s *Storage) Load(ctx context.Context, h storage.Handle) (*matrix.Matrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	snap, ok := s.snapshots[h]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, h)
	}

	m := snap.m.Clone()
	if err := storage.Verify(snap.info, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Info returns the metadata stored with h.
func (s *Storage) Info(ctx context.Context, h storage.Handle) (*storage.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, h)
	}
	info := snap.info
	return &info, nil
}

// List returns all snapshots ordered by handle.
func (s *Storage) List(ctx context.Context) ([]storage.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.Info, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

// Delete removes the snapshot under h.
func (s *Storage) Delete(ctx context.Context, h storage.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[h]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, h)
	}
	delete(s.snapshots, h)
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{Snapshots: len(s.snapshots)}
	for _, snap := range s.snapshots {
		stats.Cells += uint64(snap.m.NumCells())
	}
	// Rough size estimate (each cell ~32 bytes)
	stats.SizeBytes = stats.Cells * 32
	return stats, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}
