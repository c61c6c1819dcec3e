package memory

import (
	"testing"

	"github.com/nicktill/tinyfeat/pkg/storage"
	"github.com/nicktill/tinyfeat/pkg/storage/storetest"
)

func TestMemoryStorage(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store { return New() })
}

func TestMemoryStorage_LoadIsolated(t *testing.T) {
	store := New()
	ctx := t.Context()

	m := storetest.Fixture(t)
	h, err := store.Save(ctx, m)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Mutating the caller's copy must not reach the stored snapshot.
	m.RowCells(0)[0].Value = 99
	if err := m.Set(0, 0, m.At(1, 0)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Load(ctx, h)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.At(0, 0).Value != 0 {
		t.Errorf("Expected stored value 0, got %v", got.At(0, 0).Value)
	}
}
