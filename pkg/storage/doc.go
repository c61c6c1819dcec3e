/*
Package storage provides the pluggable snapshot cache for result matrices.

# Store Interface

A snapshot is the whole matrix: row table (time series), column table
(operations) and every cell. Backends:
  - memory: in-process map, for tests and one-shot runs
  - badger: BadgerDB, durable across restarts

All backends implement Store:

	type Store interface {
	    Save(ctx context.Context, m *matrix.Matrix) (Handle, error)
	    Overwrite(ctx context.Context, h Handle, m *matrix.Matrix) error
	    Load(ctx context.Context, h Handle) (*matrix.Matrix, error)
	    Info(ctx context.Context, h Handle) (*Info, error)
	    List(ctx context.Context) ([]Info, error)
	    Delete(ctx context.Context, h Handle) error
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

# Handles

Save assigns a ULID handle, so List returns snapshots in creation order.
Overwrite keeps the handle and bumps UpdatedAt; the batch runner uses it to
checkpoint a partially computed matrix.

# Integrity

Each snapshot's metadata records its shape and the xxhash fingerprint of its
row and column id sets. Load re-validates the decoded matrix and checks both,
returning ErrCorruptSnapshot on any mismatch. Values, calc times, quality
codes and error reasons round-trip exactly, NaN and infinities included.

# Concurrency

Readers may run concurrently. Writes to the same handle are not
coordinated; callers keep one writer per handle.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	h, err := store.Save(ctx, m)
	...
	m, err = store.Load(ctx, h)
	if errors.Is(err, storage.ErrCorruptSnapshot) {
	    ...
	}
*/
package storage
