package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/tinyfeat/pkg/logger"
	"github.com/nicktill/tinyfeat/pkg/matrix"
	"github.com/nicktill/tinyfeat/pkg/storage"
	"github.com/nicktill/tinyfeat/pkg/storage/codec"
)

// Key layout:
//
//	m/<handle>                  snapshot metadata (JSON)
//	d/<handle>/<gen>/c          column table (JSON)
//	d/<handle>/<gen>/r/<row>    time series header + compressed data
//	d/<handle>/<gen>/x/<row>    compressed cell block for one row
//
// Each save writes a new generation, then flips the metadata to point at it.
// A crash mid-write leaves the previous generation readable.
const (
	metaPrefix = "m/"
	dataPrefix = "d/"
)

// Storage implements storage.Store using BadgerDB (LSM tree)
type Storage struct {
	db   *badger.DB
	comp *codec.Compressor
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults based on environment)
	MaxMemoryMB int64

	// CompressionLevel for float columns, 1 (fastest) to 4 (best). 0 = zstd default.
	CompressionLevel int

	// Logger receives badger's own log lines. nil = slog.Default().
	Logger *slog.Logger
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	// Default: 48 MB total (16 MB memtable + caches)
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3 // ~33% for memtable
	}

	// Block and index caches are unbounded unless set explicitly
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithLogger(logger.BadgerAdapter{Logger: log}).
		// Cell blocks are already zstd-compressed; keep Snappy for the JSON tables
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20) // 64 MB value log files instead of default 2GB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	comp, err := codec.New(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{db: db, comp: comp}, nil
}

type meta struct {
	storage.Info
	Gen uint64 `json:"gen"`
}

// Save writes m under a new handle.
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) Save(ctx context.Context, m *matrix.Matrix) (storage.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := m.Validate(); err != nil {
		return "", fmt.Errorf("refusing to save invalid matrix: %w", err)
	}

	h := storage.NewHandle()
	now := time.Now().UTC()
	err := s.run(ctx, "save", func() error {
		return s.writeGeneration(ctx, meta{Info: storage.NewInfo(h, m, now, now), Gen: 1}, m)
	})
	if err != nil {
		return "", err
	}
	return h, nil
}

// Overwrite replaces the snapshot stored under h with a new generation.
func (s *Storage) Overwrite(ctx context.Context, h storage.Handle, m *matrix.Matrix) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid matrix: %w", err)
	}

	return s.run(ctx, "overwrite", func() error {
		old, err := s.readMeta(h)
		if err != nil {
			return err
		}
		next := meta{Info: storage.NewInfo(h, m, old.CreatedAt, time.Now().UTC()), Gen: old.Gen + 1}
		if err := s.writeGeneration(ctx, next, m); err != nil {
			return err
		}
		return s.dropPrefix(genPrefix(h, old.Gen))
	})
}

// Load decodes and validates the snapshot stored under h.
func (s *Storage) Load(ctx context.Context, h storage.Handle) (*matrix.Matrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out *matrix.Matrix
	err := s.run(ctx, "load", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			md, err := getMeta(txn, h)
			if err != nil {
				return err
			}
			m, err := s.readGeneration(ctx, txn, md)
			if err != nil {
				return err
			}
			if err := storage.Verify(md.Info, m); err != nil {
				return err
			}
			out = m
			return nil
		})
	})
	return out, err
}

// Info returns snapshot metadata.
func (s *Storage) Info(ctx context.Context, h storage.Handle) (*storage.Info, error) {
	var info storage.Info
	err := s.run(ctx, "info", func() error {
		md, err := s.readMeta(h)
		if err != nil {
			return err
		}
		info = md.Info
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// List returns every snapshot's metadata in handle order.
func (s *Storage) List(ctx context.Context) ([]storage.Info, error) {
	var out []storage.Info
	err := s.run(ctx, "list", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(metaPrefix)
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				var md meta
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &md)
				}); err != nil {
					return fmt.Errorf("failed to decode metadata %q: %w", it.Item().Key(), err)
				}
				out = append(out, md.Info)
			}
			return nil
		})
	})
	return out, err
}

// Delete removes the snapshot and every generation stored under h.
func (s *Storage) Delete(ctx context.Context, h storage.Handle) error {
	return s.run(ctx, "delete", func() error {
		if _, err := s.readMeta(h); err != nil {
			return err
		}
		if err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(metaKey(h))
		}); err != nil {
			return err
		}
		return s.dropPrefix([]byte(dataPrefix + string(h) + "/"))
	})
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	stats := &storage.Stats{Snapshots: len(list)}
	for _, info := range list {
		stats.Cells += uint64(info.Rows * info.Columns)
	}
	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

// RunGC runs BadgerDB's value log garbage collection.
// Returns badger.ErrNoRewrite when nothing was reclaimed.
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	s.comp.Close()
	return s.db.Close()
}

// run executes fn off the caller's goroutine and gives up waiting when ctx ends.
func (s *Storage) run(ctx context.Context, op string, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

func (s *Storage) readMeta(h storage.Handle) (meta, error) {
	var md meta
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		md, err = getMeta(txn, h)
		return err
	})
	return md, err
}

func getMeta(txn *badger.Txn, h storage.Handle) (meta, error) {
	var md meta
	item, err := txn.Get(metaKey(h))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return md, fmt.Errorf("%w: %s", storage.ErrNotFound, h)
	}
	if err != nil {
		return md, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &md)
	})
	if err != nil {
		return md, storage.Corrupt(h, fmt.Errorf("metadata: %w", err))
	}
	return md, nil
}

// writeGeneration stores m's tables under md.Gen, then publishes md.
func (s *Storage) writeGeneration(ctx context.Context, md meta, m *matrix.Matrix) error {
	prefix := genPrefix(md.Handle, md.Gen)

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	cols, err := json.Marshal(m.Columns())
	if err != nil {
		return fmt.Errorf("failed to encode columns: %w", err)
	}
	if err := wb.Set(join(prefix, "c"), cols); err != nil {
		return err
	}

	for i := 0; i < m.NumRows(); i++ {
		// Check context periodically (every 100 rows)
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		row, err := s.encodeRow(m.Row(i))
		if err != nil {
			return err
		}
		if err := wb.Set(indexKey(prefix, "r", i), row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
		if err := wb.Set(indexKey(prefix, "x", i), s.encodeCells(m.RowCells(i))); err != nil {
			return fmt.Errorf("failed to write cells of row %d: %w", i, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}

	val, err := json.Marshal(md)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(md.Handle), val)
	})
}

func (s *Storage) readGeneration(ctx context.Context, txn *badger.Txn, md meta) (*matrix.Matrix, error) {
	prefix := genPrefix(md.Handle, md.Gen)

	var cols []matrix.Operation
	item, err := txn.Get(join(prefix, "c"))
	if err != nil {
		return nil, storage.Corrupt(md.Handle, fmt.Errorf("column table: %w", err))
	}
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &cols) }); err != nil {
		return nil, storage.Corrupt(md.Handle, fmt.Errorf("column table: %w", err))
	}

	rows := make([]matrix.TimeSeries, 0, md.Rows)
	cells := make([]matrix.Cell, 0, md.Rows*len(cols))

	for i := 0; i < md.Rows; i++ {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var ts matrix.TimeSeries
		if err := s.getValue(txn, indexKey(prefix, "r", i), func(val []byte) error {
			var err error
			ts, err = s.decodeRow(val)
			return err
		}); err != nil {
			return nil, storage.Corrupt(md.Handle, fmt.Errorf("row %d: %w", i, err))
		}
		rows = append(rows, ts)

		if err := s.getValue(txn, indexKey(prefix, "x", i), func(val []byte) error {
			rowCells, err := s.decodeCells(val, len(cols))
			cells = append(cells, rowCells...)
			return err
		}); err != nil {
			return nil, storage.Corrupt(md.Handle, fmt.Errorf("cells of row %d: %w", i, err))
		}
	}

	m, err := matrix.FromCells(rows, cols, cells)
	if err != nil {
		return nil, storage.Corrupt(md.Handle, err)
	}
	return m, nil
}

func (s *Storage) getValue(txn *badger.Txn, key []byte, fn func([]byte) error) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(fn)
}

func (s *Storage) dropPrefix(prefix []byte) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

type rowHeader struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords,omitempty"`
	Length   int      `json:"length"`
	Points   int      `json:"points"`
}

// encodeRow: [uvarint header len][header JSON][XOR+zstd data]
func (s *Storage) encodeRow(ts matrix.TimeSeries) ([]byte, error) {
	header, err := json.Marshal(rowHeader{
		ID: ts.ID, Name: ts.Name, Keywords: ts.Keywords, Length: ts.Length, Points: len(ts.Data),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode row %d: %w", ts.ID, err)
	}
	var buf bytes.Buffer
	writeBlob(&buf, header)
	buf.Write(s.comp.Floats(ts.Data))
	return buf.Bytes(), nil
}

func (s *Storage) decodeRow(val []byte) (matrix.TimeSeries, error) {
	r := bytes.NewReader(val)
	header, err := readBlob(r)
	if err != nil {
		return matrix.TimeSeries{}, err
	}
	var h rowHeader
	if err := json.Unmarshal(header, &h); err != nil {
		return matrix.TimeSeries{}, err
	}
	data, err := s.comp.DecodeFloats(val[len(val)-r.Len():], h.Points)
	if err != nil {
		return matrix.TimeSeries{}, err
	}
	return matrix.TimeSeries{ID: h.ID, Name: h.Name, Keywords: h.Keywords, Length: h.Length, Data: data}, nil
}

// encodeCells: four length-prefixed blobs (values, calc times, quality codes, reasons)
func (s *Storage) encodeCells(cells []matrix.Cell) []byte {
	values := make([]float64, len(cells))
	times := make([]float64, len(cells))
	codes := make([]byte, len(cells))
	reasons := make([]string, len(cells))
	for j, c := range cells {
		values[j] = c.Value
		times[j] = c.CalcTime
		codes[j] = byte(c.Quality)
		reasons[j] = string(c.Reason)
	}

	var buf bytes.Buffer
	writeBlob(&buf, s.comp.Floats(values))
	writeBlob(&buf, s.comp.Floats(times))
	writeBlob(&buf, s.comp.Bytes(codes))
	writeBlob(&buf, s.comp.Strings(reasons))
	return buf.Bytes()
}

func (s *Storage) decodeCells(val []byte, n int) ([]matrix.Cell, error) {
	r := bytes.NewReader(val)
	blobs := make([][]byte, 4)
	for k := range blobs {
		b, err := readBlob(r)
		if err != nil {
			return nil, err
		}
		blobs[k] = b
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", r.Len())
	}

	values, err := s.comp.DecodeFloats(blobs[0], n)
	if err != nil {
		return nil, fmt.Errorf("values: %w", err)
	}
	times, err := s.comp.DecodeFloats(blobs[1], n)
	if err != nil {
		return nil, fmt.Errorf("calc times: %w", err)
	}
	codes, err := s.comp.DecodeBytes(blobs[2], n)
	if err != nil {
		return nil, fmt.Errorf("quality codes: %w", err)
	}
	reasons, err := s.comp.DecodeStrings(blobs[3], n)
	if err != nil {
		return nil, fmt.Errorf("reasons: %w", err)
	}

	cells := make([]matrix.Cell, n)
	for j := range cells {
		cells[j] = matrix.Cell{
			Value:    values[j],
			Quality:  matrix.Quality(codes[j]),
			CalcTime: times[j],
			Reason:   matrix.Reason(reasons[j]),
		}
	}
	return cells, nil
}

func writeBlob(buf *bytes.Buffer, b []byte) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(b)))
	buf.Write(tmp[:n])
	buf.Write(b)
}

func readBlob(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("blob length: %w", err)
	}
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("blob of %d bytes, %d left", n, r.Len())
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func metaKey(h storage.Handle) []byte {
	return []byte(metaPrefix + string(h))
}

// genPrefix: d/<handle>/<gen big-endian>/
func genPrefix(h storage.Handle, gen uint64) []byte {
	key := make([]byte, 0, len(dataPrefix)+len(h)+10)
	key = append(key, dataPrefix...)
	key = append(key, h...)
	key = append(key, '/')
	key = binary.BigEndian.AppendUint64(key, gen)
	return append(key, '/')
}

func join(prefix []byte, name string) []byte {
	return append(append([]byte(nil), prefix...), name...)
}

func indexKey(prefix []byte, kind string, i int) []byte {
	key := join(prefix, kind+"/")
	return binary.BigEndian.AppendUint32(key, uint32(i))
}
