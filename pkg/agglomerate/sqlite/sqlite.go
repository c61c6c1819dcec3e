// Package sqlite is a canonical result store backed by SQLite. It is the
// remote side of a sync: tables time_series, operations and results, where a
// results row with NULL quality is an unset cell.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"github.com/nicktill/tinyfeat/pkg/agglomerate"
	"github.com/nicktill/tinyfeat/pkg/matrix"
)

var (
	// ErrNoConnection is returned when the pool cannot hand out a connection,
	// usually because ctx ended.
	ErrNoConnection = errors.New("sqlite: no connection available")

	// ErrCellNotWritten is returned when a guarded update matched no row.
	ErrCellNotWritten = errors.New("sqlite: cell not written")
)

const schema = `
	CREATE TABLE IF NOT EXISTS time_series (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		keywords TEXT NOT NULL DEFAULT '',
		length INTEGER NOT NULL,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS operations (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		keywords TEXT NOT NULL DEFAULT '',
		master TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT ''
	);

	-- quality: NULL unset, 1 good, 2 error
	CREATE TABLE IF NOT EXISTS results (
		ts_id INTEGER NOT NULL REFERENCES time_series(id) ON DELETE CASCADE,
		op_id INTEGER NOT NULL REFERENCES operations(id) ON DELETE CASCADE,
		value REAL,
		quality INTEGER,
		calc_time REAL,
		reason TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (ts_id, op_id)
	) WITHOUT ROWID;

	CREATE INDEX IF NOT EXISTS idx_results_quality ON results(quality);
`

// Store owns the connection pool.
type Store struct {
	pool *sqlitex.Pool
	path string
	log  *slog.Logger
}

// Open opens (creating if needed) the database at path.
func Open(path string, poolSize int, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if poolSize < 1 {
		poolSize = 1
	}
	uri := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	pool, err := sqlitex.Open(uri, 0, poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite pool: %w", err)
	}

	s := &Store{pool: pool, path: path, log: log}
	if err := s.initSchema(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	log.Info("remote store opened", slog.String("path", path))
	return s, nil
}

func (s *Store) initSchema() error {
	conn := s.pool.Get(context.Background())
	if conn == nil {
		return ErrNoConnection
	}
	defer s.pool.Put(conn)
	return sqlitex.ExecScript(conn, schema)
}

// Close closes every pooled connection.
func (s *Store) Close() error {
	s.log.Info("closing remote store", slog.String("path", s.path))
	return s.pool.Close()
}

// Seed registers the matrix's time series and operations and creates an
// unset results row for every cell. Existing rows are left as they are.
func (s *Store) Seed(ctx context.Context, m *matrix.Matrix) (err error) {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return ErrNoConnection
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	for i := 0; i < m.NumRows(); i++ {
		ts := m.Row(i)
		data, err := json.Marshal(finiteOrNull(ts.Data))
		if err != nil {
			return fmt.Errorf("encode series %d: %w", ts.ID, err)
		}
		stmt := conn.Prep("INSERT OR IGNORE INTO time_series (id, name, keywords, length, data) VALUES (?, ?, ?, ?, ?)")
		stmt.BindInt64(1, ts.ID)
		stmt.BindText(2, ts.Name)
		stmt.BindText(3, strings.Join(ts.Keywords, ","))
		stmt.BindInt64(4, int64(ts.Length))
		stmt.BindText(5, string(data))
		_, err = stmt.Step()
		stmt.Reset()
		if err != nil {
			return fmt.Errorf("insert series %d: %w", ts.ID, err)
		}
	}

	for j := 0; j < m.NumColumns(); j++ {
		op := m.Column(j)
		stmt := conn.Prep("INSERT OR IGNORE INTO operations (id, name, keywords, master, output) VALUES (?, ?, ?, ?, ?)")
		stmt.BindInt64(1, op.ID)
		stmt.BindText(2, op.Name)
		stmt.BindText(3, strings.Join(op.Keywords, ","))
		stmt.BindText(4, op.Master)
		stmt.BindText(5, op.Output)
		_, err = stmt.Step()
		stmt.Reset()
		if err != nil {
			return fmt.Errorf("insert operation %d: %w", op.ID, err)
		}
	}

	stmt := conn.Prep("INSERT OR IGNORE INTO results (ts_id, op_id) VALUES (?, ?)")
	for i := 0; i < m.NumRows(); i++ {
		for j := 0; j < m.NumColumns(); j++ {
			stmt.BindInt64(1, m.Row(i).ID)
			stmt.BindInt64(2, m.Column(j).ID)
			_, err = stmt.Step()
			stmt.Reset()
			if err != nil {
				return fmt.Errorf("insert cell (%d, %d): %w", m.Row(i).ID, m.Column(j).ID, err)
			}
		}
	}

	s.log.Info("remote store seeded",
		slog.Int("rows", m.NumRows()),
		slog.Int("columns", m.NumColumns()))
	return nil
}

// DeleteSeries removes time series and their cells.
func (s *Store) DeleteSeries(ctx context.Context, ids ...int64) (err error) {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return ErrNoConnection
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	for _, id := range ids {
		if err = sqlitex.Exec(conn, "DELETE FROM results WHERE ts_id = ?", nil, id); err != nil {
			return fmt.Errorf("delete cells of series %d: %w", id, err)
		}
		if err = sqlitex.Exec(conn, "DELETE FROM time_series WHERE id = ?", nil, id); err != nil {
			return fmt.Errorf("delete series %d: %w", id, err)
		}
	}
	return nil
}

// Cell reads one cell. ok is false when the cell does not exist.
func (s *Store) Cell(ctx context.Context, rowID, colID int64) (c matrix.Cell, ok bool, err error) {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return matrix.Cell{}, false, ErrNoConnection
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep("SELECT value, quality, calc_time, reason FROM results WHERE ts_id = ? AND op_id = ?")
	defer stmt.Reset()
	stmt.BindInt64(1, rowID)
	stmt.BindInt64(2, colID)

	hasRow, err := stmt.Step()
	if err != nil {
		return matrix.Cell{}, false, fmt.Errorf("read cell (%d, %d): %w", rowID, colID, err)
	}
	if !hasRow {
		return matrix.Cell{}, false, nil
	}
	return scanCell(stmt), true, nil
}

// Connect takes one connection out of the pool for the lifetime of a sync.
// The returned session implements agglomerate.Remote; closing it returns the
// connection.
func (s *Store) Connect(ctx context.Context) (*Session, error) {
	conn := s.pool.Get(ctx)
	if conn == nil {
		return nil, ErrNoConnection
	}
	err := sqlitex.ExecScript(conn, `
		CREATE TEMP TABLE IF NOT EXISTS sync_rows (id INTEGER PRIMARY KEY);
		CREATE TEMP TABLE IF NOT EXISTS sync_cols (id INTEGER PRIMARY KEY);
	`)
	if err != nil {
		s.pool.Put(conn)
		return nil, fmt.Errorf("create id tables: %w", err)
	}
	return &Session{store: s, conn: conn}, nil
}

// Session is one exclusive connection used by a sync.
type Session struct {
	store *Store
	conn  *sqlite.Conn
}

var _ agglomerate.Remote = (*Session)(nil)

func (r *Session) CountRows(ctx context.Context, ids []int64) (int, error) {
	return r.count(ctx, "sync_rows", "SELECT COUNT(*) FROM time_series WHERE id IN (SELECT id FROM temp.sync_rows)", ids)
}

func (r *Session) CountColumns(ctx context.Context, ids []int64) (int, error) {
	return r.count(ctx, "sync_cols", "SELECT COUNT(*) FROM operations WHERE id IN (SELECT id FROM temp.sync_cols)", ids)
}

func (r *Session) count(ctx context.Context, table, query string, ids []int64) (int, error) {
	if r.conn == nil {
		return 0, ErrNoConnection
	}
	r.conn.SetInterrupt(ctx.Done())
	if err := r.loadIDs(table, ids); err != nil {
		return 0, err
	}
	n := 0
	err := sqlitex.Exec(r.conn, query, func(stmt *sqlite.Stmt) error {
		n = int(stmt.ColumnInt64(0))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (r *Session) loadIDs(table string, ids []int64) (err error) {
	defer sqlitex.Save(r.conn)(&err)
	if err = sqlitex.Exec(r.conn, "DELETE FROM temp."+table, nil); err != nil {
		return fmt.Errorf("reset %s: %w", table, err)
	}
	stmt := r.conn.Prep("INSERT OR IGNORE INTO temp." + table + " (id) VALUES (?)")
	for _, id := range ids {
		stmt.BindInt64(1, id)
		_, err = stmt.Step()
		stmt.Reset()
		if err != nil {
			return fmt.Errorf("load %s: %w", table, err)
		}
	}
	return nil
}

func (r *Session) QueryCells(ctx context.Context, mode agglomerate.Mode, rowIDs, colIDs []int64) ([]agglomerate.Candidate, error) {
	if r.conn == nil {
		return nil, ErrNoConnection
	}
	var pred string
	switch mode {
	case agglomerate.ModeNull:
		pred = "quality IS NULL"
	case agglomerate.ModeError:
		pred = "quality = 2"
	case agglomerate.ModeNullError:
		pred = "(quality IS NULL OR quality = 2)"
	default:
		return nil, fmt.Errorf("%w: %q", agglomerate.ErrInvalidMode, mode)
	}

	r.conn.SetInterrupt(ctx.Done())
	if err := r.loadIDs("sync_rows", rowIDs); err != nil {
		return nil, err
	}
	if err := r.loadIDs("sync_cols", colIDs); err != nil {
		return nil, err
	}

	var out []agglomerate.Candidate
	query := "SELECT ts_id, op_id, quality FROM results" +
		" WHERE ts_id IN (SELECT id FROM temp.sync_rows)" +
		" AND op_id IN (SELECT id FROM temp.sync_cols)" +
		" AND " + pred +
		" ORDER BY ts_id, op_id"
	err := sqlitex.Exec(r.conn, query, func(stmt *sqlite.Stmt) error {
		c := agglomerate.Candidate{
			RowID:    stmt.ColumnInt64(0),
			ColumnID: stmt.ColumnInt64(1),
			Quality:  matrix.Pending,
		}
		if stmt.ColumnType(2) != sqlite.SQLITE_NULL {
			c.Quality = matrix.Quality(stmt.ColumnInt64(2))
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query cells: %w", err)
	}
	return out, nil
}

// WriteCell updates one existing cell. The update never replaces an error
// with an error; if the guard or the key matches nothing, ErrCellNotWritten
// is returned.
func (r *Session) WriteCell(ctx context.Context, rowID, colID int64, c matrix.Cell) error {
	if r.conn == nil {
		return ErrNoConnection
	}
	r.conn.SetInterrupt(ctx.Done())

	stmt := r.conn.Prep(`UPDATE results SET value = ?, quality = ?, calc_time = ?, reason = ?
		WHERE ts_id = ? AND op_id = ?
		AND NOT (? = 2 AND COALESCE(quality, 0) = 2)`)
	bindFloat(stmt, 1, c.Value)
	stmt.BindInt64(2, int64(c.Quality))
	bindFloat(stmt, 3, c.CalcTime)
	stmt.BindText(4, string(c.Reason))
	stmt.BindInt64(5, rowID)
	stmt.BindInt64(6, colID)
	stmt.BindInt64(7, int64(c.Quality))
	_, err := stmt.Step()
	stmt.Reset()
	if err != nil {
		return fmt.Errorf("update cell (%d, %d): %w", rowID, colID, err)
	}
	if r.conn.Changes() != 1 {
		return fmt.Errorf("%w: (%d, %d)", ErrCellNotWritten, rowID, colID)
	}
	return nil
}

// Close returns the connection to the pool. It is safe to call twice.
func (r *Session) Close() error {
	if r.conn == nil {
		return nil
	}
	r.conn.SetInterrupt(nil)
	r.store.pool.Put(r.conn)
	r.conn = nil
	return nil
}

func scanCell(stmt *sqlite.Stmt) matrix.Cell {
	c := matrix.PendingCell()
	if stmt.ColumnType(1) == sqlite.SQLITE_NULL {
		return c
	}
	c.Quality = matrix.Quality(stmt.ColumnInt64(1))
	if stmt.ColumnType(0) != sqlite.SQLITE_NULL {
		c.Value = stmt.ColumnFloat(0)
	}
	if stmt.ColumnType(2) != sqlite.SQLITE_NULL {
		c.CalcTime = stmt.ColumnFloat(2)
	}
	c.Reason = matrix.Reason(stmt.ColumnText(3))
	return c
}

// bindFloat stores NaN as NULL. SQLite has no NaN.
func bindFloat(stmt *sqlite.Stmt, param int, v float64) {
	if math.IsNaN(v) {
		stmt.BindNull(param)
		return
	}
	stmt.BindFloat(param, v)
}

func finiteOrNull(data []float64) []*float64 {
	out := make([]*float64, len(data))
	for i := range data {
		if !math.IsNaN(data[i]) && !math.IsInf(data[i], 0) {
			out[i] = &data[i]
		}
	}
	return out
}
