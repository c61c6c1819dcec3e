package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/nicktill/tinyfeat/pkg/config"
	"github.com/nicktill/tinyfeat/pkg/matrix"
	"github.com/nicktill/tinyfeat/pkg/storage"
)

// ErrInvalidDocument is returned when a snapshot document cannot be turned
// into a valid matrix.
var ErrInvalidDocument = errors.New("export: invalid snapshot document")

// Importer loads snapshot documents into a store.
type Importer struct {
	storage storage.Store
	maxRows int
	maxCols int
}

// NewImporter creates a new importer
func NewImporter(store storage.Store) *Importer {
	return &Importer{storage: store, maxRows: config.MaxImportRows, maxCols: config.MaxImportColumns}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	Handle     storage.Handle `json:"handle,omitempty"`
	Rows       int            `json:"rows"`
	Columns    int            `json:"columns"`
	Results    int            `json:"results"`
	ImportedAt time.Time      `json:"imported_at"`
	Warnings   []string       `json:"warnings,omitempty"`
}

// ImportFromJSON decodes a snapshot document and saves it under a new handle.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	m, result, err := readJSON(r, im.maxRows, im.maxCols)
	if err != nil {
		return nil, err
	}
	h, err := im.storage.Save(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("failed to save imported snapshot: %w", err)
	}
	result.Handle = h
	return result, nil
}

// ReadJSON decodes a snapshot document into a matrix. Fields outside the
// fixed time series and operation schema are dropped and reported as warnings.
func ReadJSON(r io.Reader) (*matrix.Matrix, *ImportResult, error) {
	return readJSON(r, config.MaxImportRows, config.MaxImportColumns)
}

type rawDocument struct {
	Metadata   Metadata          `json:"metadata"`
	TimeSeries []json.RawMessage `json:"time_series"`
	Operations []json.RawMessage `json:"operations"`
	Results    []ResultRecord    `json:"results"`
}

var (
	seriesFields    = fieldSet("id", "name", "keywords", "length", "data")
	operationFields = fieldSet("id", "name", "keywords", "master", "output")
)

func readJSON(r io.Reader, maxRows, maxCols int) (*matrix.Matrix, *ImportResult, error) {
	var raw rawDocument
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if len(raw.TimeSeries) > maxRows {
		return nil, nil, fmt.Errorf("%w: %d time series exceeds limit %d", ErrInvalidDocument, len(raw.TimeSeries), maxRows)
	}
	if len(raw.Operations) > maxCols {
		return nil, nil, fmt.Errorf("%w: %d operations exceeds limit %d", ErrInvalidDocument, len(raw.Operations), maxCols)
	}

	result := &ImportResult{ImportedAt: time.Now().UTC()}

	rows := make([]matrix.TimeSeries, len(raw.TimeSeries))
	for i, msg := range raw.TimeSeries {
		var rec SeriesRecord
		if err := decodeRecord(msg, &rec, seriesFields, fmt.Sprintf("time_series[%d]", i), result); err != nil {
			return nil, nil, err
		}
		rows[i] = matrix.TimeSeries{
			ID: rec.ID, Name: rec.Name, Keywords: rec.Keywords, Length: rec.Length, Data: unfloats(rec.Data),
		}
	}

	cols := make([]matrix.Operation, len(raw.Operations))
	for j, msg := range raw.Operations {
		var rec OperationRecord
		if err := decodeRecord(msg, &rec, operationFields, fmt.Sprintf("operations[%d]", j), result); err != nil {
			return nil, nil, err
		}
		cols[j] = matrix.Operation{
			ID: rec.ID, Name: rec.Name, Keywords: rec.Keywords, Master: rec.Master, Output: rec.Output,
		}
	}

	m, err := matrix.New(rows, cols)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	seen := make(map[[2]int64]bool, len(raw.Results))
	for k, rec := range raw.Results {
		i, ok := m.RowIndex(rec.RowID)
		if !ok {
			return nil, nil, fmt.Errorf("%w: results[%d] references unknown time series %d", ErrInvalidDocument, k, rec.RowID)
		}
		j, ok := m.ColumnIndex(rec.OpID)
		if !ok {
			return nil, nil, fmt.Errorf("%w: results[%d] references unknown operation %d", ErrInvalidDocument, k, rec.OpID)
		}
		key := [2]int64{rec.RowID, rec.OpID}
		if seen[key] {
			return nil, nil, fmt.Errorf("%w: duplicate result for (%d, %d)", ErrInvalidDocument, rec.RowID, rec.OpID)
		}
		seen[key] = true

		q, err := matrix.ParseQuality(rec.Quality)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: results[%d]: %v", ErrInvalidDocument, k, err)
		}
		cell := matrix.Cell{
			Value:    float64(rec.Value),
			Quality:  q,
			CalcTime: float64(rec.CalcTime),
			Reason:   matrix.Reason(rec.Reason),
		}
		if err := m.Set(i, j, cell); err != nil {
			return nil, nil, fmt.Errorf("%w: results[%d]: %v", ErrInvalidDocument, k, err)
		}
		result.Results++
	}

	if raw.Metadata.Fingerprint != 0 && raw.Metadata.Fingerprint != m.Fingerprint() {
		result.Warnings = append(result.Warnings, "metadata fingerprint does not match document contents")
	}

	result.Rows = m.NumRows()
	result.Columns = m.NumColumns()
	return m, result, nil
}

// decodeRecord unmarshals msg into dst and records keys outside known.
func decodeRecord(msg json.RawMessage, dst any, known map[string]bool, where string, result *ImportResult) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDocument, where, err)
	}
	var extra []string
	for k := range fields {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		warning := fmt.Sprintf("%s: dropped unknown fields %v", where, extra)
		slog.Warn("dropping unknown snapshot fields", slog.String("record", where), slog.Any("fields", extra))
		result.Warnings = append(result.Warnings, warning)
	}

	if err := json.Unmarshal(msg, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDocument, where, err)
	}
	return nil
}

func fieldSet(names ...string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// ReadSeries decodes a JSON array of time series records, the input of a new
// matrix. A missing length defaults to the number of data points. Unknown
// fields are dropped with a warning.
func ReadSeries(r io.Reader) ([]matrix.TimeSeries, []string, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if len(raw) > config.MaxImportRows {
		return nil, nil, fmt.Errorf("%w: %d time series exceeds limit %d", ErrInvalidDocument, len(raw), config.MaxImportRows)
	}

	result := &ImportResult{}
	rows := make([]matrix.TimeSeries, len(raw))
	for i, msg := range raw {
		var rec SeriesRecord
		if err := decodeRecord(msg, &rec, seriesFields, fmt.Sprintf("series[%d]", i), result); err != nil {
			return nil, nil, err
		}
		if rec.Length == 0 {
			rec.Length = len(rec.Data)
		}
		if rec.Name == "" {
			return nil, nil, fmt.Errorf("%w: series[%d] has no name", ErrInvalidDocument, i)
		}
		rows[i] = matrix.TimeSeries{
			ID: rec.ID, Name: rec.Name, Keywords: rec.Keywords, Length: rec.Length, Data: unfloats(rec.Data),
		}
	}
	return rows, result.Warnings, nil
}
