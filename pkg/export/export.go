package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nicktill/tinyfeat/pkg/matrix"
	"github.com/nicktill/tinyfeat/pkg/storage"
)

// FormatVersion is written into every JSON snapshot document.
const FormatVersion = "1.0"

// Metadata heads a snapshot document.
type Metadata struct {
	ExportedAt  time.Time      `json:"exported_at"`
	Handle      storage.Handle `json:"handle,omitempty"`
	Rows        int            `json:"rows"`
	Columns     int            `json:"columns"`
	Fingerprint uint64         `json:"fingerprint"`
	Format      string         `json:"format"`
	Version     string         `json:"version"`
}

// SeriesRecord is one row of the time series table.
type SeriesRecord struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords,omitempty"`
	Length   int      `json:"length"`
	Data     []Float  `json:"data"`
}

// OperationRecord is one row of the operation table.
type OperationRecord struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords,omitempty"`
	Master   string   `json:"master"`
	Output   string   `json:"output,omitempty"`
}

// ResultRecord is one cell. Pending cells are omitted from documents.
type ResultRecord struct {
	RowID    int64  `json:"ts_id"`
	OpID     int64  `json:"op_id"`
	Value    Float  `json:"value"`
	Quality  string `json:"quality"`
	CalcTime Float  `json:"calc_time"`
	Reason   string `json:"reason,omitempty"`
}

// Document is the portable snapshot format.
type Document struct {
	Metadata   Metadata          `json:"metadata"`
	TimeSeries []SeriesRecord    `json:"time_series"`
	Operations []OperationRecord `json:"operations"`
	Results    []ResultRecord    `json:"results"`
}

// NewDocument flattens m into tables.
func NewDocument(h storage.Handle, m *matrix.Matrix) *Document {
	doc := &Document{
		Metadata: Metadata{
			ExportedAt:  time.Now().UTC(),
			Handle:      h,
			Rows:        m.NumRows(),
			Columns:     m.NumColumns(),
			Fingerprint: m.Fingerprint(),
			Format:      "json",
			Version:     FormatVersion,
		},
		TimeSeries: make([]SeriesRecord, m.NumRows()),
		Operations: make([]OperationRecord, m.NumColumns()),
	}

	for i := 0; i < m.NumRows(); i++ {
		ts := m.Row(i)
		doc.TimeSeries[i] = SeriesRecord{
			ID: ts.ID, Name: ts.Name, Keywords: ts.Keywords, Length: ts.Length, Data: floats(ts.Data),
		}
	}
	for j := 0; j < m.NumColumns(); j++ {
		op := m.Column(j)
		doc.Operations[j] = OperationRecord{
			ID: op.ID, Name: op.Name, Keywords: op.Keywords, Master: op.Master, Output: op.Output,
		}
	}
	for i := 0; i < m.NumRows(); i++ {
		for j := 0; j < m.NumColumns(); j++ {
			c := m.At(i, j)
			if c.Quality == matrix.Pending {
				continue
			}
			doc.Results = append(doc.Results, ResultRecord{
				RowID:    m.Row(i).ID,
				OpID:     m.Column(j).ID,
				Value:    Float(c.Value),
				Quality:  c.Quality.String(),
				CalcTime: Float(c.CalcTime),
				Reason:   string(c.Reason),
			})
		}
	}
	return doc
}

// WriteJSON encodes m as an indented snapshot document.
func WriteJSON(w io.Writer, h storage.Handle, m *matrix.Matrix) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(NewDocument(h, m)); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// WriteCSV writes the value table: one line per time series, one column per
// operation. Good cells hold the value, Error cells the word "error" and
// Pending cells are empty.
func WriteCSV(w io.Writer, m *matrix.Matrix) error {
	writer := csv.NewWriter(w)

	header := []string{"ts_id", "ts_name"}
	for j := 0; j < m.NumColumns(); j++ {
		header = append(header, m.Column(j).Name)
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i := 0; i < m.NumRows(); i++ {
		ts := m.Row(i)
		row := []string{strconv.FormatInt(ts.ID, 10), ts.Name}
		for j := 0; j < m.NumColumns(); j++ {
			c := m.At(i, j)
			switch c.Quality {
			case matrix.Good:
				row = append(row, strconv.FormatFloat(c.Value, 'g', -1, 64))
			case matrix.Error:
				row = append(row, "error")
			default:
				row = append(row, "")
			}
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// Exporter streams stored snapshots to files.
type Exporter struct {
	storage storage.Store
}

// NewExporter creates a new exporter
func NewExporter(store storage.Store) *Exporter {
	return &Exporter{storage: store}
}

// ExportResult contains stats about the export
type ExportResult struct {
	Handle     storage.Handle `json:"handle"`
	Rows       int            `json:"rows"`
	Columns    int            `json:"columns"`
	Results    int            `json:"results"`
	Format     string         `json:"format"`
	ExportedAt time.Time      `json:"exported_at"`
}

// Export writes snapshot h in format "json" or "csv".
func (e *Exporter) Export(ctx context.Context, w io.Writer, h storage.Handle, format string) (*ExportResult, error) {
	if format != "json" && format != "csv" {
		return nil, fmt.Errorf("invalid format %q, must be json or csv", format)
	}

	m, err := e.storage.Load(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	if format == "json" {
		err = WriteJSON(w, h, m)
	} else {
		err = WriteCSV(w, m)
	}
	if err != nil {
		return nil, err
	}

	s := m.Summarize()
	return &ExportResult{
		Handle:     h,
		Rows:       s.Rows,
		Columns:    s.Columns,
		Results:    s.Good + s.Errors,
		Format:     format,
		ExportedAt: time.Now().UTC(),
	}, nil
}
