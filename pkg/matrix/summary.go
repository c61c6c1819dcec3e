package matrix

// Summary counts cells by state.
type Summary struct {
	Rows        int             `json:"rows"`
	Columns     int             `json:"columns"`
	Cells       int             `json:"cells"`
	Pending     int             `json:"pending"`
	Good        int             `json:"good"`
	Errors      int             `json:"errors"`
	ByReason    map[Reason]int  `json:"by_reason,omitempty"`
	ColumnStats []ColumnSummary `json:"column_stats,omitempty"`
	Fingerprint uint64          `json:"fingerprint"`
}

// ColumnSummary counts one operation's cells.
type ColumnSummary struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Pending int    `json:"pending"`
	Good    int    `json:"good"`
	Errors  int    `json:"errors"`
}

// Summarize walks every cell once.
func (m *Matrix) Summarize() Summary {
	s := Summary{
		Rows:        len(m.rows),
		Columns:     len(m.columns),
		Cells:       len(m.cells),
		ByReason:    make(map[Reason]int),
		ColumnStats: make([]ColumnSummary, len(m.columns)),
		Fingerprint: m.Fingerprint(),
	}
	for j, op := range m.columns {
		s.ColumnStats[j] = ColumnSummary{ID: op.ID, Name: op.Name}
	}

	for k, c := range m.cells {
		col := &s.ColumnStats[k%len(m.columns)]
		switch c.Quality {
		case Good:
			s.Good++
			col.Good++
		case Error:
			s.Errors++
			col.Errors++
			s.ByReason[c.Reason]++
		default:
			s.Pending++
			col.Pending++
		}
	}
	return s
}

// Done reports whether no cell is Pending.
func (s Summary) Done() bool { return s.Pending == 0 }
