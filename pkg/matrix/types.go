package matrix

import (
	"fmt"
	"math"
	"strings"
)

// Quality is the state of a result cell.
type Quality uint8

const (
	Pending Quality = iota // not yet computed (NULL)
	Good                   // finite value computed
	Error                  // could not compute
)

func (q Quality) String() string {
	switch q {
	case Pending:
		return "pending"
	case Good:
		return "good"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("quality(%d)", uint8(q))
	}
}

// ParseQuality is the inverse of Quality.String.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(s) {
	case "pending", "null", "":
		return Pending, nil
	case "good":
		return Good, nil
	case "error":
		return Error, nil
	default:
		return Pending, fmt.Errorf("unknown quality code %q", s)
	}
}

// Reason classifies why a cell ended up as Error.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonUnknownOperation Reason = "unknown-operation"
	ReasonPrecondition     Reason = "precondition"
	ReasonUnexpected       Reason = "unexpected"
	ReasonSpecialValue     Reason = "special-value"
	ReasonTimeout          Reason = "timeout"
)

// TimeSeries is one row of the matrix. Immutable once the matrix is built.
type TimeSeries struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Keywords []string  `json:"keywords,omitempty"`
	Length   int       `json:"length"`
	Data     []float64 `json:"data"`
}

// HasKeyword reports whether kw is one of the series' keywords.
func (ts TimeSeries) HasKeyword(kw string) bool {
	return containsKeyword(ts.Keywords, kw)
}

// Operation is one column of the matrix. Master names the registry entry
// that computes it and Output the named field of that entry's result; an
// empty Output means the master returns a single scalar.
type Operation struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords,omitempty"`
	Master   string   `json:"master"`
	Output   string   `json:"output,omitempty"`
}

// HasKeyword reports whether kw is one of the operation's keywords.
func (op Operation) HasKeyword(kw string) bool {
	return containsKeyword(op.Keywords, kw)
}

// Cell is the result of one operation on one time series. Value and
// CalcTime are NaN when undefined.
type Cell struct {
	Value    float64
	Quality  Quality
	CalcTime float64
	Reason   Reason
}

// PendingCell returns an uncomputed cell.
func PendingCell() Cell {
	return Cell{Value: math.NaN(), Quality: Pending, CalcTime: math.NaN()}
}

// GoodCell returns a successfully computed cell.
func GoodCell(value, calcTime float64) Cell {
	return Cell{Value: value, Quality: Good, CalcTime: calcTime}
}

// ErrorCell returns a failed cell. value is usually NaN; special-value
// failures keep the offending output.
func ErrorCell(reason Reason, value, calcTime float64) Cell {
	return Cell{Value: value, Quality: Error, CalcTime: calcTime, Reason: reason}
}

// HasValue reports whether the cell carries a defined value.
func (c Cell) HasValue() bool { return !math.IsNaN(c.Value) }

// HasCalcTime reports whether the elapsed time was recorded.
func (c Cell) HasCalcTime() bool { return !math.IsNaN(c.CalcTime) }

// Check verifies the cell's fields agree with each other.
func (c Cell) Check() error {
	switch c.Quality {
	case Good:
		if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
			return fmt.Errorf("%w: good cell with value %v", ErrInconsistentCell, c.Value)
		}
		if c.Reason != ReasonNone {
			return fmt.Errorf("%w: good cell with reason %q", ErrInconsistentCell, c.Reason)
		}
	case Pending:
		if c.Reason != ReasonNone {
			return fmt.Errorf("%w: pending cell with reason %q", ErrInconsistentCell, c.Reason)
		}
	case Error:
	default:
		return fmt.Errorf("%w: unknown quality %d", ErrInconsistentCell, c.Quality)
	}
	return nil
}

// SameAs compares two cells treating NaN fields as equal to each other.
func (c Cell) SameAs(o Cell) bool {
	return c.Quality == o.Quality &&
		c.Reason == o.Reason &&
		sameFloat(c.Value, o.Value) &&
		sameFloat(c.CalcTime, o.CalcTime)
}

func sameFloat(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return a == b
}

func containsKeyword(keywords []string, kw string) bool {
	for _, k := range keywords {
		if k == kw {
			return true
		}
	}
	return false
}
