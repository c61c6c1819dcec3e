package matrix

import "errors"

// Sentinel errors for the matrix package. Callers match with errors.Is;
// functions wrap them with fmt.Errorf("...: %w", ErrX) when context helps.
var (
	// ErrCorrupt marks a structural invariant violation: the cell table is not
	// rectangular or an index pair points outside the row/column sets.
	ErrCorrupt = errors.New("matrix: structure is not rectangular")

	// ErrDuplicateID is returned when two rows (or two columns) share an id.
	ErrDuplicateID = errors.New("matrix: duplicate id")

	// ErrInvalidID is returned for ids <= 0.
	ErrInvalidID = errors.New("matrix: id must be positive")

	// ErrLengthMismatch is returned when a time series' Length disagrees with its data.
	ErrLengthMismatch = errors.New("matrix: time series length does not match data")

	// ErrUnknownRow is returned when a row id is not part of the matrix.
	ErrUnknownRow = errors.New("matrix: unknown row id")

	// ErrUnknownColumn is returned when a column id is not part of the matrix.
	ErrUnknownColumn = errors.New("matrix: unknown column id")

	// ErrInconsistentCell is returned when a cell's value and quality disagree,
	// e.g. a Good cell carrying a non-finite value.
	ErrInconsistentCell = errors.New("matrix: cell value and quality disagree")
)
