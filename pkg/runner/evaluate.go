package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/nicktill/tinyfeat/pkg/matrix"
	"github.com/nicktill/tinyfeat/pkg/registry"
)

// ErrTimeout marks an evaluation that outlived Options.CellTimeout.
var ErrTimeout = errors.New("runner: operation timed out")

// PanicError carries a panic recovered from an operation.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", e.Value)
}

// outcome is one master evaluation. Sibling columns share it via the memo.
type outcome struct {
	result  registry.Result
	err     error
	elapsed time.Duration
}

// evaluate calls entry on data. With a timeout the call runs on its own
// goroutine; an expired call is abandoned, and keeps running until the
// operation notices its context is done.
func evaluate(ctx context.Context, entry registry.Entry, data []float64, timeout time.Duration) outcome {
	start := time.Now()
	if timeout <= 0 {
		res, err := safeCall(ctx, entry, data)
		return outcome{result: res, err: err, elapsed: time.Since(start)}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		res, err := safeCall(ctx, entry, data)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		out.elapsed = time.Since(start)
		if errors.Is(out.err, context.DeadlineExceeded) {
			out.err = fmt.Errorf("%w after %v: %v", ErrTimeout, timeout, out.err)
		}
		return out
	case <-ctx.Done():
		return outcome{err: fmt.Errorf("%w after %v", ErrTimeout, timeout), elapsed: time.Since(start)}
	}
}

func safeCall(ctx context.Context, entry registry.Entry, data []float64) (res registry.Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return entry.Call(ctx, data)
}

// classify turns an evaluation into the cell for one output column.
// The returned error explains Error cells.
func classify(out outcome, op matrix.Operation) (matrix.Cell, error) {
	secs := out.elapsed.Seconds()

	switch {
	case out.err == nil:
	case errors.Is(out.err, registry.ErrPrecondition):
		return matrix.ErrorCell(matrix.ReasonPrecondition, math.NaN(), secs), out.err
	case errors.Is(out.err, ErrTimeout):
		return matrix.ErrorCell(matrix.ReasonTimeout, math.NaN(), secs), out.err
	default:
		// Fatal failures leave calc time undefined.
		return matrix.ErrorCell(matrix.ReasonUnexpected, math.NaN(), math.NaN()), out.err
	}

	v, err := out.result.Output(op.Output)
	if err != nil {
		return matrix.ErrorCell(matrix.ReasonUnexpected, math.NaN(), math.NaN()), err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return matrix.ErrorCell(matrix.ReasonSpecialValue, v, secs), fmt.Errorf("non-finite output %v", v)
	}
	return matrix.GoodCell(v, secs), nil
}
