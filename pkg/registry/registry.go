// Package registry maps master operation names to the callables that compute
// them. One master may emit several named outputs, each backing its own
// matrix column.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownOperation is returned by Lookup for unregistered names.
	ErrUnknownOperation = errors.New("registry: unknown operation")

	// ErrPrecondition marks a recognised "could not compute" outcome.
	ErrPrecondition = errors.New("registry: precondition not met")

	// ErrUnknownOutput is returned when a result lacks the requested output.
	ErrUnknownOutput = errors.New("registry: output not produced")

	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("registry: operation already registered")
)

// PreconditionError explains why an operation declined to compute.
// It matches ErrPrecondition with errors.Is.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: precondition not met: %s", e.Op, e.Reason)
}

func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }

// Precondition builds a *PreconditionError.
func Precondition(op, format string, args ...any) error {
	return &PreconditionError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// Params is the fixed parameter set an operation column was registered with.
type Params map[string]float64

// Get returns p[key] or def when absent.
func (p Params) Get(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Result is either a single scalar or a named set of scalars.
type Result struct {
	Scalar  float64
	Outputs map[string]float64
}

// Scalar wraps a single value.
func Scalar(v float64) Result { return Result{Scalar: v} }

// Outputs wraps a fan-out result.
func Outputs(m map[string]float64) Result { return Result{Outputs: m} }

// IsScalar reports whether r carries a single value.
func (r Result) IsScalar() bool { return r.Outputs == nil }

// Output picks one value out of r. An empty name selects the scalar.
func (r Result) Output(name string) (float64, error) {
	if name == "" {
		if !r.IsScalar() {
			return 0, fmt.Errorf("%w: fan-out result needs an output name", ErrUnknownOutput)
		}
		return r.Scalar, nil
	}
	if r.IsScalar() {
		return 0, fmt.Errorf("%w: %q from scalar result", ErrUnknownOutput, name)
	}
	v, ok := r.Outputs[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownOutput, name)
	}
	return v, nil
}

// Func computes features of data. It must not retain or modify data.
// Long-running implementations should watch ctx.
type Func func(ctx context.Context, data []float64, params Params) (Result, error)

// Entry is one registered master operation.
type Entry struct {
	Name     string
	Params   Params
	Keywords []string
	Func     Func
}

// Call invokes the entry with its registered parameters.
func (e Entry) Call(ctx context.Context, data []float64) (Result, error) {
	return e.Func(ctx, data, e.Params)
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds an entry. Names must be unique and non-empty.
func (r *Registry) Register(e Entry) error {
	if e.Name == "" {
		return errors.New("registry: empty operation name")
	}
	if e.Func == nil {
		return fmt.Errorf("registry: %s has no function", e.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, e.Name)
	}
	r.entries[e.Name] = e
	return nil
}

// MustRegister panics if Register fails. Meant for package init catalogs.
func (r *Registry) MustRegister(e Entry) {
	if err := r.Register(e); err != nil {
		panic(err)
	}
}

// Lookup resolves a master name.
func (r *Registry) Lookup(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
	}
	return e, nil
}

// Names lists registered masters in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered masters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
