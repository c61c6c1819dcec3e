// Package ids hands out monotonic ULIDs for snapshot handles and run ids.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var generator = struct {
	sync.Mutex
	*ulid.MonotonicEntropy
}{
	MonotonicEntropy: ulid.Monotonic(rand.Reader, 0),
}

// New returns a ULID that sorts after every ULID previously returned by this
// process.
func New() ulid.ULID {
	generator.Lock()
	defer generator.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), &generator)
}

// NewString is New().String().
func NewString() string {
	return New().String()
}
