package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
)

type fakeGC struct {
	calls atomic.Int32
	err   error
}

func (f *fakeGC) RunGC(float64) error {
	f.calls.Add(1)
	return f.err
}

func TestRunBadgerGC_StopsOnSignal(t *testing.T) {
	for _, gcErr := range []error{nil, badger.ErrNoRewrite, errors.New("value log busy")} {
		gc := &fakeGC{err: gcErr}
		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go RunBadgerGC(gc, 5*time.Millisecond, 0.5, slog.New(slog.NewTextHandler(io.Discard, nil)), stop, &wg)

		deadline := time.Now().Add(2 * time.Second)
		for gc.calls.Load() < 2 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		close(stop)
		wg.Wait()

		if gc.calls.Load() < 2 {
			t.Fatalf("RunGC called %d times, want at least 2 (err %v)", gc.calls.Load(), gcErr)
		}
	}
}
