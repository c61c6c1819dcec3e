package runner

import (
	"strconv"

	"github.com/maypok86/otter/v2"
	"golang.org/x/sync/singleflight"
)

// memo caches master outputs per (time series, master) for one batch, so a
// master fanning out to many columns runs once per series. Concurrent
// requests for the same key share one evaluation.
type memo struct {
	cache *otter.Cache[memoKey, outcome]
	group singleflight.Group
}

type memoKey struct {
	rowID  int64
	master string
}

func (k memoKey) String() string {
	return strconv.FormatInt(k.rowID, 10) + "/" + k.master
}

// newMemo returns nil for size <= 0; a nil memo evaluates every call.
func newMemo(size int) *memo {
	if size <= 0 {
		return nil
	}
	return &memo{cache: otter.Must(&otter.Options[memoKey, outcome]{MaximumSize: size})}
}

// do returns the cached outcome for (rowID, master) or evaluates fn.
// hit reports whether fn was skipped.
func (m *memo) do(rowID int64, master string, fn func() outcome) (out outcome, hit bool) {
	if m == nil {
		return fn(), false
	}
	key := memoKey{rowID: rowID, master: master}
	if out, ok := m.cache.GetIfPresent(key); ok {
		return out, true
	}

	ran := false
	v, _, _ := m.group.Do(key.String(), func() (any, error) {
		if out, ok := m.cache.GetIfPresent(key); ok {
			return out, nil
		}
		ran = true
		out := fn()
		m.cache.Set(key, out)
		return out, nil
	})
	return v.(outcome), !ran
}
