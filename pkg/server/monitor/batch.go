package monitor

import (
	"sync"
	"time"
)

// MaxConsecutiveFailures is how many failed batches in a row are tolerated;
// more than that marks the monitor unhealthy.
const MaxConsecutiveFailures = 3

// BatchMonitor tracks background batch runs started by the server.
type BatchMonitor struct {
	mu                sync.RWMutex
	running           map[string]string // handle -> run id
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	completed         int
	cellsComputed     int
}

// NewBatchMonitor returns an idle monitor.
func NewBatchMonitor() *BatchMonitor {
	return &BatchMonitor{running: make(map[string]string)}
}

// TryStart marks handle busy. It returns false if a batch is already running
// against it; snapshot writes must have a single writer.
func (bm *BatchMonitor) TryStart(handle string) bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	if _, busy := bm.running[handle]; busy {
		return false
	}
	bm.running[handle] = ""
	bm.lastAttempt = time.Now()
	return true
}

// SetRunID attaches the runner's id to a started batch.
func (bm *BatchMonitor) SetRunID(handle, runID string) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	if _, ok := bm.running[handle]; ok {
		bm.running[handle] = runID
	}
}

// RecordSuccess records a batch that ran to completion.
func (bm *BatchMonitor) RecordSuccess(handle string, computed int) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	delete(bm.running, handle)
	bm.lastSuccess = time.Now()
	bm.consecutiveErrors = 0
	bm.lastError = ""
	bm.completed++
	bm.cellsComputed += computed
}

// RecordFailure records a batch that failed or was cancelled.
func (bm *BatchMonitor) RecordFailure(handle string, err error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	delete(bm.running, handle)
	bm.consecutiveErrors++
	if err != nil {
		bm.lastError = err.Error()
	}
}

// IsHealthy reports false after more than MaxConsecutiveFailures failed
// batches in a row.
func (bm *BatchMonitor) IsHealthy() bool {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.healthyLocked()
}

func (bm *BatchMonitor) healthyLocked() bool {
	return bm.consecutiveErrors <= MaxConsecutiveFailures
}

// BatchStatus is the health view of background batches.
type BatchStatus struct {
	Healthy           bool              `json:"healthy"`
	Running           map[string]string `json:"running,omitempty"`
	Completed         int               `json:"completed"`
	CellsComputed     int               `json:"cells_computed"`
	LastSuccess       string            `json:"last_success,omitempty"`
	LastAttempt       string            `json:"last_attempt,omitempty"`
	ConsecutiveErrors int               `json:"consecutive_errors,omitempty"`
	LastError         string            `json:"last_error,omitempty"`
}

// Status returns a snapshot of the monitor.
func (bm *BatchMonitor) Status() BatchStatus {
	bm.mu.RLock()
	defer bm.mu.RUnlock()

	status := BatchStatus{
		Healthy:       bm.healthyLocked(),
		Completed:     bm.completed,
		CellsComputed: bm.cellsComputed,
	}
	if len(bm.running) > 0 {
		status.Running = make(map[string]string, len(bm.running))
		for h, id := range bm.running {
			status.Running[h] = id
		}
	}
	if !bm.lastSuccess.IsZero() {
		status.LastSuccess = bm.lastSuccess.Format(time.RFC3339)
	}
	if !bm.lastAttempt.IsZero() {
		status.LastAttempt = bm.lastAttempt.Format(time.RFC3339)
	}
	if bm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = bm.consecutiveErrors
		status.LastError = bm.lastError
	}
	return status
}
