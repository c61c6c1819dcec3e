package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinyfeat/pkg/config"
	"github.com/nicktill/tinyfeat/pkg/httpx"
	"github.com/nicktill/tinyfeat/pkg/matrix"
	"github.com/nicktill/tinyfeat/pkg/runner"
	"github.com/nicktill/tinyfeat/pkg/server/monitor"
	"github.com/nicktill/tinyfeat/pkg/storage"
)

// Version is reported by /v1/health.
var Version = "0.1.0"

var startTime = time.Now()

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string              `json:"status"`
	Version string              `json:"version"`
	Uptime  string              `json:"uptime"`
	Batches monitor.BatchStatus `json:"batches"`
	Storage string              `json:"storage,omitempty"`
}

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes int64         `json:"used_bytes,omitempty"`
	MaxBytes  int64         `json:"max_bytes,omitempty"`
	Store     storage.Stats `json:"store"`
}

// ComputeResponse acknowledges a background batch.
type ComputeResponse struct {
	Handle  storage.Handle `json:"handle"`
	Which   matrix.Which   `json:"which"`
	Workers int            `json:"workers"`
	Status  string         `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK

	resp := HealthResponse{
		Version: Version,
		Uptime:  time.Since(startTime).Round(time.Second).String(),
		Batches: s.batches.Status(),
	}
	if !resp.Batches.Healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if s.disk != nil {
		over, err := s.disk.OverLimit()
		switch {
		case err != nil:
			resp.Storage = "unknown: " + err.Error()
		case over:
			resp.Storage = "over limit"
			status = "degraded"
			code = http.StatusServiceUnavailable
		default:
			resp.Storage = "ok"
		}
	}
	resp.Status = status
	httpx.RespondJSON(w, code, resp)
}

func (s *Server) handleStorageUsage(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	usage := StorageUsage{Store: *stats}
	if s.disk != nil {
		used, err := s.disk.GetUsage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		usage.UsedBytes = used
		usage.MaxBytes = s.disk.GetLimit()
	}
	httpx.RespondJSON(w, http.StatusOK, usage)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context())
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []storage.Info{}
	}
	httpx.RespondJSON(w, http.StatusOK, list)
}

func (s *Server) handleSnapshotInfo(w http.ResponseWriter, r *http.Request) {
	h, ok := parseHandle(w, r)
	if !ok {
		return
	}
	info, err := s.store.Info(r.Context(), h)
	if err != nil {
		httpx.RespondError(w, statusFor(err), err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, info)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	h, ok := parseHandle(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), config.SummaryTimeout)
	defer cancel()

	m, err := s.store.Load(ctx, h)
	if err != nil {
		httpx.RespondError(w, statusFor(err), err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, m.Summarize())
}

// handleCompute handles POST /v1/snapshots/{handle}/compute
// Query params:
//   - which: missing, error, both or all (default: runner config)
//   - workers: worker count (default: runner config)
func (s *Server) handleCompute(w http.ResponseWriter, r *http.Request) {
	h, ok := parseHandle(w, r)
	if !ok {
		return
	}

	which := s.cfg.Runner.Which
	if v := r.URL.Query().Get("which"); v != "" {
		which = v
	}
	sel, err := matrix.ParseWhich(which)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	workers := s.cfg.Runner.Workers
	if v := r.URL.Query().Get("workers"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httpx.RespondErrorString(w, http.StatusBadRequest, "workers must be a positive integer")
			return
		}
		workers = n
	}

	if _, err := s.store.Info(r.Context(), h); err != nil {
		httpx.RespondError(w, statusFor(err), err)
		return
	}
	if !s.batches.TryStart(string(h)) {
		httpx.RespondErrorString(w, http.StatusConflict, "a batch is already running for this snapshot")
		return
	}

	opts := runner.Options{
		Workers:         workers,
		Filter:          matrix.Filter{Which: sel},
		CellTimeout:     s.cfg.Runner.CellTimeout,
		MasterMemoSize:  s.cfg.Runner.MasterMemoSize,
		CheckpointEvery: s.cfg.Runner.CheckpointEvery,
	}
	s.wg.Add(1)
	go s.runBatch(s.baseCtx, h, opts)
	s.hub.Publish(Event{Type: EventBatchStarted, Handle: string(h)})

	httpx.RespondJSON(w, http.StatusAccepted, ComputeResponse{
		Handle:  h,
		Which:   sel,
		Workers: workers,
		Status:  "started",
	})
}

func parseHandle(w http.ResponseWriter, r *http.Request) (storage.Handle, bool) {
	h, err := storage.ParseHandle(mux.Vars(r)["handle"])
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return "", false
	}
	return h, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrCorruptSnapshot):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// corsMiddleware restricts cross-origin access to localhost origins.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := []string{
		"http://localhost:" + port,
		"http://127.0.0.1:" + port,
		"http://localhost:3000",
		"http://127.0.0.1:3000",
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					break
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
