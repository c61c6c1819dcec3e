// Package server exposes snapshot status over HTTP: health, snapshot
// listings and summaries, export/import, background batches with a
// WebSocket progress stream, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/tinyfeat/pkg/config"
	"github.com/nicktill/tinyfeat/pkg/export"
	"github.com/nicktill/tinyfeat/pkg/httpx"
	"github.com/nicktill/tinyfeat/pkg/runner"
	"github.com/nicktill/tinyfeat/pkg/server/monitor"
	"github.com/nicktill/tinyfeat/pkg/storage"
)

// StatsInterval is how often store statistics are pushed to WebSocket clients.
const StatsInterval = 5 * time.Second

// Server wires the HTTP surface to a snapshot store.
type Server struct {
	store   storage.Store
	reg     runner.Registry
	cfg     *config.Config
	log     *slog.Logger
	hub     *ProgressHub
	batches *monitor.BatchMonitor
	disk    *monitor.StorageMonitor // nil for in-memory stores
	router  *mux.Router

	// baseCtx outlives requests; background batches run under it and are
	// cancelled cooperatively on shutdown.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a server. Nothing runs until Run is called; Handler can be used
// on its own in tests.
func New(store storage.Store, reg runner.Registry, cfg *config.Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		store:   store,
		reg:     reg,
		cfg:     cfg,
		log:     log,
		hub:     NewProgressHub(log),
		batches: monitor.NewBatchMonitor(),
		baseCtx: ctx,
		cancel:  cancel,
	}
	if !cfg.Store.InMemory {
		s.disk = monitor.NewStorageMonitor(cfg.Store.Path, cfg.Server.MaxStorageGB<<30, config.StorageUsageCache)
	}
	s.router = s.routes()
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(httpx.Metrics, corsMiddleware(portOf(s.cfg.Server.ListenAddr)))

	exports := export.NewHandler(s.store)

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/storage", s.handleStorageUsage).Methods("GET")
	api.HandleFunc("/snapshots", s.handleListSnapshots).Methods("GET")
	api.HandleFunc("/snapshots/{handle}", s.handleSnapshotInfo).Methods("GET")
	api.HandleFunc("/snapshots/{handle}/summary", s.handleSummary).Methods("GET")
	api.HandleFunc("/snapshots/{handle}/compute", s.handleCompute).Methods("POST")
	api.HandleFunc("/snapshots/{handle}/export", exports.HandleExport).Methods("GET")
	api.HandleFunc("/import", exports.HandleImport).Methods("POST")
	api.HandleFunc("/ws", s.hub.HandleWebSocket).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return router
}

// Run serves until ctx is cancelled, then shuts down: background batches are
// cancelled (they checkpoint what they finished), the hub closes its
// clients and the HTTP server drains.
func (s *Server) Run(ctx context.Context) error {
	var bg sync.WaitGroup

	bg.Add(1)
	go func() {
		defer bg.Done()
		s.hub.Run(s.baseCtx)
	}()

	bg.Add(1)
	go func() {
		defer bg.Done()
		BroadcastStats(s.baseCtx, s.store, s.hub, StatsInterval, s.log)
	}()

	stopGC := make(chan struct{})
	if gc, ok := s.store.(GarbageCollector); ok && !s.cfg.Store.InMemory {
		bg.Add(1)
		go RunBadgerGC(gc, config.BadgerGCInterval, config.BadgerGCDiscard, s.log, stopGC, &bg)
	}

	srv := &http.Server{
		Addr:         s.cfg.Server.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("status server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.log.Info("shutdown signal received")
	case serveErr = <-errc:
		s.log.Error("server failed", slog.Any("error", serveErr))
	}

	// Cancel first so background loops stop before we wait on them.
	s.cancel()
	close(stopGC)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("server shutdown warning", slog.Any("error", err))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("background tasks stopped cleanly")
	case <-shutdownCtx.Done():
		s.log.Warn("some background tasks did not stop in time")
	}

	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	return nil
}

// Wait blocks until background batches started through the API finish.
func (s *Server) Wait() { s.wg.Wait() }

// Close cancels background batches and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func portOf(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return "8080"
	}
	return port
}
