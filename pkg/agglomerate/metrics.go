package agglomerate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncCells = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyfeat_sync_cells_total",
		Help: "Remote candidate cells by decision (written, left_pending, skipped).",
	}, []string{"decision"})

	syncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyfeat_sync_runs_total",
		Help: "Sync runs by outcome (completed, drift, write_failure, failed).",
	}, []string{"outcome"})
)
