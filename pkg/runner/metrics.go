package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cellsComputed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyfeat_runner_cells_total",
		Help: "Cells computed by the batch runner, by resulting quality and error reason.",
	}, []string{"quality", "reason"})

	cellDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tinyfeat_runner_cell_duration_seconds",
		Help:    "Wall time spent computing one cell, memo hits excluded.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 12),
	})

	memoHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tinyfeat_runner_master_memo_hits_total",
		Help: "Cells served from an already computed master operation output.",
	})

	batchesRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tinyfeat_runner_batches_total",
		Help: "Batches run, by outcome (completed, cancelled).",
	}, []string{"outcome"})
)
