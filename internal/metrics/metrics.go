package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Check-in path.
var (
	CheckinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_checkins_total",
		Help: "Check-in attempts by result.",
	}, []string{"result"})
)

// Sweep path.
var (
	SweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sweep_runs_total",
		Help: "Completed sweeper passes.",
	})
	SweepSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sweep_skipped_ticks_total",
		Help: "Sweeper ticks skipped because the previous pass was still running.",
	})
	SweepWindowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sweep_windows_total",
		Help: "Expired windows reconciled and closed.",
	})
	SweepAbsencesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sweep_absences_total",
		Help: "Absence records inserted by the sweeper.",
	})
	SweepFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sweep_failures_total",
		Help: "Per-window reconciliation failures (retried next tick).",
	})
	SweepBatchFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sweep_batch_fallbacks_total",
		Help: "Batch inserts degraded to per-record insertion.",
	})
)
