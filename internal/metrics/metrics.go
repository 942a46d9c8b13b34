// Package metrics holds the Prometheus registry for propedge. All record
// methods are nil-safe so components can run unmetered in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all propedge Prometheus collectors
type Registry struct {
	reg *prometheus.Registry

	BuildDuration   *prometheus.HistogramVec
	BuildRows       *prometheus.CounterVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	Degradations    *prometheus.CounterVec
	DroppedProps    prometheus.Counter
	SnapshotsSaved  prometheus.Counter
	SnapshotsLoaded *prometheus.CounterVec
	BacktestRuns    *prometheus.CounterVec
	ActiveBuilds    prometheus.Gauge
}

// NewRegistry creates and registers all propedge metrics
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.BuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "propedge_build_duration_seconds",
			Help:    "Duration of feature pipeline builds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"league", "result"},
	)
	r.BuildRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propedge_build_rows_total",
			Help: "Feature rows produced by pipeline builds",
		},
		[]string{"league"},
	)
	r.CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propedge_cache_hits_total",
			Help: "Cache hits by tier",
		},
		[]string{"tier"},
	)
	r.CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propedge_cache_misses_total",
			Help: "Cache misses by tier",
		},
		[]string{"tier"},
	)
	r.Degradations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propedge_source_degradations_total",
			Help: "Data-source fetches that degraded to defaults",
		},
		[]string{"source"},
	)
	r.DroppedProps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "propedge_dropped_props_total",
			Help: "Props dropped for unresolvable player identity",
		},
	)
	r.SnapshotsSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "propedge_snapshots_saved_total",
			Help: "Feature snapshots persisted",
		},
	)
	r.SnapshotsLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propedge_snapshots_loaded_total",
			Help: "Feature snapshot loads by source",
		},
		[]string{"source"}, // cache|disk
	)
	r.BacktestRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "propedge_backtest_runs_total",
			Help: "Backtest runs by terminal state",
		},
		[]string{"state"},
	)
	r.ActiveBuilds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "propedge_active_builds",
			Help: "Feature builds currently in flight",
		},
	)

	r.reg.MustRegister(
		r.BuildDuration, r.BuildRows,
		r.CacheHits, r.CacheMisses,
		r.Degradations, r.DroppedProps,
		r.SnapshotsSaved, r.SnapshotsLoaded,
		r.BacktestRuns, r.ActiveBuilds,
	)
	return r
}

// Gatherer exposes the underlying registry for the /metrics handler
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// Nil-safe recording helpers

func (r *Registry) RecordCacheHit(tier string) {
	if r != nil {
		r.CacheHits.WithLabelValues(tier).Inc()
	}
}

func (r *Registry) RecordCacheMiss(tier string) {
	if r != nil {
		r.CacheMisses.WithLabelValues(tier).Inc()
	}
}

func (r *Registry) RecordDegradation(source string) {
	if r != nil {
		r.Degradations.WithLabelValues(source).Inc()
	}
}

func (r *Registry) RecordDroppedProp() {
	if r != nil {
		r.DroppedProps.Inc()
	}
}

func (r *Registry) RecordBuild(league string, seconds float64, ok bool, rows int) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	r.BuildDuration.WithLabelValues(league, result).Observe(seconds)
	if rows > 0 {
		r.BuildRows.WithLabelValues(league).Add(float64(rows))
	}
}

func (r *Registry) RecordSnapshotSaved() {
	if r != nil {
		r.SnapshotsSaved.Inc()
	}
}

func (r *Registry) RecordSnapshotLoaded(source string) {
	if r != nil {
		r.SnapshotsLoaded.WithLabelValues(source).Inc()
	}
}

func (r *Registry) RecordBacktestRun(state string) {
	if r != nil {
		r.BacktestRuns.WithLabelValues(state).Inc()
	}
}

func (r *Registry) BuildStarted() {
	if r != nil {
		r.ActiveBuilds.Inc()
	}
}

func (r *Registry) BuildFinished() {
	if r != nil {
		r.ActiveBuilds.Dec()
	}
}
