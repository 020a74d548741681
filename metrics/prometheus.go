// Package metrics exports engine activity to Prometheus. Wire a Recorder
// into an entity manager with SetMetricsRecorder and register it on your
// registry; the engine stays unaware of the metrics backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sharedcode/rop"
)

// Recorder implements rop.MetricsRecorder on Prometheus collectors.
type Recorder struct {
	flushes       prometheus.Counter
	flushDuration prometheus.Histogram
	writes        *prometheus.CounterVec
	units         *prometheus.CounterVec
}

var _ rop.MetricsRecorder = (*Recorder)(nil)

// NewRecorder builds the collectors and registers them on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rop",
			Name:      "flushes_total",
			Help:      "Number of flushes that wrote at least one statement.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rop",
			Name:      "flush_duration_seconds",
			Help:      "Wall time per flush.",
			Buckets:   prometheus.DefBuckets,
		}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rop",
			Name:      "entity_writes_total",
			Help:      "Entities written by flushes, partitioned by operation.",
		}, []string{"op"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rop",
			Name:      "units_total",
			Help:      "Units of work closed, partitioned by outcome.",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{r.flushes, r.flushDuration, r.writes, r.units} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// RecordFlush counts the flush and its per operation entity writes.
func (r *Recorder) RecordFlush(stats rop.FlushStats) {
	r.flushes.Inc()
	r.flushDuration.Observe(stats.Duration.Seconds())
	r.writes.WithLabelValues("insert").Add(float64(stats.Inserts))
	r.writes.WithLabelValues("update").Add(float64(stats.Updates))
	r.writes.WithLabelValues("delete").Add(float64(stats.Deletes))
}

// RecordUnitCommit counts a committed unit of work.
func (r *Recorder) RecordUnitCommit() {
	r.units.WithLabelValues("commit").Inc()
}

// RecordUnitRollback counts a rolled back unit of work.
func (r *Recorder) RecordUnitRollback() {
	r.units.WithLabelValues("rollback").Inc()
}
