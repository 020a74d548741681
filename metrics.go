package rop

// MetricsRecorder receives engine events for observability backends. The
// metrics package carries a Prometheus implementation; NoopMetrics is the
// default when none is configured.
type MetricsRecorder interface {
	// RecordFlush is invoked after every successful flush.
	RecordFlush(stats FlushStats)
	// RecordUnitCommit is invoked when a unit of work commits.
	RecordUnitCommit()
	// RecordUnitRollback is invoked when a unit of work rolls back.
	RecordUnitRollback()
}

// NoopMetrics discards all events.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordFlush(FlushStats) {}
func (NoopMetrics) RecordUnitCommit()      {}
func (NoopMetrics) RecordUnitRollback()    {}
