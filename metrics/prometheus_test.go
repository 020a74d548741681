package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sharedcode/rop"
)

func Test_Recorder_CountsFlushes(t *testing.T) {
	r, err := NewRecorder(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	r.RecordFlush(rop.FlushStats{Inserts: 3, Updates: 1, Deletes: 2, Duration: 5 * time.Millisecond})
	r.RecordFlush(rop.FlushStats{Inserts: 1, Duration: time.Millisecond})

	if got := testutil.ToFloat64(r.flushes); got != 2 {
		t.Errorf("flushes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.writes.WithLabelValues("insert")); got != 4 {
		t.Errorf("insert writes = %v, want 4", got)
	}
	if got := testutil.ToFloat64(r.writes.WithLabelValues("update")); got != 1 {
		t.Errorf("update writes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.writes.WithLabelValues("delete")); got != 2 {
		t.Errorf("delete writes = %v, want 2", got)
	}
}

func Test_Recorder_CountsUnitOutcomes(t *testing.T) {
	r, err := NewRecorder(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	r.RecordUnitCommit()
	r.RecordUnitCommit()
	r.RecordUnitRollback()

	if got := testutil.ToFloat64(r.units.WithLabelValues("commit")); got != 2 {
		t.Errorf("commits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.units.WithLabelValues("rollback")); got != 1 {
		t.Errorf("rollbacks = %v, want 1", got)
	}
}

func Test_Recorder_DoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewRecorder(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewRecorder(reg); err == nil {
		t.Error("second registration on the same registry should fail")
	}
}
