package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.IncCounter(CommandsTotal, map[string]string{"type": "list", "result": "ok"})
	rec.IncCounter(CommandsTotal, map[string]string{"type": "list", "result": "ok"})
	rec.IncCounter(CommandsTotal, map[string]string{"type": "purchase", "result": "ListingNotFound"})
	rec.ObserveLatency(CommandLatency, 3*time.Millisecond, map[string]string{"type": "list"})
	rec.SetGauge(LiveListings, 4)

	if got := testutil.ToFloat64(rec.counters.With(prometheus.Labels{"name": CommandsTotal, "type": "list", "result": "ok"})); got != 2 {
		t.Errorf("list ok counter = %v; want 2", got)
	}
	if got := testutil.ToFloat64(rec.gauges.With(prometheus.Labels{"name": LiveListings})); got != 4 {
		t.Errorf("live listings gauge = %v; want 4", got)
	}
	if n := testutil.CollectAndCount(rec.histogram); n != 1 {
		t.Errorf("histogram series = %d; want 1", n)
	}
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncCounter(CommandsTotal, nil)
	r.ObserveLatency(CommandLatency, time.Second, nil)
	r.SetGauge(LastSeq, 1)
}
