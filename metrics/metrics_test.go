package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hengestone/chirp/metrics"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	m := metrics.New("chirp_test")
	reg := prometheus.NewRegistry()

	for _, c := range m.Collect() {
		if err := reg.Register(c); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	m.MessagesSent.Inc()
	m.ConnectionsOpen.Set(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 8 {
		t.Fatalf("expected 8 metric families, got %d", len(families))
	}
}
