package metrics

import "testing"

func TestNewRegistersAllCollectors(t *testing.T) {
	m := New()
	m.CacheHits.WithLabelValues("orders").Inc()
	m.AutoSyncFlushes.Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Errorf("expected at least one registered metric family")
	}
}

func TestNewTwiceDoesNotShareRegistries(t *testing.T) {
	a := New()
	b := New()
	a.CacheHits.WithLabelValues("orders").Inc()

	famB, err := b.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range famB {
		for _, metric := range f.Metric {
			if metric.GetCounter() != nil && metric.GetCounter().GetValue() != 0 {
				t.Errorf("expected a fresh registry to start at zero, got %v", metric)
			}
		}
	}
}
