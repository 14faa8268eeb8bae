package perf

import "testing"

func TestCountersAccumulate(t *testing.T) {
	counters := map[string]interface {
		Add(float64)
		String() string
	}{
		"sent":    SendsPerSecond,
		"recv":    RecvsPerSecond,
		"fwd":     FwdsPerSecond,
		"drop":    DropsPerSecond,
		"backoff": BackoffPerSecond,
	}
	for name, c := range counters {
		c.Add(1)
		if c.String() == "" {
			t.Errorf("counter %s renders empty", name)
		}
	}
}
