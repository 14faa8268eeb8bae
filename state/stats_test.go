package state

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStatsSnapshot(t *testing.T) {
	var ns NetworkStats
	ns.Sent.Add(10)
	ns.Received.Add(5)
	ns.Forwarded.Add(5)
	ns.Dropped.Add(2)
	ns.ChecksumFailures.Add(1)
	ns.AckTimeouts.Add(1)
	ns.RouteDiscoveries.Add(3)

	want := StatsSnapshot{
		Sent: 10, Received: 5, Forwarded: 5, Dropped: 2,
		ChecksumFailures: 1, AckTimeouts: 1, RouteDiscoveries: 3,
		Efficiency: 0.9,
	}
	if diff := cmp.Diff(want, ns.Snapshot()); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestEfficiency(t *testing.T) {
	var ns NetworkStats
	if got := ns.Efficiency(); got != 1.0 {
		t.Errorf("Expected idle efficiency 1.0, got %v", got)
	}
	ns.Sent.Add(4)
	ns.Dropped.Add(1)
	if got := ns.Efficiency(); got != 0.75 {
		t.Errorf("Expected efficiency 0.75, got %v", got)
	}
	ns.Dropped.Add(10)
	if got := ns.Efficiency(); got != 0 {
		t.Errorf("Expected floor at 0, got %v", got)
	}
}
