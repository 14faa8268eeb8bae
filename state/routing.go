package state

import (
	"time"
)

// RouteEntry is a single next-hop decision for a destination. Cost only ever
// decreases or holds on update; a worse path replaces an entry solely by the
// entry going stale first.
type RouteEntry struct {
	Destination NodeId
	NextHop     NodeId
	HopCount    uint8
	Reliability float64 // 0..1
	Cost        float64
	LastUpdated time.Time
	LastUsed    time.Time
}

// RouteCost combines hop count and reliability into the ranking scalar.
func RouteCost(hopCount uint8, reliability float64) float64 {
	return float64(hopCount) + (1-reliability)*ReliabilityPenalty
}

func (r *RouteEntry) Stale(now time.Time) bool {
	ref := r.LastUpdated
	if r.LastUsed.After(ref) {
		ref = r.LastUsed
	}
	return now.Sub(ref) > RouteStaleTimeout
}

// LinkCost converts a measured link into a Dijkstra edge weight.
func LinkCost(quality float64, latency time.Duration) float64 {
	if quality <= 0 {
		return 1e9
	}
	return 1/quality + float64(latency.Milliseconds())/1000.0
}
