package state

import "sync/atomic"

// NetworkStats are the counters exposed to the production-health collaborator.
// Fields are atomics so the read-only accessor can run off the dispatch
// goroutine.
type NetworkStats struct {
	Sent             atomic.Uint64
	Received         atomic.Uint64
	Forwarded        atomic.Uint64
	Dropped          atomic.Uint64
	ChecksumFailures atomic.Uint64
	AckTimeouts      atomic.Uint64
	RouteDiscoveries atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of NetworkStats.
type StatsSnapshot struct {
	Sent             uint64  `yaml:"sent" json:"sent"`
	Received         uint64  `yaml:"received" json:"received"`
	Forwarded        uint64  `yaml:"forwarded" json:"forwarded"`
	Dropped          uint64  `yaml:"dropped" json:"dropped"`
	ChecksumFailures uint64  `yaml:"checksum_failures" json:"checksumFailures"`
	AckTimeouts      uint64  `yaml:"ack_timeouts" json:"ackTimeouts"`
	RouteDiscoveries uint64  `yaml:"route_discoveries" json:"routeDiscoveries"`
	Efficiency       float64 `yaml:"efficiency" json:"efficiency"`

	// topology summary, filled in by the snapshot accessor
	KnownNodes   int   `yaml:"known_nodes" json:"knownNodes"`
	Routes       int   `yaml:"routes" json:"routes"`
	Diameter     int   `yaml:"diameter" json:"diameter"`
	Partitions   int   `yaml:"partitions" json:"partitions"`
	Stratum      uint8 `yaml:"stratum" json:"stratum"`
	Synchronized bool  `yaml:"synchronized" json:"synchronized"`
}

func (s *NetworkStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Sent:             s.Sent.Load(),
		Received:         s.Received.Load(),
		Forwarded:        s.Forwarded.Load(),
		Dropped:          s.Dropped.Load(),
		ChecksumFailures: s.ChecksumFailures.Load(),
		AckTimeouts:      s.AckTimeouts.Load(),
		RouteDiscoveries: s.RouteDiscoveries.Load(),
		Efficiency:       s.Efficiency(),
	}
}

// Efficiency is the fraction of handled traffic that was not dropped.
func (s *NetworkStats) Efficiency() float64 {
	total := s.Sent.Load() + s.Received.Load() + s.Forwarded.Load()
	if total == 0 {
		return 1.0
	}
	dropped := s.Dropped.Load()
	if dropped >= total {
		return 0
	}
	return 1 - float64(dropped)/float64(total)
}
