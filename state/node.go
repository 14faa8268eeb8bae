package state

import (
	"time"
)

// NodeId identifies a node on the mesh. Zero is the broadcast address and is
// never assigned to a node.
type NodeId uint32

const Broadcast NodeId = 0

// Capability flags advertised in discovery beacons.
type Capability uint16

const (
	CapBasic Capability = 1 << iota
	CapCamera
	CapInference
	CapSensors
	CapGateway
	CapHighPower
	CapTimeSource
)

func (c Capability) Has(flag Capability) bool {
	return c&flag != 0
}

// NodeInfo is everything we know about another node, built from its beacons
// and heartbeats.
type NodeInfo struct {
	Id              NodeId
	Name            string
	Capabilities    Capability
	BatteryLevel    float64 // 0..1
	Stratum         uint8
	FirmwareVersion string
	SignalQuality   float64 // 0..1, measured on last reception
	SignalStrength  float64 // dBm estimate
	LastSeen        time.Time
	FirstSeen       time.Time
}

// LinkKey is an unordered node pair.
type LinkKey struct {
	A, B NodeId
}

// MakeLinkKey normalizes the pair so (a,b) and (b,a) collide.
func MakeLinkKey(a, b NodeId) LinkKey {
	if a > b {
		a, b = b, a
	}
	return LinkKey{A: a, B: b}
}

// Link is a symmetric radio link between two nodes. Quality decays toward
// zero when the link goes unmeasured beyond the decay window.
type Link struct {
	Key          LinkKey
	Quality      float64 // 0..1
	Latency      time.Duration
	LastMeasured time.Time
}

// DecayedQuality returns the link quality discounted for measurement age.
func (l *Link) DecayedQuality(now time.Time) float64 {
	age := now.Sub(l.LastMeasured)
	if age <= 0 {
		return l.Quality
	}
	if age >= LinkDecayWindow {
		return 0
	}
	return l.Quality * (1 - float64(age)/float64(LinkDecayWindow))
}

// Topology is a cached view over the node table and link set, recomputed
// periodically by the discovery manager.
type Topology struct {
	Adjacency    map[NodeId][]NodeId
	Diameter     int
	AvgDegree    float64
	Reachable    int
	Partitions   int
	LastComputed time.Time
}

// EstimateReliability blends signal quality and observed loss into the 0..1
// reliability used for direct-neighbour routes.
func EstimateReliability(signalQuality, packetLoss float64) float64 {
	r := signalQuality*0.6 + (1-packetLoss)*0.4
	return min(1, max(0, r))
}
