package core

import (
	"testing"
	"time"

	"github.com/bramblemesh/bramble/mock"
	"github.com/bramblemesh/bramble/protocol"
	"github.com/bramblemesh/bramble/state"
	"github.com/stretchr/testify/assert"
)

func beaconFrom(src state.NodeId, hopCount uint8, neighbors ...uint32) (protocol.Header, protocol.Beacon) {
	h := protocol.Header{
		Type:      protocol.TypeDiscovery,
		Source:    uint32(src),
		Dest:      uint32(state.Broadcast),
		HopCount:  hopCount,
		MaxHops:   state.MaxHops,
		Timestamp: time.Now().UnixMilli(),
	}
	b := protocol.Beacon{Name: "peer", Battery: 0.9, Neighbors: neighbors}
	return h, b
}

func TestHandleBeaconDiscoversNode(t *testing.T) {
	s, _, rec := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	d := Get[*Discovery](s)
	now := time.Now()

	h, b := beaconFrom(2, 0)
	d.HandleBeacon(s, h, b, 0.8, now)

	if assert.Contains(t, d.Nodes, state.NodeId(2)) {
		assert.Equal(t, 0.8, d.Nodes[2].SignalQuality)
		assert.Equal(t, now, d.Nodes[2].LastSeen)
	}
	assert.Equal(t, []state.Pair[state.NodeId, bool]{{V1: 2, V2: true}}, rec.nodeEvents)

	// direct beacon installs a one-hop route and a link measurement
	r := Get[*Router](s)
	if assert.Contains(t, r.Routes, state.NodeId(2)) {
		assert.Equal(t, state.NodeId(2), r.Routes[2].NextHop)
		assert.Equal(t, uint8(1), r.Routes[2].HopCount)
	}
	assert.Contains(t, r.Links, state.MakeLinkKey(1, 2))

	// a repeat beacon fires no second join event
	d.HandleBeacon(s, h, b, 0.8, now.Add(time.Second))
	assert.Len(t, rec.nodeEvents, 1)
}

func TestAdvertisedNeighborsExtendTheGraph(t *testing.T) {
	s, _, _ := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	d := Get[*Discovery](s)
	now := time.Now()

	// B is adjacent to us and advertises C; we have never heard C directly
	h, b := beaconFrom(2, 0, 3)
	d.HandleBeacon(s, h, b, 0.9, now)

	assert.Equal(t, 1, d.HopCountTo(s, 2))
	assert.Equal(t, 2, d.HopCountTo(s, 3))
	assert.Equal(t, -1, d.HopCountTo(s, 9))
	assert.Equal(t, 2, d.NetworkDiameter(s))
}

func TestAdvertisedNeighborsFeedTheLinkTable(t *testing.T) {
	s, _, _ := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	d := Get[*Discovery](s)
	r := Get[*Router](s)
	now := time.Now()

	// B is adjacent and advertises C; the B-C edge must land in the link
	// table or shortest-path recomputation stops at our direct neighbours
	h, b := beaconFrom(2, 0, 3)
	b.SignalQuality = 0.8
	d.HandleBeacon(s, h, b, 0.9, now)

	assert.Contains(t, r.Links, state.MakeLinkKey(2, 3))

	r.PerformDijkstra(s, now)
	if assert.Contains(t, r.Routes, state.NodeId(3)) {
		assert.Equal(t, state.NodeId(2), r.Routes[3].NextHop)
		assert.Equal(t, uint8(2), r.Routes[3].HopCount)
	}

	// once C is also heard directly, the advertised edge exposes a detour
	h3, b3 := beaconFrom(3, 0, 2)
	b3.SignalQuality = 0.8
	d.HandleBeacon(s, h3, b3, 0.7, now)
	alts := r.FindAlternativeRoutes(2, 2, now)
	if assert.NotEmpty(t, alts) {
		assert.Equal(t, state.NodeId(3), alts[0].NextHop)
	}
}

func TestIndirectBeaconDoesNotCreateAdjacency(t *testing.T) {
	s, _, _ := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	d := Get[*Discovery](s)
	now := time.Now()

	h, b := beaconFrom(4, 2) // relayed twice, not a neighbour
	d.HandleBeacon(s, h, b, 0.5, now)

	assert.Contains(t, d.Nodes, state.NodeId(4))
	assert.Equal(t, -1, d.HopCountTo(s, 4))
	assert.NotContains(t, Get[*Router](s).Routes, state.NodeId(4))
}

func TestRemoveStaleNodes(t *testing.T) {
	s, _, rec := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	d := Get[*Discovery](s)
	r := Get[*Router](s)
	now := time.Now()

	h2, b2 := beaconFrom(2, 0)
	d.HandleBeacon(s, h2, b2, 0.9, now.Add(-state.NodeStaleTimeout-time.Minute))
	h3, b3 := beaconFrom(3, 0)
	d.HandleBeacon(s, h3, b3, 0.9, now)

	d.RemoveStaleNodes(s, now)

	assert.NotContains(t, d.Nodes, state.NodeId(2))
	assert.Contains(t, d.Nodes, state.NodeId(3))
	assert.NotContains(t, r.Routes, state.NodeId(2), "routes through the lost node are purged")
	assert.Contains(t, rec.nodeEvents, state.Pair[state.NodeId, bool]{V1: 2, V2: false})
}

func TestPartitionFiresExactlyOnce(t *testing.T) {
	s, _, rec := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	d := Get[*Discovery](s)

	// two islands: {1,2} and {3,4}
	d.addAdjacency(1, 2)
	d.addAdjacency(3, 4)

	d.checkPartition(s)
	d.checkPartition(s)
	assert.Equal(t, []int{2}, rec.partitions, "repeated checks do not refire")

	// healing re-arms detection
	d.addAdjacency(2, 3)
	d.checkPartition(s)
	assert.Equal(t, []int{2}, rec.partitions)

	delete(d.Adjacency[2], 3)
	delete(d.Adjacency[3], 2)
	d.checkPartition(s)
	assert.Equal(t, []int{2, 2}, rec.partitions, "a fresh split fires again")
}

func TestUpdateTopologyIsRateLimited(t *testing.T) {
	s, _, _ := newTestNode(t, 1, mock.NewNetwork(1), state.MeshCfg{})
	d := Get[*Discovery](s)
	now := time.Now()

	h, b := beaconFrom(2, 0)
	d.HandleBeacon(s, h, b, 0.9, now)
	d.UpdateTopology(s, now)
	first := d.Topology.LastComputed

	h3, b3 := beaconFrom(3, 0)
	d.HandleBeacon(s, h3, b3, 0.9, now)
	d.UpdateTopology(s, now.Add(time.Second))
	assert.Equal(t, first, d.Topology.LastComputed, "recompute suppressed inside the rate limit")

	d.UpdateTopology(s, now.Add(state.TopologyRateLimit+time.Second))
	assert.Equal(t, 2, d.Topology.Reachable)
	assert.Equal(t, 1, d.Topology.Partitions)
}
