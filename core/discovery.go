package core

import (
	"time"

	"github.com/bramblemesh/bramble/protocol"
	"github.com/bramblemesh/bramble/state"
)

// Discovery maintains the node table and the adjacency view of the network,
// and detects stale nodes and partitions.
type Discovery struct {
	Nodes     map[state.NodeId]*state.NodeInfo
	Adjacency map[state.NodeId]map[state.NodeId]bool

	Topology    state.Topology
	partitioned bool
}

func (d *Discovery) Init(s *state.State) error {
	s.Log.Debug("init discovery")
	d.Nodes = make(map[state.NodeId]*state.NodeInfo)
	d.Adjacency = make(map[state.NodeId]map[state.NodeId]bool)
	d.Topology.Adjacency = make(map[state.NodeId][]state.NodeId)
	return nil
}

func (d *Discovery) Cleanup(s *state.State) error {
	return nil
}

// MakeBeacon builds this node's discovery beacon payload.
func (d *Discovery) MakeBeacon(s *state.State, battery float64) protocol.Beacon {
	neighbors := make([]uint32, 0)
	for n := range d.Adjacency[s.NodeCfg.Id] {
		neighbors = append(neighbors, uint32(n))
	}
	tk := Get[*TimeKeeper](s)
	r := Get[*Router](s)
	return protocol.Beacon{
		Name:          s.NodeCfg.Name,
		Capabilities:  uint16(s.NodeCfg.Capabilities),
		Battery:       battery,
		Firmware:      s.NodeCfg.Firmware,
		Stratum:       tk.Stratum(s),
		Neighbors:     neighbors,
		SignalQuality: r.meanLinkQuality(s.NodeCfg.Id, time.Now()),
	}
}

func (d *Discovery) addAdjacency(a, b state.NodeId) {
	if a == b {
		return
	}
	if d.Adjacency[a] == nil {
		d.Adjacency[a] = make(map[state.NodeId]bool)
	}
	if d.Adjacency[b] == nil {
		d.Adjacency[b] = make(map[state.NodeId]bool)
	}
	d.Adjacency[a][b] = true
	d.Adjacency[b][a] = true
}

func (d *Discovery) removeNode(node state.NodeId) {
	delete(d.Adjacency, node)
	for _, peers := range d.Adjacency {
		delete(peers, node)
	}
	delete(d.Nodes, node)
}

// HandleBeacon folds a received beacon into the node table. Beacons that
// arrived directly (hop count 0 or 1) also update the adjacency graph and the
// link table.
func (d *Discovery) HandleBeacon(s *state.State, h protocol.Header, b protocol.Beacon, signal float64, now time.Time) {
	src := state.NodeId(h.Source)
	if s.Self(src) {
		return
	}
	info, known := d.Nodes[src]
	if !known {
		info = &state.NodeInfo{Id: src, FirstSeen: now}
		d.Nodes[src] = info
		s.Log.Info("node discovered", "node", src, "name", b.Name)
		s.Listeners.NodeEvent(src, true)
	}
	info.Name = b.Name
	info.Capabilities = state.Capability(b.Capabilities)
	info.BatteryLevel = b.Battery
	info.FirmwareVersion = b.Firmware
	info.Stratum = b.Stratum
	info.SignalQuality = signal
	info.LastSeen = now

	r := Get[*Router](s)
	direct := h.HopCount <= 1
	if direct {
		d.addAdjacency(s.NodeCfg.Id, src)
		r.ObserveLink(s.NodeCfg.Id, src, signal, estimateLatency(h, now), now)
		// a direct neighbour gets a one-hop route for free
		r.AddRoute(s, src, src, 1, state.EstimateReliability(signal, 0), now)
	}
	// fold the advertised neighbourhood into the wider graph and the link
	// table so shortest-path recomputation can reach past direct neighbours
	quality := b.SignalQuality
	if quality <= 0 || quality > 1 {
		quality = state.AdvertisedLinkQuality
	}
	for _, n := range b.Neighbors {
		id := state.NodeId(n)
		d.addAdjacency(src, id)
		// our side of a shared link is already measured, never overwrite it
		if !s.Self(id) {
			r.ObserveLink(src, id, quality, state.NominalHopLatency, now)
		}
	}
}

// HandleHeartbeat refreshes liveness without touching topology.
func (d *Discovery) HandleHeartbeat(s *state.State, h protocol.Header, hb protocol.Heartbeat, signal float64, now time.Time) {
	src := state.NodeId(h.Source)
	if s.Self(src) {
		return
	}
	info, known := d.Nodes[src]
	if !known {
		// a heartbeat from a stranger still counts as discovery
		info = &state.NodeInfo{Id: src, FirstSeen: now}
		d.Nodes[src] = info
		s.Listeners.NodeEvent(src, true)
	}
	info.BatteryLevel = hb.Battery
	info.Stratum = hb.Stratum
	info.SignalQuality = signal
	info.LastSeen = now
	if h.HopCount <= 1 {
		d.addAdjacency(s.NodeCfg.Id, src)
		Get[*Router](s).ObserveLink(s.NodeCfg.Id, src, signal, estimateLatency(h, now), now)
	}
}

// RemoveStaleNodes purges nodes whose last contact exceeds the staleness
// timeout, fires node-lost events, and re-checks for partitions.
func (d *Discovery) RemoveStaleNodes(s *state.State, now time.Time) {
	r := Get[*Router](s)
	removed := false
	for id, info := range d.Nodes {
		if now.Sub(info.LastSeen) <= state.NodeStaleTimeout {
			continue
		}
		s.Log.Info("node lost", "node", id, "lastSeen", info.LastSeen)
		d.removeNode(id)
		r.RemoveByNextHop(s, id)
		s.Listeners.NodeEvent(id, false)
		removed = true
	}
	if removed {
		d.checkPartition(s)
	}
}

// bfs returns hop distances from start over the adjacency graph.
func (d *Discovery) bfs(start state.NodeId) map[state.NodeId]int {
	dist := map[state.NodeId]int{start: 0}
	queue := []state.NodeId{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range d.Adjacency[cur] {
			if _, seen := dist[next]; !seen {
				dist[next] = dist[cur] + 1
				queue = append(queue, next)
			}
		}
	}
	return dist
}

// HopCountTo returns the shortest hop distance from self to node, or -1 when
// the node is not reachable.
func (d *Discovery) HopCountTo(s *state.State, node state.NodeId) int {
	dist := d.bfs(s.NodeCfg.Id)
	if h, ok := dist[node]; ok {
		return h
	}
	return -1
}

// NetworkDiameter is the maximum shortest-path distance from self to any
// reachable known node. Unreachable nodes are excluded rather than reported
// as infinite.
func (d *Discovery) NetworkDiameter(s *state.State) int {
	dist := d.bfs(s.NodeCfg.Id)
	diameter := 0
	for _, h := range dist {
		if h > diameter {
			diameter = h
		}
	}
	return diameter
}

// UpdateTopology recomputes the cached topology view, rate-limited so it can
// run on every orchestrator cycle.
func (d *Discovery) UpdateTopology(s *state.State, now time.Time) {
	if now.Sub(d.Topology.LastComputed) < state.TopologyRateLimit {
		return
	}
	adj := make(map[state.NodeId][]state.NodeId, len(d.Adjacency))
	degrees := 0
	for node, peers := range d.Adjacency {
		for p := range peers {
			adj[node] = append(adj[node], p)
		}
		degrees += len(peers)
	}
	dist := d.bfs(s.NodeCfg.Id)
	diameter := 0
	for _, h := range dist {
		if h > diameter {
			diameter = h
		}
	}
	avg := 0.0
	if len(d.Adjacency) > 0 {
		avg = float64(degrees) / float64(len(d.Adjacency))
	}
	d.Topology = state.Topology{
		Adjacency:    adj,
		Diameter:     diameter,
		AvgDegree:    avg,
		Reachable:    len(dist) - 1,
		Partitions:   d.componentCount(),
		LastComputed: now,
	}
	d.checkPartition(s)
}

// componentCount returns the number of connected components over nodes we
// still consider part of the network.
func (d *Discovery) componentCount() int {
	visited := make(map[state.NodeId]bool)
	components := 0
	for node := range d.Adjacency {
		if visited[node] {
			continue
		}
		components++
		stack := []state.NodeId{node}
		visited[node] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for next := range d.Adjacency[cur] {
				if !visited[next] {
					visited[next] = true
					stack = append(stack, next)
				}
			}
		}
	}
	return components
}

// checkPartition fires the partition event exactly once per split; a healed
// graph re-arms it.
func (d *Discovery) checkPartition(s *state.State) {
	components := d.componentCount()
	if components > 1 {
		if !d.partitioned {
			d.partitioned = true
			s.Log.Warn("network partition detected", "components", components)
			s.Listeners.Partition(components)
		}
	} else {
		d.partitioned = false
	}
}

// estimateLatency derives a rough one-way latency from the sender timestamp
// when clocks are close enough to make it meaningful.
func estimateLatency(h protocol.Header, now time.Time) time.Duration {
	sent := time.UnixMilli(h.Timestamp)
	lat := now.Sub(sent)
	if lat < 0 || lat > time.Second*10 {
		return state.NominalHopLatency // clock skew, fall back to a nominal hop delay
	}
	return lat
}
