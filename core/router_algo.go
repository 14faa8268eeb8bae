package core

import (
	"container/heap"
	"math"
	"time"

	"github.com/bramblemesh/bramble/state"
)

// pathResult is one destination's outcome of a shortest-path run.
type pathResult struct {
	NextHop  state.NodeId
	HopCount uint8
	Cost     float64
}

type pqItem struct {
	node state.NodeId
	dist float64
}

type pathQueue []pqItem

func (q pathQueue) Len() int           { return len(q) }
func (q pathQueue) Less(i, j int) bool { return q[i].dist < q[j].dist }
func (q pathQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *pathQueue) Push(x any)        { *q = append(*q, x.(pqItem)) }

func (q *pathQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

// shortestPaths runs single-source Dijkstra from self over the link table.
// Links whose decayed quality reaches zero are skipped. The result maps every
// reachable destination to its first hop, hop count and accumulated cost.
func shortestPaths(links map[state.LinkKey]*state.Link, self state.NodeId, now time.Time) map[state.NodeId]pathResult {
	adj := make(map[state.NodeId]map[state.NodeId]float64)
	edge := func(a, b state.NodeId, cost float64) {
		if adj[a] == nil {
			adj[a] = make(map[state.NodeId]float64)
		}
		if cur, ok := adj[a][b]; !ok || cost < cur {
			adj[a][b] = cost
		}
	}
	for key, l := range links {
		q := l.DecayedQuality(now)
		if q <= 0 {
			continue
		}
		cost := state.LinkCost(q, l.Latency)
		edge(key.A, key.B, cost)
		edge(key.B, key.A, cost)
	}

	dist := map[state.NodeId]float64{self: 0}
	prev := make(map[state.NodeId]state.NodeId)
	hops := map[state.NodeId]uint8{self: 0}

	pq := &pathQueue{{node: self, dist: 0}}
	heap.Init(pq)
	for pq.Len() > 0 {
		it := heap.Pop(pq).(pqItem)
		if it.dist > dist[it.node] {
			continue
		}
		for next, w := range adj[it.node] {
			alt := it.dist + w
			if d, ok := dist[next]; !ok || alt < d {
				dist[next] = alt
				prev[next] = it.node
				hops[next] = hops[it.node] + 1
				heap.Push(pq, pqItem{node: next, dist: alt})
			}
		}
	}

	result := make(map[state.NodeId]pathResult)
	for dest, d := range dist {
		if dest == self {
			continue
		}
		// walk back to the neighbour adjacent to self
		nh := dest
		for prev[nh] != self {
			nh = prev[nh]
		}
		result[dest] = pathResult{NextHop: nh, HopCount: hops[dest], Cost: d}
	}
	return result
}

// nextHopLoads estimates the fraction of all routes funnelled through each
// next hop.
func nextHopLoads(routes map[state.NodeId]*state.RouteEntry) map[state.NodeId]float64 {
	loads := make(map[state.NodeId]float64)
	if len(routes) == 0 {
		return loads
	}
	for _, r := range routes {
		loads[r.NextHop] += 1
	}
	for nh := range loads {
		loads[nh] /= float64(len(routes))
	}
	return loads
}

// costToReliability maps an accumulated path cost back to the 0..1
// reliability carried in a RouteEntry.
func costToReliability(cost float64) float64 {
	if math.IsInf(cost, 1) {
		return 0
	}
	return 1 / (1 + cost)
}
