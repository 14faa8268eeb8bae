package core

import (
	"slices"
	"time"

	"github.com/bramblemesh/bramble/protocol"
	"github.com/bramblemesh/bramble/state"
	"github.com/jellydator/ttlcache/v3"
)

type reqKey struct {
	Origin   state.NodeId
	Sequence uint32
}

// Router maintains the per-destination route table and the link table the
// shortest-path recomputation runs over.
type Router struct {
	Routes map[state.NodeId]*state.RouteEntry
	Links  map[state.LinkKey]*state.Link

	reqSeq   uint32
	reqDedup *ttlcache.Cache[reqKey, struct{}]
}

func (r *Router) Init(s *state.State) error {
	s.Log.Debug("init router")
	r.Routes = make(map[state.NodeId]*state.RouteEntry)
	r.Links = make(map[state.LinkKey]*state.Link)
	r.reqDedup = ttlcache.New[reqKey, struct{}](
		ttlcache.WithTTL[reqKey, struct{}](state.DedupTTL),
		ttlcache.WithDisableTouchOnHit[reqKey, struct{}](),
	)
	go r.reqDedup.Start()
	return nil
}

func (r *Router) Cleanup(s *state.State) error {
	r.reqDedup.Stop()
	return nil
}

// AddRoute records a candidate path, replacing the current entry only when no
// entry exists or the new cost is lower.
func (r *Router) AddRoute(s *state.State, dest, nextHop state.NodeId, hopCount uint8, reliability float64, now time.Time) bool {
	// never route to ourselves, and never via the broadcast address
	if s.Self(dest) || nextHop == state.Broadcast {
		return false
	}
	cost := state.RouteCost(hopCount, reliability)
	cur, exists := r.Routes[dest]
	if exists && cost >= cur.Cost {
		return false
	}
	entry := &state.RouteEntry{
		Destination: dest,
		NextHop:     nextHop,
		HopCount:    hopCount,
		Reliability: reliability,
		Cost:        cost,
		LastUpdated: now,
	}
	r.Routes[dest] = entry
	if !exists || cur.NextHop != nextHop {
		s.Log.Debug("route updated", "dest", dest, "via", nextHop, "cost", cost)
		s.Listeners.RouteChange(dest, nextHop)
	}
	return true
}

// FindBestRoute returns the lowest-cost non-stale entry for dest and marks it
// used. Nil means the caller must fall back to route discovery.
func (r *Router) FindBestRoute(dest state.NodeId, now time.Time) *state.RouteEntry {
	entry, ok := r.Routes[dest]
	if !ok || entry.Stale(now) {
		return nil
	}
	entry.LastUsed = now
	return entry
}

// FindAlternativeRoutes returns up to max additional routes to dest via
// distinct next hops, ranked by cost. Each alternative carries a small
// reliability penalty for being secondary.
func (r *Router) FindAlternativeRoutes(dest state.NodeId, max int, now time.Time) []state.RouteEntry {
	best, ok := r.Routes[dest]
	if !ok {
		return nil
	}
	type cand struct {
		nh   state.NodeId
		cost float64
		hops uint8
		rel  float64
	}
	cands := make([]cand, 0)
	for _, link := range r.Links {
		var via state.NodeId
		switch {
		case link.Key.A == best.Destination:
			via = link.Key.B
		case link.Key.B == best.Destination:
			via = link.Key.A
		default:
			continue
		}
		if via == best.NextHop {
			continue
		}
		// a neighbour of the destination we can reach is a viable detour
		viaRoute, ok := r.Routes[via]
		if !ok || viaRoute.Stale(now) {
			continue
		}
		rel := viaRoute.Reliability * link.DecayedQuality(now) * state.AltReliabilityFactor
		hops := viaRoute.HopCount + 1
		cands = append(cands, cand{
			nh:   viaRoute.NextHop,
			cost: state.RouteCost(hops, rel),
			hops: hops,
			rel:  rel,
		})
	}
	slices.SortFunc(cands, func(a, b cand) int {
		if a.cost < b.cost {
			return -1
		} else if a.cost > b.cost {
			return 1
		}
		return 0
	})
	out := make([]state.RouteEntry, 0, max)
	seen := map[state.NodeId]bool{best.NextHop: true}
	for _, c := range cands {
		if len(out) >= max {
			break
		}
		if seen[c.nh] {
			continue
		}
		seen[c.nh] = true
		out = append(out, state.RouteEntry{
			Destination: dest,
			NextHop:     c.nh,
			HopCount:    c.hops,
			Reliability: c.rel,
			Cost:        c.cost,
			LastUpdated: now,
		})
	}
	return out
}

// ObserveLink records a fresh symmetric link measurement.
func (r *Router) ObserveLink(a, b state.NodeId, quality float64, latency time.Duration, now time.Time) {
	key := state.MakeLinkKey(a, b)
	link, ok := r.Links[key]
	if !ok {
		link = &state.Link{Key: key}
		r.Links[key] = link
	}
	link.Quality = quality
	link.Latency = latency
	link.LastMeasured = now
}

// meanLinkQuality averages the decayed quality of every link touching node.
// Beacons advertise it so peers can weigh edges they cannot measure.
func (r *Router) meanLinkQuality(node state.NodeId, now time.Time) float64 {
	total, n := 0.0, 0
	for key, link := range r.Links {
		if key.A == node || key.B == node {
			total += link.DecayedQuality(now)
			n++
		}
	}
	if n == 0 {
		return state.AdvertisedLinkQuality
	}
	return total / float64(n)
}

// PerformDijkstra recomputes shortest paths over the link table and rewrites
// the route table. An existing entry is kept when it is already cheaper than
// the recomputed path, so costs never silently increase.
func (r *Router) PerformDijkstra(s *state.State, now time.Time) {
	results := shortestPaths(r.Links, s.NodeCfg.Id, now)
	for dest, res := range results {
		r.AddRoute(s, dest, res.NextHop, res.HopCount, costToReliability(res.Cost), now)
	}
}

// BalanceLoad relieves overloaded next hops by switching affected routes to
// alternatives whose estimated load is materially lower.
func (r *Router) BalanceLoad(s *state.State, now time.Time) {
	loads := nextHopLoads(r.Routes)
	for dest, entry := range r.Routes {
		load := loads[entry.NextHop]
		if load <= state.LoadBalanceThreshold {
			continue
		}
		for _, alt := range r.FindAlternativeRoutes(dest, 3, now) {
			if loads[alt.NextHop] <= load*state.LoadSwitchRatio {
				cp := alt
				r.Routes[dest] = &cp
				s.Log.Debug("rebalanced route", "dest", dest, "via", alt.NextHop)
				s.Listeners.RouteChange(dest, alt.NextHop)
				break
			}
		}
	}
}

// ShouldForward decides whether a transit message gets relayed onward.
func (r *Router) ShouldForward(s *state.State, dest state.NodeId, hopCount uint8, now time.Time) bool {
	if s.Self(dest) {
		return false
	}
	if hopCount >= s.MeshCfg.HopLimit() {
		return false
	}
	return r.FindBestRoute(dest, now) != nil
}

// SweepStale drops routes unused and unupdated beyond the staleness timeout.
func (r *Router) SweepStale(s *state.State, now time.Time) {
	for dest, entry := range r.Routes {
		if entry.Stale(now) {
			delete(r.Routes, dest)
			s.Log.Debug("stale route dropped", "dest", dest)
			s.Listeners.RouteChange(dest, state.Broadcast)
		}
	}
}

// RemoveByNextHop clears every route relayed through a lost node, and the
// node's links.
func (r *Router) RemoveByNextHop(s *state.State, node state.NodeId) {
	for dest, entry := range r.Routes {
		if entry.NextHop == node || dest == node {
			delete(r.Routes, dest)
			s.Listeners.RouteChange(dest, state.Broadcast)
		}
	}
	for key := range r.Links {
		if key.A == node || key.B == node {
			delete(r.Links, key)
		}
	}
}

// RequestRoute floods a route request for dest.
func (r *Router) RequestRoute(s *state.State, dest state.NodeId) {
	r.reqSeq++
	s.Stats.RouteDiscoveries.Add(1)
	payload, err := protocol.Marshal(protocol.RouteRequest{
		Origin:   uint32(s.NodeCfg.Id),
		Target:   uint32(dest),
		Sequence: r.reqSeq,
	})
	if err != nil {
		return
	}
	m := Get[*Mesh](s)
	m.enqueueBroadcast(s, protocol.TypeRouteRequest, payload)
	s.Log.Debug("route discovery started", "dest", dest, "seq", r.reqSeq)
}

// HandleRouteRequest learns the reverse path, answers when it knows the
// target, and otherwise re-floods the request once.
func (r *Router) HandleRouteRequest(s *state.State, h protocol.Header, req protocol.RouteRequest, signal float64, now time.Time) {
	origin := state.NodeId(req.Origin)
	target := state.NodeId(req.Target)
	if s.Self(origin) {
		return
	}
	key := reqKey{Origin: origin, Sequence: req.Sequence}
	if r.reqDedup.Has(key) {
		return
	}
	r.reqDedup.Set(key, struct{}{}, ttlcache.DefaultTTL)

	// reverse route back toward the origin via whoever relayed the request
	prevHop := state.NodeId(h.Source)
	rel := state.EstimateReliability(signal, 0)
	r.AddRoute(s, origin, prevHop, h.HopCount+1, rel, now)

	m := Get[*Mesh](s)
	if s.Self(target) {
		reply, err := protocol.Marshal(protocol.RouteReply{
			Origin:      req.Origin,
			Target:      req.Target,
			Sequence:    req.Sequence,
			HopCount:    h.HopCount + 1,
			Reliability: rel,
		})
		if err != nil {
			return
		}
		m.enqueueUnicast(s, origin, protocol.TypeRouteReply, reply)
		return
	}

	if known := r.FindBestRoute(target, now); known != nil {
		reply, err := protocol.Marshal(protocol.RouteReply{
			Origin:      req.Origin,
			Target:      req.Target,
			Sequence:    req.Sequence,
			HopCount:    h.HopCount + 1 + known.HopCount,
			Reliability: known.Reliability,
		})
		if err != nil {
			return
		}
		m.enqueueUnicast(s, origin, protocol.TypeRouteReply, reply)
		return
	}

	if h.HopCount+1 < s.MeshCfg.HopLimit() {
		m.forwardFlood(s, h, req)
	}
}

// HandleRouteReply installs the discovered forward route.
func (r *Router) HandleRouteReply(s *state.State, h protocol.Header, rep protocol.RouteReply, signal float64, now time.Time) {
	target := state.NodeId(rep.Target)
	prevHop := state.NodeId(h.Source)
	r.AddRoute(s, target, prevHop, rep.HopCount, rep.Reliability, now)
	if !s.Self(state.NodeId(rep.Origin)) {
		// relay toward the origin
		m := Get[*Mesh](s)
		if body, err := protocol.Marshal(rep); err == nil {
			m.enqueueUnicast(s, state.NodeId(rep.Origin), protocol.TypeRouteReply, body)
		}
	}
}
