package core

import (
	"context"
	"math/rand"
	"time"

	"github.com/bramblemesh/bramble/perf"
	"github.com/bramblemesh/bramble/protocol"
	"github.com/bramblemesh/bramble/state"
	"github.com/jellydator/ttlcache/v3"
)

type inboundFrame struct {
	frame  []byte
	signal float64
}

type outbound struct {
	frame []byte
}

type dedupKey struct {
	Source    state.NodeId
	MessageId uint16
}

// Mesh is the orchestrator: it owns the outbound queue and the
// collision-avoidance backoff, drives the periodic cycles, and dispatches
// inbound frames to the other modules.
type Mesh struct {
	radio Radio

	// inbound bridges the radio receive context into the dispatch loop;
	// the receive callback only ever sends into this channel.
	inbound chan inboundFrame

	queue   []outbound
	backoff time.Duration
	holdTx  time.Time // no transmission before this instant

	msgSeq uint16

	lastHeartbeat time.Time
	lastBeacon    time.Time
	lastOptimize  time.Time
	lastSweep     time.Time

	pendingAcks *ttlcache.Cache[uint16, state.NodeId]
	dedup       *ttlcache.Cache[dedupKey, struct{}]

	// battery reports the current charge 0..1 for heartbeat payloads; the
	// power-management collaborator installs it.
	battery func() float64
}

func (m *Mesh) Init(s *state.State) error {
	s.Log.Debug("init mesh orchestrator")
	m.inbound = make(chan inboundFrame, 64)
	m.queue = make([]outbound, 0, state.SendQueueCapacity)
	m.backoff = state.BackoffBase
	if m.battery == nil {
		m.battery = func() float64 { return 1.0 }
	}

	m.pendingAcks = ttlcache.New[uint16, state.NodeId](
		ttlcache.WithTTL[uint16, state.NodeId](state.AckTimeout),
		ttlcache.WithDisableTouchOnHit[uint16, state.NodeId](),
	)
	m.pendingAcks.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[uint16, state.NodeId]) {
		// expiry only; no automatic retry
		if reason == ttlcache.EvictionReasonExpired {
			s.Stats.AckTimeouts.Add(1)
		}
	})
	go m.pendingAcks.Start()

	m.dedup = ttlcache.New[dedupKey, struct{}](
		ttlcache.WithTTL[dedupKey, struct{}](state.DedupTTL),
		ttlcache.WithDisableTouchOnHit[dedupKey, struct{}](),
	)
	go m.dedup.Start()

	m.radio.SetReceiver(func(frame []byte, signalQuality float64) {
		buf := make([]byte, len(frame))
		copy(buf, frame)
		select {
		case m.inbound <- inboundFrame{frame: buf, signal: signalQuality}:
		default:
			// receiver outpaced the loop; drop rather than block the driver
			s.Stats.Dropped.Add(1)
			perf.DropsPerSecond.Add(1)
		}
	})

	s.RepeatTask(processCycle, state.ProcessInterval)
	return nil
}

func (m *Mesh) Cleanup(s *state.State) error {
	m.pendingAcks.Stop()
	m.dedup.Stop()
	return nil
}

// processCycle runs once per scheduling cycle and never blocks.
func processCycle(s *state.State) error {
	m := Get[*Mesh](s)
	d := Get[*Discovery](s)
	r := Get[*Router](s)
	tk := Get[*TimeKeeper](s)
	now := time.Now()

	// drain frames handed over by the radio receive context
	for {
		select {
		case in := <-m.inbound:
			m.handleFrame(s, in.frame, in.signal, now)
		default:
			goto drained
		}
	}
drained:

	if now.Sub(m.lastHeartbeat) >= state.HeartbeatInterval {
		m.lastHeartbeat = now
		m.sendHeartbeat(s, d, tk)
	}
	if now.Sub(m.lastBeacon) >= state.BeaconInterval {
		m.lastBeacon = now
		m.sendBeacon(s, d)
	}
	if now.Sub(m.lastOptimize) >= state.OptimizeInterval {
		m.lastOptimize = now
		if s.Stats.Efficiency() < state.EfficiencyThreshold {
			r.PerformDijkstra(s, now)
		}
		r.BalanceLoad(s, now)
	}
	if now.Sub(m.lastSweep) >= state.SweepInterval {
		m.lastSweep = now
		r.SweepStale(s, now)
		d.RemoveStaleNodes(s, now)
		tk.Prune(s, now)
	}
	d.UpdateTopology(s, now) // rate-limited internally
	tk.MaybeRequestSync(s, now)

	// drain at most one queued frame per cycle
	if len(m.queue) > 0 && m.channelClear(now) {
		next := m.queue[0]
		if m.transmit(s, next.frame, now) {
			m.queue = m.queue[1:]
		}
	}
	return nil
}

// channelClear reports whether a transmission may be attempted now.
func (m *Mesh) channelClear(now time.Time) bool {
	return !m.radio.Busy() && !now.Before(m.holdTx)
}

// transmit attempts a single transmission, managing the backoff window.
func (m *Mesh) transmit(s *state.State, frame []byte, now time.Time) bool {
	if m.radio.Busy() {
		m.growBackoff(now)
		return false
	}
	if err := m.radio.Transmit(frame); err != nil {
		s.Log.Debug("transmit failed", "error", err)
		m.growBackoff(now)
		return false
	}
	m.backoff = state.BackoffBase
	s.Stats.Sent.Add(1)
	perf.SendsPerSecond.Add(1)
	return true
}

// growBackoff doubles the backoff with jitter, capped, and holds the channel.
func (m *Mesh) growBackoff(now time.Time) {
	jitter := time.Duration(rand.Int63n(int64(m.backoff) + 1))
	m.backoff = min(m.backoff*2+jitter, state.BackoffCap)
	m.holdTx = now.Add(m.backoff)
	perf.BackoffPerSecond.Add(1)
}

// enqueue appends to the bounded outbound queue, dropping the oldest entry
// when full.
func (m *Mesh) enqueue(s *state.State, frame []byte) {
	if len(m.queue) >= state.SendQueueCapacity {
		m.queue = m.queue[1:]
		s.Stats.Dropped.Add(1)
		perf.DropsPerSecond.Add(1)
		s.Log.Debug("outbound queue full, dropped oldest")
	}
	m.queue = append(m.queue, outbound{frame: frame})
}

// submit frames a message and either transmits it immediately (clear channel,
// empty queue) or enqueues it. Frames over the radio limit are rejected here
// so an oversize payload can never wrap the header's size field on the air.
func (m *Mesh) submit(s *state.State, frame []byte) bool {
	if len(frame) > state.MaxFrameSize {
		s.Log.Warn("frame exceeds radio limit, rejected", "size", len(frame))
		s.Stats.Dropped.Add(1)
		perf.DropsPerSecond.Add(1)
		return false
	}
	now := time.Now()
	if len(m.queue) == 0 && m.channelClear(now) && m.transmit(s, frame, now) {
		return true
	}
	m.enqueue(s, frame)
	return true
}

// nextHeader stamps a fresh header for an originated message.
func (m *Mesh) nextHeader(s *state.State, dest state.NodeId, typ protocol.MsgType) protocol.Header {
	m.msgSeq++
	tk := Get[*TimeKeeper](s)
	return protocol.Header{
		Type:      typ,
		Source:    uint32(s.NodeCfg.Id),
		Dest:      uint32(dest),
		MessageId: m.msgSeq,
		HopCount:  0,
		MaxHops:   s.MeshCfg.HopLimit(),
		Timestamp: tk.NetworkTime(time.Now()).UnixMilli(),
	}
}

func (m *Mesh) enqueueUnicast(s *state.State, dest state.NodeId, typ protocol.MsgType, payload []byte) bool {
	h := m.nextHeader(s, dest, typ)
	return m.submit(s, protocol.Encode(h, payload))
}

func (m *Mesh) enqueueBroadcast(s *state.State, typ protocol.MsgType, payload []byte) bool {
	h := m.nextHeader(s, state.Broadcast, typ)
	return m.submit(s, protocol.Encode(h, payload))
}

// SendData ships an application payload to dest, falling back to route
// discovery when no route is known.
func (m *Mesh) SendData(s *state.State, dest state.NodeId, payload []byte) bool {
	if dest == state.Broadcast {
		return m.enqueueBroadcast(s, protocol.TypeData, payload)
	}
	r := Get[*Router](s)
	if r.FindBestRoute(dest, time.Now()) == nil {
		r.RequestRoute(s, dest)
		// queue the message anyway; it rides out on the best-effort channel
	}
	h := m.nextHeader(s, dest, protocol.TypeData)
	if !m.submit(s, protocol.Encode(h, payload)) {
		return false
	}
	m.pendingAcks.Set(h.MessageId, dest, ttlcache.DefaultTTL)
	return true
}

func (m *Mesh) sendHeartbeat(s *state.State, d *Discovery, tk *TimeKeeper) {
	hb := protocol.Heartbeat{
		Battery:       m.battery(),
		SignalQuality: 1.0,
		NeighborCount: len(d.Adjacency[s.NodeCfg.Id]),
		Stratum:       tk.Stratum(s),
	}
	if body, err := protocol.Marshal(hb); err == nil {
		m.enqueueBroadcast(s, protocol.TypeHeartbeat, body)
	}
}

func (m *Mesh) sendBeacon(s *state.State, d *Discovery) {
	b := d.MakeBeacon(s, m.battery())
	if body, err := protocol.Marshal(b); err == nil {
		m.enqueueBroadcast(s, protocol.TypeDiscovery, body)
	}
}

// handleFrame validates, deduplicates and dispatches one inbound frame.
func (m *Mesh) handleFrame(s *state.State, raw []byte, signal float64, now time.Time) {
	h, payload, err := protocol.Decode(raw)
	if err != nil {
		if err == protocol.ErrChecksum {
			s.Stats.ChecksumFailures.Add(1)
		}
		s.Stats.Dropped.Add(1)
		perf.DropsPerSecond.Add(1)
		return
	}
	src := state.NodeId(h.Source)
	if s.Self(src) {
		return // our own transmission reflected back
	}
	s.Stats.Received.Add(1)
	perf.RecvsPerSecond.Add(1)

	key := dedupKey{Source: src, MessageId: h.MessageId}
	if m.dedup.Has(key) {
		return
	}
	m.dedup.Set(key, struct{}{}, ttlcache.DefaultTTL)

	d := Get[*Discovery](s)
	r := Get[*Router](s)
	tk := Get[*TimeKeeper](s)
	dest := state.NodeId(h.Dest)

	switch h.Type {
	case protocol.TypeHeartbeat:
		var hb protocol.Heartbeat
		if protocol.Unmarshal(payload, &hb) == nil {
			d.HandleHeartbeat(s, h, hb, signal, now)
		}

	case protocol.TypeDiscovery:
		var b protocol.Beacon
		if protocol.Unmarshal(payload, &b) == nil {
			d.HandleBeacon(s, h, b, signal, now)
		}

	case protocol.TypeRouteRequest:
		var req protocol.RouteRequest
		if protocol.Unmarshal(payload, &req) == nil {
			r.HandleRouteRequest(s, h, req, signal, now)
		}

	case protocol.TypeRouteReply:
		var rep protocol.RouteReply
		if protocol.Unmarshal(payload, &rep) == nil {
			r.HandleRouteReply(s, h, rep, signal, now)
		}

	case protocol.TypeTimeSync:
		var ts protocol.TimeSync
		if protocol.Unmarshal(payload, &ts) != nil {
			return
		}
		if dest == state.Broadcast || s.Self(dest) {
			tk.HandleTimeSync(s, h, ts, now)
		} else {
			m.forward(s, h, payload, now)
		}

	case protocol.TypeData:
		m.handleData(s, h, payload, now)

	case protocol.TypeAck:
		var ack protocol.Ack
		if protocol.Unmarshal(payload, &ack) != nil {
			return
		}
		if s.Self(dest) {
			m.pendingAcks.Delete(ack.MessageId)
		} else {
			m.forward(s, h, payload, now)
		}

	default:
		s.Stats.Dropped.Add(1)
	}
}

func (m *Mesh) handleData(s *state.State, h protocol.Header, payload []byte, now time.Time) {
	dest := state.NodeId(h.Dest)
	src := state.NodeId(h.Source)
	switch {
	case s.Self(dest):
		if body, err := protocol.Marshal(protocol.Ack{MessageId: h.MessageId}); err == nil {
			m.enqueueUnicast(s, src, protocol.TypeAck, body)
		}
		s.Listeners.Message(src, payload)

	case dest == state.Broadcast:
		s.Listeners.Message(src, payload)
		if h.HopCount+1 < h.MaxHops {
			h.HopCount++
			m.submit(s, protocol.Encode(h, payload))
			s.Stats.Forwarded.Add(1)
			perf.FwdsPerSecond.Add(1)
		}

	default:
		m.forward(s, h, payload, now)
	}
}

// forward relays a transit frame toward its destination when the hop limit
// and route table allow it.
func (m *Mesh) forward(s *state.State, h protocol.Header, payload []byte, now time.Time) {
	r := Get[*Router](s)
	dest := state.NodeId(h.Dest)
	if !r.ShouldForward(s, dest, h.HopCount, now) {
		s.Stats.Dropped.Add(1)
		perf.DropsPerSecond.Add(1)
		return
	}
	h.HopCount++
	m.submit(s, protocol.Encode(h, payload))
	s.Stats.Forwarded.Add(1)
	perf.FwdsPerSecond.Add(1)
}

// forwardFlood re-broadcasts a route request with this node as the
// link-layer source.
func (m *Mesh) forwardFlood(s *state.State, h protocol.Header, req protocol.RouteRequest) {
	body, err := protocol.Marshal(req)
	if err != nil {
		return
	}
	nh := protocol.Header{
		Type:      protocol.TypeRouteRequest,
		Source:    uint32(s.NodeCfg.Id),
		Dest:      uint32(state.Broadcast),
		MessageId: h.MessageId,
		HopCount:  h.HopCount + 1,
		MaxHops:   h.MaxHops,
		Timestamp: h.Timestamp,
	}
	m.submit(s, protocol.Encode(nh, body))
	s.Stats.Forwarded.Add(1)
	perf.FwdsPerSecond.Add(1)
}
