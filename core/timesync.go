package core

import (
	"time"

	"github.com/bramblemesh/bramble/protocol"
	"github.com/bramblemesh/bramble/state"
)

// unsyncedStratum is advertised while no reference is held.
const unsyncedStratum = 16

// derivedAccuracyFactor discounts accuracy once per stratum hop.
const derivedAccuracyFactor = 0.9

// TimeKeeper maintains the stratum hierarchy and a best-effort network time.
type TimeKeeper struct {
	IsSource   bool
	Primary    *state.TimeReference
	Candidates map[state.NodeId]*state.TimeReference

	driftPPM     float64
	driftSamples int
	lastRequest  time.Time
}

func (tk *TimeKeeper) Init(s *state.State) error {
	s.Log.Debug("init timekeeper")
	tk.Candidates = make(map[state.NodeId]*state.TimeReference)
	tk.IsSource = s.MeshCfg.IsTimeSource(s.NodeCfg.Id)
	if tk.IsSource {
		s.Log.Info("acting as primary time source")
	}
	return nil
}

func (tk *TimeKeeper) Cleanup(s *state.State) error {
	return nil
}

// Stratum is this node's distance from a primary time source.
func (tk *TimeKeeper) Stratum(s *state.State) uint8 {
	if tk.IsSource {
		return 1
	}
	if tk.Primary != nil {
		return tk.Primary.Stratum + 1
	}
	return unsyncedStratum
}

// Synchronized reports whether network time can be trusted: a primary
// reference above the accuracy floor, refreshed within two sync timeouts.
func (tk *TimeKeeper) Synchronized(now time.Time) bool {
	if tk.IsSource {
		return true
	}
	if tk.Primary == nil {
		return false
	}
	if tk.Primary.Accuracy < state.SyncAccuracyFloor {
		return false
	}
	return now.Sub(tk.Primary.LastSync) <= 2*state.SyncTimeout
}

// NetworkTime extrapolates the shared clock from the last offset plus
// accumulated drift. Unsynchronized nodes fall back to local time.
func (tk *TimeKeeper) NetworkTime(now time.Time) time.Time {
	if tk.IsSource || !tk.Synchronized(now) {
		return now
	}
	elapsed := now.Sub(tk.Primary.LastSync)
	drift := time.Duration(float64(elapsed) * tk.driftPPM / 1e6)
	return now.Add(tk.Primary.Offset + drift)
}

// MaybeRequestSync broadcasts a sync request when the interval has elapsed.
func (tk *TimeKeeper) MaybeRequestSync(s *state.State, now time.Time) {
	if tk.IsSource || now.Sub(tk.lastRequest) < state.SyncInterval {
		return
	}
	tk.lastRequest = now
	target := state.Broadcast
	if tk.Primary != nil {
		target = tk.Primary.Source
	}
	tk.RequestSync(s, target, now)
}

// RequestSync sends a four-timestamp exchange request, targeted or broadcast.
func (tk *TimeKeeper) RequestSync(s *state.State, target state.NodeId, now time.Time) {
	body, err := protocol.Marshal(protocol.TimeSync{
		Phase: protocol.SyncRequest,
		T1:    now.UnixMicro(),
	})
	if err != nil {
		return
	}
	m := Get[*Mesh](s)
	if target == state.Broadcast {
		m.enqueueBroadcast(s, protocol.TypeTimeSync, body)
	} else {
		m.enqueueUnicast(s, target, protocol.TypeTimeSync, body)
	}
}

// HandleTimeSync services both phases of the exchange.
func (tk *TimeKeeper) HandleTimeSync(s *state.State, h protocol.Header, ts protocol.TimeSync, now time.Time) {
	src := state.NodeId(h.Source)
	if s.Self(src) {
		return
	}
	switch ts.Phase {
	case protocol.SyncRequest:
		if !tk.IsSource && !tk.Synchronized(now) {
			return // nothing authoritative to offer
		}
		// T2/T3 carry network time, not the local clock, so downstream
		// strata converge on the primary's timescale
		resp := protocol.TimeSync{
			Phase:       protocol.SyncResponse,
			T1:          ts.T1,
			T2:          tk.NetworkTime(now).UnixMicro(),
			T3:          tk.NetworkTime(time.Now()).UnixMicro(),
			Stratum:     tk.Stratum(s),
			Accuracy:    tk.accuracy(),
			Reliability: tk.reliability(),
		}
		body, err := protocol.Marshal(resp)
		if err != nil {
			return
		}
		Get[*Mesh](s).enqueueUnicast(s, src, protocol.TypeTimeSync, body)

	case protocol.SyncResponse:
		if tk.IsSource {
			return
		}
		t1 := time.UnixMicro(ts.T1)
		t2 := time.UnixMicro(ts.T2)
		t3 := time.UnixMicro(ts.T3)
		offset := state.ClockOffset(t1, t2, t3, now)
		tk.AddTimeReference(s, src, state.TimeReference{
			Source:      src,
			Stratum:     ts.Stratum,
			Offset:      offset,
			Accuracy:    ts.Accuracy,
			Reliability: ts.Reliability,
			LastSync:    now,
		}, now)
	}
}

// AddTimeReference records a candidate and promotes it iff strictly better
// than the current primary. Promotion fires a time-source-changed event.
func (tk *TimeKeeper) AddTimeReference(s *state.State, src state.NodeId, ref state.TimeReference, now time.Time) {
	if s.Self(src) {
		return // a node never selects itself as its upstream reference
	}
	if cand, ok := tk.Candidates[src]; ok {
		tk.updateDrift(cand, &ref)
	}
	cp := ref
	tk.Candidates[src] = &cp

	if tk.Primary != nil && tk.Primary.Source == src {
		tk.Primary = &cp
		return
	}
	if ref.Better(tk.Primary) {
		tk.Primary = &cp
		s.Log.Info("time source changed", "source", src, "stratum", ref.Stratum, "offset", ref.Offset)
		s.Listeners.TimeSourceChange(src, ref.Stratum, ref.Offset)
	}
}

// updateDrift maintains a moving-average drift estimate in ppm from the
// change in offset between consecutive syncs.
func (tk *TimeKeeper) updateDrift(prev *state.TimeReference, next *state.TimeReference) {
	interval := next.LastSync.Sub(prev.LastSync)
	if interval <= 0 {
		return
	}
	sample := float64(next.Offset-prev.Offset) / float64(interval) * 1e6
	tk.driftSamples++
	// exponential moving average, heavier weight on history as samples grow
	alpha := 1.0 / float64(min(tk.driftSamples, 8))
	tk.driftPPM = tk.driftPPM*(1-alpha) + sample*alpha
}

// Prune drops references not refreshed within three sync timeouts. Losing
// the primary falls back to the next-best candidate or unsynchronized local
// time.
func (tk *TimeKeeper) Prune(s *state.State, now time.Time) {
	for src, ref := range tk.Candidates {
		if now.Sub(ref.LastSync) > state.ReferenceStaleAfter {
			delete(tk.Candidates, src)
		}
	}
	if tk.Primary == nil {
		return
	}
	if _, ok := tk.Candidates[tk.Primary.Source]; ok {
		return
	}
	tk.Primary = nil
	for _, cand := range tk.Candidates {
		if cand.Better(tk.Primary) {
			tk.Primary = cand
		}
	}
	if tk.Primary != nil {
		s.Log.Info("time source changed", "source", tk.Primary.Source, "stratum", tk.Primary.Stratum)
		s.Listeners.TimeSourceChange(tk.Primary.Source, tk.Primary.Stratum, tk.Primary.Offset)
	} else {
		s.Log.Warn("lost all time references, falling back to local clock")
		s.Listeners.TimeSourceChange(state.Broadcast, unsyncedStratum, 0)
	}
}

func (tk *TimeKeeper) accuracy() float64 {
	if tk.IsSource {
		return 1.0
	}
	if tk.Primary == nil {
		return 0
	}
	return tk.Primary.Accuracy * derivedAccuracyFactor
}

func (tk *TimeKeeper) reliability() float64 {
	if tk.IsSource {
		return 1.0
	}
	if tk.Primary == nil {
		return 0
	}
	return tk.Primary.Reliability * derivedAccuracyFactor
}
