package core

import (
	"time"

	"github.com/bramblemesh/bramble/state"
)

// The functions below form the application-facing surface of a running node.
// They are safe to call from any goroutine; each one hops onto the dispatch
// loop before touching module state.

// Send ships payload to dest and reports whether it was accepted for
// transmission. Delivery is best effort; acknowledgement tracking is
// internal and surfaces only in the stats.
func Send(e *state.Env, dest state.NodeId, payload []byte) bool {
	ok, err := e.DispatchWait(func(s *state.State) (any, error) {
		return Get[*Mesh](s).SendData(s, dest, payload), nil
	})
	if err != nil {
		return false
	}
	return ok.(bool)
}

// Broadcast floods payload to every reachable node.
func Broadcast(e *state.Env, payload []byte) bool {
	return Send(e, state.Broadcast, payload)
}

// RegisterListener subscribes l to mesh events.
func RegisterListener(e *state.Env, l state.Listener) {
	e.Listeners.Register(l)
}

// SetBatteryProvider installs the charge readout used in heartbeats and
// beacons. Must be called before Start.
func SetBatteryProvider(e *state.Env, fn func() float64) {
	e.Dispatch(func(s *state.State) error {
		Get[*Mesh](s).battery = fn
		return nil
	})
}

// Snapshot returns a point-in-time copy of the node's counters and
// topology summary.
func Snapshot(e *state.Env) (state.StatsSnapshot, error) {
	res, err := e.DispatchWait(func(s *state.State) (any, error) {
		d := Get[*Discovery](s)
		tk := Get[*TimeKeeper](s)
		snap := s.Stats.Snapshot()
		snap.KnownNodes = len(d.Nodes)
		snap.Routes = len(Get[*Router](s).Routes)
		snap.Diameter = d.Topology.Diameter
		snap.Partitions = d.Topology.Partitions
		snap.Stratum = tk.Stratum(s)
		snap.Synchronized = tk.Synchronized(time.Now())
		return snap, nil
	})
	if err != nil {
		return state.StatsSnapshot{}, err
	}
	return res.(state.StatsSnapshot), nil
}

// NetworkNow returns the synchronized network time estimate.
func NetworkNow(e *state.Env) (time.Time, error) {
	res, err := e.DispatchWait(func(s *state.State) (any, error) {
		return Get[*TimeKeeper](s).NetworkTime(time.Now()), nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return res.(time.Time), nil
}
