package core

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/bramblemesh/bramble/mock"
	"github.com/bramblemesh/bramble/protocol"
	"github.com/bramblemesh/bramble/state"
)

// recorder captures mesh events for assertions.
type recorder struct {
	messages    []state.Pair[state.NodeId, []byte]
	nodeEvents  []state.Pair[state.NodeId, bool]
	routes      []state.Pair[state.NodeId, state.NodeId]
	partitions  []int
	timeSources []state.NodeId
}

func (r *recorder) OnMessage(source state.NodeId, payload []byte) {
	r.messages = append(r.messages, state.Pair[state.NodeId, []byte]{V1: source, V2: payload})
}
func (r *recorder) OnNodeEvent(node state.NodeId, joined bool) {
	r.nodeEvents = append(r.nodeEvents, state.Pair[state.NodeId, bool]{V1: node, V2: joined})
}
func (r *recorder) OnRouteChange(dest, nextHop state.NodeId) {
	r.routes = append(r.routes, state.Pair[state.NodeId, state.NodeId]{V1: dest, V2: nextHop})
}
func (r *recorder) OnPartition(components int) {
	r.partitions = append(r.partitions, components)
}
func (r *recorder) OnTimeSourceChange(source state.NodeId, stratum uint8, offset time.Duration) {
	r.timeSources = append(r.timeSources, source)
}

// newTestNode assembles a full node on the mock fabric. Module methods are
// called directly from the test goroutine; the dispatch loop is not run.
func newTestNode(t *testing.T, id state.NodeId, net *mock.Network, mcfg state.MeshCfg) (*state.State, *mock.Radio, *recorder) {
	t.Helper()
	radio := net.AddNode(id)
	if mcfg.Network == "" {
		mcfg.Network = "testnet"
	}
	ncfg := state.NodeCfg{Id: id, Name: fmt.Sprintf("node%d", id)}
	s, _, err := New(mcfg, ncfg, radio, slog.LevelError)
	if err != nil {
		t.Fatalf("Expected node to initialize, got %v", err)
	}
	t.Cleanup(func() { Stop(s) })
	rec := &recorder{}
	s.Listeners.Register(rec)
	return s, radio, rec
}

type reqFrame struct {
	h    protocol.Header
	body protocol.RouteRequest
}

// reqFrom builds a route request as relayed by relay on behalf of origin.
func reqFrom(t *testing.T, s *state.State, relay, origin, target state.NodeId, seq uint32, hopCount uint8) reqFrame {
	t.Helper()
	return reqFrame{
		h: protocol.Header{
			Type:      protocol.TypeRouteRequest,
			Source:    uint32(relay),
			Dest:      uint32(state.Broadcast),
			MessageId: uint16(seq),
			HopCount:  hopCount,
			MaxHops:   s.MeshCfg.HopLimit(),
		},
		body: protocol.RouteRequest{
			Origin:   uint32(origin),
			Target:   uint32(target),
			Sequence: seq,
		},
	}
}
