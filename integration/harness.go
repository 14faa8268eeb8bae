//go:build integration

package integration

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bramblemesh/bramble/core"
	"github.com/bramblemesh/bramble/mock"
	"github.com/bramblemesh/bramble/state"
)

// VirtualHarness runs several full nodes over a mock radio fabric inside one
// process.
type VirtualHarness struct {
	Net  *mock.Network
	Mesh state.MeshCfg

	nodes map[state.NodeId]*nodeHandle
	wg    sync.WaitGroup
}

type nodeHandle struct {
	s        *state.State
	dispatch <-chan func(*state.State) error
	radio    *mock.Radio
}

func NewHarness(seed int64) *VirtualHarness {
	return &VirtualHarness{
		Net:   mock.NewNetwork(seed),
		Mesh:  state.MeshCfg{Network: "virtual"},
		nodes: make(map[state.NodeId]*nodeHandle),
	}
}

func (vh *VirtualHarness) NewNode(id state.NodeId) error {
	radio := vh.Net.AddNode(id)
	ncfg := state.NodeCfg{Id: id, Name: fmt.Sprintf("vnode%d", id)}
	s, dispatch, err := core.New(vh.Mesh, ncfg, radio, slog.LevelError)
	if err != nil {
		return err
	}
	vh.nodes[id] = &nodeHandle{s: s, dispatch: dispatch, radio: radio}
	return nil
}

// Link wires a clean bidirectional link between two nodes.
func (vh *VirtualHarness) Link(a, b state.NodeId, quality float64) {
	vh.Net.Link(a, b, mock.LinkProfile{Quality: quality})
}

func (vh *VirtualHarness) Env(id state.NodeId) *state.Env {
	return vh.nodes[id].s.Env
}

// Start runs every node's dispatch loop. Errors surface on the returned
// channel.
func (vh *VirtualHarness) Start() <-chan error {
	errs := make(chan error, len(vh.nodes))
	for _, n := range vh.nodes {
		vh.wg.Add(1)
		go func(n *nodeHandle) {
			defer vh.wg.Done()
			if err := core.MainLoop(n.s, n.dispatch); err != nil {
				errs <- err
			}
		}(n)
	}
	return errs
}

// Stop cancels every node and waits for the loops to drain.
func (vh *VirtualHarness) Stop() {
	for _, n := range vh.nodes {
		n.s.Cancel(errors.New("harness stopped"))
	}
	vh.wg.Wait()
}

// WaitFor polls cond until it holds or the deadline passes.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
