// Package mock provides an in-memory radio fabric for exercising full
// nodes without hardware.
package mock

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/bramblemesh/bramble/state"
)

// LinkProfile models one bidirectional radio link.
type LinkProfile struct {
	Quality float64 // signal quality reported to receivers, 0..1
	Loss    float64 // probability an individual frame is lost
	Delay   time.Duration
}

// Network is a simulated shared medium. Frames transmitted by one radio are
// delivered to every radio it has a link to, subject to the link profile.
type Network struct {
	mu     sync.Mutex
	radios map[state.NodeId]*Radio
	links  map[state.LinkKey]LinkProfile
	rng    *rand.Rand
}

func NewNetwork(seed int64) *Network {
	return &Network{
		radios: make(map[state.NodeId]*Radio),
		links:  make(map[state.LinkKey]LinkProfile),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// AddNode attaches a new radio for id to the fabric.
func (n *Network) AddNode(id state.NodeId) *Radio {
	n.mu.Lock()
	defer n.mu.Unlock()
	r := &Radio{net: n, id: id}
	n.radios[id] = r
	return r
}

// Link installs a bidirectional link between a and b.
func (n *Network) Link(a, b state.NodeId, p LinkProfile) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links[state.MakeLinkKey(a, b)] = p
}

// Unlink severs the link between a and b.
func (n *Network) Unlink(a, b state.NodeId) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.links, state.MakeLinkKey(a, b))
}

func (n *Network) deliver(from state.NodeId, frame []byte) {
	n.mu.Lock()
	type drop struct {
		r       *Radio
		signal  float64
		delay   time.Duration
		payload []byte
	}
	var out []drop
	for id, r := range n.radios {
		if id == from {
			continue
		}
		p, ok := n.links[state.MakeLinkKey(from, id)]
		if !ok {
			continue
		}
		if p.Loss > 0 && n.rng.Float64() < p.Loss {
			continue
		}
		buf := make([]byte, len(frame))
		copy(buf, frame)
		out = append(out, drop{r: r, signal: p.Quality, delay: p.Delay, payload: buf})
	}
	n.mu.Unlock()

	for _, d := range out {
		recv := d.r.receiver()
		if recv == nil {
			continue
		}
		if d.delay > 0 {
			time.AfterFunc(d.delay, func() { recv(d.payload, d.signal) })
		} else {
			recv(d.payload, d.signal)
		}
	}
}

// Radio is one endpoint on the mock fabric.
type Radio struct {
	net  *Network
	id   state.NodeId
	mu   sync.Mutex
	busy bool
	recv func(frame []byte, signalQuality float64)

	sent [][]byte // record of every transmitted frame, for assertions
}

func (r *Radio) Transmit(frame []byte) error {
	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		return fmt.Errorf("channel busy")
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	r.sent = append(r.sent, buf)
	r.mu.Unlock()
	r.net.deliver(r.id, frame)
	return nil
}

func (r *Radio) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}

func (r *Radio) SetReceiver(fn func(frame []byte, signalQuality float64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recv = fn
}

func (r *Radio) receiver() func([]byte, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recv
}

// SetBusy forces the channel-busy indication, simulating interference.
func (r *Radio) SetBusy(b bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy = b
}

// Sent returns a copy of all frames transmitted so far.
func (r *Radio) Sent() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.sent))
	copy(out, r.sent)
	return out
}

// Inject hands a raw frame directly to the radio's receiver, bypassing the
// fabric. Useful for malformed-frame tests.
func (r *Radio) Inject(frame []byte, signal float64) {
	if recv := r.receiver(); recv != nil {
		recv(frame, signal)
	}
}
