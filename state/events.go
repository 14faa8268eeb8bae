package state

import (
	"sync"
	"time"
)

// Listener receives mesh events. Implementations must not block; callbacks
// run on the dispatch goroutine.
type Listener interface {
	// OnMessage fires for every data payload addressed to this node.
	OnMessage(source NodeId, payload []byte)
	// OnNodeEvent fires when a node is first discovered or goes stale.
	OnNodeEvent(node NodeId, joined bool)
	// OnRouteChange fires when the best next hop for a destination changes.
	// nextHop is Broadcast when the route was removed.
	OnRouteChange(destination NodeId, nextHop NodeId)
	// OnPartition fires once each time the known network splits into more
	// than one connected component.
	OnPartition(components int)
	// OnTimeSourceChange fires when the primary clock reference changes.
	// source is Broadcast when the node lost synchronization entirely.
	OnTimeSourceChange(source NodeId, stratum uint8, offset time.Duration)
}

// Notifier fans events out to registered listeners.
type Notifier struct {
	mu        sync.RWMutex
	listeners []Listener
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

func (n *Notifier) Register(l Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, l)
}

func (n *Notifier) each(f func(Listener)) {
	n.mu.RLock()
	ls := n.listeners
	n.mu.RUnlock()
	for _, l := range ls {
		f(l)
	}
}

func (n *Notifier) Message(source NodeId, payload []byte) {
	n.each(func(l Listener) { l.OnMessage(source, payload) })
}

func (n *Notifier) NodeEvent(node NodeId, joined bool) {
	n.each(func(l Listener) { l.OnNodeEvent(node, joined) })
}

func (n *Notifier) RouteChange(destination, nextHop NodeId) {
	n.each(func(l Listener) { l.OnRouteChange(destination, nextHop) })
}

func (n *Notifier) Partition(components int) {
	n.each(func(l Listener) { l.OnPartition(components) })
}

func (n *Notifier) TimeSourceChange(source NodeId, stratum uint8, offset time.Duration) {
	n.each(func(l Listener) { l.OnTimeSourceChange(source, stratum, offset) })
}

// NopListener implements Listener with no-ops, for embedding.
type NopListener struct{}

func (NopListener) OnMessage(NodeId, []byte)                        {}
func (NopListener) OnNodeEvent(NodeId, bool)                        {}
func (NopListener) OnRouteChange(NodeId, NodeId)                    {}
func (NopListener) OnPartition(int)                                 {}
func (NopListener) OnTimeSourceChange(NodeId, uint8, time.Duration) {}
