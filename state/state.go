package state

import (
	"context"
	"log/slog"
)

type MeshModule interface {
	Init(s *State) error
	Cleanup(s *State) error
}

// State access must be done only on the dispatch Goroutine
type State struct {
	*Env
	Modules map[string]MeshModule
}

// Env can be read from any Goroutine
type Env struct {
	DispatchChannel chan<- func(s *State) error
	MeshCfg
	NodeCfg
	Context   context.Context
	Cancel    context.CancelCauseFunc
	Log       *slog.Logger
	Listeners *Notifier
	Stats     *NetworkStats
}

// Self reports whether id refers to this node.
func (e *Env) Self(id NodeId) bool {
	return id == e.NodeCfg.Id
}
