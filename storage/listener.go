package storage

import (
	"log/slog"
	"time"

	"github.com/bramblemesh/bramble/state"
)

// Recorder adapts a Journal to the mesh event listener interface. Writes
// happen on the dispatch goroutine; SQLite in WAL mode keeps inserts cheap
// enough for the event rates a field node sees.
type Recorder struct {
	state.NopListener
	Journal *Journal
	Log     *slog.Logger
}

func (r *Recorder) OnNodeEvent(node state.NodeId, joined bool) {
	if err := r.Journal.NodeEvent(node, joined); err != nil {
		r.Log.Warn("journal write failed", "table", "node_events", "error", err)
	}
}

func (r *Recorder) OnRouteChange(dest, nextHop state.NodeId) {
	if err := r.Journal.RouteChange(dest, nextHop); err != nil {
		r.Log.Warn("journal write failed", "table", "route_changes", "error", err)
	}
}

func (r *Recorder) OnPartition(components int) {
	if err := r.Journal.Partition(components); err != nil {
		r.Log.Warn("journal write failed", "table", "partitions", "error", err)
	}
}

func (r *Recorder) OnTimeSourceChange(source state.NodeId, stratum uint8, offset time.Duration) {
	if err := r.Journal.TimeSourceChange(source, stratum, offset); err != nil {
		r.Log.Warn("journal write failed", "table", "time_source_changes", "error", err)
	}
}
