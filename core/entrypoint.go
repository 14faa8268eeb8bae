package core

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"reflect"
	"runtime"
	"syscall"
	"time"

	"github.com/bramblemesh/bramble/perf"
	"github.com/bramblemesh/bramble/state"
	"github.com/bramblemesh/bramble/storage"
	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
)

func buildLogger(ncfg *state.NodeCfg, logLevel slog.Level) (*slog.Logger, error) {
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        logLevel,
			AddSource:    false,
			CustomPrefix: ncfg.Name,
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	if ncfg.LogPath != "" {
		err := os.MkdirAll(path.Dir(ncfg.LogPath), 0700)
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(ncfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0700)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel}))
	}

	return slog.New(slogmulti.Fanout(handlers...)), nil
}

// New assembles a mesh instance around the given radio but does not start
// the dispatch loop. Multiple independent instances may coexist in one
// process, which is what the simulation harness relies on.
func New(mcfg state.MeshCfg, ncfg state.NodeCfg, radio Radio, logLevel slog.Level) (*state.State, <-chan func(*state.State) error, error) {
	if err := state.NodeConfigValidator(&ncfg); err != nil {
		return nil, nil, err
	}
	if err := state.MeshConfigValidator(&mcfg); err != nil {
		return nil, nil, err
	}
	mcfg.ApplyIntervals()

	ctx, cancel := context.WithCancelCause(context.Background())
	dispatch := make(chan func(s *state.State) error, 128)

	logger, err := buildLogger(&ncfg, logLevel)
	if err != nil {
		cancel(err)
		return nil, nil, err
	}

	s := &state.State{
		Modules: make(map[string]state.MeshModule),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: dispatch,
			MeshCfg:         mcfg,
			NodeCfg:         ncfg,
			Log:             logger,
			Listeners:       state.NewNotifier(),
			Stats:           &state.NetworkStats{},
		},
	}

	if err := initModules(s, radio); err != nil {
		cancel(err)
		return nil, nil, err
	}

	if ncfg.DataDir != "" {
		if err := attachJournal(s); err != nil {
			cancel(err)
			return nil, nil, err
		}
	}
	return s, dispatch, nil
}

// attachJournal opens the on-disk event journal and subscribes it to mesh
// events, plus a periodic stats snapshot row.
func attachJournal(s *state.State) error {
	if err := os.MkdirAll(s.NodeCfg.DataDir, 0700); err != nil {
		return err
	}
	j, err := storage.Open(s.NodeCfg.DataDir)
	if err != nil {
		return err
	}
	s.Log.Debug("event journal opened", "session", j.Session())
	s.Listeners.Register(&storage.Recorder{Journal: j, Log: s.Log})
	s.RepeatTask(func(s *state.State) error {
		if err := j.RecordSnapshot(s.Stats.Snapshot()); err != nil {
			s.Log.Warn("journal write failed", "table", "stats_snapshots", "error", err)
		}
		return nil
	}, state.SnapshotInterval)
	go func() {
		<-s.Context.Done()
		j.Close()
	}()
	return nil
}

// Start runs a node until its context is cancelled or a signal arrives.
func Start(mcfg state.MeshCfg, ncfg state.NodeCfg, radio Radio, logLevel slog.Level) error {
	s, dispatch, err := New(mcfg, ncfg, radio, logLevel)
	if err != nil {
		return err
	}

	s.Log.Info("bramble initialized, send SIGINT or Ctrl+C to exit",
		"node", ncfg.Id, "network", mcfg.Network)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
			s.Cancel(errors.New("received shutdown signal"))
		case <-s.Context.Done():
		}
	}()

	return MainLoop(s, dispatch)
}

func initModules(s *state.State, radio Radio) error {
	modules := []state.MeshModule{
		&Router{},
		&Discovery{},
		&TimeKeeper{},
		&Mesh{radio: radio},
	}

	for _, module := range modules {
		s.Modules[reflect.TypeOf(module).String()] = module
		if err := module.Init(s); err != nil {
			return err
		}
	}
	return nil
}

func MainLoop(s *state.State, dispatch <-chan func(*state.State) error) error {
	s.Log.Debug("started main loop")
	for {
		select {
		case fun := <-dispatch:
			if fun == nil {
				goto endLoop
			}
			start := time.Now()
			err := fun(s)
			if err != nil {
				s.Log.Error("error occurred during dispatch", "error", err)
				s.Cancel(err)
			}
			elapsed := time.Since(start)
			perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
			if elapsed > time.Millisecond*10 {
				s.Log.Warn("dispatch took a long time!",
					"fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(),
					"elapsed", elapsed)
			}
		case <-s.Context.Done():
			goto endLoop
		}
	}
endLoop:
	s.Log.Info("stopped main loop", "reason", context.Cause(s.Context).Error())
	Stop(s)
	return nil
}

func Stop(s *state.State) {
	s.Cancel(context.Canceled)
	s.Log.Info("cleaning up modules")
	for moduleName, module := range s.Modules {
		err := module.Cleanup(s)
		if err != nil {
			s.Log.Error("error occurred during cleanup", "module", moduleName, "error", err)
		}
	}
	s.Log.Info("stopped")
}

// Get retrieves a module instance from the state by type.
func Get[T state.MeshModule](s *state.State) T {
	t := reflect.TypeFor[T]()
	return s.Modules[t.String()].(T)
}
