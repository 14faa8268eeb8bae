package state

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestEnv(t *testing.T) (*State, chan func(*State) error) {
	ctx, cancel := context.WithCancelCause(context.Background())
	ch := make(chan func(*State) error, 16)
	s := &State{Env: &Env{
		Context:         ctx,
		Cancel:          cancel,
		DispatchChannel: ch,
	}}
	t.Cleanup(func() { cancel(context.Canceled) })
	go func() {
		for {
			select {
			case fun := <-ch:
				_ = fun(s)
			case <-ctx.Done():
				return
			}
		}
	}()
	return s, ch
}

func TestDispatchWaitReturnsResult(t *testing.T) {
	s, _ := newTestEnv(t)

	res, err := s.DispatchWait(func(st *State) (any, error) {
		return 42, nil
	})
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if res != 42 {
		t.Errorf("Expected 42, got %v", res)
	}

	wantErr := errors.New("boom")
	_, err = s.DispatchWait(func(st *State) (any, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected boom, got %v", err)
	}
}

func TestDispatchAfterCancelDoesNotBlock(t *testing.T) {
	s, _ := newTestEnv(t)
	s.Cancel(errors.New("stopped"))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Dispatch(func(st *State) error { return nil })
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Expected dispatch to drop work after cancellation, but it blocked")
	}
}

func TestScheduleTask(t *testing.T) {
	s, _ := newTestEnv(t)

	ran := make(chan struct{})
	s.ScheduleTask(func(st *State) error {
		close(ran)
		return nil
	}, 10*time.Millisecond)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Error("Expected scheduled task to run")
	}
}
