package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewScheduler_RejectsBadSpec(t *testing.T) {
	t.Parallel()

	_, err := newScheduler(t.Context(), []job{{
		name: "broken",
		spec: "every minute please",
		run:  func(context.Context) error { return nil },
	}})
	if err == nil {
		t.Fatalf("expected error for invalid spec")
	}
}

func TestNewScheduler_RunOnStart(t *testing.T) {
	t.Parallel()

	ran := make(chan struct{}, 1)

	c, err := newScheduler(t.Context(), []job{{
		name:       "settle",
		spec:       "0 2 * * *",
		runOnStart: true,
		run: func(context.Context) error {
			ran <- struct{}{}
			return errors.New("job errors are logged, not fatal")
		},
	}})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	c.Start()
	defer func() { _ = c.Stop(context.Background()) }()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not run on start")
	}
}

func TestNewScheduler_SkipsOverlappingRuns(t *testing.T) {
	t.Parallel()

	var (
		running atomic.Int32
		maxSeen atomic.Int32
		runs    atomic.Int32
	)

	release := make(chan struct{})

	c, err := newScheduler(t.Context(), []job{{
		name:       "payouts",
		spec:       "@every 1s",
		runOnStart: true,
		run: func(context.Context) error {
			n := running.Add(1)
			defer running.Add(-1)

			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}

			runs.Add(1)
			<-release

			return nil
		},
	}})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	c.Start()

	// Two ticks pass while the first run is blocked.
	time.Sleep(2500 * time.Millisecond)
	close(release)

	err = c.Stop(t.Context())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}

	if maxSeen.Load() != 1 {
		t.Fatalf("job overlapped itself: %d concurrent runs", maxSeen.Load())
	}

	if runs.Load() < 1 {
		t.Fatalf("job never ran")
	}
}

func TestRunJob_SkipsAfterCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	called := false

	runJob(ctx, job{name: "late", run: func(context.Context) error {
		called = true
		return nil
	}})

	if called {
		t.Fatalf("job must not start after cancel")
	}
}
