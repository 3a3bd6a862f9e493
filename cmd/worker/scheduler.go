package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type job struct {
	name       string
	spec       string
	runOnStart bool
	run        func(ctx context.Context) error
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

type scheduler struct {
	cron    *cron.Cron
	startup []cron.Job
	wg      sync.WaitGroup
}

// newScheduler registers jobs on a cron scheduler. A job never overlaps with
// itself; a tick that finds it still running is skipped. Jobs see ctx, so
// cancelling it stops in-flight work.
func newScheduler(ctx context.Context, jobs []job) (*scheduler, error) {
	logger := cronLogger{}
	s := &scheduler{cron: cron.New(cron.WithLogger(logger))}

	for _, j := range jobs {
		wrapped := cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)).
			Then(cron.FuncJob(func() { runJob(ctx, j) }))

		_, err := s.cron.AddJob(j.spec, wrapped)
		if err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", j.name, j.spec, err)
		}

		slog.Info("job scheduled", "job", j.name, "spec", j.spec)

		if j.runOnStart {
			s.startup = append(s.startup, wrapped)
		}
	}

	return s, nil
}

func (s *scheduler) Start() {
	for _, j := range s.startup {
		s.wg.Add(1)

		go func() {
			defer s.wg.Done()
			j.Run()
		}()
	}

	s.cron.Start()
}

// Stop prevents new runs and waits for running ones until ctx ends.
func (s *scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		<-s.cron.Stop().Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running jobs: %w", ctx.Err())
	}
}

func runJob(ctx context.Context, j job) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()

	err := j.run(ctx)
	if err != nil {
		slog.Error("job failed", "job", j.name, "duration", time.Since(start), "error", err)
		return
	}

	slog.Debug("job finished", "job", j.name, "duration", time.Since(start))
}
