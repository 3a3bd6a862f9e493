// Package shutdownqueue is a process-wide LIFO queue of named cleanup tasks.
//
// Binaries register resources as they open them and drain the queue once at
// the end of main, so the last thing opened (usually the HTTP server or the
// worker loops) is the first thing stopped:
//
//	shutdownqueue.AddNamed("postgres", func(context.Context) error { return db.Close() })
//	...
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	err := shutdownqueue.Shutdown(ctx)
//
// Tasks run once. Panics are recovered and reported as errors. Every task is
// logged with its name and duration.
package shutdownqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Task should honor ctx and return an error if it can't finish.
type Task func(ctx context.Context) error

type entry struct {
	name string
	run  Task
}

type queue struct {
	mu      sync.Mutex
	entries []entry
	closed  bool
}

var q = &queue{entries: make([]entry, 0, 8)}

// Add registers an unnamed task. See AddNamed.
func Add(t Task) {
	q.mu.Lock()
	name := fmt.Sprintf("task #%d", len(q.entries)+1)
	q.mu.Unlock()

	AddNamed(name, t)
}

// AddNamed registers t to run on Shutdown. Nil tasks and tasks added after
// Shutdown started are ignored.
func AddNamed(name string, t Task) {
	if t == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		slog.Warn("shutdown already started, task ignored", "task", name)
		return
	}

	q.entries = append(q.entries, entry{name: name, run: t})
}

// Shutdown drains the queue in LIFO order and joins every task error.
// Repeated calls are no-ops. If ctx ends mid-drain the remaining tasks are
// skipped; the result names them and wraps ctx.Err().
func Shutdown(ctx context.Context) error {
	q.mu.Lock()

	if q.closed && len(q.entries) == 0 {
		q.mu.Unlock()
		return nil
	}

	q.closed = true
	entries := q.entries
	q.entries = nil

	q.mu.Unlock()

	var errs []error

	for i := len(entries) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			skipped := make([]string, 0, i+1)
			for j := i; j >= 0; j-- {
				skipped = append(skipped, entries[j].name)
			}

			slog.Error("shutdown deadline reached", "skipped", skipped)
			errs = append(errs, fmt.Errorf("shutdown canceled, skipped %s: %w", strings.Join(skipped, ", "), ctx.Err()))

			return errors.Join(errs...)
		}

		err := runEntry(ctx, entries[i])
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func runEntry(ctx context.Context, e entry) (err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in shutdown task %q: %v", e.name, r)
		}

		if err != nil {
			slog.Error("shutdown task failed", "task", e.name, "duration", time.Since(start), "error", err)
			return
		}

		slog.Info("shutdown task done", "task", e.name, "duration", time.Since(start))
	}()

	err = e.run(ctx)
	if err != nil {
		return fmt.Errorf("shutdown %s: %w", e.name, err)
	}

	return nil
}
