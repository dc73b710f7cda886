package logrotate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Paintersrp/botshell/internal/slogcompat"
)

// DefaultCheckInterval is how often a Worker inspects the active log.
const DefaultCheckInterval = 20 * time.Second

// WorkerOptions configures a Worker bound to a single child process.
type WorkerOptions struct {
	Path     string
	MaxBytes int64
	Backups  int
	Interval time.Duration
	Pid      int
	// Alive reports whether pid is still the owned, running child.
	Alive  func(pid int) bool
	Logger *slog.Logger
}

// Worker periodically rotates a child's log with copy-truncate semantics until
// it is stopped or the child it was started for goes away.
type Worker struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartWorker launches the rotation loop in its own goroutine.
func StartWorker(opts WorkerOptions) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultCheckInterval
	}
	if opts.Backups <= 0 {
		opts.Backups = DefaultBackups
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slogcompat.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{cancel: cancel, done: make(chan struct{})}
	go w.run(ctx, opts)
	return w
}

func (w *Worker) run(ctx context.Context, opts WorkerOptions) {
	defer close(w.done)
	scope := fmt.Sprintf("backend(pid=%d)", opts.Pid)
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}
		if opts.Alive != nil && !opts.Alive(opts.Pid) {
			opts.Logger.Info("child gone, stopping log rotation", "pid", opts.Pid)
			return
		}
		RotateIfNeeded(opts.Path, opts.MaxBytes, opts.Backups, scope, true, opts.Logger)
	}
}

// Stop signals the worker to exit. It does not wait; use Done for that.
func (w *Worker) Stop() {
	if w == nil {
		return
	}
	w.once.Do(w.cancel)
}

// Done is closed once the worker goroutine has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}
