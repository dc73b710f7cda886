package probe

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status captures the liveness condition surfaced by Watch.
type Status string

const (
	// StatusUnknown is used internally to track transitions and is not
	// emitted on the public channel.
	StatusUnknown Status = "unknown"
	// StatusReady indicates that the backend has satisfied the configured
	// success threshold.
	StatusReady Status = "ready"
	// StatusUnready indicates that the backend has exceeded the configured
	// failure threshold.
	StatusUnready Status = "unready"
)

// Event describes a liveness transition emitted by Watch.
type Event struct {
	Status Status
	Reason string
	Err    error
	At     time.Time
}

// Prober defines the behaviour required by the Watch loop.
type Prober interface {
	Probe(ctx context.Context) error
}

// WatchOptions tunes the Watch loop. Thresholds below one are treated as one;
// a zero Interval probes back to back.
type WatchOptions struct {
	Interval         time.Duration
	Timeout          time.Duration
	SuccessThreshold int
	FailureThreshold int
}

// threshold folds consecutive probe results into ready/unready transitions.
type threshold struct {
	needSuccesses int
	needFailures  int
	successes     int
	failures      int
	current       Status
}

func newThreshold(opts WatchOptions) *threshold {
	return &threshold{
		needSuccesses: max(opts.SuccessThreshold, 1),
		needFailures:  max(opts.FailureThreshold, 1),
		current:       StatusUnknown,
	}
}

// observe records one result and reports the new status when it changed.
func (t *threshold) observe(err error) (Status, bool) {
	if err == nil {
		t.successes, t.failures = t.successes+1, 0
		if t.successes >= t.needSuccesses && t.current != StatusReady {
			t.current = StatusReady
			return t.current, true
		}
		return t.current, false
	}
	t.successes, t.failures = 0, t.failures+1
	if t.failures >= t.needFailures && t.current != StatusUnready {
		t.current = StatusUnready
		return t.current, true
	}
	return t.current, false
}

// Watch probes the backend until ctx is cancelled and emits an Event for each
// ready/unready transition. The channel closes when the loop exits.
func Watch(ctx context.Context, prober Prober, opts WatchOptions, nowFn func() time.Time) <-chan Event {
	events := make(chan Event, 1)
	if ctx == nil || prober == nil {
		close(events)
		return events
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	go func() {
		defer close(events)
		state := newThreshold(opts)
		for {
			err := probeOnce(ctx, prober, opts.Timeout)
			if ctx.Err() != nil {
				return
			}
			if status, changed := state.observe(err); changed {
				event := Event{Status: status, At: nowFn()}
				if err != nil {
					event.Reason, event.Err = err.Error(), err
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
			if !sleepCtx(ctx, opts.Interval) {
				return
			}
		}
	}()
	return events
}

// probeOnce bounds a single probe by timeout and rewrites its deadline error.
func probeOnce(ctx context.Context, prober Prober, timeout time.Duration) error {
	if timeout <= 0 {
		return prober.Probe(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := prober.Probe(attemptCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timeout after %s", timeout)
	}
	return err
}

// sleepCtx waits for d and reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
