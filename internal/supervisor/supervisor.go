// Package supervisor owns the backend child on behalf of the host application.
// It runs the startup path and the restart protocol, and serializes spawn,
// restart and stop so that only one of them is in flight at a time.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Paintersrp/botshell/internal/api"
	"github.com/Paintersrp/botshell/internal/launch"
	"github.com/Paintersrp/botshell/internal/metrics"
	"github.com/Paintersrp/botshell/internal/process"
	"github.com/Paintersrp/botshell/internal/slogcompat"
)

const (
	DefaultPingTimeout = 800 * time.Millisecond

	gracefulPollInterval = 350 * time.Millisecond
	gracefulPingTimeout  = 700 * time.Millisecond
)

var errUnreachable = errors.New("backend unreachable")

// PlanResolver produces a fresh launch plan per attempt.
type PlanResolver interface {
	Resolve() (launch.Plan, error)
}

// ChildController owns the single backend child.
type ChildController interface {
	Spawn(plan launch.Plan) error
	WaitUntilReachable(ctx context.Context, plan launch.Plan, ping func() bool) error
	Stop(timeout time.Duration) error
	HasChild() bool
}

// Backend talks to the backend's HTTP surface.
type Backend interface {
	Ping(timeout time.Duration) bool
	StartTime() (int64, bool)
	RequestRestart(token string) (int, bool)
}

// Options configures a Supervisor. Zero durations select defaults.
type Options struct {
	Logger *slog.Logger
	// GOOS defaults to runtime.GOOS.
	GOOS              string
	PingTimeout       time.Duration
	BridgePingTimeout time.Duration
	StopTimeout       time.Duration
	// StartupTimeout nil selects the launch mode default.
	StartupTimeout   *time.Duration
	DisableAutoStart bool

	GracefulPollInterval time.Duration
	GracefulPingTimeout  time.Duration
}

// Supervisor is created once per process and shared by every entry point.
type Supervisor struct {
	resolver   PlanResolver
	controller ChildController
	backend    Backend
	opts       Options
	logger     *slog.Logger

	actionMu   sync.Mutex
	inflight   sync.WaitGroup
	quitting   atomic.Bool
	spawning   atomic.Bool
	restarting atomic.Bool
	stopping   atomic.Bool

	credMu     sync.Mutex
	credential *string

	// lifetime is canceled by Shutdown and bounds every action.
	lifetime       context.Context
	cancelLifetime context.CancelFunc
}

// New returns a Supervisor wired to its collaborators.
func New(resolver PlanResolver, controller ChildController, backend Backend, opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = slog.New(slogcompat.DiscardHandler)
	}
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = DefaultPingTimeout
	}
	if opts.BridgePingTimeout <= 0 {
		opts.BridgePingTimeout = opts.PingTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = process.GracefulStopTimeout
	}
	if opts.GracefulPollInterval <= 0 {
		opts.GracefulPollInterval = gracefulPollInterval
	}
	if opts.GracefulPingTimeout <= 0 {
		opts.GracefulPingTimeout = gracefulPingTimeout
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		resolver:       resolver,
		controller:     controller,
		backend:        backend,
		opts:           opts,
		logger:         opts.Logger.With("component", "supervisor"),
		lifetime:       lifetime,
		cancelLifetime: cancel,
	}
}

// IsRuntimePresent identifies an active supervisor.
func (s *Supervisor) IsRuntimePresent() bool { return true }

// State reports a live reachability probe alongside the action flags.
func (s *Supervisor) State() api.BackendState {
	canManage := s.controller.HasChild()
	if !canManage {
		_, err := s.resolver.Resolve()
		canManage = err == nil
	}
	return api.BackendState{
		Running:    s.ping(s.opts.BridgePingTimeout),
		Spawning:   s.spawning.Load(),
		Restarting: s.restarting.Load(),
		CanManage:  canManage,
	}
}

// SetCredential stores the bearer token used by graceful restarts. Blank
// tokens clear it.
func (s *Supervisor) SetCredential(token *string) {
	normalized := sanitizeCredential(token)
	s.credMu.Lock()
	s.credential = normalized
	s.credMu.Unlock()
}

func (s *Supervisor) storedCredential() *string {
	s.credMu.Lock()
	defer s.credMu.Unlock()
	return s.credential
}

func sanitizeCredential(token *string) *string {
	if token == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*token)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// Quitting reports whether Shutdown has begun.
func (s *Supervisor) Quitting() bool { return s.quitting.Load() }

// Probe implements probe.Prober over the reachability ping.
func (s *Supervisor) Probe(ctx context.Context) error {
	timeout := s.opts.PingTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.ping(timeout) {
		return errUnreachable
	}
	return nil
}

func (s *Supervisor) ping(timeout time.Duration) bool {
	start := time.Now()
	ok := s.backend.Ping(timeout)
	metrics.ObserveProbeLatency(time.Since(start))
	return ok
}

// EnsureReady is the startup path: it returns once the backend is reachable,
// spawning it first when auto-start is enabled.
func (s *Supervisor) EnsureReady(ctx context.Context) error {
	if s.ping(s.opts.PingTimeout) {
		s.logger.Info("backend already reachable, skip spawn")
		return nil
	}
	if s.opts.DisableAutoStart {
		s.logger.Warn("backend auto-start disabled")
		return ErrAutoStartDisabled
	}
	return s.runAction(ctx, "startup", &s.spawning, func(ctx context.Context) error {
		plan, err := s.resolver.Resolve()
		if err != nil {
			return err
		}
		return s.launch(ctx, plan)
	})
}

// Restart runs the restart protocol. A non-nil token replaces the stored
// credential first.
func (s *Supervisor) Restart(ctx context.Context, token *string) error {
	s.logger.Info("backend restart requested")
	return s.runAction(ctx, "restart", &s.restarting, func(ctx context.Context) error {
		return s.restart(ctx, token)
	})
}

func (s *Supervisor) restart(ctx context.Context, token *string) (err error) {
	strategy := "unresolved"
	defer func() { metrics.RecordRestart(strategy, err) }()

	plan, err := s.resolver.Resolve()
	if err != nil {
		return err
	}
	managed := s.controller.HasChild()
	chosen := ChooseStrategy(s.opts.GOOS, plan.Packaged, managed)
	strategy = chosen.String()

	credential := sanitizeCredential(token)
	if credential != nil {
		s.SetCredential(credential)
	} else {
		credential = s.storedCredential()
	}
	previous, hasPrevious := s.backend.StartTime()

	if chosen == ManagedSkipGraceful {
		s.logger.Info("skip graceful restart for packaged managed backend; using managed restart", "goos", s.opts.GOOS)
	} else {
		outcome := s.tryGracefulRestart(ctx, credential, previous, hasPrevious, plan.Packaged)
		// An interrupted wait proves nothing about the backend, so the
		// child is left running.
		if err := ctx.Err(); err != nil && outcome.Kind == GracefulWaitFailed {
			s.logger.Warn("graceful restart wait interrupted, keep current backend", "err", err)
			return fmt.Errorf("graceful restart wait interrupted: %w", err)
		}
		if done, err := s.followGracefulOutcome(chosen, outcome); done {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.controller.Stop(s.opts.StopTimeout); err != nil {
		return err
	}
	s.spawning.Store(true)
	defer s.spawning.Store(false)
	return s.launch(ctx, plan)
}

// followGracefulOutcome reports done when the restart ends with the graceful
// attempt, and false when restart falls back to a managed stop and respawn.
func (s *Supervisor) followGracefulOutcome(chosen Strategy, outcome GracefulOutcome) (bool, error) {
	switch chosen {
	case ManagedWithGracefulFallback:
		switch outcome.Kind {
		case GracefulCompleted:
			s.logger.Info("graceful restart completed via backend api")
			return true, nil
		case GracefulWaitFailed:
			s.logger.Warn("graceful restart did not complete, fallback to managed restart", "reason", outcome.Reason)
		case GracefulRequestRejected:
			s.logger.Warn("graceful restart request was rejected, fallback to managed restart")
		}
	case UnmanagedWithGracefulProbe:
		switch outcome.Kind {
		case GracefulCompleted:
			s.logger.Info("graceful restart completed via backend api")
			return true, nil
		case GracefulWaitFailed:
			s.logger.Warn("graceful restart did not complete for unmanaged backend, bootstrap managed restart", "reason", outcome.Reason)
		case GracefulRequestRejected:
			return true, ErrNotManaged
		}
	}
	return false, nil
}

// tryGracefulRestart asks the backend to restart itself and waits for proof.
// A response without a status line counts as accepted.
func (s *Supervisor) tryGracefulRestart(ctx context.Context, credential *string, previous int64, hasPrevious, packaged bool) GracefulOutcome {
	token := ""
	if credential != nil {
		token = *credential
	}
	status, ok := s.backend.RequestRestart(token)
	switch {
	case !ok:
		s.logger.Info("graceful restart request returned no HTTP status; will verify restart by polling backend")
	case status < 200 || status > 299:
		s.logger.Warn("graceful restart request rejected", "status", status)
		return GracefulOutcome{Kind: GracefulRequestRejected}
	}

	if err := s.waitForGracefulRestart(ctx, previous, hasPrevious, packaged); err != nil {
		return GracefulOutcome{Kind: GracefulWaitFailed, Reason: err.Error()}
	}
	return GracefulOutcome{Kind: GracefulCompleted}
}

// waitForGracefulRestart succeeds once the start time differs from previous,
// or, without a previous start time, once the backend has been seen down and
// reachable again.
func (s *Supervisor) waitForGracefulRestart(ctx context.Context, previous int64, hasPrevious, packaged bool) error {
	ceiling := process.WaitCeiling(s.opts.StartupTimeout, packaged)
	start := time.Now()
	sawDown := false

	for {
		if !s.ping(s.opts.GracefulPingTimeout) {
			sawDown = true
		} else {
			current, ok := s.backend.StartTime()
			switch {
			case hasPrevious && ok && current != previous:
				return nil
			case !hasPrevious && sawDown:
				return nil
			}
		}

		if time.Since(start) >= ceiling {
			return fmt.Errorf("timed out after %dms waiting for graceful restart", ceiling.Milliseconds())
		}

		timer := time.NewTimer(s.opts.GracefulPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Stop stops the owned child. A reachable backend this process does not own is
// left alone and reported.
func (s *Supervisor) Stop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.runAction(ctx, "stop", &s.stopping, func(context.Context) error {
		if s.controller.HasChild() {
			return s.controller.Stop(s.opts.StopTimeout)
		}
		if s.ping(s.opts.PingTimeout) {
			return ErrUnmanagedRunning
		}
		return nil
	})
}

// Shutdown marks the supervisor as quitting, cancels and waits for the
// action in flight, then stops the owned child. Later actions fail with
// ErrShuttingDown.
func (s *Supervisor) Shutdown() {
	s.actionMu.Lock()
	s.quitting.Store(true)
	s.actionMu.Unlock()
	s.cancelLifetime()
	s.inflight.Wait()
	if err := s.controller.Stop(s.opts.StopTimeout); err != nil {
		s.logger.Error("failed to stop backend on exit", "err", err)
	}
}

func (s *Supervisor) launch(ctx context.Context, plan launch.Plan) error {
	if s.quitting.Load() {
		return ErrShuttingDown
	}
	err := s.controller.Spawn(plan)
	metrics.RecordSpawn(err)
	if err != nil {
		return err
	}
	return s.controller.WaitUntilReachable(ctx, plan, func() bool {
		return s.ping(s.opts.PingTimeout)
	})
}

// beginAction claims flag unless any spawn, restart or stop is in flight or
// Shutdown has begun.
func (s *Supervisor) beginAction(flag *atomic.Bool) (func(), error) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()
	if s.quitting.Load() {
		return nil, ErrShuttingDown
	}
	if s.spawning.Load() || s.restarting.Load() || s.stopping.Load() {
		return nil, ErrActionInProgress
	}
	flag.Store(true)
	s.inflight.Add(1)
	return func() {
		flag.Store(false)
		s.inflight.Done()
	}, nil
}

// runAction runs fn on a context canceled by the caller or by Shutdown.
func (s *Supervisor) runAction(ctx context.Context, name string, flag *atomic.Bool, fn func(context.Context) error) (err error) {
	release, err := s.beginAction(flag)
	if err != nil {
		s.logger.Info("backend action rejected", "action", name, "err", err)
		return err
	}
	defer release()

	actionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopLink := context.AfterFunc(s.lifetime, cancel)
	defer stopLink()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("backend action panicked", "action", name, "panic", r)
			err = &ActionError{Action: name, Err: &RecoveredPanicError{Value: r, Stack: string(debug.Stack())}}
		}
	}()

	err = fn(actionCtx)
	if err != nil {
		s.logger.Error("backend action failed", "action", name, "err", err)
	}
	return err
}
