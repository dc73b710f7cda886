package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/Paintersrp/botshell/internal/launch"
	"github.com/Paintersrp/botshell/internal/logrotate"
	"github.com/Paintersrp/botshell/internal/slogcompat"
)

const (
	// DefaultPollInterval is the startup reachability poll period.
	DefaultPollInterval = 600 * time.Millisecond
	// GracefulStopTimeout bounds a stop before it is reported as timed out.
	GracefulStopTimeout = 10 * time.Second

	exitPollInterval      = 120 * time.Millisecond
	packagedTimeoutFloor  = 5 * time.Minute
	developmentTimeout    = 20 * time.Second
	fallbackWaitCeiling   = 20 * time.Second
	backendLogPermissions = 0o644
)

var (
	ErrSpawn             = errors.New("spawn backend process")
	ErrExitedBeforeReady = errors.New("backend process exited before becoming reachable")
	ErrStartupTimeout    = errors.New("timed out waiting for backend startup")
	ErrStopTimedOut      = errors.New("backend process did not exit after graceful stop timeout")
	ErrNotRunning        = errors.New("backend process is not running")
)

// SpawnError reports an OS level failure to start the child.
type SpawnError struct {
	Command []string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn backend process with command %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

// StartupTimeout resolves how long to wait for a freshly spawned child. A nil
// configured value selects the mode default; zero means "default" for
// packaged plans and "forever" for development plans, reported as ok=false.
func StartupTimeout(configured *time.Duration, packaged bool) (time.Duration, bool) {
	timeout := developmentTimeout
	if packaged {
		timeout = 0
	}
	if configured != nil {
		timeout = *configured
	}
	if timeout > 0 {
		return timeout, true
	}
	if packaged {
		return packagedTimeoutFloor, true
	}
	return 0, false
}

// WaitCeiling is StartupTimeout with unbounded waits capped at 20s.
func WaitCeiling(configured *time.Duration, packaged bool) time.Duration {
	if timeout, ok := StartupTimeout(configured, packaged); ok {
		return timeout
	}
	return fallbackWaitCeiling
}

// Options configures a Controller. Zero values select process defaults.
type Options struct {
	Logger           *slog.Logger
	LookupEnv        func(string) (string, bool)
	Environ          func() []string
	HomeDir          func() (string, error)
	TempDir          func() string
	StartupTimeout   *time.Duration
	PollInterval     time.Duration
	LogMaxBytes      int64
	LogBackups       int
	RotationInterval time.Duration

	// ExtraEnv is layered over the inherited environment for the child.
	ExtraEnv map[string]string
}

type child struct {
	cmd     *exec.Cmd
	pid     int
	done    chan struct{}
	waitErr error
}

func (c *child) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *child) exitStatus() string {
	if c.cmd.ProcessState != nil {
		return c.cmd.ProcessState.String()
	}
	if c.waitErr != nil {
		return c.waitErr.Error()
	}
	return "unknown"
}

// Controller owns at most one backend child. It is safe for concurrent use.
type Controller struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	child  *child
	worker *logrotate.Worker
}

// NewController returns a controller with no child.
func NewController(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.New(slogcompat.DiscardHandler)
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if opts.Environ == nil {
		opts.Environ = os.Environ
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.LogMaxBytes <= 0 {
		opts.LogMaxBytes = logrotate.BackendMaxBytes
	}
	if opts.LogBackups <= 0 {
		opts.LogBackups = logrotate.DefaultBackups
	}
	return &Controller{opts: opts, logger: opts.Logger.With("component", "process")}
}

// Spawn starts the child described by plan. It is a no-op while a live child is
// owned; an owned child that has already exited is reaped first.
func (c *Controller) Spawn(plan launch.Plan) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.child != nil {
		if !c.child.exited() {
			c.logger.Info("backend child already exists, skip re-spawn", "pid", c.child.pid)
			return nil
		}
		c.logger.Info("reaped exited backend child", "pid", c.child.pid, "status", c.child.exitStatus())
		c.child = nil
	}

	if err := os.MkdirAll(plan.Dir, 0o755); err != nil {
		return fmt.Errorf("create backend cwd %s: %w", plan.Dir, err)
	}
	if plan.RootDir != "" {
		if err := os.MkdirAll(plan.RootDir, 0o755); err != nil {
			return fmt.Errorf("create backend root directory %s: %w", plan.RootDir, err)
		}
	}

	cmd := exec.Command(plan.Command, plan.Args...)
	cmd.Dir = plan.Dir
	cmd.Env = childEnv(plan, mergeEnv(c.opts.Environ(), c.opts.ExtraEnv), c.lookupEnv)
	configureCmdSysProcAttr(cmd, plan.Packaged)

	logPath := BackendLogPath(plan.RootDir, c.lookupEnv, c.opts.HomeDir, c.opts.TempDir)
	var logFile *os.File
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return fmt.Errorf("create backend log directory %s: %w", filepath.Dir(logPath), err)
		}
		logrotate.RotateIfNeeded(logPath, c.opts.LogMaxBytes, c.opts.LogBackups, "backend", false, c.opts.Logger)
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, backendLogPermissions)
		if err != nil {
			return fmt.Errorf("open backend log %s: %w", logPath, err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	} else {
		c.stopWorkerLocked()
	}

	err := cmd.Start()
	if logFile != nil {
		// The child holds its own descriptor.
		_ = logFile.Close()
	}
	if err != nil {
		return &SpawnError{Command: plan.DebugCommand(), Err: err}
	}

	ch := &child{cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		ch.waitErr = cmd.Wait()
		close(ch.done)
	}()
	c.child = ch
	c.logger.Info("spawned backend", "cmd", plan.DebugCommand(), "cwd", plan.Dir, "pid", ch.pid)

	c.stopWorkerLocked()
	if logPath != "" {
		c.worker = logrotate.StartWorker(logrotate.WorkerOptions{
			Path:     logPath,
			MaxBytes: c.opts.LogMaxBytes,
			Backups:  c.opts.LogBackups,
			Interval: c.opts.RotationInterval,
			Pid:      ch.pid,
			Alive:    c.Alive,
			Logger:   c.opts.Logger,
		})
	}
	return nil
}

func (c *Controller) lookupEnv(key string) (string, bool) {
	if value, ok := c.opts.ExtraEnv[key]; ok {
		return value, true
	}
	return c.opts.LookupEnv(key)
}

// WaitUntilReachable polls ping until it succeeds, the child exits or the
// startup timeout for plan elapses.
func (c *Controller) WaitUntilReachable(ctx context.Context, plan launch.Plan, ping func() bool) error {
	timeout, bounded := StartupTimeout(c.opts.StartupTimeout, plan.Packaged)
	start := time.Now()
	for {
		if ping() {
			return nil
		}

		c.mu.Lock()
		current := c.child
		if current == nil {
			c.mu.Unlock()
			return ErrNotRunning
		}
		if current.exited() {
			c.child = nil
			c.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrExitedBeforeReady, current.exitStatus())
		}
		c.mu.Unlock()

		if bounded && time.Since(start) >= timeout {
			return fmt.Errorf("%w after %dms", ErrStartupTimeout, timeout.Milliseconds())
		}

		timer := time.NewTimer(c.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Stop terminates the owned child gracefully and waits up to timeout for it to
// exit. The child slot is cleared only once the child is gone.
func (c *Controller) Stop(timeout time.Duration) error {
	c.mu.Lock()
	c.stopWorkerLocked()
	current := c.child
	c.mu.Unlock()
	if current == nil {
		return nil
	}

	if !current.exited() {
		if err := terminate(current.pid); err != nil {
			c.logger.Warn("graceful terminate failed", "pid", current.pid, "err", err)
		}
		if !waitForExit(current, timeout) {
			return fmt.Errorf("%w (%dms)", ErrStopTimedOut, timeout.Milliseconds())
		}
	}

	c.mu.Lock()
	if c.child == current {
		c.child = nil
	}
	c.mu.Unlock()
	c.logger.Info("backend stopped", "pid", current.pid, "status", current.exitStatus())
	return nil
}

func waitForExit(ch *child, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(exitPollInterval)
	defer ticker.Stop()
	for {
		if ch.exited() {
			return true
		}
		select {
		case <-ch.done:
			return true
		case <-deadline.C:
			return ch.exited()
		case <-ticker.C:
		}
	}
}

// HasChild reports whether a child is currently owned, running or not.
func (c *Controller) HasChild() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.child != nil
}

// Alive reports whether pid is the owned child and it is still running.
func (c *Controller) Alive(pid int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.child == nil || c.child.pid != pid {
		return false
	}
	if c.child.exited() {
		c.logger.Info("backend process exited, stop log rotator worker", "pid", pid, "status", c.child.exitStatus())
		return false
	}
	return true
}

func (c *Controller) stopWorkerLocked() {
	if c.worker != nil {
		c.worker.Stop()
		c.worker = nil
	}
}
