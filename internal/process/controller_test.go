//go:build !windows

package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Paintersrp/botshell/internal/launch"
)

func shellPlan(t *testing.T, script string) launch.Plan {
	t.Helper()
	root := t.TempDir()
	return launch.Plan{
		Command: "/bin/sh",
		Args:    []string{"-c", script},
		Dir:     filepath.Join(root, "work"),
		RootDir: filepath.Join(root, "data"),
	}
}

func newTestController(t *testing.T, configured *time.Duration) *Controller {
	t.Helper()
	c := NewController(Options{
		LookupEnv:      lookupFrom(nil),
		Environ:        func() []string { return []string{"PATH=" + os.Getenv("PATH")} },
		HomeDir:        func() (string, error) { return "", errors.New("no home") },
		StartupTimeout: configured,
		PollInterval:   20 * time.Millisecond,
	})
	t.Cleanup(func() {
		if pid := childPid(c); pid != 0 {
			_ = unix.Kill(-pid, unix.SIGKILL)
		}
	})
	return c
}

func childPid(c *Controller) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.child == nil {
		return 0
	}
	return c.child.pid
}

func waitForContent(t *testing.T, path, want string) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		data, _ := os.ReadFile(path)
		if strings.Contains(string(data), want) {
			return string(data)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q in %s (have %q)", want, path, data)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSpawnWritesEnvironmentAndOutputToBackendLog(t *testing.T) {
	plan := shellPlan(t, `echo "env=$PYTHONUNBUFFERED:$PYTHONIOENCODING:$ASTRBOT_DESKTOP_CLIENT:$DASHBOARD_PORT:$ASTRBOT_ROOT"; echo err >&2; exec sleep 30`)
	plan.Packaged = true
	c := newTestController(t, nil)

	if err := c.Spawn(plan); err != nil {
		t.Fatalf("Spawn returned error: %v", err)
	}
	if !c.HasChild() || childPid(c) == 0 {
		t.Fatalf("expected owned child after spawn")
	}
	if info, err := os.Stat(plan.Dir); err != nil || !info.IsDir() {
		t.Fatalf("expected working directory to be created: %v", err)
	}

	logPath := filepath.Join(plan.RootDir, "logs", "backend.log")
	content := waitForContent(t, logPath, "err")
	want := "env=1:utf-8:1:6185:" + plan.RootDir
	if !strings.Contains(content, want) {
		t.Fatalf("expected %q in backend log, got %q", want, content)
	}

	if err := c.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if c.HasChild() {
		t.Fatalf("expected child slot cleared after stop")
	}
}

func TestSpawnLayersExtraEnvironment(t *testing.T) {
	plan := shellPlan(t, `echo "extra=$BOT_MODE:$DASHBOARD_PORT"; exec sleep 30`)
	plan.Packaged = true
	c := newTestController(t, nil)
	c.opts.ExtraEnv = map[string]string{"BOT_MODE": "desk", "DASHBOARD_PORT": "7000"}

	if err := c.Spawn(plan); err != nil {
		t.Fatalf("Spawn returned error: %v", err)
	}
	waitForContent(t, filepath.Join(plan.RootDir, "logs", "backend.log"), "extra=desk:7000")
}

func TestSpawnIsNoOpWhileChildAlive(t *testing.T) {
	plan := shellPlan(t, "exec sleep 30")
	c := newTestController(t, nil)

	if err := c.Spawn(plan); err != nil {
		t.Fatalf("Spawn returned error: %v", err)
	}
	first := childPid(c)
	if err := c.Spawn(plan); err != nil {
		t.Fatalf("second Spawn returned error: %v", err)
	}
	if childPid(c) != first {
		t.Fatalf("expected pid %d to be kept, got %d", first, childPid(c))
	}
	if !c.Alive(first) || c.Alive(first+100000) {
		t.Fatalf("Alive must match only the owned running child")
	}
}

func TestSpawnReapsExitedChild(t *testing.T) {
	plan := shellPlan(t, "exit 3")
	c := newTestController(t, nil)

	if err := c.Spawn(plan); err != nil {
		t.Fatalf("Spawn returned error: %v", err)
	}
	first := childPid(c)
	waitUntil(t, func() bool { return !c.Alive(first) })
	if !c.HasChild() {
		t.Fatalf("exited child stays owned until reaped")
	}

	plan.Args = []string{"-c", "exec sleep 30"}
	if err := c.Spawn(plan); err != nil {
		t.Fatalf("Spawn returned error: %v", err)
	}
	if childPid(c) == first || !c.Alive(childPid(c)) {
		t.Fatalf("expected a fresh running child after reap")
	}
}

func TestSpawnFailure(t *testing.T) {
	plan := shellPlan(t, "")
	plan.Command = filepath.Join(t.TempDir(), "missing-binary")
	c := newTestController(t, nil)

	err := c.Spawn(plan)
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) || spawnErr.Command[0] != plan.Command {
		t.Fatalf("expected spawn error carrying the command, got %#v", err)
	}
	if c.HasChild() {
		t.Fatalf("failed spawn must not leave a child")
	}
}

func TestWaitUntilReachable(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		c := newTestController(t, nil)
		plan := shellPlan(t, "exec sleep 30")
		if err := c.Spawn(plan); err != nil {
			t.Fatalf("Spawn returned error: %v", err)
		}
		calls := 0
		err := c.WaitUntilReachable(context.Background(), plan, func() bool {
			calls++
			return calls >= 3
		})
		if err != nil {
			t.Fatalf("WaitUntilReachable returned error: %v", err)
		}
	})

	t.Run("exited before ready", func(t *testing.T) {
		c := newTestController(t, nil)
		plan := shellPlan(t, "exit 7")
		if err := c.Spawn(plan); err != nil {
			t.Fatalf("Spawn returned error: %v", err)
		}
		err := c.WaitUntilReachable(context.Background(), plan, func() bool { return false })
		if !errors.Is(err, ErrExitedBeforeReady) {
			t.Fatalf("expected ErrExitedBeforeReady, got %v", err)
		}
		if !strings.Contains(err.Error(), "7") {
			t.Fatalf("expected exit status in error, got %v", err)
		}
		if c.HasChild() {
			t.Fatalf("expected exited child to be cleared")
		}
	})

	t.Run("not running", func(t *testing.T) {
		c := newTestController(t, nil)
		err := c.WaitUntilReachable(context.Background(), launch.Plan{}, func() bool { return false })
		if !errors.Is(err, ErrNotRunning) {
			t.Fatalf("expected ErrNotRunning, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		timeout := 100 * time.Millisecond
		c := newTestController(t, &timeout)
		plan := shellPlan(t, "exec sleep 30")
		if err := c.Spawn(plan); err != nil {
			t.Fatalf("Spawn returned error: %v", err)
		}
		start := time.Now()
		err := c.WaitUntilReachable(context.Background(), plan, func() bool { return false })
		if !errors.Is(err, ErrStartupTimeout) {
			t.Fatalf("expected ErrStartupTimeout, got %v", err)
		}
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Fatalf("timeout took too long: %s", elapsed)
		}
	})

	t.Run("unbounded wait honours context", func(t *testing.T) {
		zero := time.Duration(0)
		c := newTestController(t, &zero)
		plan := shellPlan(t, "exec sleep 30")
		if err := c.Spawn(plan); err != nil {
			t.Fatalf("Spawn returned error: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
		defer cancel()
		err := c.WaitUntilReachable(ctx, plan, func() bool { return false })
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected context deadline, got %v", err)
		}
	})
}

func TestStopWithoutChild(t *testing.T) {
	c := newTestController(t, nil)
	if err := c.Stop(time.Second); err != nil {
		t.Fatalf("Stop without child returned error: %v", err)
	}
}

func TestStopTimesOutWhenChildIgnoresTerm(t *testing.T) {
	plan := shellPlan(t, `trap '' TERM; echo trapped; while :; do sleep 0.05; done`)
	c := newTestController(t, nil)
	if err := c.Spawn(plan); err != nil {
		t.Fatalf("Spawn returned error: %v", err)
	}
	waitForContent(t, filepath.Join(plan.RootDir, "logs", "backend.log"), "trapped")

	err := c.Stop(300 * time.Millisecond)
	if !errors.Is(err, ErrStopTimedOut) {
		t.Fatalf("expected ErrStopTimedOut, got %v", err)
	}
	if !c.HasChild() {
		t.Fatalf("child must remain owned after a timed out stop")
	}
}
