package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	apihttp "github.com/Paintersrp/botshell/internal/api/http"
	"github.com/Paintersrp/botshell/internal/config"
	"github.com/Paintersrp/botshell/internal/metrics"
	"github.com/Paintersrp/botshell/internal/probe"
	"github.com/Paintersrp/botshell/internal/supervisor"
)

var newAPIServer = apihttp.NewServer

func newRunCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the backend and supervise it until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			logger := ctx.newLogger(cfg, cmd.ErrOrStderr())
			for _, warning := range cfg.Warnings {
				logger.Warn(warning)
			}

			sup, client := ctx.newSupervisor(cfg, logger)
			defer sup.Shutdown()
			return runSupervisor(cmd, cfg, sup, client.URL(), logger)
		},
	}
	return cmd
}

func runSupervisor(cmd *cobra.Command, cfg *config.Config, sup *supervisor.Supervisor, backendURL string, logger *slog.Logger) error {
	runCtx := cmd.Context()
	if runCtx == nil {
		runCtx = stdcontext.Background()
	}

	if err := sup.EnsureReady(runCtx); err != nil {
		logger.Error("backend startup failed", "err", err)
		return fmt.Errorf("backend startup failed: %w", err)
	}
	logger.Info("backend ready", "url", backendURL)
	metrics.SetBackendReachable(true)

	server, err := newAPIServer(apihttp.Config{Addr: cfg.API.Address, Controller: sup})
	if err != nil {
		return err
	}
	if err := server.Listen(); err != nil {
		return fmt.Errorf("control api: %w", err)
	}
	serverCtx, cancel := stdcontext.WithCancel(runCtx)
	defer cancel()
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Run(serverCtx)
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "Control API listening on %s\n", server.Addr())

	events := probe.Watch(serverCtx, sup, probe.WatchOptions{
		Interval:         cfg.Watch.Interval.Duration,
		Timeout:          cfg.Watch.Timeout.Duration,
		SuccessThreshold: cfg.Watch.SuccessThreshold,
		FailureThreshold: cfg.Watch.FailureThreshold,
	}, time.Now)

	for {
		select {
		case <-runCtx.Done():
			logger.Info("shutdown requested")
			cancel()
			return serverResult(<-serverErr)
		case err := <-serverErr:
			if err := serverResult(err); err != nil {
				return fmt.Errorf("control api: %w", err)
			}
			return nil
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			metrics.SetBackendReachable(evt.Status == probe.StatusReady)
			if sup.Quitting() {
				continue
			}
			switch evt.Status {
			case probe.StatusReady:
				logger.Info("backend reachable", "reason", evt.Reason)
			case probe.StatusUnready:
				logger.Warn("backend unreachable", "reason", evt.Reason, "err", evt.Err)
			}
		}
	}
}

func serverResult(err error) error {
	if err == nil || errors.Is(err, stdcontext.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
