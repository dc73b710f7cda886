package cli

import (
	stdcontext "context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/botshell/internal/config"
	"github.com/Paintersrp/botshell/internal/launch"
	"github.com/Paintersrp/botshell/internal/logging"
	"github.com/Paintersrp/botshell/internal/probe"
	"github.com/Paintersrp/botshell/internal/process"
	"github.com/Paintersrp/botshell/internal/supervisor"
)

// EnvConfigPath names the configuration file when --config is not given.
const EnvConfigPath = "BOTSHELL_CONFIG"

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	ctx := &context{lookupEnv: os.LookupEnv}

	root := &cobra.Command{
		Use:   "botshell",
		Short: "Supervise the bot backend process",
	}

	defaultConfig, _ := ctx.lookupEnv(EnvConfigPath)
	root.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", defaultConfig, "Path to botshell.yaml (optional)")
	root.PersistentFlags().StringVar(&ctx.logFormat, "log-format", "", "Log format: auto, json or text")
	root.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&ctx.apiAddr, "api", "", "Control API address (overrides api.address)")

	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newPlanCmd(ctx))
	root.AddCommand(newStatusCmd(ctx))
	root.AddCommand(newRestartCmd(ctx))
	root.AddCommand(newStopCmd(ctx))
	root.AddCommand(newTokenCmd(ctx))
	root.AddCommand(newConfigCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

type context struct {
	configPath string
	logFormat  string
	logLevel   string
	apiAddr    string
	lookupEnv  func(string) (string, bool)
}

// loadConfig reads the configuration and applies command line overrides.
func (c *context) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configPath, c.lookupEnv)
	if err != nil {
		return nil, err
	}
	if c.logFormat != "" {
		cfg.Logging.Format = strings.ToLower(strings.TrimSpace(c.logFormat))
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.apiAddr != "" {
		cfg.API.Address = c.apiAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger writes to stderr and to the rotating desktop log.
func (c *context) newLogger(cfg *config.Config, stderr io.Writer) *slog.Logger {
	path := cfg.Logging.Path
	if path == "" {
		path = logging.DesktopLogPath(c.lookupEnv, os.UserHomeDir, os.TempDir)
	}
	file := logging.NewRotatingFile(path)
	file.MaxBytes = int64(cfg.Logging.MaxSize)
	file.Backups = cfg.Logging.Backups

	var terminal *os.File
	if f, ok := stderr.(*os.File); ok {
		terminal = f
	}
	format := logging.ResolveFormat(cfg.Logging.Format, terminal)
	return logging.NewLogger(format, cfg.Logging.Level, io.MultiWriter(stderr, file))
}

func (c *context) newResolver(cfg *config.Config) *launch.Resolver {
	return &launch.Resolver{
		LookupEnv:     c.lookupEnv,
		Command:       cfg.Launch.Command,
		ResourceDir:   resourceDir(cfg),
		WorkspaceRoot: workspaceRoot(cfg),
	}
}

func (c *context) newSupervisor(cfg *config.Config, logger *slog.Logger) (*supervisor.Supervisor, *probe.Client) {
	controller := process.NewController(process.Options{
		Logger:           logger,
		LookupEnv:        c.lookupEnv,
		StartupTimeout:   cfg.StartupTimeout(),
		LogMaxBytes:      int64(cfg.Logging.BackendMaxSize),
		LogBackups:       cfg.Logging.Backups,
		RotationInterval: cfg.Logging.RotationInterval.Duration,
		ExtraEnv:         cfg.Backend.Env,
	})
	client := probe.NewClient(cfg.Backend.URL)
	return supervisor.New(c.newResolver(cfg), controller, client, supervisor.Options{
		Logger:            logger,
		PingTimeout:       cfg.Backend.PingTimeout.Duration,
		BridgePingTimeout: cfg.Backend.BridgePingTimeout.Duration,
		StopTimeout:       cfg.Backend.StopTimeout.Duration,
		StartupTimeout:    cfg.StartupTimeout(),
		DisableAutoStart:  !cfg.AutoStartEnabled(),
	}), client
}

func resourceDir(cfg *config.Config) string {
	if cfg.Launch.ResourceDir != "" {
		return cfg.Launch.ResourceDir
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(exe), "resources")
}

func workspaceRoot(cfg *config.Config) string {
	if cfg.Launch.WorkspaceRoot != "" {
		return cfg.Launch.WorkspaceRoot
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// controlTimeout bounds client calls that do not wait on the backend.
const controlTimeout = 10 * time.Second
