package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

func explicitDuration(v time.Duration) Duration {
	return Duration{Duration: v, explicit: true}
}

// ByteSize is a size written as a human string such as "5MB" (binary units).
type ByteSize int64

// UnmarshalText parses sizes with docker/go-units.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := units.RAMInBytes(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", string(text), err)
	}
	*b = ByteSize(size)
	return nil
}

// MarshalText renders the size in binary units.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(units.BytesSize(float64(b))), nil
}

// Config mirrors the botshell.yaml document structure.
type Config struct {
	Backend BackendSpec `yaml:"backend" json:"backend"`
	Launch  LaunchSpec  `yaml:"launch" json:"launch"`
	Logging LoggingSpec `yaml:"logging" json:"logging"`
	API     APISpec     `yaml:"api" json:"api"`
	Watch   WatchSpec   `yaml:"watch" json:"watch"`

	// Warnings collects ignored environment overrides for the caller to log.
	Warnings []string `yaml:"-" json:"-"`
}

// BackendSpec configures how the supervised backend is reached and started.
type BackendSpec struct {
	URL       string `yaml:"url" json:"url"`
	AutoStart *bool  `yaml:"autoStart" json:"autoStart"`
	// StartupTimeout nil selects the launch mode default.
	StartupTimeout    *Duration         `yaml:"startupTimeout" json:"startupTimeout,omitempty"`
	PingTimeout       Duration          `yaml:"pingTimeout" json:"pingTimeout"`
	BridgePingTimeout Duration          `yaml:"bridgePingTimeout" json:"bridgePingTimeout"`
	StopTimeout       Duration          `yaml:"stopTimeout" json:"stopTimeout"`
	EnvFile           string            `yaml:"envFile" json:"envFile,omitempty"`
	Env               map[string]string `yaml:"-" json:"-"`
}

// LaunchSpec feeds the launch plan resolver.
type LaunchSpec struct {
	Command       string `yaml:"command" json:"command,omitempty"`
	ResourceDir   string `yaml:"resourceDir" json:"resourceDir,omitempty"`
	WorkspaceRoot string `yaml:"workspaceRoot" json:"workspaceRoot,omitempty"`
}

// LoggingSpec configures the operational log and backend log rotation.
type LoggingSpec struct {
	Format           string   `yaml:"format" json:"format"`
	Level            string   `yaml:"level" json:"level"`
	Path             string   `yaml:"path" json:"path,omitempty"`
	MaxSize          ByteSize `yaml:"maxSize" json:"maxSize"`
	BackendMaxSize   ByteSize `yaml:"backendMaxSize" json:"backendMaxSize"`
	Backups          int      `yaml:"backups" json:"backups"`
	RotationInterval Duration `yaml:"rotationInterval" json:"rotationInterval"`
}

// APISpec configures the loopback control server.
type APISpec struct {
	Address string `yaml:"address" json:"address"`
}

// WatchSpec tunes the liveness watch loop.
type WatchSpec struct {
	Interval         Duration `yaml:"interval" json:"interval"`
	Timeout          Duration `yaml:"timeout" json:"timeout"`
	SuccessThreshold int      `yaml:"successThreshold" json:"successThreshold"`
	FailureThreshold int      `yaml:"failureThreshold" json:"failureThreshold"`
}

const (
	DefaultBackendURL  = "http://127.0.0.1:6185/"
	DefaultAPIAddress  = "127.0.0.1:6190"
	DefaultPingTimeout = 800 * time.Millisecond
	DefaultStopTimeout = 10 * time.Second

	defaultMaxSize          ByteSize = 5 * 1024 * 1024
	defaultBackendMaxSize   ByteSize = 20 * 1024 * 1024
	defaultBackups                   = 5
	defaultRotationInterval          = 20 * time.Second
	defaultWatchInterval             = 5 * time.Second
	defaultWatchFailures             = 3
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	_ = cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() error {
	if strings.TrimSpace(c.Backend.URL) == "" {
		c.Backend.URL = DefaultBackendURL
	}
	if c.Backend.AutoStart == nil {
		enabled := true
		c.Backend.AutoStart = &enabled
	}
	if !c.Backend.PingTimeout.IsSet() {
		c.Backend.PingTimeout = explicitDuration(DefaultPingTimeout)
	}
	if !c.Backend.BridgePingTimeout.IsSet() {
		c.Backend.BridgePingTimeout = c.Backend.PingTimeout
	}
	if !c.Backend.StopTimeout.IsSet() {
		c.Backend.StopTimeout = explicitDuration(DefaultStopTimeout)
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "auto"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = defaultMaxSize
	}
	if c.Logging.BackendMaxSize == 0 {
		c.Logging.BackendMaxSize = defaultBackendMaxSize
	}
	if c.Logging.Backups == 0 {
		c.Logging.Backups = defaultBackups
	}
	if !c.Logging.RotationInterval.IsSet() {
		c.Logging.RotationInterval = explicitDuration(defaultRotationInterval)
	}

	if strings.TrimSpace(c.API.Address) == "" {
		c.API.Address = DefaultAPIAddress
	}

	if !c.Watch.Interval.IsSet() {
		c.Watch.Interval = explicitDuration(defaultWatchInterval)
	}
	if !c.Watch.Timeout.IsSet() {
		c.Watch.Timeout = c.Backend.PingTimeout
	}
	if c.Watch.SuccessThreshold == 0 {
		c.Watch.SuccessThreshold = 1
	}
	if c.Watch.FailureThreshold == 0 {
		c.Watch.FailureThreshold = defaultWatchFailures
	}
	return nil
}

// Validate enforces document invariants.
func (c *Config) Validate() error {
	if c.Backend.PingTimeout.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("backend", "pingTimeout"))
	}
	if c.Backend.BridgePingTimeout.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("backend", "bridgePingTimeout"))
	}
	if c.Backend.StopTimeout.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("backend", "stopTimeout"))
	}
	if c.Backend.StartupTimeout != nil && c.Backend.StartupTimeout.Duration < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("backend", "startupTimeout"))
	}
	switch c.Logging.Format {
	case "auto", "json", "text":
	default:
		return fmt.Errorf("%s: unsupported format %q", fieldPath("logging", "format"), c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%s: unsupported level %q", fieldPath("logging", "level"), c.Logging.Level)
	}
	if c.Logging.MaxSize < 0 || c.Logging.BackendMaxSize < 0 {
		return fmt.Errorf("%s: sizes must be non-negative", fieldPath("logging"))
	}
	if c.Logging.Backups < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("logging", "backups"))
	}
	if c.Logging.RotationInterval.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("logging", "rotationInterval"))
	}
	if err := validateAddress(c.API.Address); err != nil {
		return fmt.Errorf("%s: %w", fieldPath("api", "address"), err)
	}
	if c.Watch.Interval.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("watch", "interval"))
	}
	if c.Watch.SuccessThreshold < 0 || c.Watch.FailureThreshold < 0 {
		return fmt.Errorf("%s: thresholds must be non-negative", fieldPath("watch"))
	}
	return nil
}

// AutoStartEnabled reports whether the startup path may spawn the backend.
func (c *Config) AutoStartEnabled() bool {
	return c.Backend.AutoStart == nil || *c.Backend.AutoStart
}

// StartupTimeout returns the configured startup timeout, or nil for the
// launch mode default.
func (c *Config) StartupTimeout() *time.Duration {
	if c.Backend.StartupTimeout == nil {
		return nil
	}
	d := c.Backend.StartupTimeout.Duration
	return &d
}

func validateAddress(address string) error {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", address, err)
	}
	if host == "" {
		return fmt.Errorf("invalid address %q: host must be specified", address)
	}
	// Port 0 binds an ephemeral port; "botshell run" prints the bound address.
	if _, err := nat.ParsePort(port); err != nil {
		return fmt.Errorf("invalid address %q: %w", address, err)
	}
	return nil
}

func fieldPath(parts ...string) string {
	return strings.Join(parts, ".")
}
