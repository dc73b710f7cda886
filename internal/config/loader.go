package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvBackendURL               = "ASTRBOT_BACKEND_URL"
	EnvBackendAutoStart         = "ASTRBOT_BACKEND_AUTO_START"
	EnvBackendTimeoutMS         = "ASTRBOT_BACKEND_TIMEOUT_MS"
	EnvBackendPingTimeoutMS     = "ASTRBOT_BACKEND_PING_TIMEOUT_MS"
	EnvBridgeBackendPingTimeout = "ASTRBOT_BRIDGE_BACKEND_PING_TIMEOUT_MS"
	EnvDesktopLogPath           = "ASTRBOT_DESKTOP_LOG_PATH"
	EnvAPIAddress               = "BOTSHELL_API_ADDR"
)

// Load reads the optional configuration file at path, applies environment
// overrides from lookup, then defaults, then validation. An empty path loads
// defaults and the environment only.
func Load(path string, lookup func(string) (string, bool)) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var cfg Config
	baseDir := ""
	if strings.TrimSpace(path) != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", absPath, err)
		}
		baseDir = filepath.Dir(absPath)
		path = absPath
	}

	applyEnv(&cfg, lookup)

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, withPath(path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, withPath(path, err)
	}

	if cfg.Backend.EnvFile != "" {
		expanded := os.ExpandEnv(cfg.Backend.EnvFile)
		if !filepath.IsAbs(expanded) && baseDir != "" {
			expanded = filepath.Clean(filepath.Join(baseDir, expanded))
		}
		cfg.Backend.EnvFile = expanded
		env, err := loadEnvFile(expanded)
		if err != nil {
			return nil, withPath(path, fmt.Errorf("%s: %w", fieldPath("backend", "envFile"), err))
		}
		cfg.Backend.Env = env
	}
	return &cfg, nil
}

func withPath(path string, err error) error {
	if path == "" {
		return err
	}
	return fmt.Errorf("%s: %w", path, err)
}

// decode validates the document against the JSON schema, then decodes it
// strictly into cfg.
func decode(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if raw != nil {
		if err := validateAgainstSchema(raw); err != nil {
			return err
		}
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvBackendURL); ok {
		cfg.Backend.URL = v
	}
	if v, ok := lookup(EnvBackendAutoStart); ok {
		enabled := strings.TrimSpace(v) != "0"
		cfg.Backend.AutoStart = &enabled
	}
	if v, ok := lookup(EnvBackendTimeoutMS); ok {
		if ms, err := strconv.ParseUint(strings.TrimSpace(v), 10, 63); err == nil {
			d := explicitDuration(time.Duration(ms) * time.Millisecond)
			cfg.Backend.StartupTimeout = &d
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("invalid %s=%q, using the launch mode default", EnvBackendTimeoutMS, v))
		}
	}
	if v, ok := lookup(EnvBackendPingTimeoutMS); ok {
		if d, ok := parsePositiveMillis(v); ok {
			cfg.Backend.PingTimeout = d
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("invalid %s=%q, fallback to configured ping timeout", EnvBackendPingTimeoutMS, v))
		}
	}
	if v, ok := lookup(EnvBridgeBackendPingTimeout); ok {
		if d, ok := parsePositiveMillis(v); ok {
			cfg.Backend.BridgePingTimeout = d
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("invalid %s=%q, fallback to ping timeout", EnvBridgeBackendPingTimeout, v))
		}
	}
	if v, ok := lookup(EnvDesktopLogPath); ok && strings.TrimSpace(v) != "" {
		cfg.Logging.Path = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvAPIAddress); ok && strings.TrimSpace(v) != "" {
		cfg.API.Address = strings.TrimSpace(v)
	}
}

func parsePositiveMillis(raw string) (Duration, bool) {
	ms, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 63)
	if err != nil || ms == 0 {
		return Duration{}, false
	}
	return explicitDuration(time.Duration(ms) * time.Millisecond), true
}

func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	values := make(map[string]string)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimSpace(strings.TrimPrefix(raw, "export "))
		key, value, found := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("load env file %q: invalid line %d", path, lineNo)
		}
		value = strings.TrimSpace(value)
		switch {
		case strings.HasPrefix(value, "\""):
			unquoted, err := strconv.Unquote(value)
			if err != nil {
				return nil, fmt.Errorf("load env file %q: parse value for %s on line %d: %w", path, key, lineNo, err)
			}
			value = unquoted
		case strings.HasPrefix(value, "'"):
			if len(value) < 2 || value[len(value)-1] != '\'' {
				return nil, fmt.Errorf("load env file %q: unmatched quote on line %d", path, lineNo)
			}
			value = value[1 : len(value)-1]
		default:
			if comment := strings.IndexRune(value, '#'); comment >= 0 {
				value = strings.TrimSpace(value[:comment])
			}
		}
		values[key] = os.ExpandEnv(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	return values, nil
}
