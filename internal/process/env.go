package process

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Paintersrp/botshell/internal/launch"
)

const (
	// EnvDesktopClient marks a child started by the packaged desktop shell.
	EnvDesktopClient = "ASTRBOT_DESKTOP_CLIENT"

	defaultDashboardHost = "127.0.0.1"
	defaultDashboardPort = "6185"
)

// childEnv derives the child's environment from base, applying the contract
// the backend expects from its host.
func childEnv(plan launch.Plan, base []string, lookup func(string) (string, bool)) []string {
	overrides := map[string]string{
		"PYTHONUNBUFFERED": "1",
		"PYTHONUTF8":       inheritOr(lookup, "PYTHONUTF8", "1"),
		"PYTHONIOENCODING": inheritOr(lookup, "PYTHONIOENCODING", "utf-8"),
	}
	if plan.Packaged {
		overrides[EnvDesktopClient] = "1"
		if !isSet(lookup, "DASHBOARD_HOST") && !isSet(lookup, "ASTRBOT_DASHBOARD_HOST") {
			overrides["DASHBOARD_HOST"] = defaultDashboardHost
		}
		if !isSet(lookup, "DASHBOARD_PORT") && !isSet(lookup, "ASTRBOT_DASHBOARD_PORT") {
			overrides["DASHBOARD_PORT"] = defaultDashboardPort
		}
	}
	if plan.RootDir != "" {
		overrides[launch.EnvRoot] = plan.RootDir
	}
	if plan.WebUIDir != "" {
		overrides[launch.EnvWebUIDir] = plan.WebUIDir
	}
	return mergeEnv(base, overrides)
}

func mergeEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, replaced := overrides[key]; replaced {
			continue
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, key+"="+overrides[key])
	}
	return env
}

func inheritOr(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok {
		return value
	}
	return fallback
}

func isSet(lookup func(string) (string, bool), key string) bool {
	_, ok := lookup(key)
	return ok
}

// BackendLogPath picks the file that receives the child's output: the plan's
// root, then ASTRBOT_ROOT, then the per-user root, then the temp directory.
func BackendLogPath(rootDir string, lookup func(string) (string, bool), homeDir func() (string, error), tempDir func() string) string {
	if rootDir != "" {
		return filepath.Join(rootDir, "logs", "backend.log")
	}
	if root, ok := lookup(launch.EnvRoot); ok {
		if root = strings.TrimSpace(root); root != "" {
			return filepath.Join(root, "logs", "backend.log")
		}
	}
	if homeDir == nil {
		homeDir = os.UserHomeDir
	}
	if home, err := homeDir(); err == nil && home != "" {
		return filepath.Join(home, ".astrbot", "logs", "backend.log")
	}
	if tempDir == nil {
		tempDir = os.TempDir
	}
	if tmp := tempDir(); tmp != "" {
		return filepath.Join(tmp, "astrbot", "logs", "backend.log")
	}
	return ""
}
