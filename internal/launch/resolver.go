// Package launch decides which command starts the backend. A plan is resolved
// from, in order, an explicit command override, a packaged runtime manifest or
// a development source checkout.
package launch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/shlex"
)

const (
	EnvBackendCmd = "ASTRBOT_BACKEND_CMD"
	EnvBackendCwd = "ASTRBOT_BACKEND_CWD"
	EnvRoot       = "ASTRBOT_ROOT"
	EnvWebUIDir   = "ASTRBOT_WEBUI_DIR"
	EnvSourceDir  = "ASTRBOT_SOURCE_DIR"

	manifestResource = "backend/runtime-manifest.json"
	webUIResource    = "webui/index.html"
	defaultEntry     = "launch_backend.py"
)

// Plan describes how to start the backend child.
type Plan struct {
	Command  string
	Args     []string
	Dir      string
	RootDir  string // empty when no data root applies
	WebUIDir string // empty when no web UI directory applies
	Packaged bool
}

// DebugCommand returns the full argv for log output.
func (p Plan) DebugCommand() []string {
	parts := make([]string, 0, len(p.Args)+1)
	parts = append(parts, p.Command)
	return append(parts, p.Args...)
}

// Resolver produces launch plans. It has no side effects and is safe for
// concurrent use; the environment is consulted on every call.
type Resolver struct {
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(key string) (string, bool)
	// Command is a configured override consulted when ASTRBOT_BACKEND_CMD is unset.
	Command string
	// ResourceDir holds bundled runtime resources. Empty disables packaged mode.
	ResourceDir string
	// WorkspaceRoot anchors development source discovery.
	WorkspaceRoot string
	// HomeDir defaults to os.UserHomeDir.
	HomeDir func() (string, error)
	// GOOS defaults to runtime.GOOS.
	GOOS string
}

type runtimeManifest struct {
	Python     *string `json:"python"`
	Entrypoint *string `json:"entrypoint"`
}

// Resolve returns the first plan that applies.
func (r *Resolver) Resolve() (Plan, error) {
	if override, ok := r.env(EnvBackendCmd); ok {
		return r.resolveOverride(override)
	}
	if override := strings.TrimSpace(r.Command); override != "" {
		return r.resolveOverride(override)
	}

	plan, ok, err := r.resolvePackaged()
	if err != nil {
		return Plan{}, err
	}
	if ok {
		return plan, nil
	}
	return r.resolveDevelopment()
}

func (r *Resolver) resolveOverride(raw string) (Plan, error) {
	pieces, err := shlex.Split(raw)
	if err != nil {
		return Plan{}, newResolutionError(CodeInvalidOverride, "", err, "invalid %s %q", EnvBackendCmd, raw)
	}
	if len(pieces) == 0 {
		return Plan{}, newResolutionError(CodeInvalidOverride, "", nil, "%s is empty", EnvBackendCmd)
	}

	dir, ok := r.env(EnvBackendCwd)
	if !ok {
		if source, found := r.detectSourceRoot(); found {
			dir = source
		} else {
			dir = r.workspaceRoot()
		}
	}
	root, _ := r.env(EnvRoot)
	webUI, _ := r.env(EnvWebUIDir)

	return Plan{
		Command:  pieces[0],
		Args:     pieces[1:],
		Dir:      dir,
		RootDir:  root,
		WebUIDir: webUI,
	}, nil
}

func (r *Resolver) resolvePackaged() (Plan, bool, error) {
	manifestPath, ok := r.resourcePath(manifestResource)
	if !ok {
		return Plan{}, false, nil
	}
	if info, err := os.Stat(manifestPath); err != nil || !info.Mode().IsRegular() {
		return Plan{}, false, nil
	}
	backendDir := filepath.Dir(manifestPath)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return Plan{}, false, newResolutionError(CodeInvalidManifest, manifestPath, err, "read packaged backend manifest")
	}
	var manifest runtimeManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Plan{}, false, newResolutionError(CodeInvalidManifest, manifestPath, err, "parse packaged backend manifest")
	}

	interpreter := r.defaultInterpreter()
	if manifest.Python != nil {
		interpreter = filepath.FromSlash(*manifest.Python)
	}
	interpreter = joinRelative(backendDir, interpreter)
	if !isFile(interpreter) {
		return Plan{}, false, newResolutionError(CodeMissingInterpreter, interpreter, nil, "packaged runtime interpreter is missing")
	}

	entrypoint := defaultEntry
	if manifest.Entrypoint != nil {
		entrypoint = filepath.FromSlash(*manifest.Entrypoint)
	}
	entrypoint = joinRelative(backendDir, entrypoint)
	if !isFile(entrypoint) {
		return Plan{}, false, newResolutionError(CodeMissingEntrypoint, entrypoint, nil, "packaged backend entrypoint is missing")
	}

	root, ok := r.env(EnvRoot)
	if !ok {
		root = r.defaultPackagedRoot()
	}
	dir, ok := r.env(EnvBackendCwd)
	if !ok {
		dir = root
		if dir == "" {
			dir = backendDir
		}
	}
	webUI, ok := r.env(EnvWebUIDir)
	if !ok {
		if index, found := r.resourcePath(webUIResource); found {
			webUI = filepath.Dir(index)
		}
	}

	return Plan{
		Command:  interpreter,
		Args:     []string{entrypoint},
		Dir:      dir,
		RootDir:  root,
		WebUIDir: webUI,
		Packaged: true,
	}, true, nil
}

func (r *Resolver) resolveDevelopment() (Plan, error) {
	source, ok := r.detectSourceRoot()
	if !ok {
		return Plan{}, newResolutionError(CodeSourceNotFound, "", nil,
			"cannot locate backend source directory; set %s", EnvSourceDir)
	}

	args := []string{"run", "main.py"}
	webUI, ok := r.env(EnvWebUIDir)
	if !ok {
		candidate := filepath.Join(source, "dashboard", "dist")
		if isFile(filepath.Join(candidate, "index.html")) {
			webUI = candidate
		}
	}
	if webUI != "" {
		args = append(args, "--webui-dir", webUI)
	}

	dir, ok := r.env(EnvBackendCwd)
	if !ok {
		dir = source
	}
	root, _ := r.env(EnvRoot)

	return Plan{
		Command:  "uv",
		Args:     args,
		Dir:      dir,
		RootDir:  root,
		WebUIDir: webUI,
	}, nil
}

func (r *Resolver) detectSourceRoot() (string, bool) {
	if dir, ok := r.env(EnvSourceDir); ok && isSourceRoot(dir) {
		return canonical(dir), true
	}
	workspace := r.workspaceRoot()
	candidates := []string{
		filepath.Join(workspace, "vendor", "AstrBot"),
		filepath.Join(workspace, "AstrBot"),
		workspace,
	}
	for _, candidate := range candidates {
		if isSourceRoot(candidate) {
			return canonical(candidate), true
		}
	}
	return "", false
}

// resourcePath looks for rel under the resource directory and then under the
// updater's _up_/resources layout.
func (r *Resolver) resourcePath(rel string) (string, bool) {
	if r.ResourceDir == "" {
		return "", false
	}
	rel = filepath.FromSlash(rel)
	for _, candidate := range []string{
		filepath.Join(r.ResourceDir, rel),
		filepath.Join(r.ResourceDir, "_up_", "resources", rel),
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

// defaultPackagedRoot returns the per-user data root, or "" when the home
// directory is unknown.
func (r *Resolver) defaultPackagedRoot() string {
	homeDir := r.HomeDir
	if homeDir == nil {
		homeDir = os.UserHomeDir
	}
	home, err := homeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".astrbot")
}

func (r *Resolver) defaultInterpreter() string {
	goos := r.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	if goos == "windows" {
		return filepath.Join("python", "Scripts", "python.exe")
	}
	return filepath.Join("python", "bin", "python3")
}

func (r *Resolver) workspaceRoot() string {
	if r.WorkspaceRoot != "" {
		return r.WorkspaceRoot
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// env returns the trimmed value of key; blank values count as unset.
func (r *Resolver) env(key string) (string, bool) {
	lookup := r.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	value, ok := lookup(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func joinRelative(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func isSourceRoot(dir string) bool {
	if !isFile(filepath.Join(dir, "main.py")) {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, "astrbot"))
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}
