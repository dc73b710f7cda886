package launch

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func makeSourceRoot(t *testing.T, dir string) string {
	t.Helper()
	writeFile(t, filepath.Join(dir, "main.py"), "print('hi')\n")
	if err := os.MkdirAll(filepath.Join(dir, "astrbot"), 0o755); err != nil {
		t.Fatalf("mkdir astrbot: %v", err)
	}
	return canonical(dir)
}

func makePackagedResources(t *testing.T, base string) string {
	t.Helper()
	backend := filepath.Join(base, "backend")
	writeFile(t, filepath.Join(backend, "runtime-manifest.json"), `{"python":"py/bin/python","entrypoint":"start.py"}`)
	writeFile(t, filepath.Join(backend, "py", "bin", "python"), "")
	writeFile(t, filepath.Join(backend, "start.py"), "")
	return backend
}

func noHome() (string, error) { return "", errors.New("no home") }

func TestResolveOverride(t *testing.T) {
	cwd := t.TempDir()
	resolver := &Resolver{
		LookupEnv: envMap(map[string]string{
			EnvBackendCmd: `  python "my app.py" --flag  `,
			EnvBackendCwd: cwd,
			EnvRoot:       "/data/root",
			EnvWebUIDir:   "/data/webui",
		}),
		ResourceDir: t.TempDir(),
		HomeDir:     noHome,
	}

	plan, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	want := Plan{
		Command:  "python",
		Args:     []string{"my app.py", "--flag"},
		Dir:      cwd,
		RootDir:  "/data/root",
		WebUIDir: "/data/webui",
	}
	if !reflect.DeepEqual(plan, want) {
		t.Fatalf("unexpected plan\n got: %#v\nwant: %#v", plan, want)
	}
}

func TestResolveOverrideWinsOverPackaged(t *testing.T) {
	resources := t.TempDir()
	makePackagedResources(t, resources)
	resolver := &Resolver{
		LookupEnv:     envMap(map[string]string{EnvBackendCmd: "node server.js"}),
		ResourceDir:   resources,
		WorkspaceRoot: t.TempDir(),
		HomeDir:       noHome,
	}
	plan, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if plan.Packaged || plan.Command != "node" {
		t.Fatalf("expected override plan, got %#v", plan)
	}
}

func TestResolveOverrideDirFallsBackToSourceThenWorkspace(t *testing.T) {
	workspace := t.TempDir()
	resolver := &Resolver{
		LookupEnv:     envMap(map[string]string{EnvBackendCmd: "run-backend"}),
		WorkspaceRoot: workspace,
		HomeDir:       noHome,
	}
	plan, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if plan.Dir != workspace {
		t.Fatalf("expected workspace dir %s, got %s", workspace, plan.Dir)
	}

	source := makeSourceRoot(t, filepath.Join(workspace, "vendor", "AstrBot"))
	plan, err = resolver.Resolve()
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if plan.Dir != source {
		t.Fatalf("expected source dir %s, got %s", source, plan.Dir)
	}
}

func TestResolveConfiguredCommandUsedWhenEnvUnset(t *testing.T) {
	resolver := &Resolver{
		LookupEnv:     envMap(nil),
		Command:       "bin/backend --port 1",
		WorkspaceRoot: t.TempDir(),
		HomeDir:       noHome,
	}
	plan, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if plan.Command != "bin/backend" || !reflect.DeepEqual(plan.Args, []string{"--port", "1"}) {
		t.Fatalf("unexpected plan %#v", plan)
	}
}

func TestResolveOverrideInvalid(t *testing.T) {
	resolver := &Resolver{LookupEnv: envMap(map[string]string{EnvBackendCmd: `python "unterminated`})}
	_, err := resolver.Resolve()
	if !errors.Is(err, ErrInvalidOverride) {
		t.Fatalf("expected ErrInvalidOverride, got %v", err)
	}
	var resErr *ResolutionError
	if !errors.As(err, &resErr) || resErr.Code != CodeInvalidOverride {
		t.Fatalf("expected resolution error with code, got %#v", err)
	}
}

func TestResolvePackaged(t *testing.T) {
	resources := t.TempDir()
	backend := makePackagedResources(t, resources)
	writeFile(t, filepath.Join(resources, "webui", "index.html"), "<html></html>")
	home := t.TempDir()

	resolver := &Resolver{
		LookupEnv:     envMap(nil),
		ResourceDir:   resources,
		WorkspaceRoot: t.TempDir(),
		HomeDir:       func() (string, error) { return home, nil },
	}
	plan, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	want := Plan{
		Command:  filepath.Join(backend, "py", "bin", "python"),
		Args:     []string{filepath.Join(backend, "start.py")},
		Dir:      filepath.Join(home, ".astrbot"),
		RootDir:  filepath.Join(home, ".astrbot"),
		WebUIDir: filepath.Join(resources, "webui"),
		Packaged: true,
	}
	if !reflect.DeepEqual(plan, want) {
		t.Fatalf("unexpected plan\n got: %#v\nwant: %#v", plan, want)
	}
}

func TestResolvePackagedUpdaterLayoutAndDefaults(t *testing.T) {
	resources := t.TempDir()
	backend := filepath.Join(resources, "_up_", "resources", "backend")
	writeFile(t, filepath.Join(backend, "runtime-manifest.json"), `{}`)
	writeFile(t, filepath.Join(backend, "python", "bin", "python3"), "")
	writeFile(t, filepath.Join(backend, "launch_backend.py"), "")

	resolver := &Resolver{
		LookupEnv:   envMap(nil),
		ResourceDir: resources,
		HomeDir:     noHome,
		GOOS:        "linux",
	}
	plan, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if plan.Command != filepath.Join(backend, "python", "bin", "python3") {
		t.Fatalf("unexpected interpreter %s", plan.Command)
	}
	if plan.RootDir != "" || plan.Dir != backend {
		t.Fatalf("expected manifest dir as cwd without root, got dir=%s root=%s", plan.Dir, plan.RootDir)
	}
	if plan.WebUIDir != "" {
		t.Fatalf("expected no webui dir, got %s", plan.WebUIDir)
	}
}

func TestResolvePackagedEnvOverrides(t *testing.T) {
	resources := t.TempDir()
	makePackagedResources(t, resources)
	resolver := &Resolver{
		LookupEnv: envMap(map[string]string{
			EnvRoot:       "/srv/root",
			EnvBackendCwd: "/srv/cwd",
			EnvWebUIDir:   "/srv/webui",
		}),
		ResourceDir: resources,
		HomeDir:     noHome,
	}
	plan, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if plan.RootDir != "/srv/root" || plan.Dir != "/srv/cwd" || plan.WebUIDir != "/srv/webui" {
		t.Fatalf("env overrides not applied: %#v", plan)
	}
}

func TestResolvePackagedFailures(t *testing.T) {
	tests := map[string]struct {
		setup func(t *testing.T, backend string)
		want  error
	}{
		"invalid manifest": {
			setup: func(t *testing.T, backend string) {
				writeFile(t, filepath.Join(backend, "runtime-manifest.json"), `{not json`)
			},
			want: ErrInvalidManifest,
		},
		"missing interpreter": {
			setup: func(t *testing.T, backend string) {
				writeFile(t, filepath.Join(backend, "runtime-manifest.json"), `{"python":"nope"}`)
			},
			want: ErrMissingInterpreter,
		},
		"missing entrypoint": {
			setup: func(t *testing.T, backend string) {
				writeFile(t, filepath.Join(backend, "runtime-manifest.json"), `{"python":"py"}`)
				writeFile(t, filepath.Join(backend, "py"), "")
			},
			want: ErrMissingEntrypoint,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			resources := t.TempDir()
			tc.setup(t, filepath.Join(resources, "backend"))
			resolver := &Resolver{LookupEnv: envMap(nil), ResourceDir: resources, HomeDir: noHome}
			_, err := resolver.Resolve()
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestResolveDevelopment(t *testing.T) {
	workspace := t.TempDir()
	source := makeSourceRoot(t, filepath.Join(workspace, "AstrBot"))

	resolver := &Resolver{
		LookupEnv:     envMap(map[string]string{EnvRoot: "/data"}),
		ResourceDir:   t.TempDir(),
		WorkspaceRoot: workspace,
		HomeDir:       noHome,
	}
	plan, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	want := Plan{Command: "uv", Args: []string{"run", "main.py"}, Dir: source, RootDir: "/data"}
	if !reflect.DeepEqual(plan, want) {
		t.Fatalf("unexpected plan\n got: %#v\nwant: %#v", plan, want)
	}

	dist := filepath.Join(source, "dashboard", "dist")
	writeFile(t, filepath.Join(dist, "index.html"), "")
	plan, err = resolver.Resolve()
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !reflect.DeepEqual(plan.Args, []string{"run", "main.py", "--webui-dir", dist}) {
		t.Fatalf("expected webui dir argument, got %v", plan.Args)
	}
	if plan.WebUIDir != dist {
		t.Fatalf("expected webui dir %s, got %s", dist, plan.WebUIDir)
	}
}

func TestResolveDevelopmentSourceDirEnv(t *testing.T) {
	source := makeSourceRoot(t, t.TempDir())
	resolver := &Resolver{
		LookupEnv: envMap(map[string]string{
			EnvSourceDir: "  " + source + "  ",
			EnvWebUIDir:  "/ui",
		}),
		WorkspaceRoot: t.TempDir(),
		HomeDir:       noHome,
	}
	plan, err := resolver.Resolve()
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if plan.Dir != source {
		t.Fatalf("expected source dir %s, got %s", source, plan.Dir)
	}
	if !reflect.DeepEqual(plan.Args, []string{"run", "main.py", "--webui-dir", "/ui"}) {
		t.Fatalf("unexpected args %v", plan.Args)
	}
}

func TestResolveDevelopmentNotFound(t *testing.T) {
	resolver := &Resolver{LookupEnv: envMap(nil), WorkspaceRoot: t.TempDir(), HomeDir: noHome}
	_, err := resolver.Resolve()
	if !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
}

func TestDebugCommand(t *testing.T) {
	plan := Plan{Command: "uv", Args: []string{"run", "main.py"}}
	if got := plan.DebugCommand(); !reflect.DeepEqual(got, []string{"uv", "run", "main.py"}) {
		t.Fatalf("unexpected debug command %v", got)
	}
}
