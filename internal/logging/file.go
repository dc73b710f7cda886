package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Paintersrp/botshell/internal/logrotate"
)

const (
	// EnvDesktopLogPath overrides the operational log location.
	EnvDesktopLogPath = "ASTRBOT_DESKTOP_LOG_PATH"

	desktopLogFile = "desktop.log"
)

// DesktopLogPath resolves the operational log file: ASTRBOT_DESKTOP_LOG_PATH,
// then $ASTRBOT_ROOT/logs, then ~/.astrbot/logs, then the temp directory.
func DesktopLogPath(lookup func(string) (string, bool), homeDir func() (string, error), tempDir func() string) string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if custom, ok := lookup(EnvDesktopLogPath); ok {
		if custom = strings.TrimSpace(custom); custom != "" {
			return custom
		}
	}
	if root, ok := lookup("ASTRBOT_ROOT"); ok {
		if root = strings.TrimSpace(root); root != "" {
			return filepath.Join(root, "logs", desktopLogFile)
		}
	}
	if homeDir == nil {
		homeDir = os.UserHomeDir
	}
	if home, err := homeDir(); err == nil && home != "" {
		return filepath.Join(home, ".astrbot", "logs", desktopLogFile)
	}
	if tempDir == nil {
		tempDir = os.TempDir
	}
	return filepath.Join(tempDir(), "astrbot", "logs", desktopLogFile)
}

// RotatingFile appends every write to a file, rotating it first once it has
// reached MaxBytes. Rotation copies the file to the first backup and truncates
// it in place, so other handles on the same path stay valid. Writes never fail: a file that cannot be opened is
// skipped silently, so logging never interrupts supervision.
type RotatingFile struct {
	Path     string
	MaxBytes int64
	Backups  int

	mu sync.Mutex
}

// NewRotatingFile returns a writer for path using the desktop log limits.
func NewRotatingFile(path string) *RotatingFile {
	return &RotatingFile{
		Path:     path,
		MaxBytes: logrotate.DesktopMaxBytes,
		Backups:  logrotate.DefaultBackups,
	}
}

func (f *RotatingFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_ = os.MkdirAll(filepath.Dir(f.Path), 0o755)
	logrotate.RotateIfNeeded(f.Path, f.MaxBytes, f.Backups, "desktop", true, nil)
	file, err := os.OpenFile(f.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return len(p), nil
	}
	defer file.Close()
	_, _ = file.Write(p)
	return len(p), nil
}
