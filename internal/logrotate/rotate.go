// Package logrotate keeps log files under a size ceiling by shifting them into
// numbered backups (path.1 being the newest).
package logrotate

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/Paintersrp/botshell/internal/slogcompat"
)

const (
	// DefaultBackups is the number of numbered backups retained.
	DefaultBackups = 5
	// BackendMaxBytes is the size ceiling of the backend child's log.
	BackendMaxBytes int64 = 20 * 1024 * 1024
	// DesktopMaxBytes is the size ceiling of the supervisor's own log.
	DesktopMaxBytes int64 = 5 * 1024 * 1024
)

// BackupPath returns the path of the index-th backup of path.
func BackupPath(path string, index int) string {
	return fmt.Sprintf("%s.%d", path, index)
}

// RotateIfNeeded rotates path when it is at least maxBytes long. With
// copyTruncate the active file is copied into path.1 and truncated in place,
// which keeps a writer holding the file open valid; otherwise it is renamed.
// Failures are logged and never returned.
func RotateIfNeeded(path string, maxBytes int64, backups int, scope string, copyTruncate bool, logger *slog.Logger) {
	if maxBytes <= 0 || backups <= 0 {
		return
	}
	if logger == nil {
		logger = slog.New(slogcompat.DiscardHandler)
	}
	logger = logger.With("component", "logrotate", "scope", scope, "path", path)

	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("read log metadata failed", "err", err)
		}
		return
	}
	if info.Size() < maxBytes {
		return
	}

	oldest := BackupPath(path, backups)
	removeIfExists(logger, oldest, "remove oldest backup failed")

	for index := backups - 1; index >= 1; index-- {
		source := BackupPath(path, index)
		if _, err := os.Stat(source); err != nil {
			continue
		}
		target := BackupPath(path, index+1)
		removeIfExists(logger, target, "remove backup failed")
		if err := os.Rename(source, target); err != nil {
			logger.Warn("shift backup failed", "from", source, "to", target, "err", err)
		}
	}

	first := BackupPath(path, 1)
	removeIfExists(logger, first, "remove first backup failed")

	if copyTruncate {
		if err := copyFile(path, first); err != nil {
			logger.Warn("copy active log failed", "to", first, "err", err)
			return
		}
		if err := os.Truncate(path, 0); err != nil {
			logger.Warn("truncate active log failed", "err", err)
		}
		return
	}
	if err := os.Rename(path, first); err != nil {
		logger.Warn("rotate active log failed", "to", first, "err", err)
	}
}

func removeIfExists(logger *slog.Logger, path, msg string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn(msg, "backup", path, "err", err)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
