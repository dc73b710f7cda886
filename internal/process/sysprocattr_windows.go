//go:build windows

package process

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// Packaged children run fully in the background; development children keep
// their console for debugging.
func configureCmdSysProcAttr(cmd *exec.Cmd, packaged bool) {
	if !packaged {
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW | windows.CREATE_NEW_PROCESS_GROUP,
	}
}
