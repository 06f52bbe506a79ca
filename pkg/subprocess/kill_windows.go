//go:build windows

package subprocess

import (
	"os/exec"
	"time"

	"golang.org/x/sys/windows"
)

// killForcefully terminates the child at the kernel level via
// TerminateProcess rather than relying on console signals, which a
// process blocked in USB-CDC driver I/O can ignore entirely.
func killForcefully(cmd *exec.Cmd, done <-chan error) {
	if cmd.Process == nil {
		return
	}

	handle, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(cmd.Process.Pid))
	if err == nil {
		_ = windows.TerminateProcess(handle, 1)
		_ = windows.CloseHandle(handle)
	} else {
		_ = cmd.Process.Kill()
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
	}
}
