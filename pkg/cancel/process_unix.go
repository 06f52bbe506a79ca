//go:build !windows

package cancel

import (
	"os"
	"syscall"
)

// processAlive reports whether pid is still alive by sending signal 0,
// which performs permission/existence checks without actually
// signalling the process.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
