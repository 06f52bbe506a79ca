//go:build windows

package singleton

import "golang.org/x/sys/windows"

// processAlive reports whether pid is still alive by attempting to open
// it and checking its exit code, since Windows has no signal-0
// equivalent.
func processAlive(pid int) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	return exitCode == uint32(259) // STILL_ACTIVE
}
