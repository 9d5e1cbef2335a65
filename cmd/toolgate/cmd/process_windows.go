//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// stillActive is the exit code GetExitCodeProcess reports for a running
// process.
const stillActive = 259

var shutdownSignals = []os.Signal{os.Interrupt}

func alive(pid int) bool {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	return windows.GetExitCodeProcess(h, &code) == nil && code == stillActive
}

// requestStop terminates pid outright. Windows has no SIGTERM, so records
// still queued in the stopped gateway's audit channel are lost.
func requestStop(pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	return windows.TerminateProcess(h, 1)
}
