//go:build !windows

package cmd

import (
	"errors"
	"os"
	"syscall"
)

// shutdownSignals end start and stdio cleanly: SIGINT from a terminal,
// SIGTERM from the stop command or a supervisor.
var shutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// alive probes pid with signal 0. EPERM means the process exists but belongs
// to another user.
func alive(pid int) bool {
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// requestStop asks pid to shut down. The gateway drains its audit queue on
// SIGTERM before exiting.
func requestStop(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}
