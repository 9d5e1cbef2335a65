package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running toolgate server",
	Long: `Stop a running toolgate server.

The PID recorded by "toolgate start" in ~/.toolgate/server.pid is asked to
shut down and the server flushes queued audit records before it exits. If it
is still running after --timeout it is killed.

Examples:
  toolgate stop
  toolgate stop --timeout 30s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := stopper{pidPath: pidFilePath(), poll: 200 * time.Millisecond, timeout: stopTimeout, out: cmd.ErrOrStderr()}
		return s.stop()
	},
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 10*time.Second, "How long to wait for a graceful exit")
	rootCmd.AddCommand(stopCmd)
}

var errNotRunning = errors.New("toolgate server is not running")

// stopper stops the process recorded in a PID file.
type stopper struct {
	pidPath string
	poll    time.Duration
	timeout time.Duration
	out     io.Writer
}

func (s stopper) stop() error {
	pid := readPIDFile(s.pidPath)
	if pid == 0 {
		return fmt.Errorf("%w: no PID file at %s", errNotRunning, s.pidPath)
	}
	if !alive(pid) {
		os.Remove(s.pidPath)
		return fmt.Errorf("%w: process %d has exited (stale PID file removed)", errNotRunning, pid)
	}

	fmt.Fprintf(s.out, "Stopping toolgate server (PID %d)...\n", pid)
	if err := requestStop(pid); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	deadline := time.Now().Add(s.timeout)
	for time.Now().Before(deadline) {
		time.Sleep(s.poll)
		if !alive(pid) {
			os.Remove(s.pidPath)
			fmt.Fprintln(s.out, "Server stopped.")
			return nil
		}
	}

	fmt.Fprintln(s.out, "Server did not stop in time, killing it.")
	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Kill()
	}
	os.Remove(s.pidPath)
	return nil
}
