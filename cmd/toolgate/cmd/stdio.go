package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/toolgate/internal/adapter/inbound/stdio"
	"github.com/Sentinel-Gate/toolgate/internal/config"
)

// credentialEnv holds the credential for stdio mode. A flag would expose it
// in the process list.
const credentialEnv = "TOOLGATE_CREDENTIAL"

var stdioAgentID string

var stdioCmd = &cobra.Command{
	Use:   "stdio --agent <id>",
	Short: "Serve one agent endpoint over stdin/stdout",
	Long: `Serve one agent endpoint over newline-delimited JSON-RPC on stdin/stdout.

MCP clients that launch their servers as subprocesses can start toolgate
this way. Every message is authenticated with the credential in the
` + credentialEnv + ` environment variable and handled exactly like a request
to POST /v1/mcp/{agentID}. Logs go to stderr.

Examples:
  TOOLGATE_CREDENTIAL=tgk_... toolgate stdio --agent support-bot`,
	Args: cobra.NoArgs,
	RunE: runStdio,
}

func init() {
	stdioCmd.Flags().StringVar(&stdioAgentID, "agent", "", "agent endpoint to serve (required)")
	_ = stdioCmd.MarkFlagRequired("agent")
	rootCmd.AddCommand(stdioCmd)
}

func runStdio(cmd *cobra.Command, args []string) error {
	credential := os.Getenv(credentialEnv)
	if credential == "" {
		return fmt.Errorf("%s is not set", credentialEnv)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	if err := checkStdoutFree(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer stop()

	// stdout carries the MCP stream.
	logger := newLogger(os.Stderr, cfg)

	g, err := newGatewayServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer g.Close()

	logger.Info("serving agent over stdio", "agent_id", stdioAgentID)
	err = stdio.NewStdioTransport(g.gateway, stdioAgentID, credential, logger).Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// checkStdoutFree rejects sinks that would interleave with the MCP stream.
func checkStdoutFree(cfg *config.Config) error {
	if cfg.Audit.Output == "stdout" {
		return errors.New("audit.output must not be stdout in stdio mode")
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Output == "stdout" {
		return errors.New("tracing.output must not be stdout in stdio mode")
	}
	return nil
}
