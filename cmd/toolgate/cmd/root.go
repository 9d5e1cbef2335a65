// Package cmd provides the CLI commands for toolgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/toolgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "toolgate - authorizing gateway for MCP tool calls",
	Long: `toolgate sits between AI agents and the MCP servers that execute their tools.

Every request to an agent endpoint is authenticated (external IdP JWT, team
token, personal token or OAuth access token), every tools/call in it is
checked against per-tool policies, and only then is the call forwarded to
the upstream server. Each decision is written to the audit log.

Quick start:
  1. Create a config file: toolgate.yaml
  2. Run: toolgate start

Configuration:
  Config is loaded from toolgate.yaml in the current directory,
  $HOME/.toolgate/, or /etc/toolgate/.

  Environment variables can override scalar settings with the TOOLGATE_ prefix.
  Example: TOOLGATE_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the gateway
  stop        Stop the running gateway
  stdio       Serve one agent over stdin/stdout
  check       Evaluate a batch of tool calls against the configured policies
  hash-token  Hash a token for use in the config file
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./toolgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
