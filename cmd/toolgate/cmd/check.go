package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/toolgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/toolgate/internal/config"
	"github.com/Sentinel-Gate/toolgate/internal/domain/policy"
)

// errBatchBlocked makes the command exit non-zero for a blocked batch.
var errBatchBlocked = errors.New("batch blocked")

var (
	checkBatchFile string
	checkAgentID   string
	checkUntrusted bool
)

var checkCmd = &cobra.Command{
	Use:   "check --batch calls.yaml --agent <id>",
	Short: "Evaluate a batch of tool calls against the configured policies",
	Long: `Evaluate a batch of tool calls offline, exactly as the gateway would for
the given agent, and print the decision. Nothing is forwarded or audited.

The batch file lists the calls of one request:

  external_agent_id: planner-7   # optional
  calls:
    - name: github__create_issue
      arguments:
        repo: acme/site
        title: Broken link

The agent's team memberships stand in for the caller's. The caller is
trusted unless --untrusted is given. The command exits non-zero when the
batch is blocked.

Examples:
  toolgate check --batch calls.yaml --agent support-bot
  toolgate check --batch calls.yaml --agent support-bot --untrusted`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkBatchFile, "batch", "", "YAML file with the tool calls to evaluate (required)")
	checkCmd.Flags().StringVar(&checkAgentID, "agent", "", "agent the calls are sent to (required)")
	checkCmd.Flags().BoolVar(&checkUntrusted, "untrusted", false, "evaluate as an untrusted caller")
	_ = checkCmd.MarkFlagRequired("batch")
	_ = checkCmd.MarkFlagRequired("agent")
	rootCmd.AddCommand(checkCmd)
}

// batchFile is the YAML layout read by check.
type batchFile struct {
	ExternalAgentID string      `yaml:"external_agent_id"`
	Calls           []batchCall `yaml:"calls"`
}

type batchCall struct {
	Name      string                 `yaml:"name"`
	Arguments map[string]interface{} `yaml:"arguments"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(checkBatchFile)
	if err != nil {
		return fmt.Errorf("read batch: %w", err)
	}
	var batch batchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("parse batch %s: %w", checkBatchFile, err)
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	return evaluateBatch(cmd.Context(), cmd.OutOrStdout(), cfg, batch, checkAgentID, !checkUntrusted, logger)
}

// evaluateBatch seeds a store from cfg, evaluates batch for agentID and
// writes the decision to out.
func evaluateBatch(ctx context.Context, out io.Writer, cfg *config.Config, batch batchFile, agentID string, trusted bool, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(batch.Calls) == 0 {
		return errors.New("batch has no calls")
	}

	store := memory.NewStore()
	if err := cfg.Seed(store, time.Now().UTC()); err != nil {
		return err
	}
	agent, err := store.GetAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("agent %s: %w", agentID, err)
	}
	mode, err := store.GetGlobalToolPolicy(ctx, agent.OrganizationID)
	if err != nil {
		return err
	}

	calls := make([]policy.ToolCall, len(batch.Calls))
	for i, c := range batch.Calls {
		calls[i] = policy.ToolCall{Name: c.Name, Arguments: c.Arguments}
	}
	evalCtx := policy.EvaluationContext{
		TeamIDs:         agent.TeamIDs,
		ExternalAgentID: batch.ExternalAgentID,
	}

	decision, err := policy.NewEngine(store, store, logger).EvaluateBatch(ctx, calls, evalCtx, trusted, mode)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "agent:   %s (organization %s, %s)\n", agent.ID, agent.OrganizationID, mode)
	fmt.Fprintf(out, "trusted: %t\n", trusted)
	if decision.Allowed {
		fmt.Fprintf(out, "allowed: %d call(s)\n", len(calls))
		return nil
	}
	fmt.Fprintf(out, "blocked: calls[%d] %s\n", decision.BlockedIndex, decision.BlockedCall)
	if decision.PolicyID != "" {
		fmt.Fprintf(out, "policy:  %s\n", decision.PolicyID)
	}
	fmt.Fprintf(out, "reason:  %s\n", decision.Reason)
	return errBatchBlocked
}
