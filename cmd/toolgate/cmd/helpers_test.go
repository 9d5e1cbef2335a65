package cmd

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/Sentinel-Gate/toolgate/internal/config"
	"github.com/Sentinel-Gate/toolgate/internal/domain/auth"
)

const testTeamToken = "tgk_team_platform_token"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a validated config with one agent, two tools and a
// file audit sink under t.TempDir.
//
//	github__list_issues   no policies (allowed when trusted)
//	github__delete_repo   blocked always
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Audit: config.AuditConfig{
			Output:        "file://" + filepath.ToSlash(filepath.Join(t.TempDir(), "audit.jsonl")),
			FlushInterval: "10ms",
		},
		Upstreams:     []config.UpstreamConfig{{Name: "github", URL: "http://127.0.0.1:1/mcp"}},
		Organizations: []config.OrganizationConfig{{ID: "acme"}},
		Agents: []config.AgentConfig{
			{ID: "bot", OrganizationID: "acme", TeamIDs: []string{"platform"}},
		},
		TeamTokens: []config.TeamTokenConfig{
			{ID: "tt-platform", Hash: "sha256:" + auth.HashToken(testTeamToken), OrganizationID: "acme", TeamID: "platform"},
		},
		Tools: []config.ToolConfig{
			{ID: "t-list", Name: "github__list_issues", AgentIDs: []string{"bot"}},
			{ID: "t-delete", Name: "github__delete_repo", AgentIDs: []string{"bot"}},
		},
		Policies: []config.PolicyConfig{
			{ID: "p-delete", ToolID: "t-delete", Action: "block_always", Reason: "repository deletion is disabled"},
		},
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}
