package policy

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/Sentinel-Gate/toolgate/internal/domain/tool"
)

// mockToolStore implements tool.Store for testing.
type mockToolStore struct {
	tools map[string]tool.Tool
	err   error
	calls int
}

func (m *mockToolStore) FindToolsByNames(_ context.Context, names []string) ([]tool.Tool, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []tool.Tool
	for _, n := range names {
		if t, ok := m.tools[n]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockToolStore) ListToolsForAgent(_ context.Context, _ string) ([]tool.Tool, error) {
	return nil, nil
}

// mockPolicyStore implements Store for testing.
type mockPolicyStore struct {
	policies []ToolInvocationPolicy
	err      error
	calls    int
}

func (m *mockPolicyStore) FindPoliciesByToolIDs(_ context.Context, ids []string) ([]ToolInvocationPolicy, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []ToolInvocationPolicy
	for _, p := range m.policies {
		if want[p.ToolID] {
			out = append(out, p)
		}
	}
	return out, nil
}

var (
	_ tool.Store = (*mockToolStore)(nil)
	_ Store      = (*mockPolicyStore)(nil)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEngine(policies ...ToolInvocationPolicy) (*Engine, *mockToolStore, *mockPolicyStore) {
	ts := &mockToolStore{tools: map[string]tool.Tool{
		"srv__a": {ID: "tool-a", Name: "srv__a"},
		"srv__b": {ID: "tool-b", Name: "srv__b"},
		"srv__c": {ID: "tool-c", Name: "srv__c"},
		"srv__t": {ID: "tool-t", Name: "srv__t"},
	}}
	ps := &mockPolicyStore{policies: policies}
	return NewEngine(ts, ps, testLogger()), ts, ps
}

func call(name string, args map[string]interface{}) ToolCall {
	return ToolCall{Name: name, Arguments: args}
}

func TestEngine_PermissiveSkipsStores(t *testing.T) {
	e, ts, ps := newTestEngine(
		ToolInvocationPolicy{ID: "p1", ToolID: "tool-a", Action: ActionBlockAlways},
	)

	d, err := e.EvaluateBatch(context.Background(), []ToolCall{call("srv__a", nil)}, EvaluationContext{}, false, GlobalPermissive)
	if err != nil {
		t.Fatalf("EvaluateBatch() error = %v", err)
	}
	if !d.Allowed {
		t.Errorf("Allowed = false, want true in permissive mode")
	}
	if ts.calls != 0 || ps.calls != 0 {
		t.Errorf("store calls = (%d, %d), want (0, 0)", ts.calls, ps.calls)
	}
}

func TestEngine_NoPolicies(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()

	d, err := e.EvaluateBatch(ctx, []ToolCall{call("srv__a", nil)}, EvaluationContext{}, false, GlobalRestrictive)
	if err != nil {
		t.Fatalf("EvaluateBatch() error = %v", err)
	}
	if d.Allowed {
		t.Fatal("untrusted call without policies was allowed")
	}
	if d.Reason != ReasonForbiddenByDefault {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonForbiddenByDefault)
	}

	d, err = e.EvaluateBatch(ctx, []ToolCall{call("srv__a", nil)}, EvaluationContext{}, true, GlobalRestrictive)
	if err != nil {
		t.Fatalf("EvaluateBatch() error = %v", err)
	}
	if !d.Allowed {
		t.Errorf("trusted call without policies was blocked: %q", d.Reason)
	}
}

func TestEngine_UnknownToolTreatedAsNoPolicies(t *testing.T) {
	e, _, ps := newTestEngine()

	d, err := e.EvaluateBatch(context.Background(), []ToolCall{call("other__x", nil)}, EvaluationContext{}, false, GlobalRestrictive)
	if err != nil {
		t.Fatalf("EvaluateBatch() error = %v", err)
	}
	if d.Allowed || d.Reason != ReasonForbiddenByDefault {
		t.Errorf("decision = %+v, want forbidden by default", d)
	}
	if ps.calls != 0 {
		t.Errorf("policy store calls = %d, want 0 when no tools resolved", ps.calls)
	}
}

func TestEngine_Precedence(t *testing.T) {
	statusActive := []Condition{{Key: "status", Operator: OpEqual, Value: "active"}}

	tests := []struct {
		name       string
		policies   []ToolInvocationPolicy
		args       map[string]interface{}
		trusted    bool
		wantAllow  bool
		wantPolicy string
		wantReason string
	}{
		{
			name: "specific allow pre-empts stricter default",
			policies: []ToolInvocationPolicy{
				{ID: "default", ToolID: "tool-t", Action: ActionBlockAlways, Reason: "default block"},
				{ID: "p-specific", ToolID: "tool-t", Conditions: statusActive, Action: ActionAllowWhenUntrusted},
			},
			args:      map[string]interface{}{"status": "active"},
			trusted:   false,
			wantAllow: true,
		},
		{
			name: "specific block_always beats default allow",
			policies: []ToolInvocationPolicy{
				{ID: "default", ToolID: "tool-t", Action: ActionAllowWhenUntrusted},
				{ID: "p-specific", ToolID: "tool-t", Conditions: statusActive, Action: ActionBlockAlways, Reason: "no active"},
			},
			args:       map[string]interface{}{"status": "active"},
			trusted:    true,
			wantAllow:  false,
			wantPolicy: "p-specific",
			wantReason: "no active",
		},
		{
			name: "block_always beats sibling allow flag",
			policies: []ToolInvocationPolicy{
				{ID: "allow", ToolID: "tool-t", Conditions: statusActive, Action: ActionAllowWhenUntrusted},
				{ID: "block", ToolID: "tool-t", Conditions: statusActive, Action: ActionBlockAlways},
			},
			args:       map[string]interface{}{"status": "active"},
			trusted:    false,
			wantAllow:  false,
			wantPolicy: "block",
			wantReason: ReasonBlocked,
		},
		{
			name: "block when untrusted blocks untrusted",
			policies: []ToolInvocationPolicy{
				{ID: "p-specific", ToolID: "tool-t", Conditions: statusActive, Action: ActionBlockWhenUntrusted, Reason: "needs trust"},
			},
			args:       map[string]interface{}{"status": "active"},
			trusted:    false,
			wantAllow:  false,
			wantPolicy: "p-specific",
			wantReason: "needs trust",
		},
		{
			name: "block when untrusted passes trusted",
			policies: []ToolInvocationPolicy{
				{ID: "p-specific", ToolID: "tool-t", Conditions: statusActive, Action: ActionBlockWhenUntrusted},
			},
			args:      map[string]interface{}{"status": "active"},
			trusted:   true,
			wantAllow: true,
		},
		{
			name: "unmatched specifics fall back to default allow",
			policies: []ToolInvocationPolicy{
				{ID: "default", ToolID: "tool-t", Action: ActionAllowWhenUntrusted},
				{ID: "p-specific", ToolID: "tool-t", Conditions: statusActive, Action: ActionBlockWhenUntrusted},
				{ID: "spec2", ToolID: "tool-t", Conditions: []Condition{{Key: "status", Operator: OpStartsWith, Value: "act"}}, Action: ActionBlockAlways},
			},
			args:      map[string]interface{}{"status": "inactive"},
			trusted:   false,
			wantAllow: true,
		},
		{
			name: "defaults used when no specific matched",
			policies: []ToolInvocationPolicy{
				{ID: "default", ToolID: "tool-t", Action: ActionBlockAlways, Reason: "tool disabled"},
				{ID: "p-specific", ToolID: "tool-t", Conditions: statusActive, Action: ActionAllowWhenUntrusted},
			},
			args:       map[string]interface{}{"status": "inactive"},
			trusted:    true,
			wantAllow:  false,
			wantPolicy: "default",
			wantReason: "tool disabled",
		},
		{
			name: "default without allow flag blocks untrusted",
			policies: []ToolInvocationPolicy{
				{ID: "default", ToolID: "tool-t", Action: ActionBlockWhenUntrusted},
			},
			trusted:    false,
			wantAllow:  false,
			wantPolicy: "default",
			wantReason: ReasonUntrustedContext,
		},
		{
			name: "multiple defaults fold in order",
			policies: []ToolInvocationPolicy{
				{ID: "d1", ToolID: "tool-t", Action: ActionBlockWhenUntrusted},
				{ID: "d2", ToolID: "tool-t", Action: ActionAllowWhenUntrusted},
			},
			trusted:   true,
			wantAllow: true,
		},
		{
			name: "only unmatched specific policies untrusted",
			policies: []ToolInvocationPolicy{
				{ID: "p-specific", ToolID: "tool-t", Conditions: statusActive, Action: ActionAllowWhenUntrusted},
			},
			args:       map[string]interface{}{"status": "inactive"},
			trusted:    false,
			wantAllow:  false,
			wantReason: ReasonForbiddenByDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _ := newTestEngine(tt.policies...)
			d, err := e.EvaluateBatch(context.Background(), []ToolCall{call("srv__t", tt.args)}, EvaluationContext{}, tt.trusted, GlobalRestrictive)
			if err != nil {
				t.Fatalf("EvaluateBatch() error = %v", err)
			}
			if d.Allowed != tt.wantAllow {
				t.Fatalf("Allowed = %v, want %v (reason %q)", d.Allowed, tt.wantAllow, d.Reason)
			}
			if tt.wantAllow {
				if d.Reason != "" || d.BlockedIndex != -1 {
					t.Errorf("allowed decision carries block data: %+v", d)
				}
				return
			}
			if d.PolicyID != tt.wantPolicy {
				t.Errorf("PolicyID = %q, want %q", d.PolicyID, tt.wantPolicy)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.wantReason)
			}
		})
	}
}

func TestEngine_TrustedPassPreemptsDefaults(t *testing.T) {
	e, _, _ := newTestEngine(
		ToolInvocationPolicy{ID: "default", ToolID: "tool-t", Action: ActionBlockAlways},
		ToolInvocationPolicy{
			ID:         "p-specific",
			ToolID:     "tool-t",
			Conditions: []Condition{{Key: "env", Operator: OpEqual, Value: "prod"}},
			Action:     ActionBlockWhenUntrusted,
		},
	)

	// The specific policy passes when trusted and the default is never consulted.
	d, err := e.EvaluateBatch(context.Background(),
		[]ToolCall{call("srv__t", map[string]interface{}{"env": "prod"})},
		EvaluationContext{}, true, GlobalRestrictive)
	if err != nil {
		t.Fatalf("EvaluateBatch() error = %v", err)
	}
	if !d.Allowed {
		t.Errorf("trusted call blocked: %q", d.Reason)
	}
}

func TestEngine_BatchOrdering(t *testing.T) {
	e, _, ps := newTestEngine(
		ToolInvocationPolicy{ID: "pa", ToolID: "tool-a", Action: ActionAllowWhenUntrusted},
		ToolInvocationPolicy{ID: "pb", ToolID: "tool-b", Action: ActionBlockAlways, Reason: "B is blocked"},
		ToolInvocationPolicy{ID: "pc", ToolID: "tool-c", Action: ActionBlockAlways, Reason: "C is blocked"},
	)

	calls := []ToolCall{call("srv__a", nil), call("srv__b", nil), call("srv__c", nil)}
	d, err := e.EvaluateBatch(context.Background(), calls, EvaluationContext{}, false, GlobalRestrictive)
	if err != nil {
		t.Fatalf("EvaluateBatch() error = %v", err)
	}
	if d.Allowed {
		t.Fatal("batch allowed, want blocked")
	}
	if d.BlockedCall != "srv__b" || d.BlockedIndex != 1 {
		t.Errorf("blocked = (%q, %d), want (srv__b, 1)", d.BlockedCall, d.BlockedIndex)
	}
	if d.Reason != "B is blocked" {
		t.Errorf("Reason = %q, want B's reason", d.Reason)
	}
	if ps.calls != 1 {
		t.Errorf("policy store calls = %d, want a single batched fetch", ps.calls)
	}
}

func TestEngine_ReservedCallsSkipped(t *testing.T) {
	e, ts, _ := newTestEngine()

	calls := []ToolCall{call("toolgate__whoami", nil), call("agent__helper", nil)}
	d, err := e.EvaluateBatch(context.Background(), calls, EvaluationContext{}, false, GlobalRestrictive)
	if err != nil {
		t.Fatalf("EvaluateBatch() error = %v", err)
	}
	if !d.Allowed {
		t.Errorf("reserved-only batch blocked: %q", d.Reason)
	}
	if ts.calls != 0 {
		t.Errorf("tool store calls = %d, want 0", ts.calls)
	}

	// Index refers to the caller's batch, not the filtered one.
	d, err = e.EvaluateBatch(context.Background(),
		[]ToolCall{call("toolgate__whoami", nil), call("srv__a", nil)},
		EvaluationContext{}, false, GlobalRestrictive)
	if err != nil {
		t.Fatalf("EvaluateBatch() error = %v", err)
	}
	if d.Allowed || d.BlockedIndex != 1 {
		t.Errorf("decision = %+v, want block at index 1", d)
	}
}

func TestEngine_ANDSemantics(t *testing.T) {
	e, _, _ := newTestEngine(ToolInvocationPolicy{
		ID:     "both",
		ToolID: "tool-t",
		Conditions: []Condition{
			{Key: "env", Operator: OpEqual, Value: "prod"},
			{Key: "user.email", Operator: OpEndsWith, Value: "@example.com"},
		},
		Action: ActionBlockAlways,
	})

	tests := []struct {
		name      string
		args      map[string]interface{}
		wantAllow bool
	}{
		{"both match", map[string]interface{}{"env": "prod", "user": map[string]interface{}{"email": "a@example.com"}}, false},
		{"first differs", map[string]interface{}{"env": "dev", "user": map[string]interface{}{"email": "a@example.com"}}, true},
		{"second differs", map[string]interface{}{"env": "prod", "user": map[string]interface{}{"email": "a@other.org"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := e.EvaluateBatch(context.Background(), []ToolCall{call("srv__t", tt.args)}, EvaluationContext{}, true, GlobalRestrictive)
			if err != nil {
				t.Fatalf("EvaluateBatch() error = %v", err)
			}
			if d.Allowed != tt.wantAllow {
				t.Errorf("Allowed = %v, want %v", d.Allowed, tt.wantAllow)
			}
		})
	}
}

func TestEngine_MissingArgumentNeverBlocks(t *testing.T) {
	e, _, _ := newTestEngine(ToolInvocationPolicy{
		ID:         "missing",
		ToolID:     "tool-t",
		Conditions: []Condition{{Key: "path", Operator: OpNotEqual, Value: "/etc"}},
		Action:     ActionBlockAlways,
	})

	d, err := e.EvaluateBatch(context.Background(),
		[]ToolCall{call("srv__t", map[string]interface{}{"other": "x"})},
		EvaluationContext{}, true, GlobalRestrictive)
	if err != nil {
		t.Fatalf("EvaluateBatch() error = %v", err)
	}
	if !d.Allowed {
		t.Errorf("call blocked by policy on a missing key: %q", d.Reason)
	}
}

func TestEngine_StatusScenario(t *testing.T) {
	e, _, _ := newTestEngine(ToolInvocationPolicy{
		ID:         "status",
		ToolID:     "tool-t",
		Conditions: []Condition{{Key: "status", Operator: OpEqual, Value: "active"}},
		Action:     ActionBlockAlways,
	})
	ctx := context.Background()

	d, err := e.EvaluateBatch(ctx, []ToolCall{call("srv__t", map[string]interface{}{"status": "active"})}, EvaluationContext{}, true, GlobalRestrictive)
	if err != nil {
		t.Fatalf("EvaluateBatch() error = %v", err)
	}
	if d.Allowed {
		t.Error("status=active allowed, want blocked")
	}

	d, err = e.EvaluateBatch(ctx, []ToolCall{call("srv__t", map[string]interface{}{"status": "inactive"})}, EvaluationContext{}, true, GlobalRestrictive)
	if err != nil {
		t.Fatalf("EvaluateBatch() error = %v", err)
	}
	if !d.Allowed {
		t.Errorf("status=inactive blocked: %q", d.Reason)
	}
}

func TestEngine_ContextConditions(t *testing.T) {
	e, _, _ := newTestEngine(ToolInvocationPolicy{
		ID:     "delegation",
		ToolID: "tool-t",
		Conditions: []Condition{
			{Key: KeyExternalAgent, Operator: OpEqual, Value: "partner-bot"},
			{Key: KeyContextTeamIDs, Operator: OpNotContains, Value: "team-sec"},
		},
		Action: ActionBlockAlways,
		Reason: "partner-bot may not call this tool",
	})

	evalCtx := EvaluationContext{TeamIDs: []string{"team-eng"}, ExternalAgentID: "partner-bot"}
	d, err := e.EvaluateBatch(context.Background(), []ToolCall{call("srv__t", nil)}, evalCtx, true, GlobalRestrictive)
	if err != nil {
		t.Fatalf("EvaluateBatch() error = %v", err)
	}
	if d.Allowed {
		t.Fatal("delegated call allowed, want blocked")
	}

	evalCtx.TeamIDs = append(evalCtx.TeamIDs, "team-sec")
	d, err = e.EvaluateBatch(context.Background(), []ToolCall{call("srv__t", nil)}, evalCtx, true, GlobalRestrictive)
	if err != nil {
		t.Fatalf("EvaluateBatch() error = %v", err)
	}
	if !d.Allowed {
		t.Errorf("call from team-sec blocked: %q", d.Reason)
	}
}

func TestEngine_StoreErrorsFailClosed(t *testing.T) {
	storeErr := errors.New("connection refused")

	e, ts, _ := newTestEngine()
	ts.err = storeErr
	_, err := e.EvaluateBatch(context.Background(), []ToolCall{call("srv__a", nil)}, EvaluationContext{}, true, GlobalRestrictive)
	if !errors.Is(err, ErrDependencyUnavailable) {
		t.Errorf("tool store failure error = %v, want ErrDependencyUnavailable", err)
	}

	e, _, ps := newTestEngine()
	ps.err = storeErr
	_, err = e.EvaluateBatch(context.Background(), []ToolCall{call("srv__a", nil)}, EvaluationContext{}, true, GlobalRestrictive)
	if !errors.Is(err, ErrDependencyUnavailable) {
		t.Errorf("policy store failure error = %v, want ErrDependencyUnavailable", err)
	}
}
