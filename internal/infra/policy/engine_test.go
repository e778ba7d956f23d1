package policy

import (
	"context"
	"strings"
	"testing"

	"verifactu/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background())
	if err != nil {
		t.Fatalf("prepare policy: %v", err)
	}
	return engine
}

func TestEvaluate_OperatorActionsAllowedForOperator(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)
	for _, action := range []string{
		domain.ActionBatchRetry,
		domain.ActionConfigUpdate,
		domain.ActionCertUpload,
		domain.ActionAuditAccess,
	} {
		decision, err := engine.Evaluate(context.Background(), domain.ActionInput{
			Action: action, ActorID: "ops@example.com", Role: "operator", TenantID: "acme",
		})
		if err != nil {
			t.Fatalf("evaluate %s: %v", action, err)
		}
		if !decision.Allow {
			t.Fatalf("operator must be allowed %s, denied: %v", action, decision.DenyReasons)
		}
	}
}

func TestEvaluate_OperatorActionsDeniedForOtherRoles(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)
	for _, role := range []string{"", "viewer", "service"} {
		decision, err := engine.Evaluate(context.Background(), domain.ActionInput{
			Action: domain.ActionBatchRetry, ActorID: "someone", Role: role, TenantID: "acme",
		})
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if decision.Allow {
			t.Fatalf("role %q must not retry batches", role)
		}
		if len(decision.DenyReasons) == 0 || !strings.Contains(decision.DenyReasons[0], "operator") {
			t.Fatalf("deny reason must name the missing role: %v", decision.DenyReasons)
		}
	}
}

func TestEvaluate_LedgerMutationDeniedUnconditionally(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)
	cases := []struct {
		action string
		reason string
	}{
		{domain.ActionEventUpdate, "immutable"},
		{domain.ActionEventDelete, "cannot be deleted"},
	}
	for _, tc := range cases {
		for _, role := range []string{"operator", "admin", ""} {
			decision, err := engine.Evaluate(context.Background(), domain.ActionInput{
				Action: tc.action, ActorID: "ops", Role: role, TenantID: "acme",
			})
			if err != nil {
				t.Fatalf("evaluate %s as %q: %v", tc.action, role, err)
			}
			if decision.Allow {
				t.Fatalf("%s must be denied even for role %q", tc.action, role)
			}
			var found bool
			for _, reason := range decision.DenyReasons {
				if strings.Contains(reason, tc.reason) {
					found = true
				}
			}
			if !found {
				t.Fatalf("deny reasons for %s missing %q: %v", tc.action, tc.reason, decision.DenyReasons)
			}
		}
	}
}

func TestEvaluate_UnknownActionDenied(t *testing.T) {
	t.Parallel()
	engine := newTestEngine(t)
	decision, err := engine.Evaluate(context.Background(), domain.ActionInput{
		Action: "drop_tables", ActorID: "ops", Role: "operator", TenantID: "acme",
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Allow {
		t.Fatal("unknown actions must be denied")
	}
	if len(decision.DenyReasons) == 0 || !strings.Contains(decision.DenyReasons[0], "unknown action") {
		t.Fatalf("deny reason: %v", decision.DenyReasons)
	}
}

func TestEvaluate_NilEngine(t *testing.T) {
	t.Parallel()
	var engine *Engine
	if _, err := engine.Evaluate(context.Background(), domain.ActionInput{Action: domain.ActionAuditAccess}); err == nil {
		t.Fatal("nil engine must error, not allow")
	}
}
