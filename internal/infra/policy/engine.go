package policy

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/open-policy-agent/opa/rego"

	"verifactu/internal/domain"
)

const defaultQuery = "data.verifactu.access.result"

// accessPolicy is the embedded access ruleset. The ledger's append-only
// guarantee is enforced here: no role, operator included, can update or
// delete event log entries.
const accessPolicy = `package verifactu.access

operator_actions := {"batch_retry", "config_update", "certificate_upload", "audit_access"}

known_actions := operator_actions | {"event_update", "event_delete"}

deny[msg] {
	input.action == "event_update"
	msg := "event log entries are immutable"
}

deny[msg] {
	input.action == "event_delete"
	msg := "event log entries cannot be deleted"
}

deny[msg] {
	operator_actions[input.action]
	input.role != "operator"
	msg := sprintf("action %s requires operator role", [input.action])
}

deny[msg] {
	not known_actions[input.action]
	msg := sprintf("unknown action %q", [input.action])
}

result := {"allow": count(deny) == 0, "deny": deny}
`

type Engine struct {
	query rego.PreparedEvalQuery
}

func NewEngine(ctx context.Context) (*Engine, error) {
	r := rego.New(
		rego.Query(defaultQuery),
		rego.Module("access.rego", accessPolicy),
		rego.StrictBuiltinErrors(true),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &Engine{query: prepared}, nil
}

func (e *Engine) Evaluate(ctx context.Context, input domain.ActionInput) (domain.ActionDecision, error) {
	if e == nil {
		return domain.ActionDecision{}, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.ActionDecision{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.ActionDecision{}, errors.New("empty policy result")
	}
	decision, err := decodeDecision(results[0].Expressions[0].Value)
	if err != nil {
		return domain.ActionDecision{}, err
	}
	sort.Strings(decision.DenyReasons)
	return decision, nil
}

func decodeDecision(value any) (domain.ActionDecision, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return domain.ActionDecision{}, err
	}
	var raw struct {
		Allow bool     `json:"allow"`
		Deny  []string `json:"deny"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return domain.ActionDecision{}, err
	}
	return domain.ActionDecision{Allow: raw.Allow, DenyReasons: raw.Deny}, nil
}
