package domain

// Operator actions gated by the policy engine. The ledger mutation actions
// exist only so the policy can deny them unconditionally; no code path in
// this service issues them.
const (
	ActionEventUpdate  = "event_update"
	ActionEventDelete  = "event_delete"
	ActionBatchRetry   = "batch_retry"
	ActionConfigUpdate = "config_update"
	ActionCertUpload   = "certificate_upload"
	ActionAuditAccess  = "audit_access"
)

// ActionInput is the policy evaluation input for an operator action.
type ActionInput struct {
	Action   string `json:"action"`
	ActorID  string `json:"actor_id"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
}

// ActionDecision is the policy verdict.
type ActionDecision struct {
	Allow       bool     `json:"allow"`
	DenyReasons []string `json:"deny_reasons,omitempty"`
}
