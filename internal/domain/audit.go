package domain

import "time"

// Audit actions emitted by the planner
const (
	AuditPlanCreated     = "PLAN_CREATED"
	AuditOverrideApplied = "OVERRIDE_APPLIED"
)

// AuditFact is an audit-worthy decision. The engine emits these; storing
// them is the AuditSink's job.
type AuditFact struct {
	At       time.Time         `json:"at"`
	Actor    string            `json:"actor"`
	Action   string            `json:"action"`
	Entity   string            `json:"entity"`
	EntityID string            `json:"entity_id"`
	Old      map[string]string `json:"old,omitempty"`
	New      map[string]string `json:"new,omitempty"`
	Note     string            `json:"note,omitempty"`
}
