package domain

import "time"

// AuditAction names the report operation an audit entry describes.
type AuditAction string

// Audited report actions.
const (
	AuditExecute    AuditAction = "execute"
	AuditExport     AuditAction = "export"
	AuditCreate     AuditAction = "create"
	AuditUpdate     AuditAction = "update"
	AuditDelete     AuditAction = "delete"
	AuditSchedule   AuditAction = "schedule"
	AuditInvalidate AuditAction = "invalidate"
)

// Valid reports whether a is one of the audited actions.
func (a AuditAction) Valid() bool {
	switch a {
	case AuditExecute, AuditExport, AuditCreate, AuditUpdate, AuditDelete, AuditSchedule, AuditInvalidate:
		return true
	}
	return false
}

// AuditOutcome is the result recorded for an audited action.
type AuditOutcome string

// Audit outcomes.
const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeFailure AuditOutcome = "failure"
	OutcomeDenied  AuditOutcome = "denied"
)

// AuditEntry is an append-only audit record. Entries of one tenant form a
// hash chain through PrevHash and Hash.
type AuditEntry struct {
	ID            string
	ActorID       string
	TenantID      string
	Action        AuditAction
	Outcome       AuditOutcome
	ReportID      *string
	Specification *QuerySpecification
	ErrorMessage  *string
	DurationMs    float64
	PrevHash      string
	Hash          string
	CreatedAt     time.Time
}

// AuditFilter holds filter parameters for listing audit entries.
type AuditFilter struct {
	TenantID string
	ActorID  *string
	Action   *AuditAction
	Page     PageRequest
}
