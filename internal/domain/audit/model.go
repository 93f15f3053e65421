package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caresafe/caresafe/internal/domain/conflict"
)

// Actions recorded in the ledger.
const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Entry is one immutable row in the audit ledger. Once written it is
// never updated or deleted; retention moves old rows to the archive
// table wholesale.
//
// IPAddress and UserAgent are forensic metadata. They are recorded for
// investigations and never consulted when deciding access.
type Entry struct {
	ID                uuid.UUID           `json:"id"`
	TenantID          string              `json:"tenant_id"`
	ActorID           string              `json:"actor_id"`
	ActorRole         string              `json:"actor_role"`
	SubjectID         string              `json:"subject_id"`
	Action            string              `json:"action"`
	Resource          string              `json:"resource"`
	ResourceID        string              `json:"resource_id,omitempty"`
	Timestamp         time.Time           `json:"timestamp"`
	IPAddress         string              `json:"ip_address,omitempty"`
	UserAgent         string              `json:"user_agent,omitempty"`
	Justification     string              `json:"justification,omitempty"`
	ComplianceFlags   []string            `json:"compliance_flags,omitempty"`
	ConflictsObserved []conflict.Conflict `json:"conflicts_observed,omitempty"`
}

// Compliance flags attached to entries by the workflows that produce
// them.
const (
	FlagEmergencyAccess = "emergency_access"
	FlagSystemError     = "system_error"
	FlagRetentionSweep  = "retention_sweep"
	FlagWarnProceeded   = "warn_proceeded"
	FlagPersistFailed   = "persist_failed"
)

// Validate checks the fields the ledger refuses to record without.
func (e *Entry) Validate() error {
	if e.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if e.ActorID == "" {
		return fmt.Errorf("actor_id is required")
	}
	if e.Action == "" {
		return fmt.Errorf("action is required")
	}
	if e.Resource == "" {
		return fmt.Errorf("resource is required")
	}
	return nil
}
