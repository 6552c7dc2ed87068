package compliance

import (
	"time"

	"github.com/google/uuid"
)

const (
	HoldStatusActive  = "active"
	HoldStatusCleared = "cleared"
)

const (
	HoldTypeMissedDoses  = "missed_doses"
	HoldTypeManualReview = "manual_review"
	HoldTypeDiversion    = "diversion_suspected"
)

// Hold blocks further take-home dispensing for a patient until a staff member
// with one of the clearing roles resolves it.
type Hold struct {
	ID            uuid.UUID `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	HoldType      string     `db:"hold_type" json:"hold_type"`
	Reason        string     `db:"reason" json:"reason"`
	Severity      string     `db:"severity" json:"severity"`
	Status        string     `db:"status" json:"status"`
	ClearingRoles []string   `db:"clearing_roles" json:"clearing_roles"`
	CreatedByID   *uuid.UUID `db:"created_by_id" json:"created_by_id,omitempty"`
	ClearedByID   *uuid.UUID `db:"cleared_by_id" json:"cleared_by_id,omitempty"`
	ClearedAt     *time.Time `db:"cleared_at" json:"cleared_at,omitempty"`
	ClearNotes    *string    `db:"clear_notes" json:"clear_notes,omitempty"`
	ReviewDueAt   *time.Time `db:"review_due_at" json:"review_due_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`

	// PatientName is populated by list queries via a join; not a column of
	// compliance_hold.
	PatientName *string `db:"patient_name" json:"patient_name,omitempty"`
}

// OverrideAudit is the append-only record of a hold cleared by override
// rather than by a staff member holding a clearing role.
type OverrideAudit struct {
	ID             uuid.UUID `db:"id" json:"id"`
	HoldID         uuid.UUID `db:"hold_id" json:"hold_id"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	OverrideType   string    `db:"override_type" json:"override_type"`
	Justification  string    `db:"justification" json:"justification"`
	OverriddenByID uuid.UUID `db:"overridden_by_id" json:"overridden_by_id"`
	OriginIP       *string   `db:"origin_ip" json:"origin_ip,omitempty"`
	ReviewDueAt    time.Time `db:"review_due_at" json:"review_due_at"`
	DEAReference   *string   `db:"dea_reference" json:"dea_reference,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
