package takehome

import (
	"time"

	"github.com/google/uuid"
)

// Bottle statuses. A bottle only ever moves forward:
// dispensed -> consumed or dispensed -> missed.
const (
	StatusDispensed = "dispensed"
	StatusConsumed  = "consumed"
	StatusMissed    = "missed"
)

// Compliance statuses for a bottle.
const (
	CompliancePending      = "pending"
	ComplianceCompliant    = "compliant"
	ComplianceNonCompliant = "non_compliant"
)

// Scan types recorded in the scan log.
const (
	ScanTypeDispensing  = "dispensing"
	ScanTypeConsumption = "consumption"
)

// Alert types and statuses.
const (
	AlertTypeMissedDose = "missed_dose"

	AlertStatusOpen     = "open"
	AlertStatusReported = "reported"
	AlertStatusResolved = "resolved"
)

// Bottle maps to the takehome_bottle table. Rows are never deleted; the scan
// log and compliance trail reference them indefinitely.
type Bottle struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	OrganizationID   uuid.UUID  `db:"organization_id" json:"organization_id"`
	AuthorizationID  *uuid.UUID `db:"authorization_id" json:"authorization_id,omitempty"`
	BottleNumber     int        `db:"bottle_number" json:"bottle_number"`
	MedicationName   string     `db:"medication_name" json:"medication_name"`
	DoseAmount       string     `db:"dose_amount" json:"dose_amount"`
	ScheduledDate    time.Time  `db:"scheduled_date" json:"scheduled_date"`
	DispensedAt      time.Time  `db:"dispensed_at" json:"dispensed_at"`
	DispensedByID    uuid.UUID  `db:"dispensed_by_id" json:"dispensed_by_id"`
	DispenseLocation *string    `db:"dispense_location" json:"dispense_location,omitempty"`
	QRToken          string     `db:"qr_token" json:"qr_token"`
	QRTokenHash      string     `db:"qr_token_hash" json:"qr_token_hash"`
	Status           string     `db:"status" json:"status"`
	ComplianceStatus string     `db:"compliance_status" json:"compliance_status"`
	ComplianceReason *string    `db:"compliance_reason" json:"compliance_reason,omitempty"`
	ConsumedAt       *time.Time `db:"consumed_at" json:"consumed_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// ScanLog maps to the scan_log table. Rows are immutable once written; failed
// verifications are recorded here while the bottle itself stays untouched.
type ScanLog struct {
	ID            uuid.UUID `db:"id" json:"id"`
	BottleID      uuid.UUID `db:"bottle_id" json:"bottle_id"`
	PatientID     uuid.UUID `db:"patient_id" json:"patient_id"`
	ScanType      string    `db:"scan_type" json:"scan_type"`
	Latitude      *float64  `db:"latitude" json:"latitude,omitempty"`
	Longitude     *float64  `db:"longitude" json:"longitude,omitempty"`
	Passed        bool      `db:"passed" json:"passed"`
	FailureReason *string   `db:"failure_reason" json:"failure_reason,omitempty"`
	ScannedByID   uuid.UUID `db:"scanned_by_id" json:"scanned_by_id"`
	ScannedAt     time.Time `db:"scanned_at" json:"scanned_at"`
}

// Alert maps to the compliance_alert table. The (bottle_id, alert_type)
// unique constraint is what keeps concurrent sweeps from duplicating
// missed-dose alerts.
type Alert struct {
	ID                     uuid.UUID  `db:"id" json:"id"`
	PatientID              uuid.UUID  `db:"patient_id" json:"patient_id"`
	BottleID               *uuid.UUID `db:"bottle_id" json:"bottle_id,omitempty"`
	AlertType              string     `db:"alert_type" json:"alert_type"`
	Severity               string     `db:"severity" json:"severity"`
	Title                  string     `db:"title" json:"title"`
	Description            *string    `db:"description" json:"description,omitempty"`
	CallbackRequired       bool       `db:"callback_required" json:"callback_required"`
	CallbackDeadline       *time.Time `db:"callback_deadline" json:"callback_deadline,omitempty"`
	ClinicalReviewRequired bool       `db:"clinical_review_required" json:"clinical_review_required"`
	Notified               bool       `db:"notified" json:"notified"`
	Status                 string     `db:"status" json:"status"`
	ResolutionNotes        *string    `db:"resolution_notes" json:"resolution_notes,omitempty"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
}
