package dea

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	ReportStatusSynced  = "synced"
	ReportStatusPending = "pending"
)

const (
	EventMissedDose   = "missed_dose"
	EventHoldOverride = "hold_override"
	EventDiversion    = "diversion_suspected"
)

// Report is one append-only record filed with the DEA reporting bridge.
type Report struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	ReferenceNumber string          `db:"reference_number" json:"reference_number"`
	EventType       string          `db:"event_type" json:"event_type"`
	PatientID       uuid.UUID       `db:"patient_id" json:"patient_id"`
	BottleID        *uuid.UUID      `db:"bottle_id" json:"bottle_id,omitempty"`
	AlertID         *uuid.UUID      `db:"alert_id" json:"alert_id,omitempty"`
	HoldID          *uuid.UUID      `db:"hold_id" json:"hold_id,omitempty"`
	Payload         json.RawMessage `db:"payload" json:"payload"`
	Status          string          `db:"status" json:"status"`
	ReportedAt      time.Time       `db:"reported_at" json:"reported_at"`
}

// PatientMissedCount is one row of the per-patient missed-dose breakdown in
// the summary.
type PatientMissedCount struct {
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	PatientName *string   `db:"patient_name" json:"patient_name,omitempty"`
	MissedCount int       `db:"missed_count" json:"missed_count"`
}
