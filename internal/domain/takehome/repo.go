package takehome

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BottleRepository persists take-home bottles. The Mark* methods perform
// conditional writes and report whether a row actually changed, which is how
// the forward-only status transitions are enforced under concurrency.
type BottleRepository interface {
	Create(ctx context.Context, b *Bottle) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bottle, error)
	GetByTokenHash(ctx context.Context, hash string) (*Bottle, error)
	List(ctx context.Context, limit, offset int) ([]*Bottle, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Bottle, int, error)
	// ListDueForSweep returns bottles scheduled on the given day that are
	// still dispensed and not yet verified compliant.
	ListDueForSweep(ctx context.Context, day time.Time) ([]*Bottle, error)
	// MarkConsumed flips a dispensed bottle to consumed/compliant. Returns
	// false when the bottle was not in dispensed status.
	MarkConsumed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// MarkMissed flips a dispensed bottle to missed/non_compliant. Returns
	// false when the bottle was not in dispensed status.
	MarkMissed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	// CountMissedSince counts a patient's missed bottles scheduled on or
	// after the given day.
	CountMissedSince(ctx context.Context, patientID uuid.UUID, since time.Time) (int, error)
}

// ScanLogRepository persists the immutable scan trail.
type ScanLogRepository interface {
	Create(ctx context.Context, l *ScanLog) error
	ListByBottle(ctx context.Context, bottleID uuid.UUID, limit, offset int) ([]*ScanLog, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ScanLog, int, error)
	ListRecent(ctx context.Context, limit int) ([]*ScanLog, error)
}

// AlertRepository persists compliance alerts.
type AlertRepository interface {
	// CreateIfAbsent inserts the alert unless one with the same
	// (bottle_id, alert_type) already exists. Returns true when a row was
	// inserted.
	CreateIfAbsent(ctx context.Context, a *Alert) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Alert, error)
	List(ctx context.Context, patientID *uuid.UUID, status string, limit, offset int) ([]*Alert, int, error)
	// MarkReported moves an open alert to reported and records the DEA
	// reference in its resolution notes. Returns false when the alert was
	// not open.
	MarkReported(ctx context.Context, id uuid.UUID, reference string) (bool, error)
	// MarkNotified flags that the patient notification for the alert went out.
	MarkNotified(ctx context.Context, id uuid.UUID) error
}
