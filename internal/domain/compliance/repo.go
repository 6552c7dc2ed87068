package compliance

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// HoldRepository persists compliance holds. Clear performs a conditional
// write so a hold cannot be cleared twice, even by concurrent requests.
type HoldRepository interface {
	Create(ctx context.Context, h *Hold) error
	GetByID(ctx context.Context, id uuid.UUID) (*Hold, error)
	// List returns holds with patient display names joined in, newest first,
	// optionally filtered by patient and status.
	List(ctx context.Context, patientID *uuid.UUID, status string, limit, offset int) ([]*Hold, int, error)
	// HasActiveOfType reports whether the patient already has an active hold
	// of the given type.
	HasActiveOfType(ctx context.Context, patientID uuid.UUID, holdType string) (bool, error)
	// Clear flips an active hold to cleared with the given resolution
	// details. Returns false when the hold was not active.
	Clear(ctx context.Context, id uuid.UUID, clearedByID uuid.UUID, notes *string) (bool, error)
	// SetReviewDue stamps the post-override review deadline on a hold.
	SetReviewDue(ctx context.Context, id uuid.UUID, due time.Time) error
}

// OverrideAuditRepository persists the append-only override trail.
type OverrideAuditRepository interface {
	Create(ctx context.Context, a *OverrideAudit) error
	ListByHold(ctx context.Context, holdID uuid.UUID) ([]*OverrideAudit, error)
	ListDueForReview(ctx context.Context, limit int) ([]*OverrideAudit, error)
}
