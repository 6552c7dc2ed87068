package dea

import (
	"context"
	"time"
)

// ReportRepository persists the append-only DEA report log and answers the
// reporting queries behind the summary endpoint.
type ReportRepository interface {
	Create(ctx context.Context, r *Report) error
	GetByReference(ctx context.Context, reference string) (*Report, error)
	List(ctx context.Context, limit, offset int) ([]*Report, int, error)
	CountByEventType(ctx context.Context) (map[string]int, error)
	// MissedDoseCounts breaks down missed bottles by patient since the
	// given day, worst offenders first.
	MissedDoseCounts(ctx context.Context, since time.Time, limit int) ([]PatientMissedCount, error)
	// BottleStatusCounts aggregates the bottle population by status.
	BottleStatusCounts(ctx context.Context) (map[string]int, error)
}
