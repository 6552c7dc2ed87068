package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Reporter files a DEA report for a hold override and returns the assigned
// reference number. The DEA bridge implements it.
type Reporter interface {
	ReportOverride(ctx context.Context, audit *OverrideAudit) (reference string, err error)
}

// Settings for hold handling.
type Settings struct {
	// OverrideReviewPeriod is how long after an override the mandatory
	// clinical review is due.
	OverrideReviewPeriod time.Duration
	// MinJustificationLen is the shortest acceptable override justification.
	MinJustificationLen int
}

func DefaultSettings() Settings {
	return Settings{
		OverrideReviewPeriod: 24 * time.Hour,
		MinJustificationLen:  20,
	}
}

type Service struct {
	holds    HoldRepository
	audits   OverrideAuditRepository
	reporter Reporter
	settings Settings
	log      zerolog.Logger

	now func() time.Time
}

func NewService(holds HoldRepository, audits OverrideAuditRepository, settings Settings, log zerolog.Logger) *Service {
	return &Service{
		holds:    holds,
		audits:   audits,
		settings: settings,
		log:      log,
		now:      time.Now,
	}
}

// SetReporter attaches the DEA bridge used on overrides.
func (s *Service) SetReporter(r Reporter) { s.reporter = r }

// OpenRequest describes a new compliance hold.
type OpenRequest struct {
	PatientID     uuid.UUID  `json:"patient_id"`
	HoldType      string     `json:"hold_type"`
	Reason        string     `json:"reason"`
	Severity      string     `json:"severity"`
	ClearingRoles []string   `json:"clearing_roles"`
	CreatedByID   *uuid.UUID `json:"created_by_id,omitempty"`
}

// OpenHold places a new active hold on a patient.
func (s *Service) OpenHold(ctx context.Context, req OpenRequest) (*Hold, error) {
	if req.PatientID == uuid.Nil {
		return nil, ErrPatientRequired
	}
	if req.HoldType == "" {
		return nil, ErrHoldTypeRequired
	}
	if req.Reason == "" {
		return nil, ErrReasonRequired
	}
	if req.Severity == "" {
		req.Severity = "medium"
	}
	if len(req.ClearingRoles) == 0 {
		req.ClearingRoles = []string{"physician", "admin"}
	}

	h := &Hold{
		PatientID:     req.PatientID,
		HoldType:      req.HoldType,
		Reason:        req.Reason,
		Severity:      req.Severity,
		Status:        HoldStatusActive,
		ClearingRoles: req.ClearingRoles,
		CreatedByID:   req.CreatedByID,
	}
	if err := s.holds.Create(ctx, h); err != nil {
		return nil, fmt.Errorf("create hold: %w", err)
	}

	s.log.Info().
		Str("hold_id", h.ID.String()).
		Str("patient_id", h.PatientID.String()).
		Str("hold_type", h.HoldType).
		Msg("compliance hold opened")

	return h, nil
}

// OpenAutomaticHold is the takehome sweep's port. It dedupes: a patient with
// an active missed-doses hold does not get a second one.
func (s *Service) OpenAutomaticHold(ctx context.Context, patientID uuid.UUID, reason string) error {
	exists, err := s.holds.HasActiveOfType(ctx, patientID, HoldTypeMissedDoses)
	if err != nil {
		return fmt.Errorf("check existing hold: %w", err)
	}
	if exists {
		return nil
	}

	_, err = s.OpenHold(ctx, OpenRequest{
		PatientID:     patientID,
		HoldType:      HoldTypeMissedDoses,
		Reason:        reason,
		Severity:      "high",
		ClearingRoles: []string{"physician", "admin"},
	})
	return err
}

// ClearRequest resolves a hold through the normal clearing path.
type ClearRequest struct {
	HoldID      uuid.UUID `json:"hold_id"`
	ClearedByID uuid.UUID `json:"cleared_by_id"`
	Notes       *string   `json:"notes,omitempty"`
}

// ClearHold resolves an active hold. A hold that is already cleared stays as
// it was and the caller gets ErrHoldAlreadyCleared.
func (s *Service) ClearHold(ctx context.Context, req ClearRequest) (*Hold, error) {
	if _, err := s.holds.GetByID(ctx, req.HoldID); err != nil {
		return nil, err
	}

	cleared, err := s.holds.Clear(ctx, req.HoldID, req.ClearedByID, req.Notes)
	if err != nil {
		return nil, fmt.Errorf("clear hold: %w", err)
	}
	if !cleared {
		return nil, ErrHoldAlreadyCleared
	}

	s.log.Info().
		Str("hold_id", req.HoldID.String()).
		Str("cleared_by", req.ClearedByID.String()).
		Msg("compliance hold cleared")

	return s.holds.GetByID(ctx, req.HoldID)
}

// OverrideRequest clears a hold outside the normal clearing roles. The
// justification is mandatory and the override is always audited and reported
// to the DEA.
type OverrideRequest struct {
	HoldID         uuid.UUID `json:"hold_id"`
	Justification  string    `json:"justification"`
	OverriddenByID uuid.UUID `json:"overridden_by_id"`
	OriginIP       *string   `json:"origin_ip,omitempty"`
}

// OverrideResult is the override outcome returned to the caller.
type OverrideResult struct {
	Hold         *Hold     `json:"hold"`
	ReviewDueAt  time.Time `json:"review_due_at"`
	DEAReference *string   `json:"dea_reference,omitempty"`
	AuditID      uuid.UUID `json:"audit_id"`
}

// OverrideHold clears a hold under override: the justification must meet the
// minimum length, the hold must exist and still be active, an audit row is
// written with a review deadline, and the event is reported to the DEA. A
// failed DEA sync does not undo the override; the audit row simply lacks a
// reference and the failure is logged for follow-up.
func (s *Service) OverrideHold(ctx context.Context, req OverrideRequest) (*OverrideResult, error) {
	if len(req.Justification) < s.settings.MinJustificationLen {
		return nil, ErrJustificationTooShort
	}

	hold, err := s.holds.GetByID(ctx, req.HoldID)
	if err != nil {
		return nil, err
	}
	if hold.Status != HoldStatusActive {
		return nil, ErrHoldAlreadyCleared
	}

	notes := "cleared by override: " + req.Justification
	cleared, err := s.holds.Clear(ctx, req.HoldID, req.OverriddenByID, &notes)
	if err != nil {
		return nil, fmt.Errorf("clear hold: %w", err)
	}
	if !cleared {
		return nil, ErrHoldAlreadyCleared
	}

	reviewDue := s.now().UTC().Add(s.settings.OverrideReviewPeriod)
	audit := &OverrideAudit{
		HoldID:         hold.ID,
		PatientID:      hold.PatientID,
		OverrideType:   "hold_override",
		Justification:  req.Justification,
		OverriddenByID: req.OverriddenByID,
		OriginIP:       req.OriginIP,
		ReviewDueAt:    reviewDue,
	}

	if s.reporter != nil {
		ref, err := s.reporter.ReportOverride(ctx, audit)
		if err != nil {
			s.log.Error().Err(err).
				Str("hold_id", hold.ID.String()).
				Msg("DEA report for override failed, audit row will carry no reference")
		} else {
			audit.DEAReference = &ref
		}
	}

	if err := s.audits.Create(ctx, audit); err != nil {
		return nil, fmt.Errorf("write override audit: %w", err)
	}
	if err := s.holds.SetReviewDue(ctx, hold.ID, reviewDue); err != nil {
		s.log.Error().Err(err).Str("hold_id", hold.ID.String()).Msg("stamp review deadline")
	}

	s.log.Warn().
		Str("hold_id", hold.ID.String()).
		Str("patient_id", hold.PatientID.String()).
		Str("overridden_by", req.OverriddenByID.String()).
		Time("review_due_at", reviewDue).
		Msg("compliance hold cleared by override")

	updated, err := s.holds.GetByID(ctx, hold.ID)
	if err != nil {
		return nil, err
	}

	return &OverrideResult{
		Hold:         updated,
		ReviewDueAt:  reviewDue,
		DEAReference: audit.DEAReference,
		AuditID:      audit.ID,
	}, nil
}

// GetHold returns one hold by ID.
func (s *Service) GetHold(ctx context.Context, id uuid.UUID) (*Hold, error) {
	return s.holds.GetByID(ctx, id)
}

// ListHolds returns holds with patient names, optionally filtered.
func (s *Service) ListHolds(ctx context.Context, patientID *uuid.UUID, status string, limit, offset int) ([]*Hold, int, error) {
	return s.holds.List(ctx, patientID, status, limit, offset)
}

// ListOverrides returns the override audit trail for one hold.
func (s *Service) ListOverrides(ctx context.Context, holdID uuid.UUID) ([]*OverrideAudit, error) {
	return s.audits.ListByHold(ctx, holdID)
}

// ListReviewsDue returns override audits whose mandatory follow-up review has
// come due, oldest first, so reviewers can work the backlog as a task list.
func (s *Service) ListReviewsDue(ctx context.Context, limit int) ([]*OverrideAudit, error) {
	if limit < 1 {
		limit = 50
	}
	return s.audits.ListDueForReview(ctx, limit)
}
