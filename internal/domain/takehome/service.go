package takehome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/brightpath/emr/internal/platform/db"
)

// Sink queues an outbound patient notification. The notification platform
// implements it; tests swap in a recorder.
type Sink interface {
	Enqueue(ctx context.Context, patientID uuid.UUID, channel, message string) error
}

// HoldOpener lets the sweep open an automatic compliance hold when a patient
// crosses the missed-dose threshold, without importing the compliance package.
type HoldOpener interface {
	OpenAutomaticHold(ctx context.Context, patientID uuid.UUID, reason string) error
}

// SweepScope prepares the context a scheduled sweep runs under, typically by
// pinning a database connection to a facility schema. The release function is
// called when the sweep finishes.
type SweepScope func(ctx context.Context) (context.Context, func(), error)

// Settings control the dosing window, sweep gate, and escalation thresholds.
type Settings struct {
	// SweepCutoffHour is the local hour before which the missed-dose sweep
	// refuses to run; patients get until this hour to take the day's dose.
	SweepCutoffHour int
	// CallbackDeadline is how long a patient has to call back after a
	// missed-dose alert is raised.
	CallbackDeadline time.Duration
	// DoseWindowDays is the tolerance (in days) around a bottle's scheduled
	// date within which a consumption scan is accepted.
	DoseWindowDays int
	// AutoHoldThreshold is the number of recent missed doses that triggers
	// an automatic compliance hold. Zero disables auto-holds.
	AutoHoldThreshold int
	// AutoHoldLookbackDays bounds how far back missed doses count toward
	// the threshold.
	AutoHoldLookbackDays int
}

// DefaultSettings mirror the clinic's standing policy: dosing window closes
// at 11:00, two-hour callback, one-day scan tolerance, hold after 3 missed
// doses in 30 days.
func DefaultSettings() Settings {
	return Settings{
		SweepCutoffHour:      11,
		CallbackDeadline:     2 * time.Hour,
		DoseWindowDays:       1,
		AutoHoldThreshold:    3,
		AutoHoldLookbackDays: 30,
	}
}

type Service struct {
	bottles  BottleRepository
	scans    ScanLogRepository
	alerts   AlertRepository
	sink     Sink
	holds    HoldOpener
	scope    SweepScope
	settings Settings
	log      zerolog.Logger

	// now is swappable in tests
	now func() time.Time
}

func NewService(bottles BottleRepository, scans ScanLogRepository, alerts AlertRepository, settings Settings, log zerolog.Logger) *Service {
	return &Service{
		bottles:  bottles,
		scans:    scans,
		alerts:   alerts,
		settings: settings,
		log:      log,
		now:      time.Now,
	}
}

// SetSink attaches the notification sink used by the sweep.
func (s *Service) SetSink(sink Sink) { s.sink = sink }

// SetHoldOpener attaches the compliance hold port used by the sweep.
func (s *Service) SetHoldOpener(h HoldOpener) { s.holds = h }

// SetSweepScope attaches the context preparation used by the scheduled sweep.
// HTTP-triggered sweeps already carry a facility-scoped connection and do not
// go through it.
func (s *Service) SetSweepScope(scope SweepScope) { s.scope = scope }

// beginTx starts a transaction when the context carries a request-scoped
// connection. Unit tests run against in-memory repositories with no
// connection, so a missing connection is not an error.
func beginTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	if db.ConnFromContext(ctx) == nil && db.TxFromContext(ctx) == nil {
		return ctx, nil, nil
	}
	return db.WithTx(ctx)
}

// ---------------------------------------------------------------------------
// Issuance
// ---------------------------------------------------------------------------

// IssueRequest describes a take-home kit to dispense.
type IssueRequest struct {
	PatientID       uuid.UUID  `json:"patient_id"`
	OrganizationID  uuid.UUID  `json:"organization_id"`
	AuthorizationID *uuid.UUID `json:"authorization_id,omitempty"`
	MedicationName  string     `json:"medication_name"`
	DoseAmount      string     `json:"dose_amount"`
	BottleCount     int        `json:"bottle_count"`
	StartDate       string     `json:"start_date"` // YYYY-MM-DD
	DispensedByID   uuid.UUID  `json:"dispensed_by_id"`
	Location        *string    `json:"dispense_location,omitempty"`
	Latitude        *float64   `json:"latitude,omitempty"`
	Longitude       *float64   `json:"longitude,omitempty"`
}

// IssueKit dispenses a kit of consecutively dated bottles. Bottle i (1-based)
// is scheduled for start date + (i-1) days. Each bottle gets a unique QR
// token and a dispensing scan log row; the whole batch commits in one
// transaction so a mid-batch failure leaves nothing behind.
func (s *Service) IssueKit(ctx context.Context, req IssueRequest) ([]*Bottle, error) {
	if req.BottleCount < 1 {
		return nil, ErrInvalidBottleCount
	}
	if req.MedicationName == "" {
		return nil, ErrMedicationRequired
	}
	if req.DoseAmount == "" {
		return nil, ErrDoseRequired
	}
	if req.StartDate == "" {
		return nil, ErrStartDateRequired
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return nil, ErrStartDateRequired
	}
	if req.PatientID == uuid.Nil {
		return nil, ErrPatientRequired
	}
	if req.DispensedByID == uuid.Nil {
		return nil, ErrDispenserRequired
	}

	txCtx, tx, err := beginTx(ctx)
	if err != nil {
		return nil, err
	}
	ctx = txCtx

	dispensedAt := s.now().UTC()
	bottles := make([]*Bottle, 0, req.BottleCount)
	for i := 0; i < req.BottleCount; i++ {
		scheduled := start.AddDate(0, 0, i)
		token, hash, err := GenerateToken(TokenPayload{
			PatientID:     req.PatientID,
			BottleNumber:  i + 1,
			Medication:    req.MedicationName,
			Dose:          req.DoseAmount,
			ScheduledDate: scheduled.Format("2006-01-02"),
		})
		if err != nil {
			return nil, s.rollback(ctx, tx, err)
		}

		b := &Bottle{
			PatientID:        req.PatientID,
			OrganizationID:   req.OrganizationID,
			AuthorizationID:  req.AuthorizationID,
			BottleNumber:     i + 1,
			MedicationName:   req.MedicationName,
			DoseAmount:       req.DoseAmount,
			ScheduledDate:    scheduled,
			DispensedAt:      dispensedAt,
			DispensedByID:    req.DispensedByID,
			DispenseLocation: req.Location,
			QRToken:          token,
			QRTokenHash:      hash,
			Status:           StatusDispensed,
			ComplianceStatus: CompliancePending,
		}
		if err := s.bottles.Create(ctx, b); err != nil {
			return nil, s.rollback(ctx, tx, fmt.Errorf("create bottle %d: %w", i+1, err))
		}

		if err := s.scans.Create(ctx, &ScanLog{
			BottleID:    b.ID,
			PatientID:   req.PatientID,
			ScanType:    ScanTypeDispensing,
			Latitude:    req.Latitude,
			Longitude:   req.Longitude,
			Passed:      true,
			ScannedByID: req.DispensedByID,
			ScannedAt:   dispensedAt,
		}); err != nil {
			return nil, s.rollback(ctx, tx, fmt.Errorf("record dispensing scan %d: %w", i+1, err))
		}

		bottles = append(bottles, b)
	}

	if tx != nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit issuance: %w", err)
		}
	}

	s.log.Info().
		Str("patient_id", req.PatientID.String()).
		Int("bottle_count", req.BottleCount).
		Str("medication", req.MedicationName).
		Msg("take-home kit issued")

	return bottles, nil
}

func (s *Service) rollback(ctx context.Context, tx pgx.Tx, err error) error {
	if tx != nil {
		_ = tx.Rollback(ctx)
	}
	return err
}

// ---------------------------------------------------------------------------
// Verification
// ---------------------------------------------------------------------------

// VerifyRequest is a consumption scan of a bottle's QR label.
type VerifyRequest struct {
	Token       string    `json:"token"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	ScannedByID uuid.UUID `json:"scanned_by_id"`
}

// VerifyResult reports the outcome of a consumption scan.
type VerifyResult struct {
	Bottle  *Bottle `json:"bottle"`
	ScanLog *ScanLog `json:"scan_log"`
}

// VerifyConsumption validates a scanned token and, when all checks pass,
// atomically flips the bottle from dispensed to consumed. Any failed check is
// recorded as a failed scan log row while the bottle stays untouched, so the
// patient can retry after a transient problem.
func (s *Service) VerifyConsumption(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	payload, err := DecodeToken(req.Token)
	if err != nil {
		return nil, err
	}

	bottle, err := s.bottles.GetByTokenHash(ctx, HashToken(req.Token))
	if err != nil {
		return nil, err
	}
	// Belt and braces: the hash already ties the token to one bottle row.
	if bottle.PatientID != payload.PatientID {
		return nil, ErrInvalidToken
	}

	now := s.now().UTC()
	if !s.withinWindow(bottle.ScheduledDate, now) {
		reason := fmt.Sprintf("scan on %s outside dosing window for %s (±%dd)",
			now.Format("2006-01-02"), bottle.ScheduledDate.Format("2006-01-02"), s.settings.DoseWindowDays)
		s.recordFailure(ctx, bottle, req, now, reason)
		return nil, ErrOutsideWindow
	}

	updated, err := s.bottles.MarkConsumed(ctx, bottle.ID, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		reason := fmt.Sprintf("bottle already %s", bottle.Status)
		s.recordFailure(ctx, bottle, req, now, reason)
		return nil, ErrAlreadyFinalized
	}

	logEntry := &ScanLog{
		BottleID:    bottle.ID,
		PatientID:   bottle.PatientID,
		ScanType:    ScanTypeConsumption,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Passed:      true,
		ScannedByID: req.ScannedByID,
		ScannedAt:   now,
	}
	if err := s.scans.Create(ctx, logEntry); err != nil {
		s.log.Error().Err(err).Str("bottle_id", bottle.ID.String()).Msg("record consumption scan failed")
	}

	bottle.Status = StatusConsumed
	bottle.ComplianceStatus = ComplianceCompliant
	bottle.ConsumedAt = &now

	return &VerifyResult{Bottle: bottle, ScanLog: logEntry}, nil
}

// withinWindow compares calendar days, not instants: a scan at 23:59 the day
// before the scheduled date is inside a one-day window.
func (s *Service) withinWindow(scheduled, at time.Time) bool {
	schedDay := time.Date(scheduled.Year(), scheduled.Month(), scheduled.Day(), 0, 0, 0, 0, time.UTC)
	atDay := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	diff := int(atDay.Sub(schedDay).Hours() / 24)
	if diff < 0 {
		diff = -diff
	}
	return diff <= s.settings.DoseWindowDays
}

func (s *Service) recordFailure(ctx context.Context, bottle *Bottle, req VerifyRequest, at time.Time, reason string) {
	if err := s.scans.Create(ctx, &ScanLog{
		BottleID:      bottle.ID,
		PatientID:     bottle.PatientID,
		ScanType:      ScanTypeConsumption,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		Passed:        false,
		FailureReason: &reason,
		ScannedByID:   req.ScannedByID,
		ScannedAt:     at,
	}); err != nil {
		s.log.Error().Err(err).Str("bottle_id", bottle.ID.String()).Msg("record failed scan")
	}
}

// ---------------------------------------------------------------------------
// Missed-dose sweep
// ---------------------------------------------------------------------------

// SweepResult summarizes one missed-dose sweep run.
type SweepResult struct {
	MissedDosesFound   int `json:"missed_doses_found"`
	AlertsCreated      int `json:"alerts_created"`
	NotificationsQueued int `json:"notifications_queued"`
	HoldsOpened        int `json:"holds_opened"`
}

// SweepMissedDoses finds today's unverified bottles after the dosing cutoff
// and escalates each exactly once: a high-severity alert (deduplicated by the
// (bottle_id, alert_type) constraint), a bottle flip to missed, a patient
// callback notification, and past the threshold an automatic hold. Re-running
// the sweep, or racing a concurrent run, changes nothing the second time.
func (s *Service) SweepMissedDoses(ctx context.Context) (*SweepResult, error) {
	now := s.now()
	result := &SweepResult{}
	if now.Hour() < s.settings.SweepCutoffHour {
		return result, ErrWindowStillOpen
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	bottles, err := s.bottles.ListDueForSweep(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("list bottles due for sweep: %w", err)
	}
	result.MissedDosesFound = len(bottles)

	for _, b := range bottles {
		deadline := now.UTC().Add(s.settings.CallbackDeadline)
		desc := fmt.Sprintf("Bottle %d of %s scheduled for %s was not verified by %02d:00.",
			b.BottleNumber, b.MedicationName, b.ScheduledDate.Format("2006-01-02"), s.settings.SweepCutoffHour)
		bottleID := b.ID
		alert := &Alert{
			PatientID:              b.PatientID,
			BottleID:               &bottleID,
			AlertType:              AlertTypeMissedDose,
			Severity:               "high",
			Title:                  "Missed take-home dose",
			Description:            &desc,
			CallbackRequired:       true,
			CallbackDeadline:       &deadline,
			ClinicalReviewRequired: true,
			Status:                 AlertStatusOpen,
		}

		created, err := s.alerts.CreateIfAbsent(ctx, alert)
		if err != nil {
			s.log.Error().Err(err).Str("bottle_id", b.ID.String()).Msg("create missed-dose alert")
			continue
		}

		reason := fmt.Sprintf("missed dose scheduled %s", b.ScheduledDate.Format("2006-01-02"))
		if _, err := s.bottles.MarkMissed(ctx, b.ID, reason); err != nil {
			s.log.Error().Err(err).Str("bottle_id", b.ID.String()).Msg("mark bottle missed")
			continue
		}

		if !created {
			// Another sweep already escalated this bottle.
			continue
		}
		result.AlertsCreated++

		if s.sink != nil {
			msg := fmt.Sprintf("Missed dose: bottle %d scheduled %s. Call your clinic within %s.",
				b.BottleNumber, b.ScheduledDate.Format("2006-01-02"), s.settings.CallbackDeadline)
			if err := s.sink.Enqueue(ctx, b.PatientID, "sms", msg); err != nil {
				s.log.Error().Err(err).Str("patient_id", b.PatientID.String()).Msg("queue missed-dose notification")
			} else {
				result.NotificationsQueued++
				if err := s.alerts.MarkNotified(ctx, alert.ID); err != nil {
					s.log.Error().Err(err).Str("alert_id", alert.ID.String()).Msg("mark alert notified")
				}
			}
		}

		if s.holds != nil && s.settings.AutoHoldThreshold > 0 {
			since := today.AddDate(0, 0, -s.settings.AutoHoldLookbackDays)
			missed, err := s.bottles.CountMissedSince(ctx, b.PatientID, since)
			if err != nil {
				s.log.Error().Err(err).Str("patient_id", b.PatientID.String()).Msg("count missed doses")
				continue
			}
			if missed >= s.settings.AutoHoldThreshold {
				reason := fmt.Sprintf("%d missed doses in the last %d days", missed, s.settings.AutoHoldLookbackDays)
				if err := s.holds.OpenAutomaticHold(ctx, b.PatientID, reason); err != nil {
					s.log.Error().Err(err).Str("patient_id", b.PatientID.String()).Msg("open automatic hold")
				} else {
					result.HoldsOpened++
				}
			}
		}
	}

	s.log.Info().
		Int("missed_doses_found", result.MissedDosesFound).
		Int("alerts_created", result.AlertsCreated).
		Int("notifications_queued", result.NotificationsQueued).
		Int("holds_opened", result.HoldsOpened).
		Msg("missed-dose sweep complete")

	return result, nil
}

// StartSweepLoop runs SweepMissedDoses on a ticker until the context is
// cancelled. Runs before the daily cutoff are quietly skipped.
func (s *Service) StartSweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", interval).Msg("missed-dose sweep loop started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("missed-dose sweep loop stopped")
			return
		case <-ticker.C:
			if _, err := s.sweepScoped(ctx); err != nil {
				if errors.Is(err, ErrWindowStillOpen) {
					s.log.Debug().Msg("sweep skipped, dosing window still open")
					continue
				}
				s.log.Error().Err(err).Msg("missed-dose sweep failed")
			}
		}
	}
}

// sweepScoped runs one sweep under the configured scope, so scheduled runs
// hit the same facility schema the HTTP endpoints do instead of the pool's
// default search_path.
func (s *Service) sweepScoped(ctx context.Context) (*SweepResult, error) {
	if s.scope != nil {
		scoped, release, err := s.scope(ctx)
		if err != nil {
			return nil, fmt.Errorf("scope sweep: %w", err)
		}
		defer release()
		ctx = scoped
	}
	return s.SweepMissedDoses(ctx)
}

// GetBottle returns one bottle by ID.
func (s *Service) GetBottle(ctx context.Context, id uuid.UUID) (*Bottle, error) {
	return s.bottles.GetByID(ctx, id)
}

// ListBottles returns bottles, optionally filtered by patient.
func (s *Service) ListBottles(ctx context.Context, patientID *uuid.UUID, limit, offset int) ([]*Bottle, int, error) {
	if patientID != nil {
		return s.bottles.ListByPatient(ctx, *patientID, limit, offset)
	}
	return s.bottles.List(ctx, limit, offset)
}

// ListScanLogs returns scan logs filtered by bottle or patient.
func (s *Service) ListScanLogs(ctx context.Context, bottleID, patientID *uuid.UUID, limit, offset int) ([]*ScanLog, int, error) {
	if bottleID != nil {
		return s.scans.ListByBottle(ctx, *bottleID, limit, offset)
	}
	if patientID != nil {
		return s.scans.ListByPatient(ctx, *patientID, limit, offset)
	}
	return nil, 0, fmt.Errorf("bottle_id or patient_id is required")
}

// ListAlerts returns compliance alerts with optional patient and status filters.
func (s *Service) ListAlerts(ctx context.Context, patientID *uuid.UUID, status string, limit, offset int) ([]*Alert, int, error) {
	return s.alerts.List(ctx, patientID, status, limit, offset)
}
