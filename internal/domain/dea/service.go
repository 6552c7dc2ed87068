package dea

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/brightpath/emr/internal/domain/compliance"
	"github.com/brightpath/emr/internal/domain/takehome"
	"github.com/brightpath/emr/internal/platform/db"
)

// AlertMarker resolves a compliance alert once its report is filed. The
// takehome alert repository satisfies it.
type AlertMarker interface {
	MarkReported(ctx context.Context, id uuid.UUID, reference string) (bool, error)
}

type Service struct {
	reports   ReportRepository
	alerts    AlertMarker
	scans     takehome.ScanLogRepository
	allAlerts takehome.AlertRepository
	clinicID  string
	log       zerolog.Logger

	now func() time.Time
}

func NewService(reports ReportRepository, clinicID string, log zerolog.Logger) *Service {
	return &Service{
		reports:  reports,
		clinicID: clinicID,
		log:      log,
		now:      time.Now,
	}
}

// SetAlertMarker attaches the port used to resolve alerts after a sync.
func (s *Service) SetAlertMarker(m AlertMarker) { s.alerts = m }

// SetSummarySources attaches the repositories the summary endpoint reads.
func (s *Service) SetSummarySources(scans takehome.ScanLogRepository, alerts takehome.AlertRepository) {
	s.scans = scans
	s.allAlerts = alerts
}

// SyncRequest is one diversion-control event to file.
type SyncRequest struct {
	EventType string          `json:"event_type"`
	PatientID uuid.UUID       `json:"patient_id"`
	BottleID  *uuid.UUID      `json:"bottle_id,omitempty"`
	AlertID   *uuid.UUID      `json:"alert_id,omitempty"`
	HoldID    *uuid.UUID      `json:"hold_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// newReference builds a reference like DEA-20240104-a1b2c3d4: the sync date
// plus the first eight hex digits of a fresh UUID.
func (s *Service) newReference() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("DEA-%s-%s", s.now().UTC().Format("20060102"), id[:8])
}

// SyncEvent files one event: a report row is written and, when the event
// resolves an alert, the alert is marked reported with the same reference.
// Both writes share a transaction when the request carries a database
// connection, so a failed alert update never leaves an orphaned report.
func (s *Service) SyncEvent(ctx context.Context, req SyncRequest) (*Report, error) {
	if req.EventType == "" {
		return nil, ErrEventTypeRequired
	}
	if req.PatientID == uuid.Nil {
		return nil, ErrPatientRequired
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	ctx, tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ReferenceNumber: s.newReference(),
		EventType:       req.EventType,
		PatientID:       req.PatientID,
		BottleID:        req.BottleID,
		AlertID:         req.AlertID,
		HoldID:          req.HoldID,
		Payload:         payload,
		Status:          ReportStatusSynced,
		ReportedAt:      s.now().UTC(),
	}
	if err := s.reports.Create(ctx, report); err != nil {
		return nil, s.rollback(ctx, tx, fmt.Errorf("create dea report: %w", err))
	}

	if req.AlertID != nil && s.alerts != nil {
		marked, err := s.alerts.MarkReported(ctx, *req.AlertID, report.ReferenceNumber)
		if err != nil {
			return nil, s.rollback(ctx, tx, fmt.Errorf("mark alert reported: %w", err))
		}
		if !marked {
			s.log.Warn().
				Str("alert_id", req.AlertID.String()).
				Str("reference", report.ReferenceNumber).
				Msg("alert already resolved, report filed without resolving it")
		}
	}

	if tx != nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit dea sync: %w", err)
		}
	}

	s.log.Info().
		Str("reference", report.ReferenceNumber).
		Str("event_type", report.EventType).
		Str("patient_id", report.PatientID.String()).
		Msg("dea report filed")

	return report, nil
}

func (s *Service) beginTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	if db.ConnFromContext(ctx) == nil && db.TxFromContext(ctx) == nil {
		return ctx, nil, nil
	}
	return db.WithTx(ctx)
}

func (s *Service) rollback(ctx context.Context, tx pgx.Tx, err error) error {
	if tx != nil {
		_ = tx.Rollback(ctx)
	}
	return err
}

// ReportOverride files a hold override with the DEA. It satisfies the
// compliance reporter port.
func (s *Service) ReportOverride(ctx context.Context, audit *compliance.OverrideAudit) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"clinic_id":        s.clinicID,
		"hold_id":          audit.HoldID,
		"justification":    audit.Justification,
		"overridden_by_id": audit.OverriddenByID,
		"review_due_at":    audit.ReviewDueAt,
	})
	if err != nil {
		return "", fmt.Errorf("marshal override payload: %w", err)
	}

	holdID := audit.HoldID
	report, err := s.SyncEvent(ctx, SyncRequest{
		EventType: EventHoldOverride,
		PatientID: audit.PatientID,
		HoldID:    &holdID,
		Payload:   payload,
	})
	if err != nil {
		return "", err
	}
	return report.ReferenceNumber, nil
}

// Summary is the aggregate view behind GET /dea/sync.
type Summary struct {
	Reports         []*Report            `json:"reports"`
	TotalReports    int                  `json:"total_reports"`
	ReportsByType   map[string]int       `json:"reports_by_type"`
	OpenAlerts      []*takehome.Alert    `json:"open_alerts"`
	OpenAlertCount  int                  `json:"open_alert_count"`
	RecentScans     []*takehome.ScanLog  `json:"recent_scans"`
	MissedByPatient []PatientMissedCount `json:"missed_by_patient"`
	BottlesByStatus map[string]int       `json:"bottles_by_status"`
	GeneratedAt     time.Time            `json:"generated_at"`
}

const (
	summaryReportLimit  = 20
	summaryScanLimit    = 25
	summaryPatientLimit = 10
	summaryLookbackDays = 30
)

// BuildSummary assembles the reporting view: recent reports, open alerts,
// recent scan activity, the worst missed-dose offenders over the last month,
// and aggregate counts.
func (s *Service) BuildSummary(ctx context.Context) (*Summary, error) {
	now := s.now().UTC()
	sum := &Summary{GeneratedAt: now}

	reports, total, err := s.reports.List(ctx, summaryReportLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	sum.Reports = reports
	sum.TotalReports = total

	sum.ReportsByType, err = s.reports.CountByEventType(ctx)
	if err != nil {
		return nil, fmt.Errorf("count reports by type: %w", err)
	}

	sum.BottlesByStatus, err = s.reports.BottleStatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("count bottles by status: %w", err)
	}

	since := now.AddDate(0, 0, -summaryLookbackDays)
	sum.MissedByPatient, err = s.reports.MissedDoseCounts(ctx, since, summaryPatientLimit)
	if err != nil {
		return nil, fmt.Errorf("missed dose counts: %w", err)
	}

	if s.allAlerts != nil {
		alerts, count, err := s.allAlerts.List(ctx, nil, takehome.AlertStatusOpen, summaryReportLimit, 0)
		if err != nil {
			return nil, fmt.Errorf("list open alerts: %w", err)
		}
		sum.OpenAlerts = alerts
		sum.OpenAlertCount = count
	}
	if s.scans != nil {
		scans, err := s.scans.ListRecent(ctx, summaryScanLimit)
		if err != nil {
			return nil, fmt.Errorf("list recent scans: %w", err)
		}
		sum.RecentScans = scans
	}

	return sum, nil
}
