package takehome

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightpath/emr/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Bottle Repository ===========

type bottleRepoPG struct{ pool *pgxpool.Pool }

func NewBottleRepoPG(pool *pgxpool.Pool) BottleRepository {
	return &bottleRepoPG{pool: pool}
}

func (r *bottleRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const bottleCols = `id, patient_id, organization_id, authorization_id, bottle_number,
	medication_name, dose_amount, scheduled_date, dispensed_at, dispensed_by_id,
	dispense_location, qr_token, qr_token_hash, status, compliance_status,
	compliance_reason, consumed_at, created_at, updated_at`

func (r *bottleRepoPG) scanBottle(row pgx.Row) (*Bottle, error) {
	var b Bottle
	err := row.Scan(&b.ID, &b.PatientID, &b.OrganizationID, &b.AuthorizationID, &b.BottleNumber,
		&b.MedicationName, &b.DoseAmount, &b.ScheduledDate, &b.DispensedAt, &b.DispensedByID,
		&b.DispenseLocation, &b.QRToken, &b.QRTokenHash, &b.Status, &b.ComplianceStatus,
		&b.ComplianceReason, &b.ConsumedAt, &b.CreatedAt, &b.UpdatedAt)
	return &b, err
}

func (r *bottleRepoPG) Create(ctx context.Context, b *Bottle) error {
	b.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO takehome_bottle (id, patient_id, organization_id, authorization_id, bottle_number,
			medication_name, dose_amount, scheduled_date, dispensed_at, dispensed_by_id,
			dispense_location, qr_token, qr_token_hash, status, compliance_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		b.ID, b.PatientID, b.OrganizationID, b.AuthorizationID, b.BottleNumber,
		b.MedicationName, b.DoseAmount, b.ScheduledDate, b.DispensedAt, b.DispensedByID,
		b.DispenseLocation, b.QRToken, b.QRTokenHash, b.Status, b.ComplianceStatus)
	return err
}

func (r *bottleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bottle, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+bottleCols+` FROM takehome_bottle WHERE id = $1`, id)
	b, err := r.scanBottle(row)
	if err == pgx.ErrNoRows {
		return nil, ErrBottleNotFound
	}
	return b, err
}

func (r *bottleRepoPG) GetByTokenHash(ctx context.Context, hash string) (*Bottle, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+bottleCols+` FROM takehome_bottle WHERE qr_token_hash = $1`, hash)
	b, err := r.scanBottle(row)
	if err == pgx.ErrNoRows {
		return nil, ErrBottleNotFound
	}
	return b, err
}

func (r *bottleRepoPG) List(ctx context.Context, limit, offset int) ([]*Bottle, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM takehome_bottle`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+bottleCols+` FROM takehome_bottle
		 ORDER BY scheduled_date DESC, bottle_number
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.collect(rows, total)
}

func (r *bottleRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Bottle, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM takehome_bottle WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+bottleCols+` FROM takehome_bottle WHERE patient_id = $1
		 ORDER BY scheduled_date DESC, bottle_number
		 LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.collect(rows, total)
}

func (r *bottleRepoPG) collect(rows pgx.Rows, total int) ([]*Bottle, int, error) {
	var bottles []*Bottle
	for rows.Next() {
		b, err := r.scanBottle(rows)
		if err != nil {
			return nil, 0, err
		}
		bottles = append(bottles, b)
	}
	return bottles, total, rows.Err()
}

func (r *bottleRepoPG) ListDueForSweep(ctx context.Context, day time.Time) ([]*Bottle, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+bottleCols+` FROM takehome_bottle
		 WHERE scheduled_date = $1 AND status = $2 AND compliance_status <> $3
		 ORDER BY patient_id, bottle_number`,
		day.Format("2006-01-02"), StatusDispensed, ComplianceCompliant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	bottles, _, err := r.collect(rows, 0)
	return bottles, err
}

func (r *bottleRepoPG) MarkConsumed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE takehome_bottle
		SET status = $3, compliance_status = $4, consumed_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = $5`,
		id, at, StatusConsumed, ComplianceCompliant, StatusDispensed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *bottleRepoPG) MarkMissed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE takehome_bottle
		SET status = $3, compliance_status = $4, compliance_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = $5`,
		id, reason, StatusMissed, ComplianceNonCompliant, StatusDispensed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *bottleRepoPG) CountMissedSince(ctx context.Context, patientID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM takehome_bottle
		WHERE patient_id = $1 AND status = $2 AND scheduled_date >= $3`,
		patientID, StatusMissed, since.Format("2006-01-02")).Scan(&count)
	return count, err
}

// =========== Scan Log Repository ===========

type scanLogRepoPG struct{ pool *pgxpool.Pool }

func NewScanLogRepoPG(pool *pgxpool.Pool) ScanLogRepository {
	return &scanLogRepoPG{pool: pool}
}

func (r *scanLogRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const scanLogCols = `id, bottle_id, patient_id, scan_type, latitude, longitude,
	passed, failure_reason, scanned_by_id, scanned_at`

func (r *scanLogRepoPG) scanLog(row pgx.Row) (*ScanLog, error) {
	var l ScanLog
	err := row.Scan(&l.ID, &l.BottleID, &l.PatientID, &l.ScanType, &l.Latitude, &l.Longitude,
		&l.Passed, &l.FailureReason, &l.ScannedByID, &l.ScannedAt)
	return &l, err
}

func (r *scanLogRepoPG) Create(ctx context.Context, l *ScanLog) error {
	l.ID = uuid.New()
	if l.ScannedAt.IsZero() {
		l.ScannedAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO scan_log (id, bottle_id, patient_id, scan_type, latitude, longitude,
			passed, failure_reason, scanned_by_id, scanned_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		l.ID, l.BottleID, l.PatientID, l.ScanType, l.Latitude, l.Longitude,
		l.Passed, l.FailureReason, l.ScannedByID, l.ScannedAt)
	return err
}

func (r *scanLogRepoPG) ListByBottle(ctx context.Context, bottleID uuid.UUID, limit, offset int) ([]*ScanLog, int, error) {
	return r.list(ctx, `bottle_id`, bottleID, limit, offset)
}

func (r *scanLogRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ScanLog, int, error) {
	return r.list(ctx, `patient_id`, patientID, limit, offset)
}

func (r *scanLogRepoPG) list(ctx context.Context, col string, id uuid.UUID, limit, offset int) ([]*ScanLog, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM scan_log WHERE `+col+` = $1`, id).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+scanLogCols+` FROM scan_log WHERE `+col+` = $1
		 ORDER BY scanned_at DESC
		 LIMIT $2 OFFSET $3`, id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var logs []*ScanLog
	for rows.Next() {
		l, err := r.scanLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, l)
	}
	return logs, total, rows.Err()
}

func (r *scanLogRepoPG) ListRecent(ctx context.Context, limit int) ([]*ScanLog, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+scanLogCols+` FROM scan_log ORDER BY scanned_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*ScanLog
	for rows.Next() {
		l, err := r.scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// =========== Alert Repository ===========

type alertRepoPG struct{ pool *pgxpool.Pool }

func NewAlertRepoPG(pool *pgxpool.Pool) AlertRepository {
	return &alertRepoPG{pool: pool}
}

func (r *alertRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const alertCols = `id, patient_id, bottle_id, alert_type, severity, title, description,
	callback_required, callback_deadline, clinical_review_required, notified,
	status, resolution_notes, created_at`

func (r *alertRepoPG) scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	err := row.Scan(&a.ID, &a.PatientID, &a.BottleID, &a.AlertType, &a.Severity, &a.Title,
		&a.Description, &a.CallbackRequired, &a.CallbackDeadline, &a.ClinicalReviewRequired,
		&a.Notified, &a.Status, &a.ResolutionNotes, &a.CreatedAt)
	return &a, err
}

// CreateIfAbsent relies on the (bottle_id, alert_type) unique constraint:
// concurrent sweeps racing on the same bottle produce exactly one alert row.
func (r *alertRepoPG) CreateIfAbsent(ctx context.Context, a *Alert) (bool, error) {
	a.ID = uuid.New()
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO compliance_alert (id, patient_id, bottle_id, alert_type, severity, title,
			description, callback_required, callback_deadline, clinical_review_required,
			notified, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (bottle_id, alert_type) DO NOTHING`,
		a.ID, a.PatientID, a.BottleID, a.AlertType, a.Severity, a.Title,
		a.Description, a.CallbackRequired, a.CallbackDeadline, a.ClinicalReviewRequired,
		a.Notified, a.Status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *alertRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Alert, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+alertCols+` FROM compliance_alert WHERE id = $1`, id)
	return r.scanAlert(row)
}

func (r *alertRepoPG) List(ctx context.Context, patientID *uuid.UUID, status string, limit, offset int) ([]*Alert, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	if patientID != nil {
		args = append(args, *patientID)
		where += ` AND patient_id = $1`
	}
	if status != "" {
		args = append(args, status)
		if len(args) == 1 {
			where += ` AND status = $1`
		} else {
			where += ` AND status = $2`
		}
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM compliance_alert`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limitArgs := append(args, limit, offset)
	query := `SELECT ` + alertCols + ` FROM compliance_alert` + where +
		` ORDER BY created_at DESC`
	switch len(args) {
	case 0:
		query += ` LIMIT $1 OFFSET $2`
	case 1:
		query += ` LIMIT $2 OFFSET $3`
	default:
		query += ` LIMIT $3 OFFSET $4`
	}

	rows, err := r.conn(ctx).Query(ctx, query, limitArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		a, err := r.scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, a)
	}
	return alerts, total, rows.Err()
}

func (r *alertRepoPG) MarkReported(ctx context.Context, id uuid.UUID, reference string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE compliance_alert
		SET status = $3, resolution_notes = $2
		WHERE id = $1 AND status = $4`,
		id, "reported to DEA, reference "+reference, AlertStatusReported, AlertStatusOpen)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *alertRepoPG) MarkNotified(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE compliance_alert SET notified = TRUE WHERE id = $1`, id)
	return err
}
