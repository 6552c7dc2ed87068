package dea

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

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewReportRepoPG(pool *pgxpool.Pool) ReportRepository {
	return &reportRepoPG{pool: pool}
}

func (r *reportRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const reportCols = `id, reference_number, event_type, patient_id, bottle_id, alert_id,
	hold_id, payload, status, reported_at`

func scanReport(row pgx.Row) (*Report, error) {
	var rep Report
	err := row.Scan(&rep.ID, &rep.ReferenceNumber, &rep.EventType, &rep.PatientID, &rep.BottleID,
		&rep.AlertID, &rep.HoldID, &rep.Payload, &rep.Status, &rep.ReportedAt)
	return &rep, err
}

func (r *reportRepoPG) Create(ctx context.Context, rep *Report) error {
	rep.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO dea_report (id, reference_number, event_type, patient_id, bottle_id,
			alert_id, hold_id, payload, status, reported_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8::jsonb,$9,$10)`,
		rep.ID, rep.ReferenceNumber, rep.EventType, rep.PatientID, rep.BottleID,
		rep.AlertID, rep.HoldID, string(rep.Payload), rep.Status, rep.ReportedAt)
	return err
}

func (r *reportRepoPG) GetByReference(ctx context.Context, reference string) (*Report, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+reportCols+` FROM dea_report WHERE reference_number = $1`, reference)
	rep, err := scanReport(row)
	if err == pgx.ErrNoRows {
		return nil, ErrReportNotFound
	}
	return rep, err
}

func (r *reportRepoPG) List(ctx context.Context, limit, offset int) ([]*Report, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM dea_report`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+reportCols+` FROM dea_report
		 ORDER BY reported_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		reports = append(reports, rep)
	}
	return reports, total, rows.Err()
}

func (r *reportRepoPG) CountByEventType(ctx context.Context) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT event_type, COUNT(*) FROM dea_report GROUP BY event_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var eventType string
		var n int
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, err
		}
		counts[eventType] = n
	}
	return counts, rows.Err()
}

func (r *reportRepoPG) MissedDoseCounts(ctx context.Context, since time.Time, limit int) ([]PatientMissedCount, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT b.patient_id, p.display_name, COUNT(*) AS missed_count
		FROM takehome_bottle b
		LEFT JOIN patient p ON p.id = b.patient_id
		WHERE b.status = 'missed' AND b.scheduled_date >= $1
		GROUP BY b.patient_id, p.display_name
		ORDER BY missed_count DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []PatientMissedCount
	for rows.Next() {
		var c PatientMissedCount
		if err := rows.Scan(&c.PatientID, &c.PatientName, &c.MissedCount); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (r *reportRepoPG) BottleStatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT status, COUNT(*) FROM takehome_bottle GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
