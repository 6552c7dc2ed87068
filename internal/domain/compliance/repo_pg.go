package compliance

import (
	"context"
	"fmt"
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

// =========== Hold Repository ===========

type holdRepoPG struct{ pool *pgxpool.Pool }

func NewHoldRepoPG(pool *pgxpool.Pool) HoldRepository {
	return &holdRepoPG{pool: pool}
}

func (r *holdRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const holdCols = `h.id, h.patient_id, h.hold_type, h.reason, h.severity, h.status,
	h.clearing_roles, h.created_by_id, h.cleared_by_id, h.cleared_at, h.clear_notes,
	h.review_due_at, h.created_at, h.updated_at`

func scanHold(row pgx.Row) (*Hold, error) {
	var h Hold
	err := row.Scan(&h.ID, &h.PatientID, &h.HoldType, &h.Reason, &h.Severity, &h.Status,
		&h.ClearingRoles, &h.CreatedByID, &h.ClearedByID, &h.ClearedAt, &h.ClearNotes,
		&h.ReviewDueAt, &h.CreatedAt, &h.UpdatedAt)
	return &h, err
}

func (r *holdRepoPG) Create(ctx context.Context, h *Hold) error {
	h.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO compliance_hold (id, patient_id, hold_type, reason, severity, status,
			clearing_roles, created_by_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		h.ID, h.PatientID, h.HoldType, h.Reason, h.Severity, h.Status,
		h.ClearingRoles, h.CreatedByID)
	return err
}

func (r *holdRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Hold, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+holdCols+` FROM compliance_hold h WHERE h.id = $1`, id)
	h, err := scanHold(row)
	if err == pgx.ErrNoRows {
		return nil, ErrHoldNotFound
	}
	return h, err
}

func (r *holdRepoPG) List(ctx context.Context, patientID *uuid.UUID, status string, limit, offset int) ([]*Hold, int, error) {
	where := ""
	args := []interface{}{}
	if patientID != nil {
		args = append(args, *patientID)
		where = fmt.Sprintf(" WHERE h.patient_id = $%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		if where == "" {
			where = fmt.Sprintf(" WHERE h.status = $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND h.status = $%d", len(args))
		}
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM compliance_hold h`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+holdCols+`, p.display_name
		 FROM compliance_hold h
		 LEFT JOIN patient p ON p.id = h.patient_id`+where+
			fmt.Sprintf(` ORDER BY h.created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var holds []*Hold
	for rows.Next() {
		var h Hold
		if err := rows.Scan(&h.ID, &h.PatientID, &h.HoldType, &h.Reason, &h.Severity, &h.Status,
			&h.ClearingRoles, &h.CreatedByID, &h.ClearedByID, &h.ClearedAt, &h.ClearNotes,
			&h.ReviewDueAt, &h.CreatedAt, &h.UpdatedAt, &h.PatientName); err != nil {
			return nil, 0, err
		}
		holds = append(holds, &h)
	}
	return holds, total, rows.Err()
}

func (r *holdRepoPG) HasActiveOfType(ctx context.Context, patientID uuid.UUID, holdType string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM compliance_hold
			WHERE patient_id = $1 AND hold_type = $2 AND status = 'active')`,
		patientID, holdType).Scan(&exists)
	return exists, err
}

func (r *holdRepoPG) Clear(ctx context.Context, id uuid.UUID, clearedByID uuid.UUID, notes *string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE compliance_hold
		SET status = 'cleared', cleared_by_id = $2, cleared_at = NOW(),
			clear_notes = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'active'`,
		id, clearedByID, notes)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *holdRepoPG) SetReviewDue(ctx context.Context, id uuid.UUID, due time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE compliance_hold SET review_due_at = $2, updated_at = NOW() WHERE id = $1`,
		id, due)
	return err
}

// =========== Override Audit Repository ===========

type overrideAuditRepoPG struct{ pool *pgxpool.Pool }

func NewOverrideAuditRepoPG(pool *pgxpool.Pool) OverrideAuditRepository {
	return &overrideAuditRepoPG{pool: pool}
}

func (r *overrideAuditRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const overrideAuditCols = `id, hold_id, patient_id, override_type, justification,
	overridden_by_id, origin_ip, review_due_at, dea_reference, created_at`

func scanOverrideAudit(rows pgx.Rows) (*OverrideAudit, error) {
	var a OverrideAudit
	err := rows.Scan(&a.ID, &a.HoldID, &a.PatientID, &a.OverrideType, &a.Justification,
		&a.OverriddenByID, &a.OriginIP, &a.ReviewDueAt, &a.DEAReference, &a.CreatedAt)
	return &a, err
}

func (r *overrideAuditRepoPG) Create(ctx context.Context, a *OverrideAudit) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO override_audit (id, hold_id, patient_id, override_type, justification,
			overridden_by_id, origin_ip, review_due_at, dea_reference)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.HoldID, a.PatientID, a.OverrideType, a.Justification,
		a.OverriddenByID, a.OriginIP, a.ReviewDueAt, a.DEAReference)
	return err
}

func (r *overrideAuditRepoPG) ListByHold(ctx context.Context, holdID uuid.UUID) ([]*OverrideAudit, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+overrideAuditCols+` FROM override_audit
		 WHERE hold_id = $1 ORDER BY created_at DESC`, holdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []*OverrideAudit
	for rows.Next() {
		a, err := scanOverrideAudit(rows)
		if err != nil {
			return nil, err
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

func (r *overrideAuditRepoPG) ListDueForReview(ctx context.Context, limit int) ([]*OverrideAudit, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+overrideAuditCols+` FROM override_audit
		 WHERE review_due_at <= NOW() ORDER BY review_due_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []*OverrideAudit
	for rows.Next() {
		a, err := scanOverrideAudit(rows)
		if err != nil {
			return nil, err
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}
