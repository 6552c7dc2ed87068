package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	FacilityIDKey contextKey = "facility_id"
	DBConnKey     contextKey = "db_conn"
	DBTxKey       contextKey = "db_tx"
)

var facilityIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// FacilityMiddleware resolves the clinic facility for the request and pins the
// acquired connection's search_path to that facility's schema. Each clinic in
// the chain gets its own schema so bottle and hold data never crosses sites.
func FacilityMiddleware(pool *pgxpool.Pool, defaultFacility string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			facilityID := extractFacilityID(c, defaultFacility)

			if !facilityIDPattern.MatchString(facilityID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid facility identifier")
			}

			ctx, release, err := FacilityContext(c.Request().Context(), pool, facilityID)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "facility resolution failed")
			}
			defer release()

			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("facility_id", facilityID)
			c.Set("db", ConnFromContext(ctx))

			return next(c)
		}
	}
}

func extractFacilityID(c echo.Context, defaultFacility string) string {
	// 1. Check JWT claim (set by auth middleware)
	if fid, ok := c.Get("jwt_facility_id").(string); ok && fid != "" {
		return fid
	}

	// 2. Check X-Facility-ID header
	if fid := c.Request().Header.Get("X-Facility-ID"); fid != "" {
		return fid
	}

	// 3. Check query parameter
	if fid := c.QueryParam("facility_id"); fid != "" {
		return fid
	}

	return defaultFacility
}

// FacilityContext acquires a connection pinned to the facility's schema and
// returns a derived context carrying it, so repositories resolve tables in
// that schema via ConnFromContext. Callers outside the request path, such as
// background jobs, use this where FacilityMiddleware is not in play. The
// release function returns the connection to the pool.
func FacilityContext(ctx context.Context, pool *pgxpool.Pool, facilityID string) (context.Context, func(), error) {
	if !facilityIDPattern.MatchString(facilityID) {
		return ctx, nil, fmt.Errorf("invalid facility identifier %q", facilityID)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("acquire connection: %w", err)
	}

	schema := fmt.Sprintf("facility_%s", facilityID)
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, shared, public", schema)); err != nil {
		conn.Release()
		return ctx, nil, fmt.Errorf("set search_path for %s: %w", schema, err)
	}

	ctx = context.WithValue(ctx, FacilityIDKey, facilityID)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return ctx, conn.Release, nil
}

// ConnFromContext retrieves the facility-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// FacilityFromContext retrieves the facility ID from context.
func FacilityFromContext(ctx context.Context) string {
	fid, _ := ctx.Value(FacilityIDKey).(string)
	return fid
}

// TxFromContext retrieves an in-flight transaction from context, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the request's facility-scoped connection and
// returns a derived context carrying it. Repositories pick the transaction up
// via TxFromContext, so multi-table writes in one operation commit or roll
// back together.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	if tx := TxFromContext(ctx); tx != nil {
		return ctx, tx, nil
	}
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, fmt.Errorf("no database connection in context")
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// CreateFacilitySchema creates a new schema for a clinic facility and runs all
// migrations against it. The migrationsDir parameter specifies the directory
// containing migration SQL files. If migrationsDir is empty, migrations are
// skipped.
func CreateFacilitySchema(ctx context.Context, pool *pgxpool.Pool, facilityID string, migrationsDir string) error {
	if !facilityIDPattern.MatchString(facilityID) {
		return fmt.Errorf("invalid facility identifier: %s", facilityID)
	}

	schema := fmt.Sprintf("facility_%s", facilityID)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema))
	if err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrationsDir != "" {
		migrator := NewMigrator(pool, migrationsDir)
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	return nil
}
