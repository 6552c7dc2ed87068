package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/brightpath/emr/internal/config"
	"github.com/brightpath/emr/internal/domain/compliance"
	"github.com/brightpath/emr/internal/domain/dea"
	"github.com/brightpath/emr/internal/domain/takehome"
	"github.com/brightpath/emr/internal/platform/auth"
	"github.com/brightpath/emr/internal/platform/db"
	"github.com/brightpath/emr/internal/platform/middleware"
	"github.com/brightpath/emr/internal/platform/notification"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "emr-server",
		Short: "Take-home medication diversion control API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(facilityCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "facility_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "facility_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func facilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facility",
		Short: "Manage clinic facilities",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new facility schema and run its migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			dir, _ := cmd.Flags().GetString("dir")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating facility schema: facility_%s\n", name)
			if err := db.CreateFacilitySchema(ctx, pool, name, dir); err != nil {
				return err
			}
			fmt.Println("Facility created and migrated successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Facility identifier (alphanumeric)")
	createCmd.Flags().String("dir", "./migrations", "Path to migrations directory")

	cmd.AddCommand(createCmd)
	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Facility-ID"},
	}))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "dev" {
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}))
	}

	// Facility middleware
	e.Use(db.FacilityMiddleware(pool, cfg.DefaultFacility))

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Notification platform
	tplEngine := notification.NewTemplateEngine()
	notifyMgr := notification.NewNotificationManager(
		&notification.MockEmailSender{},
		&notification.MockSMSSender{},
		tplEngine,
	)
	notifyHandler := notification.NewNotificationHandler(notifyMgr)
	notifyHandler.RegisterRoutes(apiV1)

	// Repositories
	bottleRepo := takehome.NewBottleRepoPG(pool)
	scanRepo := takehome.NewScanLogRepoPG(pool)
	alertRepo := takehome.NewAlertRepoPG(pool)
	holdRepo := compliance.NewHoldRepoPG(pool)
	auditRepo := compliance.NewOverrideAuditRepoPG(pool)
	reportRepo := dea.NewReportRepoPG(pool)

	// Services
	takehomeSvc := takehome.NewService(bottleRepo, scanRepo, alertRepo, takehome.Settings{
		SweepCutoffHour:      cfg.SweepCutoffHour,
		CallbackDeadline:     time.Duration(cfg.CallbackDeadlineHrs) * time.Hour,
		DoseWindowDays:       cfg.DoseWindowDays,
		AutoHoldThreshold:    3,
		AutoHoldLookbackDays: 30,
	}, logger)

	complianceSvc := compliance.NewService(holdRepo, auditRepo, compliance.Settings{
		OverrideReviewPeriod: time.Duration(cfg.OverrideReviewHours) * time.Hour,
		MinJustificationLen:  20,
	}, logger)

	deaSvc := dea.NewService(reportRepo, cfg.DEAClinicID, logger)
	deaSvc.SetAlertMarker(alertRepo)
	deaSvc.SetSummarySources(scanRepo, alertRepo)

	// Cross-domain ports
	takehomeSvc.SetSink(&notificationSink{mgr: notifyMgr, pool: pool, log: logger})
	takehomeSvc.SetHoldOpener(complianceSvc)
	complianceSvc.SetReporter(deaSvc)

	// Handlers
	takehome.NewHandler(takehomeSvc).RegisterRoutes(apiV1)
	compliance.NewHandler(complianceSvc).RegisterRoutes(apiV1)
	dea.NewHandler(deaSvc).RegisterRoutes(apiV1)

	// Background missed-dose sweep. Each run borrows a connection pinned to
	// the default facility schema, mirroring what FacilityMiddleware does for
	// HTTP-triggered sweeps.
	takehomeSvc.SetSweepScope(func(ctx context.Context) (context.Context, func(), error) {
		return db.FacilityContext(ctx, pool, cfg.DefaultFacility)
	})
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	go takehomeSvc.StartSweepLoop(sweepCtx, time.Duration(cfg.SweepIntervalMinutes)*time.Minute)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// notificationSink adapts the notification platform to the takehome sweep's
// sink port, resolving a patient's phone or email before sending. It lives
// here to avoid a dependency from the takehome domain onto the notification
// platform.
type notificationSink struct {
	mgr  *notification.NotificationManager
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func (s *notificationSink) Enqueue(ctx context.Context, patientID uuid.UUID, channel, message string) error {
	// The sweep context carries a facility-scoped connection; only fall back
	// to the raw pool when there is none.
	var row pgx.Row
	contactQuery := `SELECT phone, email FROM patient WHERE id = $1`
	if conn := db.ConnFromContext(ctx); conn != nil {
		row = conn.QueryRow(ctx, contactQuery, patientID)
	} else {
		row = s.pool.QueryRow(ctx, contactQuery, patientID)
	}

	var phone, email *string
	if err := row.Scan(&phone, &email); err != nil {
		return fmt.Errorf("resolve patient contact: %w", err)
	}

	n := &notification.Notification{
		Body:     message,
		Priority: "high",
		Metadata: map[string]string{"patient_id": patientID.String()},
	}
	switch {
	case channel == "sms" && phone != nil:
		n.Type = notification.TypeSMS
		n.Recipient = *phone
	case email != nil:
		n.Type = notification.TypeEmail
		n.Subject = "Missed take-home dose"
		n.Recipient = *email
	default:
		return fmt.Errorf("patient %s has no reachable contact", patientID)
	}

	return s.mgr.Send(ctx, n)
}
