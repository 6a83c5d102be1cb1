package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/emr/internal/config"
	"github.com/ehr/emr/internal/domain/emr"
	"github.com/ehr/emr/internal/domain/patient"
	"github.com/ehr/emr/internal/platform/blobstore"
	"github.com/ehr/emr/internal/platform/cache"
	"github.com/ehr/emr/internal/platform/db"
	"github.com/ehr/emr/internal/platform/events"
	"github.com/ehr/emr/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "emr-server",
		Short:        "Clinical records API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(migrate)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply pending migrations before serving")
	return cmd
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
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(dir string, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, dir))
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolOptions{
		DatabaseURL:     cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "emr-server",
	})
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func runServer(migrate bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	if migrate {
		count, err := db.NewMigrator(pool, cfg.MigrationsDir).Up(ctx)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info().Int("applied", count).Msg("migrations applied")
	}

	detailCache := buildCache(ctx, cfg, logger)
	defer detailCache.Close()

	publisher := buildPublisher(cfg, logger)
	defer publisher.Close()

	photos, err := buildPhotoStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	patientOpts := []patient.Option{
		patient.WithCache(detailCache, cfg.CacheTTL),
		patient.WithEvents(publisher),
		patient.WithLogger(logger),
		patient.WithClock(utcNow),
	}
	if photos != nil {
		patientOpts = append(patientOpts, patient.WithPhotoStore(photos))
	}
	patientSvc := patient.NewService(
		patient.NewPatientRepo(pool),
		patient.NewVisitRepo(pool),
		patient.NewAlertRepo(pool),
		db.NewTransactor(pool),
		patient.Defaults{Clinic: cfg.DefaultClinic, Location: cfg.DefaultLocation},
		patientOpts...,
	)
	emrSvc := emr.NewService(emr.NewRepo(pool), cfg.EMRDefaultAuthor,
		emr.WithEvents(publisher),
		emr.WithLogger(logger),
	)

	e := newEcho(cfg, logger)
	e.GET("/health/db", db.HealthHandler(pool, logger))
	mountAPI(e, cfg, logger,
		[]echo.MiddlewareFunc{db.ConnMiddleware(pool)},
		patient.NewHandler(patientSvc, logger),
		emr.NewHandler(emrSvc, logger),
	)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
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
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// buildCache falls back to no caching when Redis is unset or unreachable.
// utcNow stamps visits in UTC regardless of the host timezone.
func utcNow() time.Time { return time.Now().UTC() }

func buildCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) cache.Cache {
	if !cfg.CacheEnabled() {
		return cache.Nop{}
	}
	c, err := cache.NewRedis(ctx, cfg.RedisURL, "emr")
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, patient detail cache disabled")
		return cache.Nop{}
	}
	logger.Info().Dur("ttl", cfg.CacheTTL).Msg("patient detail cache enabled")
	return c
}

func buildPublisher(cfg *config.Config, logger zerolog.Logger) events.Publisher {
	if !cfg.EventsEnabled() {
		return events.Nop{}
	}
	logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing domain events")
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
}

// buildPhotoStore returns nil when no bucket is configured; photos then stay
// inline on the patient row.
func buildPhotoStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (blobstore.BlobStore, error) {
	if cfg.PhotoBucket == "" {
		return nil, nil
	}
	store, err := blobstore.NewS3BlobStore(ctx, cfg.PhotoBucket, cfg.AWSEndpointURL)
	if err != nil {
		return nil, fmt.Errorf("photo store: %w", err)
	}
	logger.Info().Str("bucket", cfg.PhotoBucket).Msg("patient photos stored in S3")
	return store, nil
}

func newEcho(cfg *config.Config, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 60 * time.Second

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sanitize(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderContentType, echo.HeaderXRequestID},
		ExposeHeaders: []string{echo.HeaderXRequestID, "X-Total-Count", "Link"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	return e
}

type routeRegistrar interface {
	RegisterRoutes(api *echo.Group)
}

func mountAPI(e *echo.Echo, cfg *config.Config, logger zerolog.Logger, mw []echo.MiddlewareFunc, handlers ...routeRegistrar) *echo.Group {
	api := e.Group("/api")
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))
	api.Use(mw...)
	api.Use(middleware.Audit(logger))
	api.Use(middleware.ETag())

	for _, h := range handlers {
		h.RegisterRoutes(api)
	}
	return api
}
