package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medclaims/claims/internal/config"
	"github.com/medclaims/claims/internal/domain/claims"
	"github.com/medclaims/claims/internal/platform/auth"
	"github.com/medclaims/claims/internal/platform/db"
	"github.com/medclaims/claims/internal/platform/docstore"
	"github.com/medclaims/claims/internal/platform/metrics"
	"github.com/medclaims/claims/internal/platform/middleware"
	"github.com/medclaims/claims/internal/platform/notification"
	"github.com/medclaims/claims/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "claims-server",
		Short: "Hospital insurance claims API server",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(locksCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the claims API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// newLogger writes JSON, or a console format in development.
func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Fprintln(cmd.OutOrStdout(), "Write a new forward migration that reverts the change instead.")
			return nil
		},
	})
	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func locksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Manage processor claim locks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Release every processor lock whose lease has expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env, os.Stderr)
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			engine := claims.NewEngine(claims.NewStorePG(pool),
				claims.WithLockTTL(cfg.LockTTL),
				claims.WithLogger(logger),
			)
			n, err := engine.CleanupExpiredLocks(ctx)
			if err != nil {
				return fmt.Errorf("lock cleanup failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Released %d expired lock(s).\n", n)
			return nil
		},
	})
	return cmd
}

// newRedis returns nil when REDIS_URL is unset.
func newRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	if rawURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func newDocVerifier(ctx context.Context, cfg *config.Config) (docstore.Verifier, error) {
	if cfg.DocumentBucket == "" {
		return docstore.NopVerifier{}, nil
	}
	client, err := docstore.NewS3Client(ctx, cfg.AWSRegion, cfg.AWSEndpointURL)
	if err != nil {
		return nil, err
	}
	return docstore.NewS3Verifier(client, cfg.DocumentBucket), nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	rdb, err := newRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	// Auth
	var (
		revoked  auth.RevocationStore
		profiles = auth.NewProfileStorePG(pool)
	)
	if rdb != nil {
		defer rdb.Close()
		revoked = auth.NewRedisRevocationStore(rdb, "claims")
		profiles = auth.NewCachedProfileStore(profiles, rdb, cfg.ProfileCacheTTL, logger)
		logger.Info().Msg("using redis for token revocation and profile cache")
	} else {
		mem := auth.NewMemoryRevocationStore()
		defer mem.Close()
		revoked = mem
	}
	verifier := auth.NewVerifier(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	}, revoked)
	guard := auth.NewGuard(verifier, profiles, logger)

	m := metrics.New()

	// Notifications
	sender, err := notification.NewHTTPSender(cfg.NotificationURL, cfg.NotificationTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid notification service url")
	}
	if !sender.Enabled() {
		logger.Warn().Msg("NOTIFICATION_SERVICE_URL not set; notifications will be recorded as failures")
	}
	ncfg := notification.DefaultConfig()
	ncfg.Workers = cfg.NotificationWorkers
	ncfg.QueueSize = cfg.NotificationQueueSize
	ncfg.SendTimeout = cfg.NotificationTimeout
	failures := notification.NewPGFailureLog(pool)
	dispatcher, err := notification.NewDispatcher(ncfg, sender, failures, logger, notification.WithObserver(m))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start notification dispatcher")
	}

	docs, err := newDocVerifier(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure document store")
	}

	bodyLimit, err := middleware.ParseSize(cfg.BodyLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid BODY_LIMIT")
	}

	engine := claims.NewEngine(claims.NewStorePG(pool),
		claims.WithLockTTL(cfg.LockTTL),
		claims.WithDocuments(docs),
		claims.WithNotifier(dispatcher),
		claims.WithRecorder(m),
		claims.WithLogger(logger),
	)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger, m))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", m.Handler())

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1", guard.Authenticate(), middleware.RateLimit(rateLimitCfg))

	claims.NewHandler(engine, logger).RegisterRoutes(apiV1)
	notification.RegisterRoutes(apiV1, failures)
	auth.RegisterRevocationRoutes(apiV1, revoked)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Dur("lock_ttl", cfg.LockTTL).Msg("starting server")
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
	}
	if err := dispatcher.Close(); err != nil {
		logger.Warn().Err(err).Msg("notification queue not drained")
	}
	logger.Info().Msg("server stopped")
	return nil
}
