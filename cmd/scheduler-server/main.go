package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/servicecenter/scheduler/internal/config"
	"github.com/servicecenter/scheduler/internal/domain/scheduling"
	"github.com/servicecenter/scheduler/internal/platform/auth"
	"github.com/servicecenter/scheduler/internal/platform/db"
	"github.com/servicecenter/scheduler/internal/platform/middleware"
	"github.com/servicecenter/scheduler/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "scheduler-server",
		Short:        "Service center appointment scheduling API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(slotsCmd(os.Stdout))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(migrate)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply pending migrations before serving (pgx and pq drivers)")
	return cmd
}

// migrationsFS prefers an on-disk directory so operators can add migrations
// without rebuilding; otherwise the embedded set is used.
func migrationsFS(dir string) fs.FS {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return os.DirFS(dir)
		}
	}
	return migrations.FS
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// withMigrator loads config, opens a pgx pool and hands fn a migrator.
	withMigrator := func(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator, schema string) error) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.StoreDriver == config.DriverMemory {
			return fmt.Errorf("nothing to migrate with STORE_DRIVER=%s", config.DriverMemory)
		}

		schema, _ := cmd.Flags().GetString("schema")
		if schema == "" {
			schema = cfg.DBSchema
		}
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.MigrationsDir
		}

		ctx := cmd.Context()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, schema, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		return fn(ctx, db.NewMigrator(pool, migrationsFS(dir)), schema)
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			to, _ := cmd.Flags().GetInt("to")
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
				count, err := m.UpTo(ctx, schema, to)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().Int("to", 0, "Stop after this version (default: all)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("read migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), schema, statuses)
				return nil
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				undone, err := m.Down(ctx, schema)
				if err != nil {
					return err
				}
				if undone == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Nothing to roll back in schema %s.\n", schema)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %s.\n", undone.Name)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd, downCmd} {
		c.Flags().String("schema", "", "Target schema (default DB_SCHEMA)")
		c.Flags().String("dir", "", "Migrations directory (default MIGRATIONS_DIR, falls back to embedded)")
		cmd.AddCommand(c)
	}

	return cmd
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
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

func slotsCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "slots",
		Short: "Print the daily slot catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range scheduling.Slots() {
				fmt.Fprintln(out, s)
			}
			return nil
		},
	}
}

// store bundles the repository chosen by STORE_DRIVER with its health probe
// and a close function.
type store struct {
	repo  scheduling.AppointmentRepository
	probe *db.Probe
	close func()
}

func openStore(ctx context.Context, cfg *config.Config, migrate bool, logger zerolog.Logger) (*store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn().Msg("using in-memory store; appointments are lost on restart")
		return &store{repo: scheduling.NewMemoryRepository(), close: func() {}}, nil

	case config.DriverPGX:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		if migrate {
			m := db.NewMigrator(pool, migrationsFS(cfg.MigrationsDir))
			if err := db.EnsureSchema(ctx, pool, cfg.DBSchema, m); err != nil {
				pool.Close()
				return nil, err
			}
		}
		probe := db.PoolProbe(pool)
		return &store{repo: scheduling.NewAppointmentRepoPG(pool), probe: &probe, close: pool.Close}, nil

	case config.DriverPQ:
		if migrate {
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, 2, 1)
			if err != nil {
				return nil, err
			}
			err = db.EnsureSchema(ctx, pool, cfg.DBSchema, db.NewMigrator(pool, migrationsFS(cfg.MigrationsDir)))
			pool.Close()
			if err != nil {
				return nil, err
			}
		}
		sqlDB, err := db.OpenSQL(ctx, cfg.DatabaseURL, cfg.DBSchema, int(cfg.DBMaxConns), int(cfg.DBMinConns))
		if err != nil {
			return nil, err
		}
		probe := db.SQLProbe(sqlDB, config.DriverPQ)
		return &store{
			repo:  scheduling.NewAppointmentRepoSQL(sqlDB),
			probe: &probe,
			close: func() { _ = sqlDB.Close() },
		}, nil

	case config.DriverGorm:
		gdb, err := db.OpenGorm(ctx, cfg.DatabaseURL, cfg.DBSchema, int(cfg.DBMaxConns), logger)
		if err != nil {
			return nil, err
		}
		if err := scheduling.AutoMigrateAppointments(gdb); err != nil {
			return nil, fmt.Errorf("gorm automigrate: %w", err)
		}
		probe := db.GormProbe(gdb)
		return &store{
			repo:  scheduling.NewAppointmentRepoGorm(gdb),
			probe: &probe,
			close: func() {
				if sqlDB, err := gdb.DB(); err == nil {
					_ = sqlDB.Close()
				}
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// newServer assembles the echo instance: global middleware, auth, health
// routes and the appointment API under /api/v1.
func newServer(cfg *config.Config, st *store, clock scheduling.Clock, logger zerolog.Logger) (*echo.Echo, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.SecurityHeaders())

	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("development auth is active: identity is taken from X-Dev-* headers")
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		jwtCfg := auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}
		if cfg.AuthSigningKey != "" {
			jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
		}
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if st.probe != nil {
		e.GET("/health/db", db.HealthHandler(*st.probe))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg), middleware.RequestTimeout(cfg.RequestTimeout))

	svc := scheduling.NewService(st.repo, clock, loc, logger.With().Str("component", "scheduling").Logger())
	scheduling.NewHandler(svc, logger).RegisterRoutes(apiV1)

	return e, nil
}

func runServer(migrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		l := newLogger(nil)
		l.Error().Err(err).Msg("failed to load config")
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg, migrate, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
		return err
	}
	defer st.close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("store ready")

	e, err := newServer(cfg, st, scheduling.SystemClock{}, logger)
	if err != nil {
		return err
	}

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
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
