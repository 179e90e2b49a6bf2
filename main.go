package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dockside/warehouse/backend/internal/config"
	"github.com/dockside/warehouse/backend/internal/logging"
	"github.com/dockside/warehouse/backend/internal/schema"
)

var (
	verbose bool
	migrate bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "warehouse",
	Short: "Warehouse operations dashboard backend",
	Long: `Serves the warehouse dashboard: the access gate in front of every page,
the role-aware page shell, the live auth-state stream and the JSON APIs for
pallets, packages, receiving, feedback and user administration.

Configuration is read from the environment (DATABASE_URL, SESSION_SECRET,
OIDC_*, ALLOWED_EMAIL_DOMAINS, REDIS_ADDR, ...).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, migrate)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		pool, err := pgxpool.New(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		return applySchema(cmd.Context(), pool, cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	serveCmd.Flags().BoolVar(&migrate, "migrate", false, "ensure the database schema before serving")

	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func applySchema(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if err := schema.Ensure(ctx, pool); err != nil {
		return err
	}
	if err := schema.SeedSuperAdmins(ctx, pool, cfg.SuperAdminEmails); err != nil {
		return err
	}
	logger.Info("schema ready", zap.Int("super_admins", len(cfg.SuperAdminEmails)))
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
