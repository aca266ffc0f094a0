// Command paperledger runs the paper-trading ledger service and its operator
// commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/paperledger/internal/app"
	"github.com/alanyoungcy/paperledger/internal/config"
	"github.com/alanyoungcy/paperledger/internal/domain"
	"github.com/alanyoungcy/paperledger/internal/service"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "paperledger",
	Short:         "Paper-trading ledger with simulated positions and auto-close",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API in the configured mode",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Database.Postgres.RunMigrations = true

		a := app.New(cfg, logger)
		defer a.Close()
		if _, err := a.OpenStores(cmd.Context()); err != nil {
			return err
		}
		logger.Info("schema applied", slog.String("driver", cfg.Database.Driver))
		return nil
	},
}

var performanceCmd = &cobra.Command{
	Use:   "performance <user_id>",
	Short: "Recompute a user's performance summary from their full trade history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		a := app.New(cfg, logger)
		defer a.Close()

		deps, err := a.OpenStores(cmd.Context())
		if err != nil {
			return err
		}
		perf, err := service.NewPerformanceService(deps.TradeStore, deps.UserStore, nil, logger).
			Recompute(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(),
			"trades=%d completed=%d winning=%d win%%=%.2f total_profit=%.2f average_gain=%.2f\n",
			perf.TradesCount, perf.CompletedTrades, perf.WinningTrades,
			perf.WinPercentage, perf.TotalProfit, perf.AverageGain)
		return nil
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage ledger users",
}

var setStatusCmd = &cobra.Command{
	Use:   "set-status <user_id> <pending|approved|rejected>",
	Short: "Set a user's approval status, creating the user if needed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := domain.UserStatus(args[1])
		switch status {
		case domain.UserPending, domain.UserApproved, domain.UserRejected:
		default:
			return fmt.Errorf("unknown status %q", args[1])
		}

		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		a := app.New(cfg, logger)
		defer a.Close()

		deps, err := a.OpenStores(cmd.Context())
		if err != nil {
			return err
		}
		err = deps.UserStore.SetStatus(cmd.Context(), args[0], status)
		if errors.Is(err, domain.ErrNotFound) {
			err = deps.UserStore.Upsert(cmd.Context(), domain.User{ID: args[0], Status: status})
		}
		if err != nil {
			return err
		}
		logger.Info("user status updated", slog.String("user_id", args[0]), slog.String("status", string(status)))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to configuration file")
	userCmd.AddCommand(setStatusCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, performanceCmd, userCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("paperledger starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	if err := application.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("paperledger stopped")
	return nil
}

// loadConfig reads and validates the configuration and installs a JSON
// logger at the configured level.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
