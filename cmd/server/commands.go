package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/campuslink/core/internal/app"
	"github.com/campuslink/core/internal/config"
	"github.com/campuslink/core/internal/database"
	"github.com/campuslink/core/internal/modules/auth"
	"github.com/campuslink/core/internal/pkg/nativelog"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "campus-core",
		Short:         "Campus real-time messaging and presence server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML config file (default "+config.DefaultConfigPath+")")

	serve := newServeCommand(opts)
	cmd.RunE = serve.RunE
	cmd.AddCommand(serve, newMigrateCommand(opts), newUserCommand(opts))
	return cmd
}

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and socket.io server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			defer logger.Sync()

			application, err := app.New(logger, cfg)
			if err != nil {
				logger.Error("failed to initialize app", zap.Error(err))
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := application.Serve(ctx); err != nil {
				logger.Error("server stopped with error", zap.Error(err))
				return err
			}
			logger.Info("server exited")
			return nil
		},
	}
}

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the SQL schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if err := database.EnsureSchema(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newUserCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage local accounts"}

	var name string
	add := &cobra.Command{
		Use:   "add <username> <password>",
		Short: "Create a local account for the bcrypt verifier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			db, err := database.Connect(cfg, true)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			svc := auth.NewService(db, auth.NewLocalVerifier(db), nil, nil)
			u, err := svc.CreateUser(context.Background(), args[0], args[1], name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s\n", u.ID)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")
	cmd.AddCommand(add)
	return cmd
}

func newLogger(cfg *config.AppConfig) *zap.Logger {
	logger, err := nativelog.NewZapLogger(cfg.Paths.Logs, !cfg.IsProduction())
	if err != nil {
		logger, _ = zap.NewProduction()
		logger.Warn("native log pipeline unavailable, fallback to zap production logger", zap.Error(err))
	}
	return logger
}
