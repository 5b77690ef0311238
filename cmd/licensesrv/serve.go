package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"licensesrv/internal/app"
	"licensesrv/internal/config"
	"licensesrv/internal/infrastructure"
)

func newServeCmd(configPath *string) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the license server",
		Long: `Start the HTTP server. Settings come from the YAML config file, a .env
file and ` + config.EnvPrefix + `_* environment variables, in that order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			logger, err := infrastructure.InitializeLogger(cfg.Logging)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer infrastructure.CloseLogFile()

			application, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("failed to initialize application", slog.String("error", err.Error()))
				return err
			}
			if err := application.Run(cmd.Context()); err != nil {
				logger.Error("application error", slog.String("error", err.Error()))
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides the configured port)")
	return cmd
}
