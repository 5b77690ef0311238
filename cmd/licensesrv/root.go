package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"licensesrv/internal/config"
)

// newRootCmd builds the command tree. Running it without a subcommand
// starts the server.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "licensesrv",
		Short: "device license server",
		Long: fmt.Sprintf(`%s (v%s)

Issues, validates and administers device-bound license keys. Licenses are
kept in SQLite, PostgreSQL or a Google Sheets worksheet.`, config.AppName, config.AppVersion),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default: config.yaml or "+config.EnvPrefix+"_CONFIG_FILE)")

	serve := newServeCmd(&configPath)
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(
		serve,
		newKeygenCmd(&configPath),
		newDecodeCmd(&configPath),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, _ []string) {
				cmd.Printf("%s v%s\n", config.AppName, config.AppVersion)
			},
		},
	)
	return root
}
