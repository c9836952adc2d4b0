package main

import (
	"fmt"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/packsync/internal/config"
	"github.com/ZebulonRouseFrantzich/packsync/internal/logging"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	verbosity  int
	configPath string
	logFile    string
}

func defaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "packsync", config.FileName)
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "packsync",
		Short: "Keep an installation directory in sync with a published package manifest",
		Long: `packsync compares an installation directory with a remote package manifest,
downloads and verifies what changed, deploys it in place and removes files
that are no longer part of the installation.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(flags.verbosity, flags.logFile)
			log.Debug().Str("command", cmd.Name()).Msg("Command started")
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().CountVarP(&flags.verbosity, "verbose", "v", "Increase verbosity (-v INFO, -vv DEBUG, -vvv TRACE)")
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath(), "Path to the packsync.lua configuration")
	root.PersistentFlags().StringVar(&flags.logFile, "log-file", logging.DefaultLogFile(), "Append logs to this file (empty disables)")

	root.AddCommand(
		newUpdateCommand(flags),
		newStatusCommand(flags),
		newInitCommand(flags),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "packsync %s\n", Version)
		},
	}
}
