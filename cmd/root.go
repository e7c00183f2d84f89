// Package cmd implements the command-line interface for the ARC
// harvester. It provides the root command and subcommands for running
// harvests and managing records.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	cmdharvest "github.com/fairdatahub/arc-harvester/cmd/harvest"
	cmdrecords "github.com/fairdatahub/arc-harvester/cmd/records"
)

// version is set via -ldflags at build time.
var version = "dev"

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// debug enables debug logging for all commands.
	debug bool

	rootCmd = &cobra.Command{
		Use:   "arc-harvester",
		Short: "Ingest research data archives into a tracked record store",
		Long: `arc-harvester streams investigations from a relational source,
converts them into canonical documents, tracks their lifecycle with
content-hash change detection, and syncs changes to a downstream commit
sink.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "",
		"config file (default is ./config.yaml or ./config/config.yaml)",
	)
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "arc-harvester version %s\n", version)
		},
	})

	rootCmd.AddCommand(cmdharvest.Command(&cfgFile, &debug))
	rootCmd.AddCommand(cmdrecords.Command(&cfgFile, &debug))
}
