// Package app provides the entry point for the sketchroom command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sketchroom/sketchroom/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "sketchroom",
	DisableAutoGenTag: true,
	Short:             "Sketchroom is a collaborative whiteboard server",
	Long: `Sketchroom is a multi-tenant collaborative whiteboard server.
Each session is an ordered list of vector elements shared by every connected
participant; edits arrive over a bidirectional socket or a REST API, are
persisted before they are acknowledged, and are fanned out to everyone else
in the session.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the Sketchroom CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	viper.SetEnvPrefix("SKETCHROOM")
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
