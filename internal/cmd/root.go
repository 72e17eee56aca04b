// Package cmd implements the command line interface of the controller.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/drip-org/drip/internal/build"
)

var (
	// cfgFile is the explicit process configuration file, if any.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   build.Slug,
		Short: "Irrigation controller for host-attached pumps and zones",
		Long: `Drip schedules and executes watering runs against switch entities
exposed by the surrounding home-automation host. Water events fire relative
to a room's lights-on time or at a fixed time of day; each pump runs its
zones one at a time behind a hardware interlock.`,
	}
)

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "",
		"process config file (watering config lives in the data dir)",
	)

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(entitiesCmd())
	rootCmd.AddCommand(versionCmd())
}
