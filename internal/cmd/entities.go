package cmd

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/drip-org/drip/internal/host"
)

// entitiesCmd lists host entities, to help with picking entity IDs for the
// watering configuration.
func entitiesCmd() *cobra.Command {
	var (
		envFile string
		domain  string
	)

	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List entities known to the host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(envFile)
			if err != nil {
				return err
			}

			hc := host.New(cfg.Host.BaseURL, cfg.Host.Token)
			entities, err := hc.ListEntities(cmd.Context(), domain)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Entity ID", "Name", "State"})
			for _, e := range entities {
				t.AppendRow(table.Row{e.EntityID, e.FriendlyName, e.State})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment")
	cmd.Flags().StringVar(&domain, "domain", "", `filter by entity domain, e.g. "switch"`)
	return cmd
}
