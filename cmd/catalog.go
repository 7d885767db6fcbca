package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ukydev/fleet-maintenance/internal/models"
	"github.com/ukydev/fleet-maintenance/internal/registry"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the service catalog as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			catalog, err := registry.LoadCatalog(cfg.Seed.CatalogFile)
			if err != nil {
				return err
			}

			entries := catalog.List()
			if filter, _ := cmd.Flags().GetString("entity-filter"); filter != "" {
				entries = catalog.Applicable(models.EntityFilter(filter))
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(entries); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().String("entity-filter", "", "Only list services for cmv or non_cmv assets")
	return cmd
}
