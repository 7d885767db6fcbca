// Command fleet-maintenance runs the maintenance scheduling API and its
// helper commands.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ukydev/fleet-maintenance/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fleet-maintenance",
		Short: "Fleet maintenance scheduling and work order API",
		Long: `Fleet Maintenance plans recurring maintenance for fleet assets,
groups due tasks into vendor work orders and records their completion
as maintenance expenses.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "Config file path (default: ./config.yaml)")

	root.AddCommand(newServeCmd(), newTokenCmd(), newCatalogCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}
