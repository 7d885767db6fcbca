package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ukydev/fleet-maintenance/internal/auth"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

// newTokenCmd issues bearer tokens signed with the configured secret.
func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			subject, _ := cmd.Flags().GetString("subject")
			role, _ := cmd.Flags().GetString("role")

			svc, err := auth.NewService(cfg.Auth.Secret, cfg.Auth.Expiry)
			if err != nil {
				return err
			}
			token, err := svc.GenerateToken(models.Principal{Subject: subject, Role: models.Role(role)})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "", "Actor recorded on mutations")
	cmd.Flags().String("role", string(models.RoleOperator), "admin, manager, operator or viewer")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
