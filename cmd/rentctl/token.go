package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rentdesk/internal/config"
	"rentdesk/internal/domain"
	httpapi "rentdesk/internal/http"
)

// tokenCmd 用 JWT_SECRET 签发 token（本地联调 / 运维）
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			user, _ := cmd.Flags().GetString("user")
			role, _ := cmd.Flags().GetString("role")
			tenant, _ := cmd.Flags().GetString("tenant")

			tok, err := httpapi.NewAuthenticator(cfg.Auth).Issue(domain.Identity{
				UserID:   user,
				Role:     domain.Role(role),
				TenantID: tenant,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringP("user", "u", "", "User ID")
	cmd.Flags().StringP("role", "r", "landlord", "Role (admin, landlord, tenant)")
	cmd.Flags().StringP("tenant", "t", "", "Tenant ID (tenant role only)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
