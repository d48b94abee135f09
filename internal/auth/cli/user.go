package cli

import (
	"fmt"
	"strings"

	"github.com/flightdesk/flightdesk/internal/auth/service"
	"github.com/flightdesk/flightdesk/pkg/rbac"
	"github.com/spf13/cobra"
)

func newUserCmd(a *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(newUserCreateCmd(a), newUserRolesCmd(a))
	return cmd
}

func newUserCreateCmd(a *cliApp) *cobra.Command {
	var (
		displayName string
		roles       []string
	)
	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a user, prompting for the password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := rbac.ParseRoles(roles)
			if err != nil {
				return err
			}
			password, err := a.newPassword()
			if err != nil {
				return err
			}

			return a.withBackend(cmd.Context(), func(b *Backend) error {
				u, err := b.Services.Users.CreateUser(cmd.Context(), service.CreateUserParams{
					Username:    args[0],
					DisplayName: displayName,
					Password:    password,
					Roles:       parsed,
				})
				if err != nil {
					return fmt.Errorf("create user: %w", err)
				}
				fmt.Fprintf(a.stdout, "created %s (%s) with roles %s\n",
					u.Username, u.ID, strings.Join(u.Roles.Strings(), ","))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&displayName, "display-name", "", "name shown to other users")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role to grant (repeatable, default STUDENT)")
	return cmd
}

func newUserRolesCmd(a *cliApp) *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "roles <user-id>",
		Short: "Replace the roles of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := rbac.ParseRoles(roles)
			if err != nil {
				return err
			}
			return a.withBackend(cmd.Context(), func(b *Backend) error {
				if err := b.Services.Roles.SetUserRoles(cmd.Context(), args[0], parsed); err != nil {
					return fmt.Errorf("set roles: %w", err)
				}
				fmt.Fprintf(a.stdout, "roles of %s set to %s\n", args[0], strings.Join(parsed.Normalize().Strings(), ","))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role to grant (repeatable)")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
