package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMFACmd(a *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mfa",
		Short: "Manage second factors",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset <user-id>",
		Short: "Remove TOTP from a user who lost their device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd.Context(), func(b *Backend) error {
				if err := b.Services.MFA.ResetTOTP(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("reset mfa: %w", err)
				}
				fmt.Fprintf(a.stdout, "TOTP removed for %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}
