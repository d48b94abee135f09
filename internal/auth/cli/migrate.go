package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(a *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withBackend(cmd.Context(), func(b *Backend) error {
				if err := b.Stores.DB.ApplyMigrations(cmd.Context()); err != nil {
					return fmt.Errorf("apply migrations: %w", err)
				}
				fmt.Fprintln(a.stdout, "migrations applied")
				return nil
			})
		},
	}
}
