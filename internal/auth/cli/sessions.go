package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/flightdesk/flightdesk/internal/auth/domain"
	"github.com/spf13/cobra"
)

func newSessionsCmd(a *cliApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Inspect and revoke refresh tokens",
	}
	cmd.AddCommand(newSessionsListCmd(a), newSessionsRevokeCmd(a), newSessionsCountCmd(a))
	return cmd
}

func newSessionsListCmd(a *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "list <user-id>",
		Short: "List the refresh token history of a user, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd.Context(), func(b *Backend) error {
				tokens, err := b.Services.Tokens.ListSessions(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("list sessions: %w", err)
				}

				tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSESSION\tISSUED\tEXPIRES\tSTATE")
				for _, t := range tokens {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						t.ID, t.SessionID,
						t.IssuedAt.Format(time.RFC3339),
						t.ExpiresAt.Format(time.RFC3339),
						tokenState(t),
					)
				}
				return tw.Flush()
			})
		},
	}
}

func tokenState(t domain.RefreshToken) string {
	if t.Revoked {
		return "revoked:" + string(t.RevocationReason)
	}
	if t.IsExpired(time.Now()) {
		return "expired"
	}
	return "active"
}

func newSessionsRevokeCmd(a *cliApp) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "revoke <user-id>",
		Short: "Revoke every live refresh token of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd.Context(), func(b *Backend) error {
				n, err := b.Services.Tokens.RevokeAllForUser(cmd.Context(), args[0], domain.RevocationReason(reason))
				if err != nil {
					return fmt.Errorf("revoke sessions: %w", err)
				}
				fmt.Fprintf(a.stdout, "revoked %d refresh token(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", string(domain.ReasonAdmin), "revocation reason recorded on each token")
	return cmd
}

func newSessionsCountCmd(a *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count refresh tokens that can still be exchanged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withBackend(cmd.Context(), func(b *Backend) error {
				n, err := b.Stores.Tokens.CountActiveRefreshTokens(cmd.Context(), time.Now().UTC())
				if err != nil {
					return fmt.Errorf("count sessions: %w", err)
				}
				fmt.Fprintf(a.stdout, "%d active refresh token(s)\n", n)
				return nil
			})
		},
	}
}
