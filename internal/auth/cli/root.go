// Package cli implements authctl, the operator command line for the auth
// service. Commands work directly against the configured stores.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/flightdesk/flightdesk/internal/auth/app"
	"github.com/flightdesk/flightdesk/internal/auth/metrics"
	"github.com/spf13/cobra"
)

// Backend is what commands operate on. Close releases the stores.
type Backend struct {
	Stores   *app.Stores
	Services *app.Services
	Metrics  *metrics.Metrics
}

// Opener connects a Backend. Tests swap it for an in-memory one.
type Opener func(ctx context.Context) (*Backend, error)

type cliApp struct {
	open   Opener
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	lines  *bufio.Reader

	// password reads a secret without echo.
	password func(prompt string) (string, error)
}

// NewRootCommand builds authctl wired to the environment configuration.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithIO(OpenFromEnv, os.Stdin, os.Stdout, os.Stderr)
}

// NewRootCommandWithIO builds authctl with explicit dependencies.
func NewRootCommandWithIO(open Opener, in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &cliApp{open: open, stdin: in, stdout: out, stderr: errOut, lines: bufio.NewReader(in)}
	a.password = a.terminalPassword

	cmd := &cobra.Command{
		Use:           "authctl",
		Short:         "Operate the flightdesk auth service",
		Long:          "authctl manages users, sessions and MFA of the flightdesk auth service directly against its stores.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       app.BuildVersion,
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.AddCommand(
		newMigrateCmd(a),
		newUserCmd(a),
		newSessionsCmd(a),
		newMFACmd(a),
	)
	return cmd
}

// OpenFromEnv loads the service configuration and opens its stores.
func OpenFromEnv(ctx context.Context) (*Backend, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m := metrics.Noop()
	services, err := app.NewServices(cfg, stores, m)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	return &Backend{Stores: stores, Services: services, Metrics: m}, nil
}

// withBackend opens the backend for the duration of fn.
func (a *cliApp) withBackend(ctx context.Context, fn func(b *Backend) error) error {
	b, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Stores.Close(); err != nil {
			fmt.Fprintf(a.stderr, "warning: closing stores: %v\n", err)
		}
	}()
	return fn(b)
}
