package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/devplatform/directory-sync/internal/app"
	"github.com/devplatform/directory-sync/internal/config"
	"github.com/spf13/cobra"
)

// cli carries the wiring built once per invocation
type cli struct {
	app *app.App
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:           "dirsync",
		Short:         "Bulk user and department synchronization for the organization directory",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd.Context())
		},
	}

	cmd.AddCommand(newImportCmd(c))
	cmd.AddCommand(newUpdateCmd(c))
	cmd.AddCommand(newAnalyzeCmd(c))
	cmd.AddCommand(newDepartmentsCmd(c))
	cmd.AddCommand(newUsersCmd(c))
	cmd.AddCommand(newClearDepartmentsCmd(c))
	cmd.AddCommand(newCheckTokenCmd(c))
	return cmd
}

// setup reads configuration, builds the logger and client, and verifies the credential once
func (c *cli) setup(ctx context.Context) error {
	cfg, err := config.Parse()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	c.app = a

	_, err = a.CheckToken(ctx)
	return err
}

// Execute runs the command tree. Configuration, credential and
// infrastructure failures all exit with config.ExitCode.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		stop()
		os.Exit(config.ExitCode)
	}
}
