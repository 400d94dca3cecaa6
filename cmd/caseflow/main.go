package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"caseflow/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootOptions holds global flags for all commands
type rootOptions struct {
	ConfigPath string
	Debug      bool

	cfg config.Config
	log *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "caseflow",
		Short:         "Case workflow backend and client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg

			if opts.Debug {
				opts.log, err = zap.NewDevelopment()
			} else {
				opts.log, err = zap.NewProduction()
			}
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv("CASEFLOW_CONFIG"), "path to caseflow.yaml")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "development logging")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newCaseCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	cmd.AddCommand(newSchemaCommand())

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
