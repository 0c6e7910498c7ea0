package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"applyflow/internal/config"
	"applyflow/internal/observability"
)

// app carries what PersistentPreRunE loads into the subcommands.
type app struct {
	cfgFile  string
	envFiles []string
	cfg      *config.Config
	logger   *zap.Logger
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "applyflow",
		Short:         "Operator-controlled job application automation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgFile, a.envFiles...)
			if err != nil {
				return err
			}
			observability.InitializeLogger(cfg.Logger)
			a.cfg = cfg
			a.logger = observability.GetLogger()
			a.logger.Debug("Configuration loaded",
				zap.String("driver", cfg.Browser.Driver),
				zap.String("base_url", cfg.Workflow.BaseURL),
				zap.String("action_log", cfg.Recorder.ActionLog))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync()
		},
	}

	cmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load (default ./.env when present)")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.AddCommand(
		newServeCmd(a),
		newRunCmd(a),
		newRecordCmd(a),
		newStepsCmd(),
	)
	return cmd, a
}

// Execute runs the command line and logs the error it ends with.
func Execute(ctx context.Context) error {
	cmd, a := newRootCmd()
	err := cmd.ExecuteContext(ctx)
	if err == nil || ctx.Err() != nil {
		return err
	}
	if a.logger != nil {
		a.logger.Error("Command failed", zap.Error(err))
		observability.Sync()
	} else {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}
