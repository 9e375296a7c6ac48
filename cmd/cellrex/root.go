package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"cellrex/internal/config"
	"cellrex/internal/core"
	"cellrex/internal/logging"
)

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	storage    string

	cfg    config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "cellrex",
		Short:         "Register, query and reconcile CellRex recordings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")
	root.PersistentFlags().StringVar(&a.storage, "storage-root", "", "override the configured storage root")

	root.AddCommand(
		newRegisterCmd(a),
		newReconcileCmd(a),
		newGetCmd(a),
		newFindHashCmd(a),
		newQueryCmd(a),
		newDeleteCmd(a),
		newDuplicatesCmd(a),
		newComposeCmd(a),
		newFingerprintCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.storage != "" {
		cfg.StorageRoot = a.storage
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log, logging.WithOutput(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// withService opens the configured runtime for the duration of fn.
func (a *app) withService(ctx context.Context, fn func(*core.Service) error, opts ...core.Option) error {
	rt, err := openRuntime(ctx, a.cfg, a.logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			a.logger.Warn("close runtime", "error", cerr)
		}
	}()
	return fn(rt.svc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
