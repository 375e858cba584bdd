package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sgeq/pkg/config"
	"sgeq/pkg/observability"
)

var (
	cfgPath string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "sgeq",
	Short:         "Submit and track jobs on an SGE cluster",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		logger, err := observability.SetupLogger(cfg.Log)
		if err != nil {
			return err
		}
		cobra.OnFinalize(func() { _ = logger.Sync() })
		zap.L().Debug("configuration loaded", zap.String("app", cfg.AppName))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")
}
