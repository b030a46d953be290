package main

import (
	"github.com/pevans/cpexport/receiver"
	"github.com/spf13/cobra"
)

func init() {
	serveCmd.Flags().Int("port", 8000, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to listen on")
	serveCmd.Flags().String("metrics-addr", "", "Address for the Prometheus /metrics listener (disabled when empty)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the receiver until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		stopTelemetry, err := startTelemetry(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer stopTelemetry()

		logger.Info("starting receiver",
			"addr", cfg.Addr(),
			"save_path", cfg.SavePath,
			"assets_path", cfg.AssetsPath,
		)
		return receiver.New(cfg, logger, nil).Run(cmd.Context())
	},
}
