package main

import (
	"errors"
	"fmt"

	"github.com/pevans/cpexport/assets"
	"github.com/pevans/cpexport/notes"
	"github.com/pevans/cpexport/notify"
	"github.com/pevans/cpexport/receiver"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(importCmd)
}

var importCmd = &cobra.Command{
	Use:   "import <payload.json>...",
	Short: "Saves notes for payload files and downloads their images.",
	Args:  cobra.MinimumNArgs(1),
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

		renderer := notes.NewRenderer(assets.NewExtractor(cfg.AssetsPath), cfg.ContentFormat)
		store := notes.NewStore(cfg.SavePath)
		downloader := assets.NewDownloader(receiver.DownloaderConfig(cfg), notify.NewLogNotifier(logger), nil, logger)

		out := cmd.OutOrStdout()
		var errs []error
		for _, path := range args {
			p, err := readExport(path)
			if err != nil {
				errs = append(errs, err)
				continue
			}

			note, tasks := renderer.Render(cmd.Context(), p)
			saved, err := store.Save(note.Name, note.Content)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
				continue
			}
			fmt.Fprintf(out, "File created: %s\n", saved)

			if len(tasks) > 0 {
				summary := downloader.Run(cmd.Context(), tasks)
				fmt.Fprintln(out, summary.Message())
			}
		}

		return errors.Join(errs...)
	},
}
