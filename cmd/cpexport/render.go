package main

import (
	"encoding/json"
	"fmt"

	"github.com/pevans/cpexport/assets"
	"github.com/pevans/cpexport/notes"
	"github.com/spf13/cobra"
)

var renderJSON bool

func init() {
	renderCmd.Flags().BoolVar(&renderJSON, "json", false, "Print the note and image tasks as JSON")
	rootCmd.AddCommand(renderCmd)
}

// renderOutput is the --json shape of the render command.
type renderOutput struct {
	Name    string        `json:"name"`
	Content string        `json:"content"`
	Tasks   []assets.Task `json:"tasks"`
}

var renderCmd = &cobra.Command{
	Use:   "render <payload.json>",
	Short: "Prints the note a payload would produce, without writing anything.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		newLogger(cfg)

		p, err := readExport(args[0])
		if err != nil {
			return err
		}

		renderer := notes.NewRenderer(assets.NewExtractor(cfg.AssetsPath), cfg.ContentFormat)
		note, tasks := renderer.Render(cmd.Context(), p)

		out := cmd.OutOrStdout()
		if renderJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(renderOutput{Name: note.Name, Content: note.Content, Tasks: tasks})
		}

		fmt.Fprint(out, note.Content)
		if len(tasks) > 0 {
			fmt.Fprintf(out, "\n%d image(s) would be downloaded:\n", len(tasks))
			for _, task := range tasks {
				fmt.Fprintf(out, "  %s -> %s\n", task.URL, task.LocalPath)
			}
		}
		return nil
	},
}
