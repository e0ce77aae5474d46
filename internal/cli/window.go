package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/chat-summary/internal/config"
	"github.com/rcliao/chat-summary/internal/model"
	"github.com/rcliao/chat-summary/internal/transcript"
)

func init() {
	cmd := &cobra.Command{
		Use:   "window",
		Short: "Preview a message window",
		Long:  "Show the formatted, filtered message window that `small` would summarize.",
		Run:   runWindow,
	}
	addWindowFlags(cmd)

	RootCmd.AddCommand(cmd)
}

func addWindowFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("transcript", "t", "", "Transcript file, JSON array or JSONL (required)")
	cmd.Flags().StringP("range", "r", "", "Floor range start-end (default: summary.floor_range)")
	cmd.Flags().String("exclude", "", "Regex removed from every message (default: summary.exclude_pattern)")
	cmd.MarkFlagRequired("transcript")
}

type window struct {
	Range    transcript.Range
	Text     string
	Messages []model.Message
}

func selectWindow(cmd *cobra.Command, cfg config.Config) window {
	path, _ := cmd.Flags().GetString("transcript")
	spec, _ := cmd.Flags().GetString("range")
	exclude, _ := cmd.Flags().GetString("exclude")
	if spec == "" {
		spec = cfg.Summary.FloorRange
	}
	if !cmd.Flags().Changed("exclude") {
		exclude = cfg.Summary.ExcludePattern
	}

	msgs, err := transcript.Load(path)
	if err != nil {
		exitErr("load transcript", err)
	}

	def := transcript.ParseRange(cfg.Summary.DefaultRange, transcript.Range{Start: 0, End: 10})
	r := transcript.ParseRange(spec, def)
	text, selected := transcript.Select(msgs, r.Start, r.End, exclude)
	return window{Range: r, Text: text, Messages: selected}
}

func runWindow(cmd *cobra.Command, args []string) {
	w := selectWindow(cmd, loadConfig())

	if textOutput() {
		fmt.Println(w.Text)
		return
	}
	printJSON(map[string]any{
		"start":    w.Range.Start,
		"end":      w.Range.End,
		"messages": len(w.Messages),
		"text":     w.Text,
	})
}
