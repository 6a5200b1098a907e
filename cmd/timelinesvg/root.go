package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"example.com/retirement/internal/config"
	"example.com/retirement/internal/timeline"
)

type renderOptions struct {
	configPath string
	mode       string
	year       int
	out        string
}

func newRootCmd() *cobra.Command {
	opts := renderOptions{year: time.Now().Year(), mode: string(timeline.ModeAge)}

	cmd := &cobra.Command{
		Use:   "timelinesvg [payload.json]",
		Short: "Render a timeline payload as SVG",
		Long: `Reads the timeline payload document (the JSON embedded in the editor page)
from a file or standard input and writes the rendered SVG timeline.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			var err error
			if len(args) == 0 || args[0] == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}

			svg, err := render(raw, opts)
			if err != nil {
				return err
			}

			if opts.out == "" {
				_, err = io.WriteString(cmd.OutOrStdout(), svg)
				return err
			}
			return os.WriteFile(opts.out, []byte(svg), 0o644)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "timeline settings and layout YAML")
	flags.StringVar(&opts.mode, "mode", opts.mode, "axis labels: age or year")
	flags.IntVar(&opts.year, "year", opts.year, "calendar year used to derive the birth year")
	flags.StringVarP(&opts.out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func render(raw []byte, opts renderOptions) (string, error) {
	cfg, err := config.LoadTimeline(opts.configPath)
	if err != nil {
		return "", err
	}

	editor := timeline.LoadPayload(raw, cfg.Settings, opts.year)
	switch timeline.DisplayMode(opts.mode) {
	case timeline.ModeAge:
	case timeline.ModeYear:
		editor.ToggleDisplayMode()
	default:
		return "", fmt.Errorf("unknown mode %q", opts.mode)
	}

	view := timeline.BuildView(editor.Snapshot(), cfg.Settings, cfg.Layout.LabelStep)
	return timeline.Render(view, cfg.Layout), nil
}
