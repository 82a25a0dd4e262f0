package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snarg/scriptsync/internal/align"
	"github.com/snarg/scriptsync/internal/timeline"
)

func newTimelineCommand(_ *commandContext) *cobra.Command {
	var (
		slides int
		speed  float64
		images string
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "timeline <result.json>",
		Short: "Schedule slide images over an alignment result",
		Long: `Build a slide schedule from the JSON written by "scriptctl align".

Each slide starts with its script line and lasts until the next line starts.
With --images, the numbered images in that directory are paired with the
slides and --format ffconcat writes an ffmpeg concat playlist.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			segments, err := loadSegments(args[0])
			if err != nil {
				return err
			}

			var files []string
			if images != "" {
				if files, err = timeline.ListImages(images); err != nil {
					return err
				}
				if !cmd.Flags().Changed("slides") {
					slides = len(files)
				}
			}
			if slides == 0 {
				slides = len(segments)
			}

			sched, err := timeline.Build(segments, slides, speed)
			if err != nil {
				return err
			}

			var out bytes.Buffer
			switch strings.ToLower(format) {
			case "json":
				data, err := json.MarshalIndent(sched, "", "  ")
				if err != nil {
					return err
				}
				out.Write(data)
				out.WriteByte('\n')
			case "table":
				out.WriteString(slideTable(sched))
				out.WriteByte('\n')
			case "ffconcat":
				if files == nil {
					return errors.New("--format ffconcat needs --images")
				}
				if err := timeline.WriteConcat(&out, sched, files); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown format %q (want json, table or ffconcat)", format)
			}
			return writeOutput(cmd.OutOrStdout(), output, out.Bytes())
		},
	}

	cmd.Flags().IntVar(&slides, "slides", 0, "Number of slides (default: one per image or segment)")
	cmd.Flags().Float64Var(&speed, "speed", 1, "Playback speed factor, in (0, 4]")
	cmd.Flags().StringVar(&images, "images", "", "Directory of slide images")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json, table or ffconcat")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

// loadSegments reads either a full alignment result or a bare segment array.
func loadSegments(path string) ([]align.AlignedSegment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var segments []align.AlignedSegment
		if err := json.Unmarshal(data, &segments); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return segments, nil
	}
	var result align.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return result.Segments, nil
}
