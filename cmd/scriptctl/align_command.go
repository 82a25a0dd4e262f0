package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snarg/scriptsync/internal/align"
	"github.com/snarg/scriptsync/internal/database"
	"github.com/snarg/scriptsync/internal/jobs"
	"github.com/snarg/scriptsync/internal/script"
	"github.com/snarg/scriptsync/internal/subtitle"
	"github.com/snarg/scriptsync/internal/transcribe"
)

type alignFlags struct {
	script     string
	transcript string
	audio      string
	format     string
	preset     string
	output     string
	window     int
	threshold  float64
	language   string
	refresh    bool
	quiet      bool
}

func newAlignCommand(ctx *commandContext) *cobra.Command {
	var f alignFlags

	cmd := &cobra.Command{
		Use:   "align",
		Short: "Align a script to a transcript or audio file",
		Long: `Align the lines of a script to the timed words of a transcript.

The transcript is read from --transcript (Whisper verbose_json, WhisperX or a
saved scriptsync transcript) or produced from --audio with the configured
provider. The result is written as JSON or rendered as SRT, VTT or ASS
subtitles, and a diagnostics table is printed to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlign(cmd, ctx, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.script, "script", "s", "", "Script file, one line per subtitle segment")
	flags.StringVarP(&f.transcript, "transcript", "t", "", "Transcript JSON file")
	flags.StringVarP(&f.audio, "audio", "a", "", "Voiceover audio to transcribe")
	flags.StringVarP(&f.format, "format", "f", "json", "Output format: json, srt, vtt or ass")
	flags.StringVar(&f.preset, "preset", "", "Subtitle layout preset")
	flags.StringVarP(&f.output, "output", "o", "", "Output file (default stdout)")
	flags.IntVar(&f.window, "window", 0, "Fuzzy search window (overrides ALIGN_WINDOW)")
	flags.Float64Var(&f.threshold, "threshold", 0, "Similarity threshold (overrides ALIGN_THRESHOLD)")
	flags.StringVar(&f.language, "language", "", "Spoken language for --audio")
	flags.BoolVar(&f.refresh, "refresh", false, "Ignore the transcript cache for --audio")
	flags.BoolVarP(&f.quiet, "quiet", "q", false, "Do not print diagnostics")
	_ = cmd.MarkFlagRequired("script")
	cmd.MarkFlagsMutuallyExclusive("transcript", "audio")
	cmd.MarkFlagsOneRequired("transcript", "audio")

	return cmd
}

func runAlign(cmd *cobra.Command, ctx *commandContext, f alignFlags) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	log := ctx.logger(cmd.ErrOrStderr())

	format := strings.ToLower(f.format)
	var subFormat subtitle.Format
	if format != "json" {
		if subFormat, err = subtitle.ParseFormat(format); err != nil {
			return err
		}
	}
	presets := subtitle.BuiltinPresets()
	if cfg.SubtitlePresets != "" {
		if presets, err = subtitle.LoadPresets(cfg.SubtitlePresets); err != nil {
			return err
		}
	}
	layout, err := presets.Get(f.preset)
	if err != nil {
		return err
	}

	lines, err := script.Load(f.script)
	if err != nil {
		return err
	}

	var resp *transcribe.Response
	if f.transcript != "" {
		if resp, err = transcribe.LoadFile(f.transcript); err != nil {
			return err
		}
	} else {
		provider, stop, err := openProvider(cmd.Context(), cfg, f.refresh, log)
		if err != nil {
			return err
		}
		opts := transcribe.DefaultOptions(cfg.Transcribe)
		if f.language != "" {
			opts.Language = f.language
		}
		resp, err = provider.Transcribe(cmd.Context(), f.audio, opts)
		stop()
		if err != nil {
			return fmt.Errorf("transcribe %s: %w", f.audio, err)
		}
	}

	words, err := resp.Words()
	if err != nil && !errors.Is(err, align.ErrEmptyTranscript) {
		return err
	}

	window, threshold := cfg.Align.Window, cfg.Align.Threshold
	if cmd.Flags().Changed("window") {
		window = f.window
	}
	if cmd.Flags().Changed("threshold") {
		threshold = f.threshold
	}
	if window < 1 {
		return fmt.Errorf("--window must be >= 1, got %d", window)
	}
	if threshold <= 0 || threshold >= 1 {
		return fmt.Errorf("--threshold must be in (0, 1), got %g", threshold)
	}

	result, err := align.New(align.Options{Window: window, Threshold: threshold}).Align(lines, words)
	if err != nil {
		return err
	}
	jobs.LogReport(log, result.Report)
	status := jobs.ReviewStatus(result, cfg.Align.MismatchReviewRatio)

	var out []byte
	if format == "json" {
		if out, err = json.MarshalIndent(result, "", "  "); err != nil {
			return err
		}
		out = append(out, '\n')
	} else if out, err = subtitle.Render(result.Segments, subFormat, layout); err != nil {
		return err
	}
	if err := writeOutput(cmd.OutOrStdout(), f.output, out); err != nil {
		return err
	}

	if !f.quiet {
		printDiagnostics(cmd.ErrOrStderr(), result, status)
	}
	return nil
}

func printDiagnostics(w io.Writer, result align.Result, status database.JobStatus) {
	fmt.Fprintln(w, reportTable(result.Report, status))
	if len(result.Segments) > 0 {
		fmt.Fprintln(w, segmentTable(result.Segments))
	}
	if len(result.Report.Skipped) > 0 {
		fmt.Fprintln(w, skippedTable(result.Report.Skipped))
	}
}
