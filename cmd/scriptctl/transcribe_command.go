package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snarg/scriptsync/internal/audio"
	"github.com/snarg/scriptsync/internal/transcribe"
)

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var (
		output   string
		language string
		prompt   string
		refresh  bool
	)

	cmd := &cobra.Command{
		Use:   "transcribe <audio>",
		Short: "Transcribe audio to word-timed JSON, using the transcript cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			log := ctx.logger(cmd.ErrOrStderr())

			path := args[0]
			if !audio.IsAudioFile(path) {
				return fmt.Errorf("%s: unsupported audio type", path)
			}

			provider, stop, err := openProvider(cmd.Context(), cfg, refresh, log)
			if err != nil {
				return err
			}
			defer stop()

			opts := transcribe.DefaultOptions(cfg.Transcribe)
			if language != "" {
				opts.Language = language
			}
			if prompt != "" {
				opts.Prompt = prompt
			}
			resp, err := provider.Transcribe(cmd.Context(), path, opts)
			if err != nil {
				return fmt.Errorf("transcribe %s: %w", path, err)
			}
			log.Info().
				Str("provider", resp.Provider).
				Int("words", resp.WordCount()).
				Float64("duration", resp.Duration).
				Msg("transcribed")

			data, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), output, append(data, '\n'))
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().StringVar(&language, "language", "", "Spoken language (overrides TRANSCRIBE_LANGUAGE)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Vocabulary hint passed to the provider")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Transcribe again even when cached")
	return cmd
}
