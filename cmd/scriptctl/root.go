package main

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/snarg/scriptsync/internal/config"
)

// commandContext loads configuration once per invocation and hands out the
// logger that every subcommand shares.
type commandContext struct {
	overrides config.Overrides

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load(c.overrides)
	})
	return c.config, c.configErr
}

// logger writes to stderr so stdout stays clean for command output. A
// terminal gets the console format, anything else gets JSON.
func (c *commandContext) logger(w io.Writer) zerolog.Logger {
	level := zerolog.WarnLevel
	if l, err := zerolog.ParseLevel(c.overrides.LogLevel); err == nil && c.overrides.LogLevel != "" {
		level = l
	}
	if shouldColorize(w) {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(level)
}

func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "scriptctl",
		Short:         "Align voiceover scripts to transcripts from the command line",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ctx.overrides.EnvFile, "env-file", "", "Path to .env file (default .env)")
	flags.StringVar(&ctx.overrides.LogLevel, "log-level", "", "Log level (default warn)")
	flags.StringVar(&ctx.overrides.DataDir, "data-dir", "", "Data directory holding the transcript cache (overrides DATA_DIR)")
	flags.StringVar(&ctx.overrides.DatabaseURL, "database-url", "", "PostgreSQL URL for db commands (overrides DATABASE_URL)")

	rootCmd.AddCommand(newAlignCommand(ctx))
	rootCmd.AddCommand(newTranscribeCommand(ctx))
	rootCmd.AddCommand(newTimelineCommand(ctx))
	rootCmd.AddCommand(newDBCommand(ctx))

	return rootCmd
}
