package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/snarg/scriptsync/internal/align"
	"github.com/snarg/scriptsync/internal/api"
	"github.com/snarg/scriptsync/internal/config"
	"github.com/snarg/scriptsync/internal/database"
	"github.com/snarg/scriptsync/internal/events"
	"github.com/snarg/scriptsync/internal/ingest"
	"github.com/snarg/scriptsync/internal/jobs"
	"github.com/snarg/scriptsync/internal/metrics"
	"github.com/snarg/scriptsync/internal/mqttclient"
	"github.com/snarg/scriptsync/internal/storage"
	"github.com/snarg/scriptsync/internal/subtitle"
	"github.com/snarg/scriptsync/internal/transcache"
	"github.com/snarg/scriptsync/internal/transcribe"
)

var version = "dev"

// eventRingSize bounds Last-Event-ID replay.
const eventRingSize = 1024

func main() {
	var overrides config.Overrides

	cmd := &cobra.Command{
		Use:           "scriptsync",
		Short:         "Align voiceover scripts to audio and serve subtitles",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(overrides)
		},
	}
	cmd.Flags().StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default .env)")
	cmd.Flags().StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	cmd.Flags().StringVar(&overrides.LogLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	cmd.Flags().StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
	cmd.Flags().StringVar(&overrides.InboxDir, "inbox", "", "Inbox directory to watch (overrides INBOX_DIR)")
	cmd.Flags().StringVar(&overrides.DataDir, "data-dir", "", "Data directory (overrides DATA_DIR)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// statsAdapter feeds the scrape-time collector.
type statsAdapter struct {
	pool *jobs.Pool
	bus  *events.Bus
}

func (s statsAdapter) QueueDepth() int         { return s.pool.QueueDepth() }
func (s statsAdapter) ActiveJobs() int         { return s.pool.ActiveJobs() }
func (s statsAdapter) SSESubscriberCount() int { return s.bus.SubscriberCount() }

func run(overrides config.Overrides) error {
	startTime := time.Now()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("scriptsync starting")

	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required (or pass --database-url)")
	}

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Object storage
	storeLog := log.With().Str("component", "storage").Logger()
	objects, services, err := storage.New(cfg.S3, cfg.DataDir, storeLog)
	if err != nil {
		return err
	}
	for _, svc := range services {
		svc.Start()
	}
	defer func() {
		for _, svc := range services {
			svc.Stop()
		}
	}()
	log.Info().Str("type", objects.Type()).Str("data_dir", cfg.DataDir).Msg("object storage ready")

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, int32(cfg.Workers+8), dbLog)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	if err := db.Setup(ctx); err != nil {
		return fmt.Errorf("database setup: %w", err)
	}

	// Transcription
	trLog := log.With().Str("component", "transcribe").Logger()
	var provider transcribe.Provider
	p, err := transcribe.NewProvider(ctx, cfg.Transcribe, trLog)
	switch {
	case errors.Is(err, transcribe.ErrNoProvider):
		log.Warn().Msg("no transcription provider, jobs must include a transcript")
	case err != nil:
		return fmt.Errorf("transcription provider: %w", err)
	default:
		provider = transcache.Wrap(p, transcache.NewStoreCache(objects), transcache.Options{
			LockDir: filepath.Join(cfg.DataDir, "locks"),
			Log:     trLog,
		})
		log.Info().Str("provider", p.Name()).Str("model", p.Model()).Msg("transcription enabled")
	}

	// Subtitle presets and aligner
	presets := subtitle.BuiltinPresets()
	if cfg.SubtitlePresets != "" {
		presets, err = subtitle.LoadPresets(cfg.SubtitlePresets)
		if err != nil {
			return fmt.Errorf("load subtitle presets: %w", err)
		}
		log.Info().Strs("presets", presets.Names()).Msg("subtitle presets loaded")
	}
	aligner := align.New(align.Options{Window: cfg.Align.Window, Threshold: cfg.Align.Threshold})

	bus := events.NewBus(eventRingSize)

	// Worker pool
	pool := jobs.NewPool(jobs.Options{
		Store:               db,
		Objects:             objects,
		Provider:            provider,
		TranscribeOptions:   transcribe.DefaultOptions(cfg.Transcribe),
		Aligner:             aligner,
		Presets:             presets,
		MismatchReviewRatio: cfg.Align.MismatchReviewRatio,
		MaxAudioSeconds:     cfg.MaxAudioSeconds,
		Workers:             cfg.Workers,
		QueueSize:           cfg.QueueSize,
		JobTimeout:          cfg.JobTimeout,
		Events:              bus,
		Log:                 log,
	})
	pool.Start()
	if _, err := pool.Resume(ctx); err != nil {
		log.Error().Err(err).Msg("failed to resume queued jobs")
	}

	prometheus.MustRegister(metrics.NewCollector(db.Pool, statsAdapter{pool: pool, bus: bus}))

	opts := api.ServerOptions{
		Config:    cfg,
		DB:        db,
		Jobs:      db,
		Pool:      pool,
		Objects:   objects,
		Events:    bus,
		Aligner:   aligner,
		Presets:   presets,
		Version:   version,
		StartTime: startTime,
		Log:       log.With().Str("component", "http").Logger(),
	}

	// MQTT (optional)
	var mqtt *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         mqttLog,
		})
		if err != nil {
			pool.Stop()
			return fmt.Errorf("connect to mqtt broker: %w", err)
		}
		go mqttclient.Mirror(ctx, bus, mqtt, mqtt.TopicPrefix(), mqttLog)
		opts.MQTT = mqtt
	}

	// Inbox watcher (optional)
	var watcher *ingest.Watcher
	if cfg.InboxDir != "" {
		watcher = ingest.NewWatcher(ingest.Options{
			Dir:        cfg.InboxDir,
			Objects:    objects,
			Jobs:       pool,
			Events:     bus,
			JobOptions: database.JobOptions{Language: cfg.Transcribe.Language},
			Log:        log,
		})
		if err := watcher.Start(); err != nil {
			log.Error().Err(err).Str("dir", cfg.InboxDir).Msg("failed to start inbox watcher")
			watcher = nil
		} else {
			opts.Watcher = watcher
		}
	}

	// HTTP server
	srv := api.NewServer(opts)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if watcher != nil {
		watcher.Stop()
	}
	pool.Stop()
	if mqtt != nil {
		mqtt.Close()
	}

	log.Info().Msg("scriptsync stopped")
	return nil
}
