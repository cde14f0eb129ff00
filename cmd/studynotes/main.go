package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/studynotes"
	"github.com/snarg/studynotes/internal/api"
	"github.com/snarg/studynotes/internal/audio"
	"github.com/snarg/studynotes/internal/cache"
	"github.com/snarg/studynotes/internal/config"
	"github.com/snarg/studynotes/internal/database"
	"github.com/snarg/studynotes/internal/keyrotation"
	"github.com/snarg/studynotes/internal/llm"
	"github.com/snarg/studynotes/internal/metrics"
	"github.com/snarg/studynotes/internal/mqttclient"
	"github.com/snarg/studynotes/internal/notes"
	"github.com/snarg/studynotes/internal/prompts"
	"github.com/snarg/studynotes/internal/storage"
	"github.com/snarg/studynotes/internal/transcribe"
	"github.com/snarg/studynotes/internal/transcript"
	"github.com/snarg/studynotes/internal/youtube"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
	flag.StringVar(&overrides.TempDir, "temp-dir", "", "audio scratch directory (overrides TEMP_DIR)")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("studynotes starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	// Metadata cache
	metaCache := cache.New(ctx, cfg.RedisURL, cfg.CacheTTL, cfg.CacheMaxEntries, log)
	defer metaCache.Close()

	// Transcript archive
	store, err := storage.New(ctx, cfg.S3, cfg.TranscriptDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize transcript storage")
	}
	archive := storage.NewTranscriptArchive(store)
	log.Info().Str("type", archive.Type()).Msg("transcript archive ready")

	// YouTube
	ytKeys := keyrotation.NewPool("youtube", cfg.YouTubeAPIKeys, log)
	metadata := youtube.NewMetadataClient(ytKeys, metaCache, cfg.YouTubeAPIBase, log)
	captions := youtube.NewCaptionClient(cfg.CaptionLanguages, log)

	// Audio fallback
	acquirer := audio.NewAcquirer(cfg.YTDLPPath, cfg.TempDir, cfg.DownloadTimeout, log)
	pruner := audio.NewScratchPruner(cfg.TempDir, cfg.ScratchRetention, log)
	pruner.Start()
	defer pruner.Stop()

	var stt transcribe.Provider = transcribe.NewWhisperClient(cfg.Whisper.URL, cfg.Whisper.APIKey, cfg.Whisper.Model,
		cfg.Whisper.Timeout, transcribe.Options{Language: cfg.Whisper.Language}, log)
	log.Info().Str("provider", stt.Name()).Str("model", stt.Model()).Msg("speech-to-text configured")
	if cfg.Whisper.APIKey == "" {
		log.Warn().Msg("WHISPER_API_KEY not set; audio fallback will only work against keyless endpoints")
	}
	fetcher := transcript.NewFetcher(captions, acquirer, stt, archive, log)

	// Prompts + LLM
	promptStore, err := prompts.New(cfg.PromptsDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load prompts")
	}
	if err := promptStore.Watch(ctx); err != nil {
		log.Warn().Err(err).Msg("prompt override watcher unavailable")
	}

	llmKeys := keyrotation.NewPool("llm", cfg.LLM.APIKeys, log)
	llmClient := llm.NewClient(llmKeys, llm.Options{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	}, log)
	studio := llm.NewStudio(llmClient, promptStore)

	// MQTT (optional)
	var broker api.BrokerStatus
	var notifier notes.Notifier
	if cfg.MQTTBrokerURL != "" {
		mqtt, err := mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		broker = mqtt
		notifier = mqtt
	}

	// Pipeline
	gen := notes.NewGenerator(notes.Options{
		Metadata:    metadata,
		Transcripts: fetcher,
		Writer:      studio,
		Store:       db,
		Notifier:    notifier,
		Log:         log,
	})
	prometheus.MustRegister(metrics.NewCollector(db.Pool, gen, metaCache))

	// HTTP Server
	srv := api.NewServer(api.Options{
		Config:    cfg,
		DB:        db,
		Store:     db,
		Generator: gen,
		Studio:    studio,
		MQTT:      broker,
		Cache:     metaCache,
		Prompts:   promptStore.Overridden,
		OpenAPI:   studynotes.OpenAPISpec,
		Version:   version,
		StartTime: startTime,
		Log:       log.With().Str("component", "http").Logger(),
	})

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("studynotes stopped")
}
