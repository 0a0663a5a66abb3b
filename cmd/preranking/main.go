package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/intenus/preranking/blob"
	"github.com/intenus/preranking/config"
	"github.com/intenus/preranking/coordinator"
	"github.com/intenus/preranking/httpstatus"
	"github.com/intenus/preranking/ingest"
	"github.com/intenus/preranking/logging"
	"github.com/intenus/preranking/metrics"
	"github.com/intenus/preranking/pipeline"
	"github.com/intenus/preranking/publish"
	"github.com/intenus/preranking/simulate"
	"github.com/intenus/preranking/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	flags := parseFlags()
	log := logging.New(os.Stdout, flags.LogLevel, flags.LogJSON)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()

	log.Info().Msg("initializing database connection")
	db, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}()
	log.Info().Msg("database connection established successfully")

	chainClient, err := ethclient.DialContext(ctx, cfg.ChainRPCURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to dial chain RPC")
	}

	eventSource, err := ingest.NewEVMSource(chainClient, common.HexToAddress(cfg.ChainPackageAddr))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct event source")
	}

	cursors := store.NewPostgresCursorStore(db)
	intents := store.NewPostgresIntentStore(db)

	blobFetcher := blob.New(cfg.BlobStoreURL, cfg.FetchTimeout)
	simulator := simulate.New(cfg.SimulatorURL, cfg.SimulatorTimeout)

	prerankingPipeline := pipeline.New(blobFetcher, simulator, nil, intents, pipeline.Config{
		FetchTimeout:     cfg.FetchTimeout,
		SimulatorTimeout: cfg.SimulatorTimeout,
		StoreTimeout:     cfg.StoreTimeout,
		RecordTTL:        cfg.RecordTTL,
	}, log)

	queuePublisher := publish.New(publish.NewPostgresQueueClient(db), publish.DefaultConfig(), log)

	lifecycleCoordinator := coordinator.New(blobFetcher, prerankingPipeline, intents, queuePublisher, coordinator.Config{
		RecordTTL:           cfg.RecordTTL,
		FlushOnEmptyPassed:  cfg.FlushOnEmptyPassed,
		FetchTimeout:        cfg.FetchTimeout,
		StoreTimeout:        cfg.StoreTimeout,
		EnqueueTimeout:      cfg.EnqueueTimeout,
		PipelineConcurrency: cfg.PipelineConcurrency,
	}, log)

	ingestor := ingest.New(eventSource, cursors, lifecycleCoordinator, ingest.Config{
		PollInterval:       cfg.EventPollInterval,
		BatchLimit:         cfg.EventBatchLimit,
		AutoStart:          cfg.AutoStartListener,
		BackfillChunk:      cfg.BackfillChunk,
		CursorStoreTimeout: cfg.StoreTimeout,
	}, log)

	statusServer := httpstatus.New(lifecycleCoordinator, ingestor, cfg.HTTPAddr, log)
	ingestor.SetPollHook(statusServer.NotePoll)

	metricsService := metrics.New(log)
	prerankingPipeline.SetRecorder(metricsService)
	lifecycleCoordinator.SetRecorder(metricsService)
	ingestor.SetRecorder(metricsService)

	if err := ingestor.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start event ingestor")
	}
	log.Info().Msg("event ingestor started")

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metricsService.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Error().Err(err).Msg("metrics server stopped unexpectedly")
			}
		}()
	}

	go func() {
		if err := statusServer.Serve(ctx); err != nil {
			log.Error().Err(err).Msg("operational HTTP server stopped unexpectedly")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutdown signal received, cleaning up services...")

	var shutdownErrors []error

	log.Info().Msg("shutting down event ingestor...")
	if err := ingestor.Shutdown(shutdownTimeout); err != nil {
		shutdownErrors = append(shutdownErrors, errors.Wrap(err, "failed to shutdown event ingestor"))
	}

	log.Info().Msg("shutting down intent lifecycle coordinator...")
	if err := lifecycleCoordinator.Shutdown(shutdownTimeout); err != nil {
		shutdownErrors = append(shutdownErrors, errors.Wrap(err, "failed to shutdown coordinator"))
	}

	if len(shutdownErrors) > 0 {
		log.Error().Int("errors_count", len(shutdownErrors)).Msg("encountered errors during shutdown")
		for _, err := range shutdownErrors {
			log.Error().Err(err).Msg("error during shutdown")
		}
		return
	}

	log.Info().Msg("all services shut down successfully")
}

type flagSet struct {
	LogJSON  bool
	LogLevel zerolog.Level
}

func parseFlags() flagSet {
	var (
		logJSON        bool
		logLevel       string
		logLevelParsed zerolog.Level
	)

	flag.BoolVar(&logJSON, "log-json", false, "output logs in JSON format")
	flag.StringVar(&logLevel, "log-level", "info", "set log level (debug, info, warn, error)")
	flag.Parse()

	switch logLevel {
	case "debug":
		logLevelParsed = zerolog.DebugLevel
	case "warn":
		logLevelParsed = zerolog.WarnLevel
	case "error":
		logLevelParsed = zerolog.ErrorLevel
	default:
		logLevelParsed = zerolog.InfoLevel
	}

	return flagSet{LogJSON: logJSON, LogLevel: logLevelParsed}
}
