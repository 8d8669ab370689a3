// This file orchestrates the pdf-to-image service, initializing and running the NATS
// worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/pdf-to-image/internal/pdfrender"
)

const (
	configURLEnv   = "PDF_TO_IMAGE_CONFIG_URL"
	natsURLEnv     = "NATS_URL"
	envFile        = ".env"
	serviceLogFile = "pdf-to-image-service.log"
)

// Config represents the overall configuration structure for the pdf-to-image service.
type Config struct {
	NATS   NATSConfig   `toml:"nats"`
	Paths  PathsConfig  `toml:"paths"`
	Render RenderConfig `toml:"render"`
}

// PathsConfig holds common path configurations.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	EngineDir   string `toml:"engine_dir"`
	TempDir     string `toml:"temp_dir"`
}

// NATSConfig holds NATS-specific configuration for the pdf-to-image service.
type NATSConfig struct {
	URL                  string `toml:"url"`
	PDFStreamName        string `toml:"pdf_stream_name"`
	PDFConsumerName      string `toml:"pdf_consumer_name"`
	PDFCreatedSubject    string `toml:"pdf_created_subject"`
	PDFObjectStoreBucket string `toml:"pdf_object_store_bucket"`
	PNGStreamName        string `toml:"png_stream_name"`
	PNGCreatedSubject    string `toml:"png_created_subject"`
	PNGObjectStoreBucket string `toml:"png_object_store_bucket"`
}

// RenderConfig holds the conversion settings applied to every job.
type RenderConfig struct {
	Engine            string  `toml:"engine"`
	Geometry          string  `toml:"geometry"`
	Format            string  `toml:"format"`
	DPI               int     `toml:"dpi"`
	BatchSize         int     `toml:"batch_size"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	MaxDeliveries     int     `toml:"max_deliveries"`
	FuzzPercent       int     `toml:"blank_fuzz_percent"`
	NonWhiteThreshold float64 `toml:"blank_non_white_threshold"`
	SkipBlank         bool    `toml:"skip_blank"`
}

const (
	natsFetchTimeout     = 5 * time.Second
	ackWait              = 30 * time.Second
	heartbeatInterval    = ackWait / 2
	defaultDPI           = 300
	defaultMaxDeliveries = 5
)

var errMissingConfigURL = errors.New(configURLEnv + " is not set")

// main is the entry point of the application.
func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)

	runErr := run(ctx)

	stop()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Printf("Fatal application error: %v", runErr)
		os.Exit(1)
	}

	log.Println("Application shut down gracefully.")
}

// run initializes all components and starts the message processing loop.
func run(ctx context.Context) error {
	cfg, appLogger, setupErr := setupConfigAndLogger()
	if setupErr != nil {
		return setupErr
	}

	defer func() {
		if closeErr := appLogger.Close(); closeErr != nil {
			log.Printf("Warning: failed to close app logger: %v", closeErr)
		}
	}()

	processor := pdfrender.NewProcessor(cfg.processorOptions(), appLogger)

	toolsErr := processor.CheckTools()
	if toolsErr != nil {
		return fmt.Errorf("rendering engine is not usable: %w", toolsErr)
	}

	natsConnection, connErr := nats.Connect(cfg.NATS.URL)
	if connErr != nil {
		return fmt.Errorf("failed to connect to NATS: %w", connErr)
	}
	defer natsConnection.Close()

	appLogger.Info("Connected to NATS server at %s", natsConnection.ConnectedUrl())

	jetStream, jsErr := jetstream.New(natsConnection)
	if jsErr != nil {
		return fmt.Errorf("failed to create JetStream context: %w", jsErr)
	}

	jsSetupErr := setupJetStream(ctx, jetStream, cfg)
	if jsSetupErr != nil {
		return fmt.Errorf("failed to set up JetStream resources: %w", jsSetupErr)
	}

	consumer, consumerErr := jetStream.Consumer(
		ctx,
		cfg.NATS.PDFStreamName,
		cfg.NATS.PDFConsumerName,
	)
	if consumerErr != nil {
		return fmt.Errorf("failed to get consumer: %w", consumerErr)
	}

	w, workerErr := newWorker(ctx, jetStream, processor, cfg, appLogger)
	if workerErr != nil {
		return workerErr
	}

	appLogger.Info("Worker is running, listening for jobs on '%s'...", cfg.NATS.PDFCreatedSubject)

	return w.processMessages(ctx, consumer)
}

// setupConfigAndLogger loads configuration and sets up the main application logger.
func setupConfigAndLogger() (*Config, *logger.Logger, error) {
	configURL, urlErr := configURLFromEnv(envFile, os.Getenv)
	if urlErr != nil {
		return nil, nil, urlErr
	}

	tempLogger, tempLoggerErr := logger.New(os.TempDir(), "pdf-to-image-bootstrap.log")
	if tempLoggerErr != nil {
		return nil, nil, fmt.Errorf("failed to create bootstrap logger: %w", tempLoggerErr)
	}

	defer func() {
		if closeErr := tempLogger.Close(); closeErr != nil {
			log.Printf("Warning: failed to close temp logger: %v", closeErr)
		}
	}()

	var cfg Config

	loadErr := configurator.LoadFromURL(configURL, &cfg, tempLogger)
	if loadErr != nil {
		return nil, nil, fmt.Errorf(
			"failed to load configuration from URL %s: %w",
			configURL,
			loadErr,
		)
	}

	log.Printf("Configuration loaded from %s", configURL)

	applyEnvOverrides(&cfg, os.Getenv)
	applyServiceDefaults(&cfg)

	appLogger, loggerErr := logger.New(cfg.Paths.BaseLogsDir, serviceLogFile)
	if loggerErr != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", loggerErr)
	}

	return &cfg, appLogger, nil
}

// configURLFromEnv loads the optional .env file and returns the configuration URL.
// Variables already set in the environment win over the file.
func configURLFromEnv(path string, getenv func(string) string) (string, error) {
	loadErr := godotenv.Load(path)
	if loadErr != nil && !errors.Is(loadErr, os.ErrNotExist) {
		return "", fmt.Errorf("failed to load %s: %w", path, loadErr)
	}

	configURL := getenv(configURLEnv)
	if configURL == "" {
		return "", errMissingConfigURL
	}

	return configURL, nil
}

// applyEnvOverrides lets deployments point at another NATS server without editing the
// shared configuration.
func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	if natsURL := getenv(natsURLEnv); natsURL != "" {
		cfg.NATS.URL = natsURL
	}
}

// applyServiceDefaults fills the settings the configuration may leave out.
func applyServiceDefaults(cfg *Config) {
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = nats.DefaultURL
	}

	if cfg.Paths.BaseLogsDir == "" {
		cfg.Paths.BaseLogsDir = os.TempDir()
	}

	if cfg.Paths.EngineDir == "" {
		cfg.Paths.EngineDir = pdfrender.BundledEngineDir()
	}

	if cfg.Render.Format == "" {
		cfg.Render.Format = string(pdfrender.FormatPNG)
	}

	if cfg.Render.DPI <= 0 {
		cfg.Render.DPI = defaultDPI
	}

	if cfg.Render.MaxDeliveries <= 0 {
		cfg.Render.MaxDeliveries = defaultMaxDeliveries
	}
}

func (cfg *Config) processorOptions() *pdfrender.Options {
	return &pdfrender.Options{
		Engine:                 cfg.Render.Engine,
		EngineBinary:           "",
		EngineDir:              cfg.Paths.EngineDir,
		Geometry:               cfg.Render.Geometry,
		TempDir:                cfg.Paths.TempDir,
		BlankFuzzPercent:       cfg.Render.FuzzPercent,
		BlankNonWhiteThreshold: cfg.Render.NonWhiteThreshold,
	}
}

// requestFor builds the conversion request of one job. Invalid settings surface as
// ErrInvalidParameter from the conversion itself.
func (cfg *Config) requestFor(pdfPath, outputDir string) pdfrender.Request {
	format, formatErr := pdfrender.ParseFormat(cfg.Render.Format)
	if formatErr != nil {
		format = pdfrender.Format(cfg.Render.Format)
	}

	return pdfrender.Request{
		PDFPath:   pdfPath,
		OutputDir: outputDir,
		Format:    format,
		Timeout:   time.Duration(cfg.Render.TimeoutSeconds) * time.Second,
		DPI:       cfg.Render.DPI,
		BatchSize: cfg.Render.BatchSize,
		Overwrite: true,
		SkipBlank: cfg.Render.SkipBlank,
	}.WithDefaults()
}

// setupJetStream ensures all required NATS streams and object stores exist.
func setupJetStream(ctx context.Context, jetStream jetstream.JetStream, cfg *Config) error {
	streamCfg := newStreamConfig(cfg.NATS.PDFStreamName, cfg.NATS.PDFCreatedSubject)

	_, streamErr := jetStream.CreateStream(ctx, *streamCfg)
	if streamErr != nil && !errors.Is(streamErr, jetstream.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create PDF stream: %w", streamErr)
	}

	consumerCfg := newConsumerConfig(cfg)

	stream, streamErr := jetStream.Stream(ctx, cfg.NATS.PDFStreamName)
	if streamErr != nil {
		return fmt.Errorf("failed to get PDF stream handle: %w", streamErr)
	}

	_, consumerErr := stream.CreateOrUpdateConsumer(ctx, *consumerCfg)
	if consumerErr != nil {
		return fmt.Errorf("failed to create PDF consumer: %w", consumerErr)
	}

	imageStreamCfg := newStreamConfig(cfg.NATS.PNGStreamName, cfg.NATS.PNGCreatedSubject)

	_, imageStreamErr := jetStream.CreateStream(ctx, *imageStreamCfg)
	if imageStreamErr != nil &&
		!errors.Is(imageStreamErr, jetstream.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create image stream: %w", imageStreamErr)
	}

	for _, bucket := range []string{cfg.NATS.PDFObjectStoreBucket, cfg.NATS.PNGObjectStoreBucket} {
		objStoreCfg := newObjectStoreConfig(bucket)

		_, objStoreErr := jetStream.CreateObjectStore(ctx, *objStoreCfg)
		if objStoreErr != nil && !errors.Is(objStoreErr, jetstream.ErrBucketExists) {
			return fmt.Errorf("failed to create object store '%s': %w", bucket, objStoreErr)
		}
	}

	return nil
}

func newStreamConfig(name, subject string) *jetstream.StreamConfig {
	return &jetstream.StreamConfig{
		Name:              name,
		Subjects:          []string{subject},
		Retention:         jetstream.WorkQueuePolicy,
		MaxConsumers:      -1,
		MaxMsgs:           -1,
		MaxBytes:          -1,
		Discard:           jetstream.DiscardOld,
		MaxMsgsPerSubject: -1,
		MaxMsgSize:        -1,
		Storage:           jetstream.FileStorage,
		Replicas:          1,
		Compression:       jetstream.NoCompression,
	}
}

// newConsumerConfig leaves MaxDeliver unlimited; the worker terminates a message itself
// once it has been delivered Render.MaxDeliveries times.
func newConsumerConfig(cfg *Config) *jetstream.ConsumerConfig {
	return &jetstream.ConsumerConfig{
		Durable:       cfg.NATS.PDFConsumerName,
		FilterSubject: cfg.NATS.PDFCreatedSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    -1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
		MaxAckPending: -1,
	}
}

func newObjectStoreConfig(bucket string) *jetstream.ObjectStoreConfig {
	return &jetstream.ObjectStoreConfig{
		Bucket:   bucket,
		MaxBytes: -1,
		Storage:  jetstream.FileStorage,
		Replicas: 1,
	}
}
