package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/streetlens/batchtrack/internal/app/pipeline"
	"github.com/streetlens/batchtrack/internal/config"
	"github.com/streetlens/batchtrack/internal/config/fileloader"
	"github.com/streetlens/batchtrack/internal/domain/tracking"
	"github.com/streetlens/batchtrack/internal/infra/auth"
	"github.com/streetlens/batchtrack/internal/infra/detector"
	"github.com/streetlens/batchtrack/internal/infra/feed"
	kafkafeed "github.com/streetlens/batchtrack/internal/infra/feed/kafka"
	"github.com/streetlens/batchtrack/internal/infra/storage"
	trackingStore "github.com/streetlens/batchtrack/internal/infra/storage/tracking/postgres"
	"github.com/streetlens/batchtrack/pkg/common/logger"
	"github.com/streetlens/batchtrack/pkg/common/otel"
)

const serviceType = "batch-worker"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("BATCH-WORKER-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	logg := logger.NewWithMetadata(os.Stdout, logger.LevelInfo, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prob := 1.0
	if raw := os.Getenv("OTEL_SAMPLING_RATIO"); raw != "" {
		prob, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			logg.Error(ctx, "failed to parse OTEL_SAMPLING_RATIO", "error", err)
			os.Exit(1)
		}
	}
	tp, telemetryTeardown, err := otel.InitTelemetry(logg, otel.Config{
		ServiceName:      serviceType,
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Probability:      prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: true,
	})
	if err != nil {
		logg.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(serviceType)

	configPath := os.Getenv("BATCHTRACK_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := fileloader.NewFileLoader(configPath).Load(ctx)
	if err != nil {
		logg.Error(ctx, "failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}
	if err := config.ApplyEnvOverrides(cfg); err != nil {
		logg.Error(ctx, "failed to apply environment overrides", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logg.Error(ctx, "invalid configuration", "error", err)
		os.Exit(1)
	}

	runID := cfg.Run.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logg = logg.With("run_id", runID)

	var provider *auth.Provider
	if cfg.Database.CredentialMode == config.CredentialModeManagedIdentity {
		source, err := auth.NewManagedIdentitySource(cfg.Database.ManagedIdentityClientID)
		if err != nil {
			logg.Error(ctx, "failed to create managed identity source", "error", err)
			os.Exit(1)
		}
		provider = auth.NewProvider(source, auth.DefaultRenewalMargin, logg)
	}

	sessions, err := storage.NewSessionManager(ctx, storage.Config{
		Mode:     storage.CredentialMode(cfg.Database.CredentialMode),
		Host:     cfg.Database.Host,
		Port:     uint16(cfg.Database.Port),
		Database: cfg.Database.Name,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MinConns: cfg.Database.MinConns,
		MaxConns: cfg.Database.MaxConns,
	}, provider, logg, tracer)
	if err != nil {
		logg.Error(ctx, "failed to create session manager", "error", err)
		os.Exit(1)
	}
	defer sessions.Close()

	if err := runMigrations(ctx, sessions.Pool()); err != nil {
		logg.Error(ctx, "failed to run migrations", "error", err)
		os.Exit(1)
	}
	logg.Info(ctx, "Migrations applied successfully. Starting batch run...")

	imageFeed, err := buildFeed(ctx, cfg, svcName, logg)
	if err != nil {
		logg.Error(ctx, "failed to build image feed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := imageFeed.Close(); err != nil {
			logg.Error(ctx, "failed to close image feed", "error", err)
		}
	}()

	runner := storage.WithTimeout(sessions, cfg.Run.UnitOfWorkTimeout)
	images := trackingStore.NewImageStatusStore(tracer, cfg.Run.StrictClaims)
	detections := trackingStore.NewDetectionStore(tracer)
	runs := trackingStore.NewRunStore(tracer)
	infer := detector.NewHTTPClient(cfg.Detector.Endpoint, cfg.Detector.Timeout, tracer)
	recorder := pipeline.NewRunRecorder(runner, runs, logg, tracer)

	orchestrator := pipeline.NewOrchestrator(
		pipeline.Config{
			Customer:          cfg.Run.Customer,
			RunID:             runID,
			Model:             cfg.Run.Model,
			Resumable:         cfg.Run.Resumable,
			ReportingRequired: cfg.Run.ReportingRequired,
			DetectionRPS:      cfg.Run.DetectionRPS,
			DetectionBurst:    cfg.Run.DetectionBurst,
		},
		runner, images, detections, runs, infer, imageFeed, recorder, logg, tracer,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- orchestrator.Run(ctx) }()

	select {
	case sig := <-sigCh:
		logg.Info(ctx, "Received shutdown signal", "signal", sig)
		cancel()
		if err := <-errCh; err != nil && ctx.Err() == nil {
			logg.Error(ctx, "Batch run failed during shutdown", "error", err)
		}
	case err := <-errCh:
		if err != nil {
			logg.Error(ctx, "Batch run failed", "error", err)
			os.Exit(1)
		}
		logg.Info(ctx, "Batch run finished")
	}
}

// buildFeed constructs the configured image feed.
func buildFeed(ctx context.Context, cfg *config.Config, clientID string, logg *logger.Logger) (tracking.ImageFeed, error) {
	switch cfg.Feed.Type {
	case config.FeedTypeStatic:
		refs := make([]tracking.ImageRef, 0, len(cfg.Feed.Images))
		for _, entry := range cfg.Feed.Images {
			uploadDate, err := time.Parse("2006-01-02", entry.UploadDate)
			if err != nil {
				return nil, fmt.Errorf("parsing upload date %q: %w", entry.UploadDate, err)
			}
			refs = append(refs, tracking.NewImageRef(entry.Customer, uploadDate, entry.Filename))
		}
		return feed.NewStaticFeed(refs), nil

	case config.FeedTypeKafka:
		return kafkafeed.Connect(ctx, kafkafeed.Config{
			Brokers:  cfg.Feed.Kafka.Brokers,
			Topic:    cfg.Feed.Kafka.Topic,
			ClientID: clientID,
		}, logg)

	default:
		return nil, fmt.Errorf("unknown feed type: %q", cfg.Feed.Type)
	}
}

// runMigrations uses golang-migrate to apply all up migrations. It borrows a
// database handle from the pool and returns it when done.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("could not acquire connection: %w", err)
	}
	defer conn.Release()

	db := stdlib.OpenDBFromPool(pool)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	migrationsPath := os.Getenv("BATCHTRACK_MIGRATIONS")
	if migrationsPath == "" {
		migrationsPath = "file://db/migrations"
	}
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}
