package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"MicrowireQC/internal/arbitration"
	"MicrowireQC/internal/codec"
	"MicrowireQC/internal/config"
	"MicrowireQC/internal/domain"
	"MicrowireQC/internal/infrastructure/ml"
	"MicrowireQC/internal/infrastructure/mqtt"
	"MicrowireQC/internal/infrastructure/scheduler"
	"MicrowireQC/internal/infrastructure/storage"
	"MicrowireQC/internal/infrastructure/telegram"
	"MicrowireQC/internal/logging"
	"MicrowireQC/internal/ports"
	"MicrowireQC/internal/provenance"
	"MicrowireQC/internal/rules"
	"MicrowireQC/internal/telemetry"
	"MicrowireQC/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg         config.Config
	logger      *slog.Logger
	db          *sql.DB
	ingestor    *usecase.Ingestor
	reevaluator *usecase.Reevaluator
	reviewer    *usecase.Reviewer
	monitor     *usecase.HealthMonitor
	probes      *usecase.Scheduler
	subscriber  *mqtt.Subscriber
}

// New connects to Postgres and builds every use case.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	db, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := storage.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	text, err := codec.New(cfg.Ingestion.Encoding)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ingestion encoding: %w", err)
	}
	normalizer, err := telemetry.NewNormalizer(provenance.NewDecoder(text), cfg.Ingestion.Location())
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	predictor := ml.NewClient(cfg.Predictor)
	engine := rules.NewEngine(storage.NewStandardRepository(db), baseLogger.With("component", "rules"))
	arbiter := arbitration.NewArbiter(engine, predictor, cfg.Arbitration.ConfidenceThreshold, baseLogger.With("component", "arbitration"))

	var notifier ports.Notifier
	if tg := telegram.NewNotifier(cfg.Notifications.Telegram); tg.Configured() {
		notifier = tg
	}

	deps := usecase.PipelineDeps{
		Normalizer: normalizer,
		Records:    storage.NewPostgresRepository(db),
		Arbiter:    arbiter,
		Notifier:   notifier,
		Locks:      usecase.NewBatchLocks(),
		Logger:     baseLogger,
	}

	a := &Application{
		cfg:         cfg,
		logger:      baseLogger,
		db:          db,
		ingestor:    usecase.NewIngestor(deps),
		reevaluator: usecase.NewReevaluator(deps, cfg.Reevaluation.Concurrency),
		reviewer:    usecase.NewReviewer(deps),
	}

	a.monitor = usecase.NewHealthMonitor(predictor, baseLogger)
	a.probes = usecase.NewScheduler(scheduler.NewIntervalScheduler(cfg.Health.Interval), a.monitor)
	a.subscriber = mqtt.NewSubscriber(cfg.MQTT, a.ingest, baseLogger)

	return a, nil
}

// Serve consumes telemetry until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.probes.Start(ctx); err != nil {
		return fmt.Errorf("start health probes: %w", err)
	}
	if err := a.subscriber.Start(ctx); err != nil {
		_ = a.probes.Stop(context.Background())
		return fmt.Errorf("start telemetry subscriber: %w", err)
	}
	a.logger.Info("serving",
		"broker", a.cfg.MQTT.Broker,
		"topic", a.cfg.MQTT.Topic,
		"predictor", a.cfg.Predictor.Endpoint,
		"threshold", a.cfg.Arbitration.ConfidenceThreshold,
		"model_available", a.ModelAvailable())

	<-ctx.Done()

	a.subscriber.Stop()
	err := a.probes.Stop(context.Background())
	a.logger.Info("stopped", "model_available", a.ModelAvailable())
	return err
}

// ModelAvailable reports whether the predictor answered its last health probe.
func (a *Application) ModelAvailable() bool {
	return a.monitor != nil && a.monitor.Available()
}

// Reevaluate re-runs evaluation for every record of a scenario.
func (a *Application) Reevaluate(ctx context.Context, scenarioCode string) (usecase.ReevaluationResult, error) {
	return a.reevaluator.Reevaluate(ctx, scenarioCode)
}

// Review records a human verdict.
func (a *Application) Review(ctx context.Context, batchNumber string, verdict domain.Verdict, reviewer, note string) (domain.MeasurementRecord, error) {
	return a.reviewer.Review(ctx, batchNumber, verdict, reviewer, note)
}

// Close releases the database pool.
func (a *Application) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *Application) ingest(ctx context.Context, payload []byte) error {
	_, err := a.ingestor.Ingest(ctx, payload)
	return err
}

// Probe checks the predictor once without touching the database.
func Probe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	monitor := usecase.NewHealthMonitor(ml.NewClient(cfg.Predictor), logger)
	if err := monitor.Probe(ctx); err != nil {
		return fmt.Errorf("predictor %s unavailable: %w", cfg.Predictor.Endpoint, err)
	}
	return nil
}
