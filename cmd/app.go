package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"cdc-reconciler/core/config"
	"cdc-reconciler/core/database"
	"cdc-reconciler/core/logger"
	"cdc-reconciler/core/reconcile"
	"cdc-reconciler/core/retry"
	"cdc-reconciler/core/storage"
	"cdc-reconciler/extract"
	"cdc-reconciler/feature/deadletter"
	"cdc-reconciler/feature/targetstore"
	"cdc-reconciler/feature/watermarkstore"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// application bundles everything a command needs after wiring.
type application struct {
	cfg        *config.Config
	logger     *zap.Logger
	sourceDB   *gorm.DB
	stateDB    *gorm.DB
	engine     *reconcile.Engine
	auditor    *reconcile.Auditor
	watermarks *watermarkstore.Store
	letters    *deadletter.Sink
	specs      []reconcile.TableSpec
}

// buildApplication loads configuration and wires the full engine stack:
// databases, stores, extractor, archiver, engine and auditor.
func buildApplication() (*application, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logg, err := logger.New(&cfg.Log)
	if err != nil {
		// Logger is not up yet, fall back to the standard library once.
		log.Printf("failed to initialize logger: %v", err)
		return nil, err
	}
	zap.ReplaceGlobals(logg)

	spec, err := cfg.Engine.TableSpec()
	if err != nil {
		return nil, fmt.Errorf("table registration: %w", err)
	}

	sourceDB, err := database.Connect(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("connect source database: %w", err)
	}
	stateDB, err := database.Connect(cfg.State)
	if err != nil {
		return nil, fmt.Errorf("connect state database: %w", err)
	}

	if err := watermarkstore.Migrate(stateDB); err != nil {
		return nil, fmt.Errorf("migrate watermark table: %w", err)
	}
	if err := targetstore.Migrate(stateDB); err != nil {
		return nil, fmt.Errorf("migrate target table: %w", err)
	}
	if err := deadletter.Migrate(stateDB); err != nil {
		return nil, fmt.Errorf("migrate dead letter table: %w", err)
	}

	// Schema preflight: a renamed source column should fail wiring, not a
	// merge pass three windows later.
	if missing, err := database.MissingColumns(sourceDB, spec.FullTableName(), preflightColumns(spec)); err != nil {
		logg.Warn("source schema preflight failed", zap.Error(err))
	} else if len(missing) > 0 {
		return nil, fmt.Errorf("source table %s is missing columns %v", spec.FullTableName(), missing)
	}

	watermarks := watermarkstore.New(stateDB)
	targets := targetstore.New(stateDB)
	letters := deadletter.NewSink(stateDB, logg)

	// The archive sink is optional: without object storage dead letters
	// still land in the database sink.
	var archiver reconcile.BatchArchiver
	if client, err := storage.NewClient(cfg.Storage); err != nil {
		logg.Warn("Optional storage client failed, batch archiving disabled", zap.Error(err))
	} else {
		arch := deadletter.NewArchiver(client, cfg.Storage.Bucket, logg)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := arch.EnsureBucket(ctx); err != nil {
			logg.Warn("Archive bucket unavailable, batch archiving disabled", zap.Error(err))
		} else {
			archiver = arch
		}
		cancel()
	}

	policy := retry.Policy{
		MaxAttempts:    cfg.Engine.RetryMaxAttempts,
		InitialBackoff: time.Duration(cfg.Engine.RetryInitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Engine.RetryMaxBackoffMS) * time.Millisecond,
	}

	extractor := extract.NewSQLExtractor(sourceDB, logg)
	resolver := reconcile.NewResolver(watermarks, logg)
	applier := reconcile.NewApplier(targets, logg, policy)
	advancer := reconcile.NewAdvancer(watermarks, logg)
	engine := reconcile.NewEngine(resolver, extractor, applier, advancer, letters, archiver, logg, policy)

	auditor := reconcile.NewAuditor(extractor, targets, reconcile.LogAlertSink{Logger: logg}, reconcile.AuditThresholds{
		WarnLag:     cfg.Engine.WarnLag(),
		CriticalLag: cfg.Engine.CriticalLag(),
	}, logg)

	return &application{
		cfg:        cfg,
		logger:     logg,
		sourceDB:   sourceDB,
		stateDB:    stateDB,
		engine:     engine,
		auditor:    auditor,
		watermarks: watermarks,
		letters:    letters,
		specs:      []reconcile.TableSpec{spec},
	}, nil
}

// preflightColumns collects every source column a spec references.
func preflightColumns(spec reconcile.TableSpec) []string {
	cols := append([]string{}, spec.Columns...)
	cols = append(cols, spec.KeyColumns...)
	for _, extra := range []string{spec.WatermarkColumn, spec.SecondaryColumn, spec.CreatedAtColumn, spec.OperationColumn} {
		if extra != "" {
			cols = append(cols, extra)
		}
	}
	return cols
}
