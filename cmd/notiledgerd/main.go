package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seojinlee/notiledger/internal/allowance"
	"github.com/seojinlee/notiledger/internal/analytics"
	"github.com/seojinlee/notiledger/internal/api/handlers"
	"github.com/seojinlee/notiledger/internal/api/middleware"
	"github.com/seojinlee/notiledger/internal/archive"
	"github.com/seojinlee/notiledger/internal/config"
	"github.com/seojinlee/notiledger/internal/fallback"
	"github.com/seojinlee/notiledger/internal/jobs"
	"github.com/seojinlee/notiledger/internal/jobs/inmemory"
	"github.com/seojinlee/notiledger/internal/ledger"
	"github.com/seojinlee/notiledger/internal/ledger/memory"
	"github.com/seojinlee/notiledger/internal/ledger/mongostore"
	"github.com/seojinlee/notiledger/internal/logger"
	"github.com/seojinlee/notiledger/internal/normalize"
	"github.com/seojinlee/notiledger/internal/parse"
	"github.com/seojinlee/notiledger/internal/reconcile"
	"github.com/seojinlee/notiledger/internal/source"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	var (
		port      = flag.String("port", cfg.Port, "HTTP server port")
		threshold = flag.Int64("high-value-threshold", cfg.HighValueThreshold, "inclusive hold boundary, 0 disables the gate")
	)
	flag.Parse()

	ctx := context.Background()

	// Source registry: builtins, optionally extended from a JSON file.
	reg, err := buildRegistry(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build source registry")
	}

	// Store: Mongo when configured, otherwise in-memory.
	var store ledger.Store
	if cfg.MongoURI != "" {
		client, err := mongostore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
		}
		ms := mongostore.New(client, cfg.MongoDatabase)
		defer ms.Close(ctx)
		store = ms
		log.Info().Str("database", cfg.MongoDatabase).Msg("Using MongoDB store")
	} else {
		store = memory.NewStore()
		log.Warn().Msg("No MONGO_URI configured - using in-memory store, data is lost on restart")
	}

	deps := reconcile.Deps{
		Store:      store,
		Parser:     parse.New(reg),
		Normalizer: normalize.New(reg, normalize.DefaultMerchantCategories()),
		Log:        logger.ForComponent(log, "engine"),
	}

	if cfg.EnableModelFallback {
		fb, err := fallback.NewParser(ctx, reg, logger.ForComponent(log, "fallback"))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create model fallback")
		}
		deps.Fallback = fb
	}
	if cfg.GCSBucket != "" {
		arch, err := archive.NewGCSArchiver(ctx, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create notification archiver")
		}
		defer arch.Close()
		deps.Archiver = arch
	} else {
		log.Warn().Msg("No GCS_BUCKET configured - raw notification archival is disabled")
	}
	if cfg.BigQueryProject != "" {
		exp, err := analytics.NewExporter(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create analytics exporter")
		}
		defer exp.Close()
		deps.Exporter = exp
	}

	engine := reconcile.New(deps, reconcile.Config{
		HighValueThreshold: *threshold,
		ActingUser:         cfg.ActingUser,
	})

	scheduler := allowance.NewScheduler(engine, logger.ForComponent(log, "allowance"))

	// Job infrastructure: listener events queue here, workers drive them
	// through the engine.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.QueueBuffer, cfg.QueueWorkers, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := func(ctx context.Context, job jobs.Job) error {
		ij, ok := job.(*jobs.IngestNotificationJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}
		raw := reconcile.RawNotification{SourceID: ij.SourceID, Text: ij.RawText, PostedAt: ij.PostedAt}

		var err error
		if ij.ManualText {
			_, err = engine.IngestManualText(ctx, ij.LedgerID, raw)
		} else {
			_, err = engine.IngestNotification(ctx, ij.LedgerID, raw)
		}
		if parse.KindOf(err) != "" {
			// Typed parse failures are terminal; the outcome event already
			// carries them to the UI.
			return nil
		}
		return err
	}

	log.Info().Int("workers", cfg.QueueWorkers).Msg("Starting ingestion workers")
	if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start ingestion workers")
	}

	// Calendar ticks for allowance accrual.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case now := <-ticker.C:
				scheduler.Tick(now)
			}
		}
	}()

	// Handlers and routes.
	ingestHandler := handlers.NewIngestHandler(jobQueue, jobStore, logger.ForComponent(log, "api"))
	holdsHandler := handlers.NewHoldsHandler(engine, logger.ForComponent(log, "api"))
	transactionsHandler := handlers.NewTransactionsHandler(store, logger.ForComponent(log, "api"))
	goalsHandler := handlers.NewGoalsHandler(store, engine, logger.ForComponent(log, "api"))
	allowanceHandler := handlers.NewAllowanceHandler(scheduler, logger.ForComponent(log, "api"))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ledgers/{ledger}/notifications", ingestHandler.IngestNotification)
	mux.HandleFunc("POST /api/ledgers/{ledger}/manual-text", ingestHandler.IngestManualText)
	mux.HandleFunc("GET /api/jobs/{job}", ingestHandler.GetJob)

	mux.HandleFunc("GET /api/ledgers/{ledger}/holds", holdsHandler.List)
	mux.HandleFunc("GET /api/ledgers/{ledger}/holds/count", holdsHandler.Count)
	mux.HandleFunc("POST /api/transactions/{transaction}/confirm", holdsHandler.ConfirmHighValue)
	mux.HandleFunc("POST /api/transactions/{transaction}/dismiss", holdsHandler.DismissHighValue)
	mux.HandleFunc("POST /api/transactions/{transaction}/resolve-duplicate", holdsHandler.ResolveDuplicate)
	mux.HandleFunc("POST /api/contributions/{contribution}/resolve", holdsHandler.ResolveGoalAmbiguity)

	mux.HandleFunc("GET /api/ledgers/{ledger}/transactions", transactionsHandler.List)
	mux.HandleFunc("GET /api/transactions/{transaction}", transactionsHandler.Get)
	mux.HandleFunc("PUT /api/transactions/{transaction}", transactionsHandler.UpdateDetails)
	mux.HandleFunc("GET /api/ledgers/{ledger}/totals", transactionsHandler.Totals)

	mux.HandleFunc("POST /api/ledgers/{ledger}/goals", goalsHandler.Create)
	mux.HandleFunc("GET /api/ledgers/{ledger}/goals", goalsHandler.List)
	mux.HandleFunc("DELETE /api/goals/{goal}", goalsHandler.Delete)
	mux.HandleFunc("GET /api/goals/{goal}/contributions", goalsHandler.Contributions)

	mux.HandleFunc("PUT /api/ledgers/{ledger}/dependents/{dependent}/allowance", allowanceHandler.Set)
	mux.HandleFunc("POST /api/dependents/{dependent}/allowance/start", allowanceHandler.Start)
	mux.HandleFunc("POST /api/dependents/{dependent}/allowance/give", allowanceHandler.Give)
	mux.HandleFunc("POST /api/dependents/{dependent}/allowance/cancel", allowanceHandler.Cancel)
	mux.HandleFunc("GET /api/ledgers/{ledger}/allowances", allowanceHandler.List)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Job queue shutdown failed")
	}
	log.Info().Msg("Shutdown complete")
}

// buildRegistry loads the source registry from SOURCES_FILE when set,
// otherwise falls back to the builtin set, then applies the user's
// allow-set of enabled sources.
func buildRegistry(cfg *config.Config) (*source.Registry, error) {
	reg, err := loadSources(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AllowedSources != nil {
		reg.SetAllowed(cfg.AllowedSources)
	}
	return reg, nil
}

func loadSources(cfg *config.Config) (*source.Registry, error) {
	if cfg.SourcesFile != "" {
		f, err := os.Open(cfg.SourcesFile)
		if err != nil {
			return nil, fmt.Errorf("opening sources file: %w", err)
		}
		defer f.Close()
		return source.Load(f)
	}
	return source.NewRegistry(source.Builtin()...)
}
