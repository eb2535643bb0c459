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

	"github.com/cx-tal-miterani/flight-surety/internal/config"
	"github.com/cx-tal-miterani/flight-surety/internal/database"
	"github.com/cx-tal-miterani/flight-surety/internal/handlers"
	"github.com/cx-tal-miterani/flight-surety/internal/logging"
	"github.com/cx-tal-miterani/flight-surety/internal/metrics"
	"github.com/cx-tal-miterani/flight-surety/internal/oracles"
	"github.com/cx-tal-miterani/flight-surety/internal/router"
	"github.com/cx-tal-miterani/flight-surety/internal/service"
	"github.com/cx-tal-miterani/flight-surety/internal/surety"
	"github.com/cx-tal-miterani/flight-surety/internal/websocket"
	"github.com/sirupsen/logrus"
	"go.temporal.io/sdk/client"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	fee, err := cfg.OracleFee()
	if err != nil {
		return err
	}

	registry := oracles.NewRegistry(fee, nil)
	m := metrics.New()
	hub := websocket.NewHub(log)
	go hub.Run()
	defer hub.Stop()

	// Snapshot cache
	var cache database.SnapshotCache = database.NewMemoryCache()
	if cfg.Redis.Enabled {
		rc, err := database.NewRedisClient(ctx, database.RedisOptions{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			SnapshotTTL: cfg.Redis.SnapshotTTL,
		})
		if err != nil {
			return err
		}
		defer rc.Close()
		cache = rc
		log.WithField("addr", cfg.Redis.Addr).Info("Connected to Redis")
	}

	observers := surety.Observers{m, hub}

	// Event journal
	var events service.EventLister
	var journal *database.Journal
	if cfg.Database.Enabled {
		pool, err := database.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		repo := database.NewRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		journal = database.NewJournal(repo, log, cfg.Database.JournalBuffer, cfg.Database.JournalBatch, cfg.Database.FlushInterval)
		observers = append(observers, journal)
		events = repo
		log.Info("Connected to database")
	}

	// Temporal
	var workflows service.WorkflowClient
	if cfg.Temporal.Enabled {
		tc, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.Host,
			Namespace: cfg.Temporal.Namespace,
			Logger:    logging.NewTemporal(log),
		})
		if err != nil {
			return fmt.Errorf("failed to create Temporal client: %w", err)
		}
		defer tc.Close()
		workflows = tc
		log.WithField("host", cfg.Temporal.Host).Info("Connected to Temporal server")
	}

	notifier := service.NewNotifier(cache, workflows, log, 1024)
	observers = append(observers, notifier)

	engine, err := surety.New(engineCfg,
		surety.WithOracleDirectory(registry),
		surety.WithObserver(observers),
		surety.WithLogger(log),
	)
	if err != nil {
		return err
	}
	for _, p := range cfg.Surety.Authorized {
		if err := engine.AuthorizeCaller(surety.From(engineCfg.Owner), surety.Principal(p)); err != nil {
			return fmt.Errorf("failed to authorize %s: %w", p, err)
		}
	}

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	notifier.Start(workerCtx)
	if journal != nil {
		journal.Start(workerCtx)
	}

	suretyService := service.NewSuretyService(service.Deps{
		Engine:        engine,
		Registry:      registry,
		Cache:         cache,
		Events:        events,
		Workflows:     workflows,
		Notifier:      notifier,
		Recorder:      m,
		Logger:        log,
		TaskQueue:     cfg.Temporal.TaskQueue,
		QueryTimeout:  cfg.Worker.QueryTimeout,
		DispatchDelay: cfg.Worker.DispatchDelay,
	})

	var limiter *router.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = router.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		limiter.StartSweeper(workerCtx, time.Minute)
	}

	h := handlers.NewHandler(suretyService)
	r := router.SetupRouter(h, hub, router.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Limiter:        limiter,
		Metrics:        m,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":  srv.Addr,
			"owner": engineCfg.Owner,
		}).Info("API server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	log.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	stopWorkers()
	notifier.Wait()
	if journal != nil {
		journal.Wait()
		log.WithField("stats", journal.Stats()).Info("Journal flushed")
	}

	log.Info("Server stopped")
	return nil
}
