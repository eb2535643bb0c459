package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/activities"
	"github.com/cx-tal-miterani/flight-surety/internal/config"
	"github.com/cx-tal-miterani/flight-surety/internal/database"
	"github.com/cx-tal-miterani/flight-surety/internal/logging"
	"github.com/cx-tal-miterani/flight-surety/internal/oracles"
	"github.com/cx-tal-miterani/flight-surety/internal/surety"
	"github.com/cx-tal-miterani/flight-surety/internal/workflows"
	"github.com/sirupsen/logrus"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

const enrollAttempts = 10

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
		log.WithError(err).Fatal("Worker failed")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx := context.Background()

	fee, err := cfg.OracleFee()
	if err != nil {
		return err
	}
	pick, err := statusPicker(cfg.Worker.OracleStatus)
	if err != nil {
		return err
	}

	var cache database.SnapshotCache
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

	api := activities.NewAPIClient(cfg.Worker.APIURL, surety.Principal(cfg.Worker.Principal), nil)

	// Enroll simulated oracles
	simulator := oracles.NewSimulator(pick)
	if err := enroll(ctx, log, simulator, api, cfg.Worker.OraclePrefix, cfg.Worker.Oracles, fee); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"oracles": simulator.Size(), "api": cfg.Worker.APIURL}).Info("Oracles enrolled")

	// Connect to Temporal
	log.WithField("host", cfg.Temporal.Host).Info("Connecting to Temporal...")
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logging.NewTemporal(log),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	defer c.Close()
	log.Info("Connected to Temporal")

	// Create worker
	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	// Register workflows
	w.RegisterWorkflow(workflows.FlightStatusWorkflow)

	// Create and register activities
	acts := activities.NewActivities(api, simulator, cache)
	w.RegisterActivityWithOptions(acts.DispatchResponses, activity.RegisterOptions{Name: "DispatchResponses"})
	w.RegisterActivityWithOptions(acts.CheckFinalized, activity.RegisterOptions{Name: "CheckFinalized"})
	w.RegisterActivityWithOptions(acts.AbandonQuery, activity.RegisterOptions{Name: "AbandonQuery"})

	// Start worker
	log.WithField("task_queue", cfg.Temporal.TaskQueue).Info("Starting Temporal worker...")
	return w.Run(worker.InterruptCh())
}

// enroll registers the simulated oracles, retrying while the API server
// starts up.
func enroll(ctx context.Context, log logrus.FieldLogger, sim *oracles.Simulator, reg oracles.Registrar, prefix string, count int, fee surety.Amount) error {
	var err error
	for attempt := 1; attempt <= enrollAttempts; attempt++ {
		if err = sim.Enroll(ctx, reg, prefix, count, fee); err == nil {
			return nil
		}
		log.WithError(err).WithField("attempt", attempt).Warn("Oracle enrollment failed, retrying")
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	return err
}

func statusPicker(name string) (oracles.StatusPicker, error) {
	if name == "random" {
		seed := uint64(time.Now().UnixNano())
		return oracles.Random(rand.New(rand.NewPCG(seed, seed>>1))), nil
	}
	status, err := surety.ParseStatus(name)
	if err != nil {
		return nil, err
	}
	return oracles.Always(status), nil
}
