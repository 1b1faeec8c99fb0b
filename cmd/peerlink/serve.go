package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/nerrad567/peerlink-core/internal/api"
	"github.com/nerrad567/peerlink-core/internal/catalog"
	"github.com/nerrad567/peerlink-core/internal/inference"
	"github.com/nerrad567/peerlink-core/internal/infrastructure/config"
	"github.com/nerrad567/peerlink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/peerlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/peerlink-core/internal/infrastructure/metrics"
	"github.com/nerrad567/peerlink-core/internal/push"
	"github.com/nerrad567/peerlink-core/internal/relay"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay, catalog publisher, command worker and API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath(cmd))
		},
	}
}

// run is the serve logic, separated from cobra for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - path: Configuration file path
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, path string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting peerlink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version).Host(cfg.Host.ID)
	log.Info("configuration loaded", "path", path, "level", cfg.Logging.Level)

	h, err := openStore(ctx, cfg, "", log)
	if err != nil {
		return err
	}
	defer h.Close()

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	publisher, err := catalog.NewPublisher(h.store, cfg.Host.ID)
	if err != nil {
		return fmt.Errorf("creating catalog publisher: %w", err)
	}
	defer publisher.Close()
	publisher.SetLogger(log.Component("catalog"))
	if influxClient != nil {
		publisher.SetTelemetry(influxClient)
	}

	rly, err := newRelay(cfg, h, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		rly.SetTelemetry(influxClient)
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = metrics.Handler()
	}
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		Logger:      log.Component("api"),
		Relay:       rly,
		Publisher:   publisher,
		Catalog:     catalog.NewClient(h.store, cfg.Commands.WaitInterval),
		Metrics:     metricsHandler,
		MetricsPath: cfg.Metrics.Path,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	var listener *push.Listener
	if h.mqtt != nil {
		listener = push.NewListener(ctx, h.mqtt, byte(cfg.MQTT.QoS))
		defer func() {
			if err := listener.Close(); err != nil {
				log.Warn("error removing wake-up subscriptions", "error", err)
			}
		}()
	}

	if cfg.Relay.Enabled {
		if listener != nil {
			if err := listener.Listen(rly.SubscriptionID(), rly.HandleNotification); err != nil {
				return fmt.Errorf("subscribing relay wake-ups: %w", err)
			}
		}
		if err := rly.Start(ctx); err != nil {
			return fmt.Errorf("starting relay: %w", err)
		}
		defer func() {
			log.Info("stopping relay")
			rly.Stop()
			rly.Wait()
		}()
		log.Info("relay started", "subscription", rly.SubscriptionID(), "inference", cfg.Relay.Inference.URL)
	} else {
		log.Info("relay processing disabled")
	}

	if cfg.Commands.Enabled {
		worker, err := newWorker(cfg, publisher, apiServer, log)
		if err != nil {
			return err
		}
		if influxClient != nil {
			worker.SetTelemetry(influxClient)
		}
		if listener != nil {
			if err := listener.Listen(worker.SubscriptionID(), worker.HandleNotification); err != nil {
				return fmt.Errorf("subscribing command wake-ups: %w", err)
			}
		}
		if err := worker.Start(ctx); err != nil {
			return fmt.Errorf("starting command worker: %w", err)
		}
		defer func() {
			log.Info("stopping command worker")
			worker.Stop()
			worker.Wait()
		}()
		log.Info("command worker started", "subscription", worker.SubscriptionID())
	} else {
		log.Info("command worker disabled")
	}

	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, h, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, worker, relay, wake-up
	// listener, publisher, InfluxDB, then MQTT and the database.
	return nil
}

// newRelay builds the relay. Without relay.enabled it has no provider and
// only serves posts and fetches.
func newRelay(cfg *config.Config, h *storeHandle, log *logging.Logger) (*relay.Relay, error) {
	var provider relay.Provider
	if cfg.Relay.Enabled {
		client, err := inference.NewClient(inference.Config{
			BaseURL: cfg.Relay.Inference.URL,
			Model:   cfg.Relay.Inference.Model,
			APIKey:  cfg.Relay.Inference.APIKey,
			Timeout: cfg.Relay.Inference.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("creating inference client: %w", err)
		}
		provider = client
	}

	rly := relay.New(h.store, provider, relay.Config{
		SubscriptionID: cfg.RelaySubscriptionID(),
		PollInterval:   cfg.Relay.PollInterval,
		MaxWorkers:     cfg.Relay.MaxWorkers,
	})
	rly.SetLogger(log.Component("relay"))
	return rly, nil
}

// newWorker builds the command worker over this instance's API, or over a
// reverse proxy to commands.target_url.
func newWorker(cfg *config.Config, publisher *catalog.Publisher, apiServer *api.Server, log *logging.Logger) (*catalog.Worker, error) {
	var executor catalog.Executor = catalog.NewHandlerExecutor(apiServer.Handler())
	if cfg.Commands.TargetURL != "" {
		proxy, err := catalog.NewProxyExecutor(cfg.Commands.TargetURL)
		if err != nil {
			return nil, fmt.Errorf("creating command proxy: %w", err)
		}
		executor = proxy
	}

	worker := catalog.NewWorker(publisher, executor, catalog.WorkerConfig{
		PollInterval:  cfg.Commands.PollInterval,
		LeaseDuration: cfg.Commands.LeaseDuration,
		BatchSize:     cfg.Commands.BatchSize,
	})
	worker.SetLogger(log.Component("commands"))
	return worker, nil
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, h *storeHandle, influxClient *influxdb.Client) error {
	if err := h.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if h.mqtt != nil {
		if err := h.mqtt.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
