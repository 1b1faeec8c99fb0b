package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/peerlink-core/internal/infrastructure/config"
	"github.com/nerrad567/peerlink-core/internal/infrastructure/database"
	"github.com/nerrad567/peerlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/peerlink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/peerlink-core/internal/push"
	"github.com/nerrad567/peerlink-core/internal/recordstore"
)

// storeHandle bundles the record store with the connections backing it.
type storeHandle struct {
	db    *database.DB
	mqtt  *mqtt.Client
	store *recordstore.SQLiteStore
	log   *logging.Logger
}

// Close releases the MQTT connection and then the database.
func (h *storeHandle) Close() {
	if h.mqtt != nil {
		h.log.Info("disconnecting from MQTT")
		if err := h.mqtt.Close(); err != nil {
			h.log.Error("error closing MQTT", "error", err)
		}
	}
	h.log.Info("closing database")
	if err := h.db.Close(); err != nil {
		h.log.Error("error closing database", "error", err)
	}
}

// openStore opens and migrates the database and, when MQTT is enabled,
// connects to the broker and installs the change notifier.
//
// Parameters:
//   - ctx: Context for migrations
//   - cfg: Application configuration
//   - clientID: MQTT client ID; empty means the configured one
//   - log: Logger instance
//
// Returns:
//   - *storeHandle: Open store; callers must Close it
//   - error: If the database or broker cannot be reached
func openStore(ctx context.Context, cfg *config.Config, clientID string, log *logging.Logger) (*storeHandle, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	mode, err := db.JournalMode(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.Database.WALMode && mode != "wal" {
		log.Warn("database not in WAL mode, peers will block each other's reads", "journal_mode", mode)
	}
	log.Info("database connected", "path", cfg.Database.Path, "journal_mode", mode)

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Debug("database migrations complete")

	h := &storeHandle{db: db, log: log}
	opts := []recordstore.Option{recordstore.WithLogger(log.Component("recordstore"))}

	if cfg.MQTT.Enabled {
		mqttCfg := cfg.MQTT
		if clientID != "" {
			mqttCfg.Broker.ClientID = clientID
		}
		client, err := mqtt.Connect(mqttCfg)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetLogger(log.Component("mqtt"))
		client.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		client.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", mqttCfg.Broker.Host, mqttCfg.Broker.Port),
			"client_id", mqttCfg.Broker.ClientID,
		)

		h.mqtt = client
		opts = append(opts, recordstore.WithNotifier(push.NewNotifier(client, byte(cfg.MQTT.QoS))))
	} else {
		log.Info("MQTT disabled, peers rely on polling")
	}

	store, err := recordstore.NewSQLiteStore(db, opts...)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("creating record store: %w", err)
	}
	h.store = store
	return h, nil
}

// cliClientID derives a broker client ID for short-lived CLI commands so
// they never take over the serving instance's session.
func cliClientID(cfg *config.Config) string {
	return fmt.Sprintf("%s-cli-%s", cfg.MQTT.Broker.ClientID, uuid.NewString()[:8])
}
