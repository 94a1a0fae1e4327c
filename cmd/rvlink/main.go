// RVLink Core - RV-C Bridge
//
// This is the main entry point for the RVLink bridge. RVLink connects
// an RV-C CAN network to consumer applications:
//   - Decodes bus frames into named entity state
//   - Publishes retained state and health over MQTT
//   - Serves a REST/WebSocket API for panels and dashboards
//   - Encodes entity commands back onto the bus
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/rvlink/rvlink-core/migrations"

	"github.com/rvlink/rvlink-core/internal/api"
	"github.com/rvlink/rvlink-core/internal/canbus"
	"github.com/rvlink/rvlink-core/internal/entity"
	"github.com/rvlink/rvlink-core/internal/hub"
	"github.com/rvlink/rvlink-core/internal/infrastructure/config"
	"github.com/rvlink/rvlink-core/internal/infrastructure/database"
	"github.com/rvlink/rvlink-core/internal/infrastructure/influxdb"
	"github.com/rvlink/rvlink-core/internal/infrastructure/logging"
	"github.com/rvlink/rvlink-core/internal/infrastructure/mqtt"
	"github.com/rvlink/rvlink-core/internal/pipeline"
	"github.com/rvlink/rvlink-core/internal/rvc"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo,cyclop,funlen // Startup wiring is inherently sequential
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting RVLink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	history := entity.NewSQLiteHistoryRepository(db.DB)

	// Load the protocol specification and device mapping
	spec, err := rvc.LoadSpec(cfg.Bridge.SpecFile)
	if err != nil {
		return fmt.Errorf("loading protocol spec: %w", err)
	}
	log.Info("protocol spec loaded", "path", cfg.Bridge.SpecFile, "messages", spec.Len())

	mapping, err := entity.LoadMapping(cfg.Bridge.MappingFile)
	if err != nil {
		return fmt.Errorf("loading device mapping: %w", err)
	}
	if err := mapping.ValidateAgainst(spec); err != nil {
		return fmt.Errorf("validating device mapping: %w", err)
	}
	log.Info("device mapping loaded", "path", cfg.Bridge.MappingFile, "entities", mapping.Len())

	// Entity state store and fan-out hub
	store := entity.NewStore(mapping)
	store.SetLogger(log)

	events := hub.New(cfg.Bridge.HubQueueSize, store)
	events.SetLogger(log)
	defer events.Shutdown()

	// Connect CAN bus interfaces
	ifaceList := make([]canbus.Interface, 0, len(cfg.Bridge.Interfaces))
	ifaceMap := make(map[string]canbus.Interface, len(cfg.Bridge.Interfaces))
	for _, ifaceCfg := range cfg.Bridge.Interfaces {
		bus, connErr := canbus.Connect(ctx, canbus.Config{
			Name:              ifaceCfg.Name,
			Address:           ifaceCfg.Address,
			ConnectTimeout:    ifaceCfg.ConnectTimeout,
			ReadTimeout:       ifaceCfg.ReadTimeout,
			ReconnectInterval: ifaceCfg.ReconnectInterval,
		})
		if connErr != nil {
			return fmt.Errorf("connecting to CAN interface %q: %w", ifaceCfg.Name, connErr)
		}
		bus.SetLogger(log)
		defer func(name string, b canbus.Interface) {
			log.Info("closing CAN interface", "interface", name)
			if closeErr := b.Close(); closeErr != nil {
				log.Error("error closing CAN interface", "interface", name, "error", closeErr)
			}
		}(ifaceCfg.Name, bus)

		ifaceList = append(ifaceList, bus)
		ifaceMap[ifaceCfg.Name] = bus
		log.Info("CAN interface connected", "interface", ifaceCfg.Name, "address", ifaceCfg.Address)
	}

	diag := &pipeline.Diagnostics{}

	// Connect to MQTT broker. The broker publishes the LWT on the
	// health topic if the bridge disconnects without saying goodbye.
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.WillMessage{
		Topic:    pipeline.HealthTopic(),
		Payload:  pipeline.LWTPayload(),
		QoS:      1,
		Retained: true,
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var telemetry pipeline.TelemetryWriter
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
		telemetry = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Command execution path
	commander := pipeline.NewCommander(pipeline.CommanderOptions{
		Spec:          spec,
		Mapping:       mapping,
		Store:         store,
		Sink:          events,
		Interfaces:    ifaceMap,
		Diagnostics:   diag,
		SourceAddress: cfg.Bridge.SourceAddress,
		Logger:        log,
	})

	// Frame processing pipeline: one worker per interface
	runner := pipeline.NewRunner(pipeline.RunnerOptions{
		Spec:        spec,
		Mapping:     mapping,
		Store:       store,
		Sink:        events,
		Interfaces:  ifaceList,
		Diagnostics: diag,
		History:     history,
		Telemetry:   telemetry,
		StaleAfter:  cfg.Bridge.StaleAfter,
		Logger:      log,
	})
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("starting pipeline: %w", err)
	}
	defer func() {
		log.Info("stopping pipeline")
		runner.Stop()
	}()
	log.Info("pipeline started", "interfaces", len(ifaceList))

	// MQTT relay: retained state out, commands in, acks back
	mqttAdapter := &mqttRelayAdapter{client: mqttClient}
	relay := pipeline.NewRelay(mqttAdapter, events, commander, log)
	if err := relay.Start(ctx); err != nil {
		return fmt.Errorf("starting MQTT relay: %w", err)
	}
	defer func() {
		log.Info("stopping MQTT relay")
		relay.Stop()
	}()

	// Health reporting: retained status on the health topic
	health := pipeline.NewHealthReporter(pipeline.HealthOptions{
		MQTT:            mqttAdapter,
		Runner:          runner,
		Diagnostics:     diag,
		Interfaces:      ifaceList,
		EntitiesMapped:  mapping.Len(),
		SubscriberDrops: events.DropsTotal,
		Version:         version,
		Interval:        cfg.Bridge.HealthInterval,
		Logger:          log,
	})
	health.Start()
	defer health.Stop()

	// HTTP API server (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Security:    cfg.Security,
			Logger:      log,
			Store:       store,
			Mapping:     mapping,
			Events:      events,
			Commander:   commander,
			History:     history,
			Diagnostics: diag,
			Version:     version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))
	} else {
		log.Info("API server disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Health reporter (publishes "stopping" before MQTT closes)
	// 3. MQTT relay, pipeline
	// 4. InfluxDB (if enabled), MQTT, CAN interfaces
	// 5. Event hub, database

	log.Info("RVLink stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses RVLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("RVLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// CAN interface health is verified during Connect; lost links
	// reconnect in the background and surface on the health topic.

	return nil
}

// mqttRelayAdapter adapts the infrastructure MQTT client to the pipeline's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic string, payload []byte) error
// - Pipeline expects: func(topic string, payload []byte)
type mqttRelayAdapter struct {
	client *mqtt.Client
}

// Publish implements pipeline.MQTTClient.
func (a *mqttRelayAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements pipeline.MQTTClient.
func (a *mqttRelayAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil (pipeline handlers report
	// failures through acks, not subscription errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements pipeline.MQTTClient.
func (a *mqttRelayAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
