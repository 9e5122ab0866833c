package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/Rain1971/V2C-trydant/internal/api"
	"github.com/Rain1971/V2C-trydant/internal/bridge"
	"github.com/Rain1971/V2C-trydant/internal/config"
	"github.com/Rain1971/V2C-trydant/internal/mqtt"
	"github.com/Rain1971/V2C-trydant/internal/pvpc"
	"github.com/Rain1971/V2C-trydant/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Trydan bridge service",
	Long: `Start the bridge service and begin polling configured chargers.

The service will:
- Poll each charger's /RealTimeData endpoint
- Publish charger state over MQTT
- Enforce the distance-target and price-gating rules
- Accept control commands via the HTTP API and MQTT`,
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runService(cmd *cobra.Command, args []string) error {
	// Load configuration first
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Create logger from config
	logger, err := CreateLoggerFromConfig(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	// Initialize Datadog tracing if enabled
	if cfg.Datadog.Enabled {
		tracer.Start(
			tracer.WithService(cfg.Datadog.ServiceName),
			tracer.WithEnv(cfg.Datadog.Environment),
			tracer.WithAgentAddr(fmt.Sprintf("%s:%d", cfg.Datadog.AgentHost, cfg.Datadog.AgentPort)),
		)
		defer tracer.Stop()
		logger.Info("Datadog tracing initialized",
			zap.String("service", cfg.Datadog.ServiceName),
			zap.String("environment", cfg.Datadog.Environment),
		)
	}

	logger.Info("Starting Trydan bridge")
	logger.Info("Configuration loaded",
		zap.Int("chargers", len(cfg.Chargers)),
		zap.Bool("mqtt_enabled", cfg.MQTT.Enabled),
		zap.Bool("pvpc_enabled", cfg.PVPC.Endpoint != ""),
		zap.Bool("datadog_enabled", cfg.Datadog.Enabled),
	)

	// Open setpoint storage
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open settings store: %w", err)
	}
	defer st.Close()

	// Initialize MQTT handler if enabled
	var mqttHandler *mqtt.MqttHandler
	if cfg.MQTT.Enabled {
		mqttHandler, err = mqtt.NewMqttHandler(
			cfg.MQTT.Broker,
			cfg.MQTT.Port,
			cfg.MQTT.Username,
			cfg.MQTT.Password,
			cfg.MQTT.ClientID,
			cfg.MQTT.TopicPrefix,
			logger,
		)
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT handler: %w", err)
		}
		defer mqttHandler.Close()
	}

	// Price source for the gating rule, if configured
	var prices *pvpc.Client
	if cfg.PVPC.Endpoint != "" {
		prices = pvpc.NewClient(cfg.PVPC.Endpoint, cfg.PVPC.RefreshTimeout, logger)
		logger.Info("PVPC price source configured", zap.String("endpoint", cfg.PVPC.Endpoint))
	}

	// Create and start the bridge service
	service := bridge.NewService(cfg, st, prices, mqttHandler, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bridge service: %w", err)
	}

	// Start API server for control commands
	apiAddr := fmt.Sprintf("localhost:%d", cfg.Network.APIPort)
	apiServer := api.NewServer(service, logger, apiAddr, cfg.Auth)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("API server failed", zap.Error(err))
		}
	}()

	logger.Info("Trydan bridge is running. Press Ctrl+C to stop.")
	logger.Info("API server listening", zap.String("url", fmt.Sprintf("http://%s", apiAddr)))

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	// Shutdown service
	logger.Info("Shutting down bridge service")
	service.Stop()

	logger.Info("Trydan bridge stopped")
	return nil
}
