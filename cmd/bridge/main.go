// The bridge command subscribes to the configured MQTT topic patterns and
// writes the records mapped from matching messages into InfluxDB.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mqtt-bridge/pkg/bridge"
	"github.com/illmade-knight/go-mqtt-bridge/pkg/config"
	"github.com/illmade-knight/go-mqtt-bridge/pkg/influxsink"
	"github.com/illmade-knight/go-mqtt-bridge/pkg/mapping"
	"github.com/illmade-knight/go-mqtt-bridge/pkg/ops"
)

func main() {
	configPath := flag.String("config", "bridge.yaml", "path to the configuration file")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration.")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Str("log_level", cfg.LogLevel).Msg("Invalid log level.")
	}
	zerolog.SetGlobalLevel(level)

	// Configuration-time failures are the only fatal ones: a malformed path
	// expression must abort startup, not be skipped.
	rules, err := mapping.CompileRules(cfg.RuleConfigs())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to compile mapping rules.")
	}
	mapper := mapping.NewMapper(rules, logger)

	sink, err := influxsink.New(&influxsink.Config{
		Addr:               cfg.InfluxDB.Addr(),
		Username:           cfg.InfluxDB.Username,
		Password:           cfg.InfluxDB.Password,
		Database:           cfg.InfluxDB.Database,
		Timeout:            cfg.InfluxDB.Timeout(),
		InsecureSkipVerify: cfg.InfluxDB.InsecureSkipVerify,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create InfluxDB sink.")
	}
	if err := sink.EnsureDatabases(cfg.Databases()); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ensure target databases.")
	}

	consumer, err := bridge.NewConsumer(nil, &bridge.ConsumerConfig{
		BrokerURL:          cfg.MQTT.BrokerURL(),
		Patterns:           mapper.Patterns(),
		QoS:                byte(cfg.MQTT.QoS),
		ClientIDPrefix:     cfg.MQTT.ClientIDPrefix,
		Username:           cfg.MQTT.Username,
		Password:           cfg.MQTT.Password,
		KeepAlive:          cfg.MQTT.KeepAlive(),
		ConnectTimeout:     cfg.MQTT.ConnectTimeout(),
		ReconnectWaitMax:   2 * time.Minute,
		CACertFile:         cfg.MQTT.CAFile,
		ClientCertFile:     cfg.MQTT.CertFile,
		ClientKeyFile:      cfg.MQTT.KeyFile,
		InsecureSkipVerify: cfg.MQTT.InsecureSkipVerify,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create MQTT consumer.")
	}

	service, err := bridge.NewService(consumer, mapper, sink, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create bridge service.")
	}

	var opsServer *ops.Server
	if cfg.HTTPPort != "" {
		opsServer = ops.NewServer(logger, cfg.HTTPPort, consumer.IsConnected)
		if err := opsServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start ops HTTP server.")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := service.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start bridge service.")
	}
	logger.Info().Msg("Bridge is running. Press Ctrl+C to exit.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := service.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Bridge service did not stop cleanly.")
	}
	if opsServer != nil {
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Ops HTTP server did not stop cleanly.")
		}
	}
	if err := sink.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close InfluxDB sink.")
	}
	logger.Info().Msg("Bridge shut down.")
}
