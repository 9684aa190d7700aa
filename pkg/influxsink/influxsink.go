// Package influxsink writes mapped records to an InfluxDB 1.x instance.
package influxsink

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mqtt-bridge/pkg/mapping"
)

// RecordWriter is the storage sink contract the bridge writes through. It
// abstracts the destination, keeping the bridge service testable without a
// running database.
type RecordWriter interface {
	// Write persists a single record, routing it to the record's database
	// or the sink's default.
	Write(ctx context.Context, rec mapping.Record) error
	// Close releases the sink's resources.
	Close() error
}

// Config holds connection parameters for the InfluxDB HTTP API.
type Config struct {
	// Addr is the base URL of the InfluxDB instance, e.g. "http://localhost:8086".
	Addr string
	// Username and Password authenticate against the HTTP API.
	Username string
	Password string
	// Database is the default target for records that do not name their own.
	Database string
	// Timeout bounds each HTTP request. Zero means the client default.
	Timeout time.Duration
	// InsecureSkipVerify skips TLS certificate verification.
	// This is NOT recommended for production environments.
	InsecureSkipVerify bool
}

// InfluxSink implements RecordWriter over the InfluxDB 1.x line-protocol
// client. Each record becomes a single point written with second precision,
// matching the record timestamp contract.
type InfluxSink struct {
	client   client.Client
	database string
	logger   zerolog.Logger
}

// New creates a sink from the config. It does not contact the database;
// EnsureDatabases performs the startup round-trip.
func New(cfg *Config, logger zerolog.Logger) (*InfluxSink, error) {
	if cfg == nil {
		return nil, errors.New("influxsink config cannot be nil")
	}
	if cfg.Addr == "" {
		return nil, errors.New("influxdb address is required")
	}
	if cfg.Database == "" {
		return nil, errors.New("influxdb database is required")
	}

	httpCfg := client.HTTPConfig{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	}
	if cfg.InsecureSkipVerify {
		httpCfg.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	c, err := client.NewHTTPClient(httpCfg)
	if err != nil {
		return nil, fmt.Errorf("create influxdb client: %w", err)
	}

	return &InfluxSink{
		client:   c,
		database: cfg.Database,
		logger:   logger.With().Str("component", "InfluxSink").Str("database", cfg.Database).Logger(),
	}, nil
}

// EnsureDatabases creates every named database if it does not already exist.
// Called once at startup for the default database plus every per-rule target;
// a failure here is fatal to startup.
func (s *InfluxSink) EnsureDatabases(names []string) error {
	for _, name := range names {
		q := client.NewQuery(fmt.Sprintf("CREATE DATABASE %q", name), "", "")
		resp, err := s.client.Query(q)
		if err != nil {
			return fmt.Errorf("create database %q: %w", name, err)
		}
		if resp.Error() != nil {
			return fmt.Errorf("create database %q: %w", name, resp.Error())
		}
		s.logger.Info().Str("target_database", name).Msg("Database ready.")
	}
	return nil
}

// Write converts one record to a point and writes it. The context is accepted
// for interface symmetry; the underlying 1.x client bounds the request with
// its own timeout.
func (s *InfluxSink) Write(_ context.Context, rec mapping.Record) error {
	db := rec.Database
	if db == "" {
		db = s.database
	}

	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  db,
		Precision: "s",
	})
	if err != nil {
		return fmt.Errorf("create batch points: %w", err)
	}

	pt, err := client.NewPoint(rec.Measurement, rec.Tags, rec.Fields, rec.Time)
	if err != nil {
		return fmt.Errorf("create point for measurement %q: %w", rec.Measurement, err)
	}
	bp.AddPoint(pt)

	if err := s.client.Write(bp); err != nil {
		s.logger.Error().Err(err).
			Str("measurement", rec.Measurement).
			Str("target_database", db).
			Msg("Failed to write record.")
		return fmt.Errorf("write record to %q: %w", db, err)
	}

	s.logger.Debug().
		Str("measurement", rec.Measurement).
		Str("target_database", db).
		Int("field_count", len(rec.Fields)).
		Msg("Record written.")
	return nil
}

// Close releases the underlying HTTP client.
func (s *InfluxSink) Close() error {
	return s.client.Close()
}
