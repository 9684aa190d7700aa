package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mqtt-bridge/pkg/influxsink"
	"github.com/illmade-knight/go-mqtt-bridge/pkg/mapping"
)

// MessageSource is the consumer contract the service drains. Satisfied by
// *Consumer; tests substitute a channel-backed fake.
type MessageSource interface {
	Messages() <-chan Message
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Done() <-chan struct{}
}

// Service orchestrates the bridge: it starts the message source and runs a
// single processing worker that maps each inbound message and writes the
// resulting records to the sink. One worker, not a pool: records within a
// topic subscription must keep the broker's delivery order, and every message
// is processed to completion before the next is taken.
type Service struct {
	source MessageSource
	mapper *mapping.Mapper
	writer influxsink.RecordWriter
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewService creates a bridge Service.
func NewService(source MessageSource, mapper *mapping.Mapper, writer influxsink.RecordWriter, logger zerolog.Logger) (*Service, error) {
	if source == nil {
		return nil, errors.New("message source cannot be nil")
	}
	if mapper == nil {
		return nil, errors.New("mapper cannot be nil")
	}
	if writer == nil {
		return nil, errors.New("record writer cannot be nil")
	}
	return &Service{
		source: source,
		mapper: mapper,
		writer: writer,
		logger: logger.With().Str("component", "Service").Logger(),
	}, nil
}

// Start begins the service operation: it starts the source and launches the
// processing worker.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info().Msg("Starting bridge service...")

	if err := s.source.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message source: %w", err)
	}

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info().Msg("Bridge service started successfully.")
	return nil
}

// Stop gracefully shuts the service down: source first so no new messages
// arrive, then waits for the worker to drain in-flight messages, bounded by
// the context deadline.
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping bridge service...")

	if err := s.source.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during source stop, continuing shutdown.")
	}

	workerDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workerDone)
	}()

	select {
	case <-workerDone:
		s.logger.Info().Msg("Processing worker completed gracefully.")
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for processing worker to finish.")
		return ctx.Err()
	}

	s.logger.Info().Msg("Bridge service stopped.")
	return nil
}

// run is the single processing loop.
func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Processing worker shutting down due to context cancellation.")
			return
		case msg, ok := <-s.source.Messages():
			if !ok {
				s.logger.Info().Msg("Source channel closed, worker exiting.")
				return
			}
			s.processMessage(ctx, msg)
		}
	}
}

// processMessage maps one message and writes every produced record. Parse
// failures drop the message; write failures are logged per record and never
// halt the loop.
func (s *Service) processMessage(ctx context.Context, msg Message) {
	records, err := s.mapper.Map(msg.Topic, msg.Payload, msg.Timestamp, msg.QoS)
	if err != nil {
		s.logger.Error().Err(err).
			Str("msg_id", msg.ID).
			Str("topic", msg.Topic).
			Msg("Dropping message with unparseable payload.")
		return
	}

	for _, rec := range records {
		if err := s.writer.Write(ctx, rec); err != nil {
			s.logger.Error().Err(err).
				Str("msg_id", msg.ID).
				Str("measurement", rec.Measurement).
				Msg("Failed to write record to sink.")
		}
	}
}
