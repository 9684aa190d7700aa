// Package bridge connects an MQTT broker to the mapping engine and a storage
// sink: a consumer turns paho callbacks into a message channel, and a service
// drains that channel in order, mapping each message and writing the records.
package bridge

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ConsumerConfig holds connection parameters and the subscription set for the
// MQTT consumer.
type ConsumerConfig struct {
	// BrokerURL is the full URL of the MQTT broker, e.g. "tcp://localhost:1883"
	// or "tls://mqtt.example.com:8883".
	BrokerURL string
	// Patterns are the subscription topic patterns, one per distinct rule
	// pattern. All are subscribed on every successful (re)connect.
	Patterns []string
	// QoS is the subscription quality-of-service level for every pattern.
	QoS byte
	// ClientIDPrefix is prefixed to a random suffix to form the client ID,
	// which most brokers require to be unique.
	ClientIDPrefix string
	// Username and Password authenticate with the broker.
	Username string
	Password string
	// KeepAlive is the interval of client keep-alive pings.
	KeepAlive time.Duration
	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration
	// ReconnectWaitMax caps the backoff between reconnect attempts.
	ReconnectWaitMax time.Duration
	// CACertFile is an optional CA certificate for verifying the broker.
	CACertFile string
	// ClientCertFile and ClientKeyFile enable mTLS when both are set.
	ClientCertFile string
	ClientKeyFile  string
	// InsecureSkipVerify skips TLS certificate verification.
	// This is NOT recommended for production environments.
	InsecureSkipVerify bool
}

// Consumer subscribes to every configured pattern and delivers inbound
// messages on a buffered channel. Delivery order on the channel matches the
// broker's delivery order; the processing side decides how much concurrency
// to apply (the bridge service uses exactly one worker).
type Consumer struct {
	pahoClient mqtt.Client
	logger     zerolog.Logger
	outputChan chan Message
	doneChan   chan struct{}
	cfg        *ConsumerConfig
	stopOnce   sync.Once
}

// NewConsumer creates a Consumer. It does not connect until Start is called.
// The client may be nil, in which case one is built from the config on Start;
// tests inject a client to drive the consumer without a broker.
func NewConsumer(client mqtt.Client, cfg *ConsumerConfig, logger zerolog.Logger) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}
	if client == nil && cfg.BrokerURL == "" {
		return nil, errors.New("MQTT broker URL is required")
	}
	if len(cfg.Patterns) == 0 {
		return nil, errors.New("at least one subscription pattern is required")
	}
	return &Consumer{
		pahoClient: client,
		logger:     logger.With().Str("component", "Consumer").Logger(),
		outputChan: make(chan Message, 1000),
		doneChan:   make(chan struct{}),
		cfg:        cfg,
	}, nil
}

// Messages returns the read-only channel of inbound messages.
func (c *Consumer) Messages() <-chan Message {
	return c.outputChan
}

// Start connects to the broker and subscribes every configured pattern. A
// failed initial connection is logged but not fatal; the paho client keeps
// retrying in the background and resubscription happens on reconnect.
func (c *Consumer) Start(ctx context.Context) error {
	handler := c.handleIncomingMessage(ctx)
	if c.pahoClient == nil {
		c.pahoClient = mqtt.NewClient(c.createMqttOptions(handler))
	}

	c.logger.Info().Str("broker", c.cfg.BrokerURL).Msg("Attempting to connect to MQTT broker...")
	if token := c.pahoClient.Connect(); token.WaitTimeout(5*time.Second) && token.Error() != nil {
		c.logger.Error().Err(token.Error()).Msg("Failed to connect to MQTT broker on startup. The paho client will continue to retry in the background.")
	} else if token.Error() == nil {
		c.logger.Info().Msg("Initial connection to MQTT broker successful.")
		c.subscribeAll(c.pahoClient, handler)
	}

	go func() {
		<-ctx.Done()
		c.logger.Info().Msg("Shutdown signal received, ensuring consumer is stopped.")
		_ = c.Stop(context.Background())
	}()

	return nil
}

// Stop gracefully ceases message consumption.
func (c *Consumer) Stop(_ context.Context) error {
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping consumer...")
		if c.pahoClient != nil && c.pahoClient.IsConnected() {
			if token := c.pahoClient.Unsubscribe(c.cfg.Patterns...); token.WaitTimeout(2*time.Second) && token.Error() != nil {
				c.logger.Warn().Err(token.Error()).Msg("Failed to unsubscribe from MQTT topics.")
			}
			c.pahoClient.Disconnect(500) // 500ms grace period
			c.logger.Info().Msg("Paho MQTT client disconnected.")
		}
		close(c.outputChan)
		close(c.doneChan)
		c.logger.Info().Msg("Consumer stopped.")
	})
	return nil
}

// Done returns a channel that is closed when the consumer has fully stopped.
func (c *Consumer) Done() <-chan struct{} {
	return c.doneChan
}

// IsConnected returns the connection status of the underlying paho client.
func (c *Consumer) IsConnected() bool {
	return c.pahoClient != nil && c.pahoClient.IsConnected()
}

// subscribeAll issues one SubscribeMultiple for the full pattern set. Invoked
// after the initial connect and from the paho on-connect handler, so a broker
// reconnect restores every subscription.
func (c *Consumer) subscribeAll(client mqtt.Client, handler mqtt.MessageHandler) {
	filters := make(map[string]byte, len(c.cfg.Patterns))
	for _, p := range c.cfg.Patterns {
		filters[p] = c.cfg.QoS
	}
	token := client.SubscribeMultiple(filters, handler)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			c.logger.Error().Err(token.Error()).Strs("patterns", c.cfg.Patterns).Msg("Failed to subscribe to MQTT topics.")
		} else {
			c.logger.Info().Strs("patterns", c.cfg.Patterns).Msg("Subscribed to MQTT topics.")
		}
	}()
}

// handleIncomingMessage is the callback that copies paho messages into the
// output channel.
func (c *Consumer) handleIncomingMessage(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		c.logger.Debug().Str("topic", msg.Topic()).Msg("Received MQTT message.")
		payloadCopy := make([]byte, len(msg.Payload()))
		copy(payloadCopy, msg.Payload())

		inbound := Message{
			ID:        fmt.Sprintf("%d", msg.MessageID()),
			Topic:     msg.Topic(),
			Payload:   payloadCopy,
			QoS:       msg.Qos(),
			Duplicate: msg.Duplicate(),
			Timestamp: time.Now().UTC(),
		}
		select {
		case c.outputChan <- inbound:
		case <-ctx.Done():
			c.logger.Warn().Str("topic", msg.Topic()).Msg("Consumer is shutting down, dropping MQTT message.")
		}
	}
}

// createMqttOptions assembles the paho client options from the config.
func (c *Consumer) createMqttOptions(handler mqtt.MessageHandler) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.BrokerURL)
	opts.SetClientID(fmt.Sprintf("%s%s", c.cfg.ClientIDPrefix, uuid.NewString()[:8]))
	opts.SetUsername(c.cfg.Username)
	opts.SetPassword(c.cfg.Password)
	opts.SetKeepAlive(c.cfg.KeepAlive)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(c.cfg.ReconnectWaitMax)
	opts.SetOrderMatters(true)
	opts.SetDefaultPublishHandler(handler)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.logger.Info().Str("broker", c.cfg.BrokerURL).Msg("Paho client connected to MQTT broker.")
		c.subscribeAll(client, handler)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Error().Err(err).Msg("Paho client lost MQTT connection.")
	})

	if strings.HasPrefix(strings.ToLower(c.cfg.BrokerURL), "tls://") {
		tlsConfig, err := newTLSConfig(c.cfg)
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to create TLS config, proceeding without it.")
		} else {
			opts.SetTLSConfig(tlsConfig)
			c.logger.Info().Msg("TLS configured for MQTT client.")
		}
	}
	return opts
}

// newTLSConfig is a helper to create a tls.Config.
func newTLSConfig(cfg *ConsumerConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
