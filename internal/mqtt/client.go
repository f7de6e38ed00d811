package mqtt

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

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Connection defaults
const (
	DefaultBrokerURL         = "tcp://localhost:1883"
	DefaultConnectTimeout    = 10 * time.Second
	DefaultConnectAttempts   = 3
	DefaultMaxConnectBackoff = 5 * time.Second
	DefaultMaxReconnect      = 60 * time.Second

	clientIDPrefix    = "lora-ns-simulator-"
	disconnectQuiesce = 250
)

// ErrNotConnected is returned when publishing or subscribing without a connection
var ErrNotConnected = errors.New("client is not connected")

// Config represents MQTT client configuration
type Config struct {
	BrokerURL             string        `toml:"broker_url"`
	ClientID              string        `toml:"client_id"`
	Username              string        `toml:"username,omitempty"`
	Password              string        `toml:"password,omitempty"`
	CleanSession          bool          `toml:"clean_session"`
	AutoReconnect         bool          `toml:"auto_reconnect"`
	ConnectTimeout        time.Duration `toml:"connect_timeout"`
	ConnectAttempts       int           `toml:"connect_attempts"`
	MaxConnectBackoff     time.Duration `toml:"max_connect_backoff"`
	MaxReconnectInterval  time.Duration `toml:"max_reconnect_interval"`
	TLSCertFile           string        `toml:"tls_cert_file,omitempty"`
	TLSKeyFile            string        `toml:"tls_key_file,omitempty"`
	TLSCAFile             string        `toml:"tls_ca_file,omitempty"`
	TLSInsecureSkipVerify bool          `toml:"tls_insecure_skip_verify,omitempty"`
}

// DefaultConfig returns a configuration for a local plain-TCP broker
func DefaultConfig() Config {
	return Config{
		BrokerURL:            DefaultBrokerURL,
		CleanSession:         true,
		ConnectTimeout:       DefaultConnectTimeout,
		ConnectAttempts:      DefaultConnectAttempts,
		MaxConnectBackoff:    DefaultMaxConnectBackoff,
		MaxReconnectInterval: DefaultMaxReconnect,
	}
}

// Message represents a received MQTT message
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retained  bool
	Timestamp time.Time
}

// MessageHandler is a function type for handling received messages
type MessageHandler func(msg Message)

// ConnectionHandler is a function type for handling connection events
type ConnectionHandler func(connected bool, err error)

// Client wraps a paho client. It publishes downlinks for the simulator and
// subscribes to them for consumers.
type Client struct {
	config            Config
	logger            zerolog.Logger
	ctx               context.Context
	cancel            context.CancelFunc
	messageHandler    MessageHandler
	connectionHandler ConnectionHandler
	qos               byte

	mu     sync.RWMutex
	client mqtt.Client
	topics []string
}

// NewClient creates a new MQTT client. A random client id is generated when
// none is configured.
func NewClient(config Config, logger zerolog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	if config.ClientID == "" {
		config.ClientID = clientIDPrefix + uuid.New().String()[:8]
	}

	return &Client{
		config: config,
		logger: logger.With().Str("component", "mqtt").Logger(),
		ctx:    ctx,
		cancel: cancel,
		qos:    1, // Default QoS
	}
}

// SetMessageHandler sets the message handler function
func (c *Client) SetMessageHandler(handler MessageHandler) {
	c.messageHandler = handler
}

// SetConnectionHandler sets the connection handler function
func (c *Client) SetConnectionHandler(handler ConnectionHandler) {
	c.connectionHandler = handler
}

// SetQoS sets the Quality of Service level for subscriptions
func (c *Client) SetQoS(qos byte) {
	c.qos = qos
}

// ClientID returns the id presented to the broker
func (c *Client) ClientID() string {
	return c.config.ClientID
}

// Connect establishes the connection to the broker, retrying the initial
// attempt with exponential backoff up to ConnectAttempts times. It does
// nothing when already connected.
func (c *Client) Connect() error {
	if c.IsConnected() {
		return nil
	}

	opts, err := c.clientOptions()
	if err != nil {
		return err
	}

	attempts := c.config.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	if c.config.MaxConnectBackoff > 0 {
		bo.MaxInterval = c.config.MaxConnectBackoff
	}
	bo.MaxElapsedTime = 0

	c.logger.Info().
		Str("broker", c.config.BrokerURL).
		Str("client_id", c.config.ClientID).
		Int("attempts", attempts).
		Msg("Connecting to MQTT broker")

	var client mqtt.Client
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		client = mqtt.NewClient(opts)
		token := client.Connect()
		if !token.WaitTimeout(c.connectTimeout()) {
			client.Disconnect(0)
			return fmt.Errorf("connect timed out after %s", c.connectTimeout())
		}
		if err := token.Error(); err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("MQTT connect attempt failed")
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), c.ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s after %d attempts: %w", c.config.BrokerURL, attempt, err)
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	return nil
}

func (c *Client) connectTimeout() time.Duration {
	if c.config.ConnectTimeout > 0 {
		return c.config.ConnectTimeout
	}
	return DefaultConnectTimeout
}

func (c *Client) clientOptions() (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.config.BrokerURL)
	opts.SetClientID(c.config.ClientID)
	opts.SetCleanSession(c.config.CleanSession)
	opts.SetAutoReconnect(c.config.AutoReconnect)
	// Initial connect retries are driven by Connect so that failures surface.
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(c.connectTimeout())

	if c.config.MaxReconnectInterval > 0 {
		opts.SetMaxReconnectInterval(c.config.MaxReconnectInterval)
	} else {
		opts.SetMaxReconnectInterval(DefaultMaxReconnect)
	}

	// Set credentials if provided
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		if c.config.Password != "" {
			opts.SetPassword(c.config.Password)
		}
	}

	// Configure TLS if needed
	if c.needsTLS() {
		tlsConfig, err := c.getTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		if tlsConfig != nil {
			opts.SetTLSConfig(tlsConfig)
		}
	}

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		c.logger.Warn().Err(err).Msg("MQTT connection lost")
		if c.connectionHandler != nil {
			c.connectionHandler(false, err)
		}
	})

	opts.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		c.logger.Info().Msg("MQTT reconnecting")
		if c.connectionHandler != nil {
			c.connectionHandler(false, fmt.Errorf("reconnecting"))
		}
	})

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.logger.Info().Msg("MQTT connected")
		if c.connectionHandler != nil {
			c.connectionHandler(true, nil)
		}

		// Re-subscribe to all topics on reconnect
		c.mu.RLock()
		topics := append([]string(nil), c.topics...)
		c.mu.RUnlock()
		for _, topic := range topics {
			if err := c.subscribeToTopic(client, topic); err != nil {
				c.logger.Error().Err(err).Str("topic", topic).Msg("Failed to re-subscribe")
			}
		}
	})

	return opts, nil
}

// Subscribe subscribes to one or more topic filters
func (c *Client) Subscribe(topics ...string) error {
	client := c.current()
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	for _, topic := range topics {
		if err := c.subscribeToTopic(client, topic); err != nil {
			return err
		}
		c.mu.Lock()
		c.topics = append(c.topics, topic)
		c.mu.Unlock()
	}

	return nil
}

// subscribeToTopic subscribes to a single topic
func (c *Client) subscribeToTopic(client mqtt.Client, topic string) error {
	c.logger.Info().Str("topic", topic).Uint8("qos", c.qos).Msg("Subscribing to topic")

	token := client.Subscribe(topic, c.qos, c.internalMessageHandler)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	return nil
}

// internalMessageHandler handles incoming MQTT messages
func (c *Client) internalMessageHandler(client mqtt.Client, msg mqtt.Message) {
	message := Message{
		Topic:     msg.Topic(),
		Payload:   msg.Payload(),
		QoS:       msg.Qos(),
		Retained:  msg.Retained(),
		Timestamp: time.Now(),
	}

	if c.messageHandler != nil {
		c.messageHandler(message)
	}
}

// Publish publishes a message to a topic and waits for the broker to accept it
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	client := c.current()
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	token := client.Publish(topic, qos, retained, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	return nil
}

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool {
	client := c.current()
	return client != nil && client.IsConnected()
}

// Disconnect disconnects from the MQTT broker
func (c *Client) Disconnect() {
	client := c.current()
	if client != nil && client.IsConnected() {
		c.logger.Info().Msg("Disconnecting from MQTT broker")
		client.Disconnect(disconnectQuiesce)
	}
	c.cancel()
}

// Context returns the client's context. It is cancelled by Disconnect.
func (c *Client) Context() context.Context {
	return c.ctx
}

func (c *Client) current() mqtt.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// needsTLS checks if TLS configuration is needed
func (c *Client) needsTLS() bool {
	return strings.HasPrefix(c.config.BrokerURL, "ssl://") ||
		strings.HasPrefix(c.config.BrokerURL, "tls://") ||
		strings.HasPrefix(c.config.BrokerURL, "mqtts://") ||
		c.config.TLSCertFile != "" ||
		c.config.TLSCAFile != "" ||
		c.config.TLSInsecureSkipVerify
}

// getTLSConfig creates TLS configuration
func (c *Client) getTLSConfig() (*tls.Config, error) {
	if !c.needsTLS() {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: c.config.TLSInsecureSkipVerify,
	}

	// Load client certificate if provided
	if c.config.TLSCertFile != "" && c.config.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.config.TLSCertFile, c.config.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	// Load CA certificate if provided
	if c.config.TLSCAFile != "" {
		caCert, err := os.ReadFile(c.config.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}
