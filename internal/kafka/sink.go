package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

// Sink defaults
const (
	DefaultTopic        = "lora-downlinks"
	DefaultDialTimeout  = 5 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Header keys carrying the MQTT envelope of a downlink
const (
	HeaderTopic    = "mqtt-topic"
	HeaderQoS      = "qos"
	HeaderRetained = "retained"
)

var (
	// ErrNoBrokers is returned when no bootstrap broker is configured
	ErrNoBrokers = errors.New("no kafka brokers configured")
	// ErrNotConnected is returned by Publish before Connect succeeded
	ErrNotConnected = errors.New("kafka sink is not connected")
)

// Config holds the Kafka sink settings
type Config struct {
	Brokers      []string      `toml:"brokers"`
	Topic        string        `toml:"topic"`
	RequireAll   bool          `toml:"require_all"`
	DialTimeout  time.Duration `toml:"dial_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
}

// messageWriter is the part of kafka.Writer the sink uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type dialFunc func(ctx context.Context, network, address string) (*kafkago.Conn, error)

// Sink publishes downlinks to a Kafka topic instead of an MQTT broker. The
// MQTT topic becomes the message key so that all downlinks of one device land
// in the same partition.
type Sink struct {
	cfg    Config
	logger zerolog.Logger
	dial   dialFunc

	mu     sync.RWMutex
	writer messageWriter
}

// NewSink validates cfg and creates an unconnected sink
func NewSink(cfg Config, logger zerolog.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	return &Sink{
		cfg:    cfg,
		logger: logger.With().Str("component", "kafka").Logger(),
		dial:   kafkago.DialContext,
	}, nil
}

// IsConnected reports whether Connect has succeeded
func (s *Sink) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writer != nil
}

// Connect checks that a bootstrap broker is reachable and prepares the writer
func (s *Sink) Connect() error {
	if s.IsConnected() {
		return nil
	}

	var errs []error
	for _, broker := range s.cfg.Brokers {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
		conn, err := s.dial(ctx, "tcp", broker)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("broker", broker).Msg("Kafka broker unreachable")
			errs = append(errs, fmt.Errorf("%s: %w", broker, err))
			continue
		}
		_ = conn.Close()

		acks := kafkago.RequireOne
		if s.cfg.RequireAll {
			acks = kafkago.RequireAll
		}

		s.setWriter(&kafkago.Writer{
			Addr:         kafkago.TCP(s.cfg.Brokers...),
			Topic:        s.cfg.Topic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: acks,
			WriteTimeout: s.cfg.WriteTimeout,
		})

		s.logger.Info().
			Strs("brokers", s.cfg.Brokers).
			Str("topic", s.cfg.Topic).
			Msg("Kafka sink ready")
		return nil
	}

	return fmt.Errorf("failed to reach any kafka broker: %w", errors.Join(errs...))
}

func (s *Sink) setWriter(w messageWriter) {
	s.mu.Lock()
	s.writer = w
	s.mu.Unlock()
}

// Publish writes one downlink synchronously. Kafka has no QoS or retain
// semantics, so both are forwarded as headers.
func (s *Sink) Publish(topic string, payload []byte, qos byte, retained bool) error {
	s.mu.RLock()
	w := s.writer
	s.mu.RUnlock()
	if w == nil {
		return ErrNotConnected
	}

	msg := kafkago.Message{
		Key:   []byte(topic),
		Value: payload,
		Time:  time.Now(),
		Headers: []kafkago.Header{
			{Key: HeaderTopic, Value: []byte(topic)},
			{Key: HeaderQoS, Value: []byte(strconv.Itoa(int(qos)))},
			{Key: HeaderRetained, Value: []byte(strconv.FormatBool(retained))},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	if err := w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to kafka topic %s: %w", s.cfg.Topic, err)
	}
	return nil
}

// Close flushes and closes the writer
func (s *Sink) Close() error {
	s.mu.Lock()
	w := s.writer
	s.writer = nil
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.Close()
}
