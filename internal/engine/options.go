package engine

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/rawrobot/lora-ns-simulator/internal/metrics"
	"github.com/rawrobot/lora-ns-simulator/internal/sensor"
)

// Delivery describes one downlink accepted by the sink
type Delivery struct {
	Topic       string
	Payload     []byte
	Measurement sensor.Measurement
	PublishedAt time.Time
}

// Observer is notified from the engine worker after every successful publish.
// It must not block.
type Observer func(Delivery)

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger.With().Str("component", "engine").Logger()
	}
}

// WithMetrics records engine activity in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithObserver registers a callback for published downlinks
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}
