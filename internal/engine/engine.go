package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rawrobot/lora-ns-simulator/internal/codec"
	"github.com/rawrobot/lora-ns-simulator/internal/metrics"
	"github.com/rawrobot/lora-ns-simulator/internal/sensor"
	"github.com/rawrobot/lora-ns-simulator/internal/stream"
)

// Downlinks are fire-and-forget
const (
	PublishQoS      byte = 0
	PublishRetained      = false
)

// Sink is the broker side of the engine. Publish must be safe to call from a
// goroutine other than the one that called Connect.
type Sink interface {
	IsConnected() bool
	Connect() error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// State is the lifecycle state of an Engine
type State int32

const (
	Idle State = iota
	Running
	Completed
	Stopped
)

// String returns the lowercase state name
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stats are counters kept across runs
type Stats struct {
	Published uint64
	Runs      uint64
}

// run is one Start..exit cycle of the worker
type run struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	stopRequested atomic.Bool
	// err is written once before done is closed
	err error
}

// Engine publishes the merged measurements of a sensor fleet as downlink
// commands, one at a time, until the fleet is exhausted, fails, or is stopped.
type Engine struct {
	sink          Sink
	applicationID string
	sources       []*sensor.Source
	logger        zerolog.Logger
	metrics       *metrics.Metrics
	observers     []Observer

	mu      sync.Mutex
	state   atomic.Int32
	current *run

	published atomic.Uint64
	runs      atomic.Uint64
}

// New creates an idle engine
func New(sink Sink, applicationID string, sources []*sensor.Source, opts ...Option) (*Engine, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: sink is required", ErrInvalidConfiguration)
	}
	if applicationID == "" {
		return nil, fmt.Errorf("%w: application id is required", ErrInvalidConfiguration)
	}
	if len(sources) == 0 {
		return nil, ErrEmptyInput
	}

	e := &Engine{
		sink:          sink,
		applicationID: applicationID,
		sources:       append([]*sensor.Source(nil), sources...),
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	return State(e.state.Load())
}

// IsRunning reports whether a run is in progress
func (e *Engine) IsRunning() bool {
	return e.State() == Running
}

// Stats returns the engine counters
func (e *Engine) Stats() Stats {
	return Stats{
		Published: e.published.Load(),
		Runs:      e.runs.Load(),
	}
}

// Start connects the sink if needed and launches a new run. It returns once
// the run is scheduled and does nothing when a run is already in progress.
// On a connection failure the engine keeps its previous state.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() == Running {
		return nil
	}

	if !e.sink.IsConnected() {
		if err := e.sink.Connect(); err != nil {
			e.logger.Error().Err(err).Msg("Failed to connect sink")
			return fmt.Errorf("%w: %w", ErrBrokerConnect, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:     e.runs.Add(1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	prev := e.current
	e.current = r
	e.state.Store(int32(Running))

	e.logger.Info().
		Uint64("run", r.id).
		Int("sensors", len(e.sources)).
		Str("application_id", e.applicationID).
		Msg("Simulation started")

	go e.work(r, prev)
	return nil
}

// Stop cancels the current run and returns without waiting for the worker.
// It does nothing unless the engine is running.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() != Running {
		return
	}

	r := e.current
	r.stopRequested.Store(true)
	e.state.Store(int32(Stopped))
	r.cancel()

	e.logger.Info().Uint64("run", r.id).Msg("Simulation stop requested")
}

// Await blocks until the worker of the current run has exited and returns the
// error that ended the run, if any. It returns nil at once when the engine was
// never started.
func (e *Engine) Await() error {
	return e.AwaitContext(context.Background())
}

// AwaitContext is Await with caller-side cancellation
func (e *Engine) AwaitContext(ctx context.Context) error {
	e.mu.Lock()
	r := e.current
	e.mu.Unlock()

	if r == nil {
		return nil
	}

	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) work(r *run, prev *run) {
	defer close(r.done)
	defer r.cancel()

	if prev != nil {
		<-prev.done
	}
	e.metrics.RunStarted()

	st, err := stream.Compose(r.ctx, e.sources)
	if err != nil {
		e.finish(r, err)
		return
	}

	for m := range st.Measurements() {
		if halted(r.ctx, st) {
			break
		}
		if err = e.deliver(m); err != nil {
			break
		}
	}
	st.Close()
	<-st.Done()

	if err == nil {
		err = st.Err()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		if errors.Is(err, sensor.ErrProduction) {
			e.metrics.ProductionFailed()
		}
	}
	e.finish(r, err)
}

// halted reports whether the run was stopped or the stream has failed. Items
// still in flight after either are dropped.
func halted(ctx context.Context, st *stream.Stream) bool {
	select {
	case <-ctx.Done():
		return true
	case <-st.Halted():
		return true
	default:
		return false
	}
}

func (e *Engine) deliver(m sensor.Measurement) error {
	devEUI := string(m.DeviceID)
	topic := codec.DownlinkTopic(e.applicationID, devEUI)

	payload, err := codec.NewDownlink(devEUI, m.Compact, m.Structured).Marshal()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	start := time.Now()
	if err := e.sink.Publish(topic, payload, PublishQoS, PublishRetained); err != nil {
		e.metrics.PublishFailed(time.Since(start))
		return fmt.Errorf("%w: %s: %w", ErrPublish, topic, err)
	}
	e.metrics.Published(devEUI, time.Since(start))
	e.published.Add(1)

	e.logger.Debug().
		Str("topic", topic).
		Int("bytes", len(payload)).
		Msg("Downlink published")

	d := Delivery{
		Topic:       topic,
		Payload:     payload,
		Measurement: m,
		PublishedAt: time.Now(),
	}
	for _, o := range e.observers {
		o(d)
	}
	return nil
}

func (e *Engine) finish(r *run, err error) {
	r.err = err

	e.mu.Lock()
	if e.current == r && e.State() == Running {
		e.state.Store(int32(Completed))
	}
	e.mu.Unlock()

	outcome := metrics.OutcomeCompleted
	switch {
	case err != nil:
		outcome = metrics.OutcomeFailed
	case r.stopRequested.Load():
		outcome = metrics.OutcomeStopped
	}
	e.metrics.RunFinished(outcome)

	if err != nil {
		e.logger.Error().Err(err).Uint64("run", r.id).Msg("Simulation failed")
		return
	}
	e.logger.Info().Uint64("run", r.id).Str("outcome", outcome).Msg("Simulation finished")
}
