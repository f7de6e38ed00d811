package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rawrobot/lora-ns-simulator/internal/engine"
	"github.com/rawrobot/lora-ns-simulator/internal/kafka"
	"github.com/rawrobot/lora-ns-simulator/internal/metrics"
	"github.com/rawrobot/lora-ns-simulator/internal/mqtt"
	"github.com/rawrobot/lora-ns-simulator/internal/sensor"
)

var (
	gitHash   string
	buildDate string
)

const (
	rowBufferSize   = 1000
	shutdownTimeout = 5 * time.Second
)

// options holds the raw command line values. They only override the
// configuration when the flag was set explicitly.
type options struct {
	configFile    string
	server        string
	applicationID string
	rate          time.Duration
	airtemp       int
	extemp        int
	intemp        int
	static        int
	limit         uint64
	dischargeTime time.Duration
	sink          string
	kafkaBrokers  []string
	kafkaTopic    string
	metricsAddr   string
	dashboard     bool
	logLevel      string
}

func main() {
	// A missing .env file is fine
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "lora-ns-simulator",
		Short: "Simulate LoRa sensors publishing network-server downlink commands",
		Long: `Simulate a fleet of LoRa temperature sensors. Every measurement is published
as a downlink command on application/{applicationId}/device/{devEui}/command/down.`,
		Version:      fmt.Sprintf("%s (git %s)", buildDate, gitHash),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := LoadConfig(opts.configFile)
			if err != nil {
				return err
			}
			opts.apply(cmd.Flags(), config)
			if err := config.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(config)
		},
	}
	cmd.SetVersionTemplate("Build Date: {{.Version}}\n")

	f := cmd.Flags()
	f.StringVar(&opts.configFile, "config", "", "Path to configuration file")
	f.StringVarP(&opts.server, "mqtt-server", "m", mqtt.DefaultBrokerURL, "MQTT broker URL")
	f.StringVar(&opts.applicationID, "application-id", defaultApplicationID, "Application id used in downlink topics")
	f.DurationVarP(&opts.rate, "rate", "r", defaultRate, "Sampling period of every sensor")
	f.IntVar(&opts.airtemp, "airtemp-sensors", 1, "Number of air temperature sensors")
	f.IntVar(&opts.extemp, "extemp-sensors", 1, "Number of external temperature sensors")
	f.IntVar(&opts.intemp, "intemp-sensors", 1, "Number of internal temperature sensors")
	f.IntVar(&opts.static, "static-sensors", 0, "Number of sensors emitting a fixed payload")
	f.Uint64Var(&opts.limit, "limit", 0, "Measurements per sensor, 0 runs until interrupted")
	f.DurationVar(&opts.dischargeTime, "discharge-time", sensor.DefaultDischargeTime, "Time for a sensor battery to drain")
	f.StringVar(&opts.sink, "sink", SinkMQTT, "Downlink destination: mqtt or kafka")
	f.StringSliceVar(&opts.kafkaBrokers, "kafka-brokers", nil, "Kafka bootstrap brokers")
	f.StringVar(&opts.kafkaTopic, "kafka-topic", kafka.DefaultTopic, "Kafka topic for downlinks")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Listen address of the Prometheus endpoint, e.g. :9100")
	f.BoolVar(&opts.dashboard, "dashboard", false, "Show the terminal dashboard")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	return cmd
}

func (o *options) apply(fs *pflag.FlagSet, config *Config) {
	if fs.Changed("mqtt-server") {
		config.Broker.Server = o.server
	}
	if fs.Changed("application-id") {
		config.Simulation.ApplicationID = o.applicationID
	}
	if fs.Changed("rate") {
		config.Simulation.Rate = o.rate
	}
	if fs.Changed("airtemp-sensors") {
		config.Simulation.AirTemperature = o.airtemp
	}
	if fs.Changed("extemp-sensors") {
		config.Simulation.ExternalTemperature = o.extemp
	}
	if fs.Changed("intemp-sensors") {
		config.Simulation.InternalTemperature = o.intemp
	}
	if fs.Changed("static-sensors") {
		config.Simulation.Static = o.static
	}
	if fs.Changed("limit") {
		config.Simulation.Limit = o.limit
	}
	if fs.Changed("discharge-time") {
		config.Simulation.DischargeTime = o.dischargeTime
	}
	if fs.Changed("sink") {
		config.Simulation.Sink = o.sink
	}
	if fs.Changed("kafka-brokers") {
		config.Kafka.Brokers = o.kafkaBrokers
	}
	if fs.Changed("kafka-topic") {
		config.Kafka.Topic = o.kafkaTopic
	}
	if fs.Changed("metrics-addr") {
		config.Metrics.Listen = o.metricsAddr
	}
	if fs.Changed("dashboard") {
		config.Dashboard.Enabled = o.dashboard
	}
	if fs.Changed("log-level") {
		config.Logging.Level = o.logLevel
	}
}

func run(config *Config) error {
	configureZerolog(config)

	sources, err := sensor.BuildFleet(config.FleetConfig())
	if err != nil {
		return err
	}

	sink, closeSink, err := newSink(config)
	if err != nil {
		return err
	}
	defer closeSink()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)
	stopMetrics := serveMetrics(config.Metrics.Listen, registry)
	defer stopMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessionLogger := initializeSessionLogger(config)
	if sessionLogger != nil {
		defer sessionLogger.Close()
	}

	var ui *Dashboard
	if config.Dashboard.Enabled {
		ui = NewDashboard(config.Dashboard.Truncate)
	}

	rows := make(chan DownlinkRow, rowBufferSize)
	var dropped atomic.Uint64
	eng, err := engine.New(sink, config.Simulation.ApplicationID, sources,
		engine.WithLogger(log.Logger),
		engine.WithMetrics(m),
		engine.WithObserver(func(d engine.Delivery) {
			select {
			case rows <- NewDownlinkRow(d, config.Dashboard.TopicDepth):
			default:
				// The display is best effort; never slow down publishing
				dropped.Add(1)
			}
		}),
	)
	if err != nil {
		return err
	}

	sigCh := setupSignalHandler()
	var uiDone chan error
	if ui != nil {
		uiDone = startUI(ui, ctx)
		ui.AddEvent(fmt.Sprintf("Publishing for application %s via %s", config.Simulation.ApplicationID, config.Simulation.Sink))
	}
	handlerDone := handleRows(ctx, rows, ui, sessionLogger, eng)

	if err := eng.Start(); err != nil {
		if ui != nil {
			ui.Stop()
		}
		return err
	}
	log.Info().Int("sensors", len(sources)).Str("sink", config.Simulation.Sink).Msg("Simulator running, press Ctrl+C to stop")

	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Await() }()

	runErr := waitForShutdown(sigCh, uiDone, engineDone, eng, ui)

	cancel()
	if ui != nil {
		ui.Stop()
	}
	waitForRowHandler(handlerDone)

	if n := dropped.Load(); n > 0 {
		log.Warn().Uint64("dropped", n).Msg("Display rows dropped")
	}
	stats := eng.Stats()
	log.Info().Uint64("published", stats.Published).Str("state", eng.State().String()).Msg("Simulator stopped")
	return runErr
}

func configureZerolog(config *Config) {
	level, err := zerolog.ParseLevel(config.Logging.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	switch {
	case config.Dashboard.Enabled:
		// Console output would corrupt the terminal UI
		out = io.Discard
	case config.Logging.Pretty:
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// newSink creates the configured downlink destination and its cleanup
func newSink(config *Config) (engine.Sink, func(), error) {
	switch config.Simulation.Sink {
	case SinkKafka:
		s, err := kafka.NewSink(config.Kafka, log.Logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close kafka sink")
			}
		}, nil
	default:
		client := mqtt.NewClient(config.Broker.ToMQTTConfig(), log.Logger)
		return client, client.Disconnect, nil
	}
}

func serveMetrics(addr string, registry *prometheus.Registry) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func initializeSessionLogger(config *Config) *SessionLogger {
	if !config.Logging.EnableSessionLog {
		return nil
	}

	maxDuration, err := time.ParseDuration(config.Logging.SessionLogMaxDuration)
	if err != nil {
		log.Error().Err(err).Msg("Invalid session_log_max_duration, session log disabled")
		return nil
	}

	sessionLogger, err := NewSessionLogger(config.Logging.OutputDir, maxDuration, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize session logger")
		return nil
	}

	return sessionLogger
}

func setupSignalHandler() chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return sigCh
}

func startUI(ui *Dashboard, ctx context.Context) chan error {
	uiDone := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				uiDone <- fmt.Errorf("UI panic: %v", r)
			}
		}()
		uiDone <- ui.Start(ctx)
	}()
	time.Sleep(100 * time.Millisecond) // Give UI time to initialize
	return uiDone
}

// handleRows feeds published downlinks to the dashboard and the session log
func handleRows(ctx context.Context, rows chan DownlinkRow, ui *Dashboard, sessionLogger *SessionLogger, eng *engine.Engine) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case row := <-rows:
				if ui != nil {
					ui.AddDownlink(row)
				}
				if sessionLogger != nil {
					if err := sessionLogger.LogDownlink(row); err != nil {
						log.Error().Err(err).Msg("Failed to write to session log")
					}
				}
			case <-ticker.C:
				if ui != nil {
					stats := eng.Stats()
					ui.UpdateStatus(fmt.Sprintf("State: %s | Published: %d | Runs: %d", eng.State(), stats.Published, stats.Runs))
				}
			}
		}
	}()
	return done
}

// waitForShutdown blocks until the run ends or the user asks to quit, and
// returns the error of the run
func waitForShutdown(sigCh chan os.Signal, uiDone chan error, engineDone chan error, eng *engine.Engine, ui *Dashboard) error {
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		eng.Stop()
		return <-engineDone
	case err := <-uiDone:
		if err != nil {
			log.Error().Err(err).Msg("UI error")
		}
		eng.Stop()
		return <-engineDone
	case err := <-engineDone:
		if ui != nil {
			if err != nil {
				ui.AddError(err)
			} else {
				ui.AddEvent("Simulation finished, press Esc to quit")
			}
			// Keep the dashboard open until the user quits
			select {
			case <-sigCh:
			case <-uiDone:
			}
		}
		return err
	}
}

func waitForRowHandler(done chan struct{}) {
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}
