package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rawrobot/lora-ns-simulator/internal/codec"
	"github.com/rawrobot/lora-ns-simulator/internal/mqtt"
)

type options struct {
	broker        string
	applicationID string
	count         int
	qos           int
}

func main() {
	_ = godotenv.Load()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Logger()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "downlink-tail",
		Short:        "Subscribe to simulated downlinks and print the decoded readings",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.broker, "mqtt-server", "m", mqtt.DefaultBrokerURL, "MQTT broker URL")
	f.StringVar(&opts.applicationID, "application-id", "+", "Application id to follow, + for all")
	f.IntVar(&opts.count, "count", 0, "Exit after this many downlinks (0 for infinite)")
	f.IntVar(&opts.qos, "qos", 0, "Subscription QoS")

	return cmd
}

func run(opts *options) error {
	if opts.qos < 0 || opts.qos > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", opts.qos)
	}

	cfg := mqtt.DefaultConfig()
	cfg.BrokerURL = opts.broker
	cfg.Username = os.Getenv("MQTT_USER")
	cfg.Password = os.Getenv("MQTT_PASSWORD")
	cfg.AutoReconnect = true

	client := mqtt.NewClient(cfg, log.Logger)
	client.SetQoS(byte(opts.qos))

	done := make(chan struct{})
	var received atomic.Int64
	client.SetMessageHandler(func(msg mqtt.Message) {
		fmt.Println(describe(msg))
		if n := received.Add(1); opts.count > 0 && n == int64(opts.count) {
			close(done)
		}
	})

	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Disconnect()

	if err := client.Subscribe(codec.DownlinkSubscription(opts.applicationID)); err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, "Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case <-done:
	}

	log.Info().Int64("received", received.Load()).Msg("Done")
	return nil
}

// describe renders one downlink as a single line
func describe(msg mqtt.Message) string {
	ts := msg.Timestamp.Format(time.TimeOnly)

	app, dev, ok := codec.ParseDownlinkTopic(msg.Topic)
	if !ok {
		return fmt.Sprintf("%s %s (unexpected topic) %s", ts, msg.Topic, mqtt.SanitizePayload(msg.Payload))
	}

	d, err := codec.DecodeDownlink(msg.Payload)
	if err != nil {
		return fmt.Sprintf("%s %s/%s invalid downlink: %v", ts, app, dev, err)
	}
	if d.DevEUI != dev {
		return fmt.Sprintf("%s %s/%s devEui mismatch: %s", ts, app, dev, d.DevEUI)
	}

	r, err := codec.DecodeCompact(d.Data)
	if err != nil {
		return fmt.Sprintf("%s %s/%s fPort=%d data=%q object=%q", ts, app, dev, d.FPort, d.Data, d.Object)
	}
	return fmt.Sprintf("%s %s/%s fPort=%d battery=%d%% temperature=%.2f", ts, app, dev, d.FPort, r.Battery, r.Temperature)
}
