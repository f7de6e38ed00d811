package main

import (
	"strings"
	"time"

	"github.com/rawrobot/lora-ns-simulator/internal/codec"
	"github.com/rawrobot/lora-ns-simulator/internal/engine"
	"github.com/rawrobot/lora-ns-simulator/internal/mqtt"
	"github.com/rawrobot/lora-ns-simulator/internal/sensor"
)

// DownlinkRow is one published downlink as shown on the dashboard and in the
// session log
type DownlinkRow struct {
	Topic        string
	DisplayTopic string
	DeviceID     string
	Payload      string
	Reading      *codec.Reading // nil for payloads that are not temperature readings
	Timestamp    time.Time
	Color        string
}

var kindColors = map[sensor.Kind]string{
	sensor.KindAirTemperature:      "green",
	sensor.KindExternalTemperature: "blue",
	sensor.KindInternalTemperature: "magenta",
	sensor.KindStatic:              "white",
}

// NewDownlinkRow creates a display row from an engine delivery
func NewDownlinkRow(d engine.Delivery, topicDepth int) DownlinkRow {
	row := DownlinkRow{
		Topic:        d.Topic,
		DisplayTopic: mqtt.TruncateTopic(d.Topic, topicDepth),
		DeviceID:     string(d.Measurement.DeviceID),
		Payload:      mqtt.SanitizePayload(d.Payload),
		Timestamp:    d.PublishedAt,
		Color:        colorFor(d.Measurement.DeviceID),
	}

	if r, err := codec.DecodeStructured(d.Measurement.Structured); err == nil {
		row.Reading = &r
	}
	return row
}

func colorFor(id sensor.DeviceID) string {
	for kind, color := range kindColors {
		if strings.HasPrefix(string(id), string(kind)) {
			return color
		}
	}
	return "cyan"
}
