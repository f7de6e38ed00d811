package codec

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// DownlinkFPort is the LoRaWAN application port used for every downlink
	DownlinkFPort = 10

	topicApplication = "application"
	topicDevice      = "device"
	topicCommand     = "command"
	topicDown        = "down"
)

// Downlink is the JSON envelope published for each measurement, shaped like
// a network server downlink command.
type Downlink struct {
	DevEUI    string `json:"devEui"`
	Confirmed bool   `json:"confirmed"`
	FPort     int    `json:"fPort"`
	Data      string `json:"data"`
	Object    string `json:"object"`
}

// NewDownlink builds a confirmed downlink on DownlinkFPort
func NewDownlink(devEUI, data, object string) Downlink {
	return Downlink{
		DevEUI:    devEUI,
		Confirmed: true,
		FPort:     DownlinkFPort,
		Data:      data,
		Object:    object,
	}
}

// Marshal encodes the downlink as JSON
func (d Downlink) Marshal() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode downlink for %s: %w", d.DevEUI, err)
	}
	return data, nil
}

// DecodeDownlink parses a downlink JSON payload
func DecodeDownlink(payload []byte) (Downlink, error) {
	var d Downlink
	if err := json.Unmarshal(payload, &d); err != nil {
		return Downlink{}, fmt.Errorf("failed to decode downlink: %w", err)
	}
	return d, nil
}

// DownlinkTopic returns application/{applicationID}/device/{devEUI}/command/down
func DownlinkTopic(applicationID, devEUI string) string {
	return strings.Join([]string{topicApplication, applicationID, topicDevice, devEUI, topicCommand, topicDown}, "/")
}

// DownlinkSubscription returns the wildcard filter matching every device of an application
func DownlinkSubscription(applicationID string) string {
	return DownlinkTopic(applicationID, "+")
}

// ParseDownlinkTopic extracts the application id and DevEUI from a downlink topic
func ParseDownlinkTopic(topic string) (applicationID, devEUI string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 6 ||
		parts[0] != topicApplication ||
		parts[2] != topicDevice ||
		parts[4] != topicCommand ||
		parts[5] != topicDown ||
		parts[1] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[1], parts[3], true
}
