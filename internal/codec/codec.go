package codec

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Type markers that prefix each field of the compact encoding
const (
	BatteryMarker     = "10"
	TemperatureMarker = "20"
)

// base64 of 4 bytes is always 8 characters long
const encodedFieldLen = 8

// ErrMalformedCompact is returned when a compact payload cannot be decoded
var ErrMalformedCompact = errors.New("malformed compact payload")

// Reading is the decoded form of a temperature sensor payload
type Reading struct {
	Battery     int     `json:"battery"`
	Temperature float32 `json:"temperature"`
}

// EncodeCompact packs the battery level and the temperature as
// "10" + base64(int32 BE) + "20" + base64(float32 BE).
func EncodeCompact(battery int32, temperature float32) string {
	var b, t [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(battery))
	binary.BigEndian.PutUint32(t[:], math.Float32bits(temperature))

	var sb strings.Builder
	sb.Grow(2*len(BatteryMarker) + 2*encodedFieldLen)
	sb.WriteString(BatteryMarker)
	sb.WriteString(base64.StdEncoding.EncodeToString(b[:]))
	sb.WriteString(TemperatureMarker)
	sb.WriteString(base64.StdEncoding.EncodeToString(t[:]))
	return sb.String()
}

// DecodeCompact reverses EncodeCompact
func DecodeCompact(s string) (Reading, error) {
	const want = 2*len(BatteryMarker) + 2*encodedFieldLen
	if len(s) != want {
		return Reading{}, fmt.Errorf("%w: length %d, want %d", ErrMalformedCompact, len(s), want)
	}

	batteryPart, rest := s[:len(BatteryMarker)+encodedFieldLen], s[len(BatteryMarker)+encodedFieldLen:]
	if !strings.HasPrefix(batteryPart, BatteryMarker) || !strings.HasPrefix(rest, TemperatureMarker) {
		return Reading{}, fmt.Errorf("%w: missing type markers", ErrMalformedCompact)
	}

	b, err := base64.StdEncoding.DecodeString(batteryPart[len(BatteryMarker):])
	if err != nil || len(b) != 4 {
		return Reading{}, fmt.Errorf("%w: battery field", ErrMalformedCompact)
	}
	t, err := base64.StdEncoding.DecodeString(rest[len(TemperatureMarker):])
	if err != nil || len(t) != 4 {
		return Reading{}, fmt.Errorf("%w: temperature field", ErrMalformedCompact)
	}

	return Reading{
		Battery:     int(int32(binary.BigEndian.Uint32(b))),
		Temperature: math.Float32frombits(binary.BigEndian.Uint32(t)),
	}, nil
}

// EncodeStructured renders the flat {"battery":..,"temperature":..} object
func EncodeStructured(battery int, temperature float32) (string, error) {
	data, err := json.Marshal(Reading{Battery: battery, Temperature: temperature})
	if err != nil {
		return "", fmt.Errorf("failed to encode reading: %w", err)
	}
	return string(data), nil
}

// DecodeStructured parses the structured encoding
func DecodeStructured(s string) (Reading, error) {
	var r Reading
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return Reading{}, fmt.Errorf("failed to decode reading: %w", err)
	}
	return r, nil
}
