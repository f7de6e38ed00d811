package codec

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCompact_Layout(t *testing.T) {
	s := EncodeCompact(100, 21.5)

	require.Len(t, s, 20)
	assert.Equal(t, BatteryMarker, s[:2])
	assert.Equal(t, TemperatureMarker, s[10:12])

	battery, err := base64.StdEncoding.DecodeString(s[2:10])
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 100}, battery)

	temperature, err := base64.StdEncoding.DecodeString(s[12:])
	require.NoError(t, err)
	// 21.5 as IEEE 754 single precision
	assert.Equal(t, []byte{0x41, 0xac, 0x00, 0x00}, temperature)
}

func TestDecodeCompact(t *testing.T) {
	tests := []struct {
		name        string
		battery     int32
		temperature float32
	}{
		{name: "full battery", battery: 100, temperature: 22.25},
		{name: "empty battery", battery: 0, temperature: 5},
		{name: "below zero", battery: 42, temperature: -3.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := DecodeCompact(EncodeCompact(tt.battery, tt.temperature))
			require.NoError(t, err)
			assert.Equal(t, int(tt.battery), r.Battery)
			assert.Equal(t, tt.temperature, r.Temperature)
		})
	}
}

func TestDecodeCompact_Malformed(t *testing.T) {
	valid := EncodeCompact(50, 10)

	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "truncated", input: valid[:19]},
		{name: "wrong battery marker", input: "11" + valid[2:]},
		{name: "wrong temperature marker", input: valid[:10] + "21" + valid[12:]},
		{name: "bad base64", input: "10!!!!!!!!" + valid[10:]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCompact(tt.input)
			assert.ErrorIs(t, err, ErrMalformedCompact)
		})
	}
}

func TestEncodeStructured(t *testing.T) {
	s, err := EncodeStructured(75, 12.5)
	require.NoError(t, err)
	assert.JSONEq(t, `{"battery":75,"temperature":12.5}`, s)

	r, err := DecodeStructured(s)
	require.NoError(t, err)
	assert.Equal(t, Reading{Battery: 75, Temperature: 12.5}, r)

	_, err = DecodeStructured("json")
	assert.Error(t, err)
}

func TestDownlink_Marshal(t *testing.T) {
	d := NewDownlink("0000000000000001", "base64", "json")
	data, err := d.Marshal()
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, map[string]any{
		"devEui":    "0000000000000001",
		"confirmed": true,
		"fPort":     float64(10),
		"data":      "base64",
		"object":    "json",
	}, fields)

	decoded, err := DecodeDownlink(data)
	require.NoError(t, err)
	assert.Equal(t, d, decoded)

	_, err = DecodeDownlink([]byte("{"))
	assert.Error(t, err)
}

func TestDownlinkTopic(t *testing.T) {
	assert.Equal(t, "application/app/device/0000000000000001/command/down",
		DownlinkTopic("app", "0000000000000001"))
	assert.Equal(t, "application/app/device/+/command/down", DownlinkSubscription("app"))
}

func TestParseDownlinkTopic(t *testing.T) {
	tests := []struct {
		topic  string
		app    string
		device string
		ok     bool
	}{
		{topic: "application/app/device/0000000000000001/command/down", app: "app", device: "0000000000000001", ok: true},
		{topic: "application/app/device/0000000000000001/command/up"},
		{topic: "application//device/0000000000000001/command/down"},
		{topic: "application/app/device/0000000000000001/command"},
		{topic: "tenant/app/device/0000000000000001/command/down"},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			app, device, ok := ParseDownlinkTopic(tt.topic)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.app, app)
			assert.Equal(t, tt.device, device)
		})
	}
}
