package sensor

import (
	"fmt"
	"time"
)

// Kind names a family of simulated sensors
type Kind string

const (
	KindAirTemperature      Kind = "airtemp"
	KindExternalTemperature Kind = "extemp"
	KindInternalTemperature Kind = "intemp"
	KindStatic              Kind = "static"
)

// Payloads emitted by static sensors
const (
	StaticCompact    = "base64"
	StaticStructured = "json"
)

// profiles of the temperature kinds: base temperature and daily swing
var profiles = map[Kind]TemperatureConfig{
	KindAirTemperature:      {BaseTemperature: 2, DayAmplitude: 10},
	KindExternalTemperature: {BaseTemperature: 0, DayAmplitude: 10},
	KindInternalTemperature: {BaseTemperature: 0, DayAmplitude: 4},
}

// FleetConfig describes how many sensors of each kind to simulate
type FleetConfig struct {
	SamplingPeriod      time.Duration
	EmitLimit           uint64
	DischargeTime       time.Duration
	AirTemperature      int
	ExternalTemperature int
	InternalTemperature int
	Static              int
}

// Size returns the total number of sensors
func (c FleetConfig) Size() int {
	return c.AirTemperature + c.ExternalTemperature + c.InternalTemperature + c.Static
}

// DeviceIDFor returns the DevEUI of the i-th sensor of a kind. The kind
// prefix is padded with the hex index up to DeviceIDLength characters.
func DeviceIDFor(kind Kind, i int) DeviceID {
	width := DeviceIDLength - len(kind)
	return DeviceID(fmt.Sprintf("%s%0*X", kind, width, i))
}

// BuildFleet creates the sources described by cfg, grouped by kind
func BuildFleet(cfg FleetConfig, opts ...SourceOption) ([]*Source, error) {
	counts := []struct {
		kind  Kind
		count int
	}{
		{KindAirTemperature, cfg.AirTemperature},
		{KindExternalTemperature, cfg.ExternalTemperature},
		{KindInternalTemperature, cfg.InternalTemperature},
		{KindStatic, cfg.Static},
	}

	for _, c := range counts {
		if c.count < 0 {
			return nil, fmt.Errorf("%w: %s sensor count must not be negative", ErrInvalidConfiguration, c.kind)
		}
	}

	sources := make([]*Source, 0, cfg.Size())
	for _, c := range counts {
		for i := 0; i < c.count; i++ {
			desc := Descriptor{
				DeviceID:       DeviceIDFor(c.kind, i),
				SamplingPeriod: cfg.SamplingPeriod,
				EmitLimit:      cfg.EmitLimit,
			}

			var (
				src *Source
				err error
			)
			if c.kind == KindStatic {
				src, err = NewStaticSource(desc, StaticCompact, StaticStructured, opts...)
			} else {
				tc := profiles[c.kind]
				tc.DischargeTime = cfg.DischargeTime
				src, err = NewTemperatureSource(desc, tc, opts...)
			}
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)
		}
	}
	return sources, nil
}
