package sensor

import (
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/rawrobot/lora-ns-simulator/internal/codec"
)

// Default temperature sensor parameters
const (
	DefaultDischargeTime   = 30 * time.Minute
	DefaultBaseTemperature = 0
	DefaultDayAmplitude    = 5
)

// TemperatureConfig holds the static parameters of a battery powered
// temperature sensor. Zero DischargeTime selects DefaultDischargeTime.
type TemperatureConfig struct {
	BaseTemperature int           `toml:"base_temperature"`
	DayAmplitude    int           `toml:"day_amplitude"`
	DischargeTime   time.Duration `toml:"discharge_time"`
}

// DefaultTemperatureConfig returns the parameters used when none are given
func DefaultTemperatureConfig() TemperatureConfig {
	return TemperatureConfig{
		BaseTemperature: DefaultBaseTemperature,
		DayAmplitude:    DefaultDayAmplitude,
		DischargeTime:   DefaultDischargeTime,
	}
}

// Validate checks the temperature parameters
func (c TemperatureConfig) Validate() error {
	if c.DischargeTime <= 0 {
		return fmt.Errorf("%w: discharge time must be positive, got %s", ErrInvalidConfiguration, c.DischargeTime)
	}
	if c.BaseTemperature < 0 {
		return fmt.Errorf("%w: base temperature must not be negative, got %d", ErrInvalidConfiguration, c.BaseTemperature)
	}
	if c.DayAmplitude <= 0 {
		return fmt.Errorf("%w: day amplitude must be positive, got %d", ErrInvalidConfiguration, c.DayAmplitude)
	}
	return nil
}

// Temperature samples a synthetic temperature with a daily swing on top of a
// seasonal baseline, and a battery that discharges linearly then recharges.
type Temperature struct {
	cfg TemperatureConfig
}

// NewTemperature creates a temperature sampler
func NewTemperature(cfg TemperatureConfig) (*Temperature, error) {
	if cfg.DischargeTime == 0 {
		cfg.DischargeTime = DefaultDischargeTime
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Temperature{cfg: cfg}, nil
}

// NewTemperatureSource creates a source driven by a temperature sampler
func NewTemperatureSource(desc Descriptor, cfg TemperatureConfig, opts ...SourceOption) (*Source, error) {
	t, err := NewTemperature(cfg)
	if err != nil {
		return nil, fmt.Errorf("sensor %s: %w", desc.DeviceID, err)
	}
	return NewSource(desc, t, opts...)
}

// Config returns the sampler parameters
func (t *Temperature) Config() TemperatureConfig {
	return t.cfg
}

// Sample computes battery and temperature for the tick
func (t *Temperature) Sample(tick Tick) (Payload, error) {
	battery := BatteryLevel(tick.Elapsed(), t.cfg.DischargeTime)
	temperature := t.Temperature(tick.Now)

	structured, err := codec.EncodeStructured(battery, temperature)
	if err != nil {
		return Payload{}, err
	}

	return Payload{
		Compact:    codec.EncodeCompact(int32(battery), temperature),
		Structured: structured,
	}, nil
}

// Temperature returns the simulated temperature at now
func (t *Temperature) Temperature(now time.Time) float32 {
	fluctuation := math.Sin(math.Pi*float64(now.Hour())/24) * float64(t.cfg.DayAmplitude)
	return float32(float64(t.cfg.BaseTemperature) + SeasonBaseline(now.Month()) + fluctuation)
}

// BatteryLevel returns a percentage in [0,100] that decreases linearly over
// discharge and jumps back to 100 when a full period has elapsed.
func BatteryLevel(elapsed, discharge time.Duration) int {
	if discharge <= 0 || elapsed < 0 {
		return 100
	}
	// 100*sinceCharge needs 128 bits for discharge times of a few years
	sinceCharge := uint64(elapsed % discharge)
	hi, lo := bits.Mul64(100, sinceCharge)
	drained, _ := bits.Div64(hi, lo, uint64(discharge))
	return 100 - int(drained)
}

// SeasonBaseline returns the temperature offset for the given month
func SeasonBaseline(month time.Month) float64 {
	switch {
	case month >= time.February && month <= time.April:
		return 10
	case month >= time.May && month <= time.July:
		return 20
	case month >= time.August && month <= time.October:
		return 15
	default:
		return 5
	}
}
