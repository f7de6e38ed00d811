package sensor

import (
	"errors"
	"fmt"
	"time"
)

// DeviceIDLength is the number of characters of a LoRa DevEUI in its hex form
const DeviceIDLength = 16

var (
	// ErrInvalidConfiguration is returned when a sensor is built from bad parameters
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrProduction is returned when a sensor fails to produce a measurement
	ErrProduction = errors.New("sensor production failed")
)

// DeviceID identifies a simulated device. Uniqueness across a fleet is not required.
type DeviceID string

// ValidateDeviceID checks that id is exactly DeviceIDLength characters long
func ValidateDeviceID(id DeviceID) error {
	if id == "" {
		return fmt.Errorf("%w: device id must not be empty", ErrInvalidConfiguration)
	}
	if n := len([]rune(string(id))); n != DeviceIDLength {
		return fmt.Errorf("%w: device id %q must be %d characters long, got %d",
			ErrInvalidConfiguration, id, DeviceIDLength, n)
	}
	return nil
}

// Descriptor is the static configuration of one sensor source.
//
// EmitLimit set to zero means the source never ends on its own.
type Descriptor struct {
	DeviceID       DeviceID
	SamplingPeriod time.Duration
	EmitLimit      uint64
}

// Validate reports whether the descriptor can drive a source
func (d Descriptor) Validate() error {
	if err := ValidateDeviceID(d.DeviceID); err != nil {
		return err
	}
	if d.SamplingPeriod <= 0 {
		return fmt.Errorf("%w: sampling period must be positive, got %s",
			ErrInvalidConfiguration, d.SamplingPeriod)
	}
	return nil
}

// Finite reports whether the source terminates after EmitLimit measurements
func (d Descriptor) Finite() bool {
	return d.EmitLimit > 0
}
