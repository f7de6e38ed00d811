package sensor

import (
	"fmt"
	"time"
)

// Measurement is one reading produced by a sensor, already encoded in both
// representations carried by a downlink.
type Measurement struct {
	Timestamp  time.Time
	DeviceID   DeviceID
	Compact    string
	Structured string
}

// Payload is what a Sampler produces for a tick
type Payload struct {
	Compact    string
	Structured string
}

// NewMeasurement validates and assembles a Measurement
func NewMeasurement(ts time.Time, id DeviceID, p Payload) (Measurement, error) {
	switch {
	case ts.IsZero():
		return Measurement{}, fmt.Errorf("measurement for %s: timestamp must be set", id)
	case id == "":
		return Measurement{}, fmt.Errorf("measurement: device id must not be empty")
	case p.Compact == "":
		return Measurement{}, fmt.Errorf("measurement for %s: compact payload must not be empty", id)
	case p.Structured == "":
		return Measurement{}, fmt.Errorf("measurement for %s: structured payload must not be empty", id)
	}

	return Measurement{
		Timestamp:  ts,
		DeviceID:   id,
		Compact:    p.Compact,
		Structured: p.Structured,
	}, nil
}

// Tick is a single scheduled emission of a source
type Tick struct {
	Index  uint64
	Start  time.Time
	Now    time.Time
	Period time.Duration
}

// Elapsed returns the nominal time since tick 0 of the current run.
// It is derived from the tick index so it does not accumulate timer jitter.
func (t Tick) Elapsed() time.Duration {
	return time.Duration(t.Index) * t.Period
}
