package sensor

import (
	"context"
	"fmt"
	"time"
)

// Sampler produces the payload of a sensor for a given tick. Implementations
// must be pure functions of the tick and their static configuration.
type Sampler interface {
	Sample(t Tick) (Payload, error)
}

// SamplerFunc adapts a plain function to the Sampler interface
type SamplerFunc func(t Tick) (Payload, error)

// Sample calls f(t)
func (f SamplerFunc) Sample(t Tick) (Payload, error) {
	return f(t)
}

// Clock returns the current instant
type Clock func() time.Time

// SourceOption customizes a Source
type SourceOption func(*Source)

// WithClock replaces the wall clock used to stamp ticks
func WithClock(clock Clock) SourceOption {
	return func(s *Source) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Source is a time-driven producer of measurements for one virtual device
type Source struct {
	desc    Descriptor
	sampler Sampler
	clock   Clock
}

// NewSource creates a source from a validated descriptor
func NewSource(desc Descriptor, sampler Sampler, opts ...SourceOption) (*Source, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if sampler == nil {
		return nil, fmt.Errorf("%w: sensor %s has no sampler", ErrInvalidConfiguration, desc.DeviceID)
	}

	s := &Source{
		desc:    desc,
		sampler: sampler,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Descriptor returns the static configuration of the source
func (s *Source) Descriptor() Descriptor {
	return s.desc
}

// DeviceID returns the identifier of the simulated device
func (s *Source) DeviceID() DeviceID {
	return s.desc.DeviceID
}

// Emit runs one emission sequence, sending each measurement to out.
//
// The first measurement is produced immediately, the following ones every
// sampling period. Every call starts again from tick 0. Emit returns nil when
// the emit limit is reached or ctx is cancelled, and an error wrapping
// ErrProduction when the sampler fails.
func (s *Source) Emit(ctx context.Context, out chan<- Measurement) error {
	if ctx.Err() != nil {
		return nil
	}

	ticker := time.NewTicker(s.desc.SamplingPeriod)
	defer ticker.Stop()

	start := s.clock()
	for i := uint64(0); ; i++ {
		now := start
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			now = s.clock()
		}

		m, err := s.measure(Tick{
			Index:  i,
			Start:  start,
			Now:    now,
			Period: s.desc.SamplingPeriod,
		})
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		select {
		case out <- m:
		case <-ctx.Done():
			return nil
		}

		if s.desc.Finite() && i+1 >= s.desc.EmitLimit {
			return nil
		}
	}
}

// Emissions starts a fresh emission sequence in its own goroutine. The
// measurement channel is closed when the sequence ends; the error channel then
// delivers the outcome of Emit (nil on exhaustion or cancellation).
func (s *Source) Emissions(ctx context.Context) (<-chan Measurement, <-chan error) {
	out := make(chan Measurement)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		err := s.Emit(ctx, out)
		close(out)
		errc <- err
	}()

	return out, errc
}

func (s *Source) measure(t Tick) (Measurement, error) {
	p, err := s.sampler.Sample(t)
	if err != nil {
		return Measurement{}, fmt.Errorf("%w: sensor %s tick %d: %v", ErrProduction, s.desc.DeviceID, t.Index, err)
	}

	m, err := NewMeasurement(t.Now, s.desc.DeviceID, p)
	if err != nil {
		return Measurement{}, fmt.Errorf("%w: %v", ErrProduction, err)
	}
	return m, nil
}
