package sensor

import "fmt"

// Static is a sampler that always returns the same payload. It stands in for
// real sensor variants when only the message flow matters.
type Static struct {
	payload Payload
}

// NewStatic creates a static sampler
func NewStatic(compact, structured string) (*Static, error) {
	if compact == "" || structured == "" {
		return nil, fmt.Errorf("%w: static payloads must not be empty", ErrInvalidConfiguration)
	}
	return &Static{payload: Payload{Compact: compact, Structured: structured}}, nil
}

// NewStaticSource creates a source driven by a static sampler
func NewStaticSource(desc Descriptor, compact, structured string, opts ...SourceOption) (*Source, error) {
	s, err := NewStatic(compact, structured)
	if err != nil {
		return nil, fmt.Errorf("sensor %s: %w", desc.DeviceID, err)
	}
	return NewSource(desc, s, opts...)
}

// Sample returns the configured payload
func (s *Static) Sample(Tick) (Payload, error) {
	return s.payload, nil
}
