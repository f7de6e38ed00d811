package sensor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDevice DeviceID = "0000000000000001"

func staticSource(t *testing.T, period time.Duration, limit uint64) *Source {
	t.Helper()
	src, err := NewStaticSource(Descriptor{
		DeviceID:       testDevice,
		SamplingPeriod: period,
		EmitLimit:      limit,
	}, StaticCompact, StaticStructured)
	require.NoError(t, err)
	return src
}

func drain(t *testing.T, src *Source) []Measurement {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, errc := src.Emissions(ctx)
	var got []Measurement
	for m := range ch {
		got = append(got, m)
	}
	require.NoError(t, <-errc)
	require.NoError(t, ctx.Err(), "emission did not finish in time")
	return got
}

func TestValidateDeviceID(t *testing.T) {
	tests := []struct {
		name    string
		id      DeviceID
		wantErr bool
	}{
		{name: "empty", id: "", wantErr: true},
		{name: "too short", id: "wrong-size-deui", wantErr: true},
		{name: "too long", id: "00000000000000001", wantErr: true},
		{name: "valid", id: testDevice, wantErr: false},
		{name: "valid non hex", id: "airtemp000000000", wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDeviceID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfiguration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewSource_Validation(t *testing.T) {
	tests := []struct {
		name string
		desc Descriptor
	}{
		{name: "zero period", desc: Descriptor{DeviceID: testDevice}},
		{name: "negative period", desc: Descriptor{DeviceID: testDevice, SamplingPeriod: -time.Second}},
		{name: "bad device id", desc: Descriptor{DeviceID: "short", SamplingPeriod: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStaticSource(tt.desc, StaticCompact, StaticStructured)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}

	_, err := NewSource(Descriptor{DeviceID: testDevice, SamplingPeriod: time.Second}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewStaticSource(Descriptor{DeviceID: testDevice, SamplingPeriod: time.Second}, "", "json")
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestSource_EmitLimit(t *testing.T) {
	for _, limit := range []uint64{1, 3, 5} {
		src := staticSource(t, time.Millisecond, limit)
		got := drain(t, src)
		assert.Len(t, got, int(limit))
		for _, m := range got {
			assert.Equal(t, testDevice, m.DeviceID)
			assert.Equal(t, StaticCompact, m.Compact)
			assert.Equal(t, StaticStructured, m.Structured)
			assert.False(t, m.Timestamp.IsZero())
		}
	}
}

func TestSource_Restartable(t *testing.T) {
	var indexes []uint64
	sampler := SamplerFunc(func(tick Tick) (Payload, error) {
		indexes = append(indexes, tick.Index)
		return Payload{Compact: "c", Structured: "s"}, nil
	})
	src, err := NewSource(Descriptor{DeviceID: testDevice, SamplingPeriod: time.Millisecond, EmitLimit: 3}, sampler)
	require.NoError(t, err)

	assert.Len(t, drain(t, src), 3)
	assert.Len(t, drain(t, src), 3)
	assert.Equal(t, []uint64{0, 1, 2, 0, 1, 2}, indexes)
}

func TestSource_FirstTickIsImmediate(t *testing.T) {
	src := staticSource(t, time.Hour, 1)

	start := time.Now()
	got := drain(t, src)
	require.Len(t, got, 1)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSource_InfiniteStopsOnCancel(t *testing.T) {
	src := staticSource(t, time.Millisecond, 0)
	ctx, cancel := context.WithCancel(context.Background())

	ch, errc := src.Emissions(ctx)
	for i := 0; i < 10; i++ {
		<-ch
	}
	cancel()

	for range ch {
	}
	assert.NoError(t, <-errc)
}

func TestSource_ProductionError(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	sampler := SamplerFunc(func(tick Tick) (Payload, error) {
		if calls.Add(1) == 2 {
			return Payload{}, boom
		}
		return Payload{Compact: "c", Structured: "s"}, nil
	})
	src, err := NewSource(Descriptor{DeviceID: testDevice, SamplingPeriod: time.Millisecond}, sampler)
	require.NoError(t, err)

	ch, errc := src.Emissions(context.Background())
	var n int
	for range ch {
		n++
	}
	err = <-errc
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, ErrProduction)
}

func TestSource_ClockCapturedOncePerTick(t *testing.T) {
	fixed := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	var clockCalls atomic.Int32
	clock := func() time.Time {
		clockCalls.Add(1)
		return fixed
	}

	var seen []time.Time
	sampler := SamplerFunc(func(tick Tick) (Payload, error) {
		seen = append(seen, tick.Now)
		return Payload{Compact: "c", Structured: "s"}, nil
	})
	src, err := NewSource(Descriptor{DeviceID: testDevice, SamplingPeriod: time.Millisecond, EmitLimit: 4}, sampler, WithClock(clock))
	require.NoError(t, err)

	got := drain(t, src)
	require.Len(t, got, 4)
	assert.EqualValues(t, 4, clockCalls.Load())
	for i, m := range got {
		assert.Equal(t, seen[i], m.Timestamp)
	}
}

func TestNewMeasurement(t *testing.T) {
	now := time.Now()
	p := Payload{Compact: "c", Structured: "s"}

	_, err := NewMeasurement(time.Time{}, testDevice, p)
	assert.Error(t, err)
	_, err = NewMeasurement(now, "", p)
	assert.Error(t, err)
	_, err = NewMeasurement(now, testDevice, Payload{Structured: "s"})
	assert.Error(t, err)
	_, err = NewMeasurement(now, testDevice, Payload{Compact: "c"})
	assert.Error(t, err)

	m, err := NewMeasurement(now, testDevice, p)
	require.NoError(t, err)
	assert.Equal(t, Measurement{Timestamp: now, DeviceID: testDevice, Compact: "c", Structured: "s"}, m)
}
