package sensor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceIDFor(t *testing.T) {
	assert.Equal(t, DeviceID("airtemp00000000A"), DeviceIDFor(KindAirTemperature, 10))
	assert.Equal(t, DeviceID("extemp0000000000"), DeviceIDFor(KindExternalTemperature, 0))
	assert.Equal(t, DeviceID("intemp00000000FF"), DeviceIDFor(KindInternalTemperature, 255))
	assert.Equal(t, DeviceID("static0000000001"), DeviceIDFor(KindStatic, 1))
}

func TestBuildFleet(t *testing.T) {
	cfg := FleetConfig{
		SamplingPeriod:      time.Second,
		EmitLimit:           2,
		DischargeTime:       time.Hour,
		AirTemperature:      2,
		ExternalTemperature: 1,
		InternalTemperature: 1,
		Static:              1,
	}

	sources, err := BuildFleet(cfg)
	require.NoError(t, err)
	require.Len(t, sources, cfg.Size())

	ids := make([]DeviceID, 0, len(sources))
	for _, s := range sources {
		ids = append(ids, s.DeviceID())
		assert.Equal(t, time.Second, s.Descriptor().SamplingPeriod)
		assert.EqualValues(t, 2, s.Descriptor().EmitLimit)
	}
	assert.Equal(t, []DeviceID{
		"airtemp000000000",
		"airtemp000000001",
		"extemp0000000000",
		"intemp0000000000",
		"static0000000000",
	}, ids)

	air, ok := sources[0].sampler.(*Temperature)
	require.True(t, ok)
	assert.Equal(t, TemperatureConfig{BaseTemperature: 2, DayAmplitude: 10, DischargeTime: time.Hour}, air.Config())

	internal, ok := sources[3].sampler.(*Temperature)
	require.True(t, ok)
	assert.Equal(t, 4, internal.Config().DayAmplitude)
}

func TestBuildFleet_Errors(t *testing.T) {
	_, err := BuildFleet(FleetConfig{SamplingPeriod: 0, AirTemperature: 1})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = BuildFleet(FleetConfig{SamplingPeriod: time.Second, Static: -1})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	// a negative count must be rejected even when the total is positive
	_, err = BuildFleet(FleetConfig{SamplingPeriod: time.Second, AirTemperature: 3, InternalTemperature: -1})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	sources, err := BuildFleet(FleetConfig{SamplingPeriod: time.Second})
	require.NoError(t, err)
	assert.Empty(t, sources)
}
