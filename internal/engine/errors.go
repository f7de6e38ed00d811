package engine

import (
	"errors"

	"github.com/rawrobot/lora-ns-simulator/internal/sensor"
	"github.com/rawrobot/lora-ns-simulator/internal/stream"
)

var (
	// ErrInvalidConfiguration is returned for unusable engine or sensor settings
	ErrInvalidConfiguration = sensor.ErrInvalidConfiguration
	// ErrEmptyInput is returned when the engine is given no sensor sources
	ErrEmptyInput = stream.ErrEmptyInput
	// ErrProduction marks a sensor that failed to produce a measurement
	ErrProduction = sensor.ErrProduction
	// ErrBrokerConnect is returned by Start when the sink cannot connect
	ErrBrokerConnect = errors.New("broker connection failed")
	// ErrPublish marks a rejected or failed publish
	ErrPublish = errors.New("publish failed")
)
