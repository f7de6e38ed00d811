package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var errSessionLogClosed = errors.New("session logger has been closed")

// SessionLogger journals every published downlink as one JSON line. A new
// file is started once the current one spans maxDuration.
type SessionLogger struct {
	outputDir   string
	maxDuration time.Duration
	now         func() time.Time
	logger      zerolog.Logger

	mu      sync.Mutex
	file    *os.File
	journal zerolog.Logger
	opened  time.Time
	closed  bool
}

func NewSessionLogger(outputDir string, maxDuration time.Duration, logger zerolog.Logger) (*SessionLogger, error) {
	if maxDuration <= 0 {
		return nil, fmt.Errorf("session log duration must be positive, got %s", maxDuration)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log output directory: %w", err)
	}

	sl := &SessionLogger{
		outputDir:   outputDir,
		maxDuration: maxDuration,
		now:         time.Now,
		logger:      logger.With().Str("component", "session-log").Logger(),
	}
	if err := sl.rotate(sl.now()); err != nil {
		return nil, err
	}
	return sl, nil
}

// rotate must be called with sl.mu held
func (sl *SessionLogger) rotate(now time.Time) error {
	if sl.file != nil {
		if err := sl.file.Close(); err != nil {
			sl.logger.Warn().Err(err).Msg("Failed to close session log file")
		}
	}

	path := filepath.Join(sl.outputDir, fmt.Sprintf("lorasim_%s.log", now.Format("20060102_150405")))
	// Rotations within the same second reuse the file
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		sl.file = nil
		return fmt.Errorf("failed to create session log file: %w", err)
	}

	sl.file = file
	sl.opened = now
	sl.journal = zerolog.New(file)
	sl.logger.Info().Str("file", path).Msg("Created new session log file")
	return nil
}

// entry returns an event on the current file, rotating first when it is due
func (sl *SessionLogger) entry() (*zerolog.Event, error) {
	if sl.closed {
		return nil, errSessionLogClosed
	}

	now := sl.now()
	if sl.file == nil || now.Sub(sl.opened) >= sl.maxDuration {
		if err := sl.rotate(now); err != nil {
			return nil, err
		}
	}
	return sl.journal.Log().Time(zerolog.TimestampFieldName, now), nil
}

// Log records a free-form event line
func (sl *SessionLogger) Log(message string) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	ev, err := sl.entry()
	if err != nil {
		return err
	}
	ev.Msg(message)
	return nil
}

// LogDownlink records a published downlink
func (sl *SessionLogger) LogDownlink(row DownlinkRow) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	ev, err := sl.entry()
	if err != nil {
		return err
	}

	ev = ev.Str("device", row.DeviceID).
		Str("topic", row.Topic).
		Time("published_at", row.Timestamp)
	if row.Reading != nil {
		ev = ev.Int("battery", row.Reading.Battery).
			Float32("temperature", row.Reading.Temperature)
	} else {
		ev = ev.Str("payload", row.Payload)
	}
	ev.Msg("downlink")
	return nil
}

func (sl *SessionLogger) Close() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.closed {
		return nil
	}
	sl.closed = true

	if sl.file == nil {
		return nil
	}
	err := sl.file.Close()
	sl.file = nil
	return err
}
