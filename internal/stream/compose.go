package stream

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rawrobot/lora-ns-simulator/internal/sensor"
)

// ErrEmptyInput is returned when there is nothing to merge
var ErrEmptyInput = errors.New("no sensor sources")

// Stream is the merged output of a set of sensor sources.
//
// Items from all sources are delivered in arrival order on one unbuffered
// channel, so a source cannot get ahead of the consumer. The first source
// failure cancels every other source and ends the stream.
type Stream struct {
	out    chan sensor.Measurement
	cancel context.CancelFunc
	done   chan struct{}

	halted   chan struct{}
	haltOnce sync.Once

	mu  sync.Mutex
	err error
}

// Compose starts every source and merges their measurements. The stream ends
// when all finite sources are exhausted, when any source fails, or when ctx
// is cancelled or Close is called.
func Compose(ctx context.Context, sources []*sensor.Source) (*Stream, error) {
	if len(sources) == 0 {
		return nil, ErrEmptyInput
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		out:    make(chan sensor.Measurement),
		cancel: cancel,
		done:   make(chan struct{}),
		halted: make(chan struct{}),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			err := src.Emit(gctx, s.out)
			if err != nil {
				// before the group cancels the other sources
				s.halt()
			}
			return err
		})
	}

	go func() {
		err := g.Wait()
		if err == nil {
			// Sources return nil on cancellation; tell it apart from exhaustion.
			err = ctx.Err()
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()

		cancel()
		close(s.out)
		close(s.done)
	}()

	return s, nil
}

// Measurements returns the merged channel. It is closed when the stream ends.
func (s *Stream) Measurements() <-chan sensor.Measurement {
	return s.out
}

// Halted is closed as soon as a source fails or Close is called. Sources
// that were already blocked on a send may still get an item through after
// that, so consumers that must not act after a failure check Halted before
// handling each item. Natural exhaustion does not close it.
func (s *Stream) Halted() <-chan struct{} {
	return s.halted
}

func (s *Stream) halt() {
	s.haltOnce.Do(func() { close(s.halted) })
}

// Done is closed once the stream has ended and Err is final
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err reports why the stream ended: nil when every source was exhausted, the
// first production error, or context.Canceled when the stream was closed.
// It returns nil while the stream is still running.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels all sources. It is safe to call more than once.
func (s *Stream) Close() {
	s.halt()
	s.cancel()
}
