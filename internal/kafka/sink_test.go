package kafka

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func header(msg kafkago.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestNewSink(t *testing.T) {
	_, err := NewSink(Config{}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoBrokers)

	s, err := NewSink(Config{Brokers: []string{"localhost:9092"}}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultTopic, s.cfg.Topic)
	assert.Equal(t, DefaultDialTimeout, s.cfg.DialTimeout)
	assert.False(t, s.IsConnected())
}

func TestSink_PublishBeforeConnect(t *testing.T) {
	s, err := NewSink(Config{Brokers: []string{"localhost:9092"}}, zerolog.Nop())
	require.NoError(t, err)
	assert.ErrorIs(t, s.Publish("a/b", []byte("x"), 0, false), ErrNotConnected)
	assert.NoError(t, s.Close())
}

func TestSink_ConnectUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	s, err := NewSink(Config{Brokers: []string{addr}, DialTimeout: time.Second}, zerolog.Nop())
	require.NoError(t, err)

	err = s.Connect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
	assert.False(t, s.IsConnected())
}

func TestSink_ConnectTriesEveryBroker(t *testing.T) {
	s, err := NewSink(Config{Brokers: []string{"a:9092", "b:9092"}}, zerolog.Nop())
	require.NoError(t, err)

	var dialed []string
	s.dial = func(ctx context.Context, network, address string) (*kafkago.Conn, error) {
		dialed = append(dialed, address)
		return nil, errors.New("refused")
	}

	err = s.Connect()
	require.Error(t, err)
	assert.Equal(t, []string{"a:9092", "b:9092"}, dialed)
}

func TestSink_Publish(t *testing.T) {
	s, err := NewSink(Config{Brokers: []string{"localhost:9092"}}, zerolog.Nop())
	require.NoError(t, err)
	w := &fakeWriter{}
	s.setWriter(w)
	require.True(t, s.IsConnected())

	topic := "application/app/device/0000000000000001/command/down"
	require.NoError(t, s.Publish(topic, []byte(`{"devEui":"0000000000000001"}`), 0, false))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, topic, string(msg.Key))
	assert.Equal(t, `{"devEui":"0000000000000001"}`, string(msg.Value))
	assert.Equal(t, topic, header(msg, HeaderTopic))
	assert.Equal(t, "0", header(msg, HeaderQoS))
	assert.Equal(t, "false", header(msg, HeaderRetained))

	w.err = errors.New("leader not available")
	assert.Error(t, s.Publish(topic, []byte("x"), 0, false))

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
	assert.False(t, s.IsConnected())
}
