package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

type fakeWriter struct {
	mu       sync.Mutex
	failures int
	msgs     []kafka.Message
	calls    int
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func notification(id string) models.Notification {
	return models.Notification{Type: models.NotifyStart, DecisionID: id, Payload: map[string]interface{}{"event_type": "A4"}}
}

func TestKafkaSinkPublishesKeyedJSON(t *testing.T) {
	w := &fakeWriter{failures: 1}
	s := newKafkaSink(w, KafkaConfig{})
	s.baseBackoff = time.Millisecond

	require.NoError(t, s.Notify(context.Background(), notification("dec-1")))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, 2, w.calls)
	assert.Equal(t, "dec-1", string(w.msgs[0].Key))
	assert.Equal(t, "handover_started", string(w.msgs[0].Headers[0].Value))

	var got models.Notification
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, models.NotifyStart, got.Type)
	assert.Equal(t, "A4", got.Payload["event_type"])
	assert.False(t, got.Timestamp.IsZero())

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestKafkaSinkGivesUp(t *testing.T) {
	w := &fakeWriter{failures: 10}
	s := newKafkaSink(w, KafkaConfig{MaxAttempts: 2})
	s.baseBackoff = time.Millisecond

	err := s.Notify(context.Background(), notification("dec-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, w.calls)
}

func TestNewKafkaSinkValidates(t *testing.T) {
	_, err := NewKafkaSink(KafkaConfig{Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}

func TestKafkaWriterUsesConfiguredTimeout(t *testing.T) {
	cfg := KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "handover", WriteTimeout: 750 * time.Millisecond}.withDefaults()
	wc := writerConfig(cfg)
	assert.Equal(t, 750*time.Millisecond, wc.WriteTimeout)
	assert.Equal(t, "handover", wc.Topic)
	assert.IsType(t, &kafka.Hash{}, wc.Balancer)

	wc = writerConfig(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "handover"}.withDefaults())
	assert.Equal(t, 5*time.Second, wc.WriteTimeout)

	s := newKafkaSink(&fakeWriter{}, cfg)
	assert.Equal(t, 750*time.Millisecond, s.writeTimeout)
	assert.Equal(t, 3, s.maxAttempts)
}

type recordingSink struct {
	mu  sync.Mutex
	got []models.Notification
	err error
}

func (r *recordingSink) Notify(_ context.Context, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("down")}
	err := MultiSink{a, b, NewLogSink(logr.Discard())}.Notify(context.Background(), notification("d"))
	require.Error(t, err)
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestAsyncSinkDrainsOnClose(t *testing.T) {
	rec := &recordingSink{}
	s := NewAsyncSink(rec, 16, logr.Discard())
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Notify(context.Background(), notification("d")))
	}
	require.NoError(t, s.Close())
	assert.Equal(t, 10, rec.count())
	assert.ErrorIs(t, s.Notify(context.Background(), notification("d")), ErrClosed)
	assert.NoError(t, s.Close())
}
