// Package telemetry delivers visualization notifications. Delivery is best
// effort: callers log and ignore errors.
package telemetry

import (
	"context"
	"errors"
	"sync"

	"github.com/go-logr/logr"

	"github.com/ILLUVRSE/leo-handover/handover/internal/logging"
	"github.com/ILLUVRSE/leo-handover/handover/internal/metrics"
	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

// ErrClosed is returned by sinks after Close.
var ErrClosed = errors.New("sink closed")

// Sink receives visualization notifications.
type Sink interface {
	Notify(ctx context.Context, n models.Notification) error
}

// LogSink writes every notification to the logger at DEBUG verbosity.
type LogSink struct {
	logger logr.Logger
}

func NewLogSink(logger logr.Logger) *LogSink {
	return &LogSink{logger: logger.WithName("visualization")}
}

func (s *LogSink) Notify(_ context.Context, n models.Notification) error {
	s.logger.V(logging.DEBUG).Info("Notification", "type", string(n.Type), "decisionId", n.DecisionID, "stage", n.Stage)
	return nil
}

// MultiSink fans a notification out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Notify(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AsyncSink queues notifications for a background worker so Notify never
// blocks the caller. When the queue is full the notification is dropped.
type AsyncSink struct {
	next   Sink
	logger logr.Logger
	queue  chan models.Notification

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsyncSink(next Sink, size int, logger logr.Logger) *AsyncSink {
	if size <= 0 {
		size = 256
	}
	s := &AsyncSink{
		next:   next,
		logger: logger.WithName("visualization"),
		queue:  make(chan models.Notification, size),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) Notify(_ context.Context, n models.Notification) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- n:
		return nil
	default:
		metrics.RecordNotificationDropped(string(n.Type))
		s.logger.V(logging.VERBOSE).Info("Notification dropped, queue full", "type", string(n.Type), "decisionId", n.DecisionID)
		return nil
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for n := range s.queue {
		if err := s.next.Notify(context.Background(), n); err != nil {
			s.logger.Error(err, "Notification delivery failed", "type", string(n.Type), "decisionId", n.DecisionID)
		}
	}
}

// Close stops accepting notifications and waits for the queue to drain.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
	return nil
}
