package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	eventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fangate_events_dropped_total",
		Help: "Submission events dropped because the event queue was full.",
	})

	eventsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fangate_events_written_total",
		Help: "Submission events handed to sinks, by result.",
	}, []string{"result"})
)

// Async queues events and writes them to a Sink from a single background
// worker. Log never blocks: when the queue is full the event is dropped
// and counted.
type Async struct {
	sink    Sink
	queue   chan Event
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// NewAsync starts a worker draining a queue of queueSize events into sink.
// Each write is bounded by writeTimeout (default 5s).
func NewAsync(sink Sink, queueSize int, writeTimeout time.Duration, logger *zap.Logger) *Async {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	a := &Async{
		sink:    sink,
		queue:   make(chan Event, queueSize),
		timeout: writeTimeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Log enqueues e. The request context is not used for the write, which
// outlives the request.
func (a *Async) Log(_ context.Context, e Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.drop()
		return
	}
	select {
	case a.queue <- e:
	default:
		a.drop()
	}
}

func (a *Async) drop() {
	a.dropped.Add(1)
	eventsDroppedTotal.Inc()
}

// Dropped returns the number of events dropped so far.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.sink.Write(ctx, e)
		cancel()
		if err != nil {
			eventsWrittenTotal.WithLabelValues("error").Inc()
			a.logger.Warn("events: write failed",
				zap.String("event_id", e.ID.String()),
				zap.String("reason", e.Reason),
				zap.Error(err),
			)
			continue
		}
		eventsWrittenTotal.WithLabelValues("ok").Inc()
	}
}

// Close stops accepting events and waits until the queue is drained or ctx
// is done.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
