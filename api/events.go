package api

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"tasks-api/domain"
)

// DispatcherConfig tunes the task event dispatcher.
type DispatcherConfig struct {
	Workers        int
	Buffer         int
	HandoffTimeout time.Duration
	PublishTimeout time.Duration
	MaxAttempts    int
	RetryInitial   time.Duration
	RetryMax       time.Duration
}

func (cfg DispatcherConfig) withDefaults() DispatcherConfig {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = cfg.Workers * 64
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 250 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 10 * time.Second
	}
	return cfg
}

// EventDispatcher hands task events to a pool of workers that publish them. Delivery is
// best effort: a saturated buffer drops the event and failed publishes are retried a
// bounded number of times.
type EventDispatcher struct {
	cfg       DispatcherConfig
	publisher EventPublisher
	logger    *log.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan domain.TaskEvent
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewEventDispatcher starts the worker pool.
func NewEventDispatcher(publisher EventPublisher, logger *log.Logger, cfg DispatcherConfig) *EventDispatcher {
	if publisher == nil {
		panic("event publisher is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	cfg = cfg.withDefaults()
	d := &EventDispatcher{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger,
		jobs:      make(chan domain.TaskEvent, cfg.Buffer),
		stop:      make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, handoff: %v", cfg.Workers, cfg.Buffer, cfg.HandoffTimeout)
	return d
}

// Dispatch queues ev. It returns false when the event was dropped.
func (d *EventDispatcher) Dispatch(ev domain.TaskEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.jobs <- ev:
		return true
	default:
	}

	if d.cfg.HandoffTimeout > 0 {
		timer := time.NewTimer(d.cfg.HandoffTimeout)
		defer timer.Stop()
		select {
		case d.jobs <- ev:
			return true
		case <-timer.C:
		}
	}
	d.logger.WithFields(log.Fields{"type": ev.Type, "task": ev.Task.ID}).Warn("event buffer saturated; dropping task event")
	return false
}

// Close stops accepting events, publishes what is already buffered and waits for the
// workers. Pending retries are abandoned.
func (d *EventDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	close(d.stop)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *EventDispatcher) worker(id int) {
	defer d.wg.Done()
	for ev := range d.jobs {
		d.deliver(ev, id)
	}
}

func (d *EventDispatcher) deliver(ev domain.TaskEvent, workerID int) {
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
		err := d.publisher.PublishTaskEvent(ctx, ev)
		cancel()
		if err == nil {
			return
		}

		entry := d.logger.WithError(err).WithFields(log.Fields{
			"type":    ev.Type,
			"task":    ev.Task.ID,
			"attempt": attempt,
			"worker":  workerID,
		})
		if attempt >= d.cfg.MaxAttempts {
			entry.Error("task event publish failed; giving up")
			return
		}
		entry.Warn("task event publish failed; retrying")

		timer := time.NewTimer(exponentialBackoff(attempt, d.cfg.RetryInitial, d.cfg.RetryMax))
		select {
		case <-timer.C:
		case <-d.stop:
			timer.Stop()
			return
		}
	}
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt <= 0 {
		if initial <= 0 {
			return time.Second
		}
		return initial
	}
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}
