// Package messaging implements the level change notifier: an ordered,
// failure-isolated fan-out of level events to independent consumers.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// LevelHandler consumes one level event.
type LevelHandler func(ctx context.Context, event shared.LevelEvent) error

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL CHANGE NOTIFIER
// ══════════════════════════════════════════════════════════════════════════════

// Notifier fans level events out to subscribers in registration order.
// A failing or panicking handler is logged and never stops the others.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[shared.EventType][]*subscription
	nextID      uint64
	workerPool  chan struct{}
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *NotifierMetrics
	closed      bool
	closeCh     chan struct{}
	wg          sync.WaitGroup
}

type subscription struct {
	id      uint64
	name    string
	handler LevelHandler
}

// NotifierConfig contains configuration for Notifier.
type NotifierConfig struct {
	// WorkerPoolSize bounds concurrent PublishAsync deliveries.
	WorkerPoolSize int

	// HandlerTimeout bounds a single handler call (0 = no timeout).
	HandlerTimeout time.Duration

	// Logger for structured logging
	Logger *slog.Logger
}

// DefaultNotifierConfig returns sensible defaults.
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		WorkerPoolSize: 4,
		HandlerTimeout: 30 * time.Second,
	}
}

var (
	// ErrNotifierClosed is returned when subscribing to a closed notifier.
	ErrNotifierClosed = errors.New("notifier is closed")

	// ErrUnknownChannel is returned for event types other than the two level channels.
	ErrUnknownChannel = errors.New("unknown level channel")
)

// NewNotifier creates a notifier.
func NewNotifier(config NotifierConfig) *Notifier {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 4
	}

	return &Notifier{
		subscribers: map[shared.EventType][]*subscription{
			shared.EventLevelUp:      nil,
			shared.EventLevelChanged: nil,
		},
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		logger:     config.Logger,
		metrics:    NewNotifierMetrics(),
		closeCh:    make(chan struct{}),
		timeout:    config.HandlerTimeout,
	}
}

// Subscribe registers handler on channel. The returned function removes it.
func (n *Notifier) Subscribe(channel shared.EventType, name string, handler LevelHandler) (func(), error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, ErrNotifierClosed
	}
	if _, ok := n.subscribers[channel]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	n.nextID++
	sub := &subscription{id: n.nextID, name: name, handler: handler}
	n.subscribers[channel] = append(n.subscribers[channel], sub)
	n.logger.Debug("subscribed level handler", "channel", channel, "handler", name)

	return func() { n.unsubscribe(channel, sub.id) }, nil
}

func (n *Notifier) unsubscribe(channel shared.EventType, id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	subs := n.subscribers[channel]
	for i, s := range subs {
		if s.id == id {
			// copy so in-flight publishes keep their snapshot
			next := make([]*subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			n.subscribers[channel] = next
			return
		}
	}
}

// Publish runs every handler for the event's channel, in order, before returning.
func (n *Notifier) Publish(ctx context.Context, event shared.LevelEvent) {
	subs, ok := n.snapshot(event.EventType())
	if !ok {
		return
	}
	n.deliver(ctx, event, subs)
}

// PublishAsync queues the ordered handler run on the worker pool.
// After Close it degrades to Publish.
func (n *Notifier) PublishAsync(ctx context.Context, event shared.LevelEvent) {
	subs, ok := n.snapshot(event.EventType())
	if !ok {
		return
	}

	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		n.deliver(ctx, event, subs)
		return
	}
	n.wg.Add(1)
	n.mu.RUnlock()

	go func() {
		defer n.wg.Done()

		select {
		case n.workerPool <- struct{}{}:
			defer func() { <-n.workerPool }()
		case <-n.closeCh:
			// Close drains queued work before returning; still deliver.
		}

		n.deliver(context.WithoutCancel(ctx), event, subs)
	}()
}

func (n *Notifier) snapshot(channel shared.EventType) ([]*subscription, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	subs, known := n.subscribers[channel]
	if !known {
		n.logger.Warn("dropping event for unknown channel", "channel", channel)
		return nil, false
	}
	n.metrics.RecordPublish(channel)
	if len(subs) == 0 {
		return nil, false
	}
	return subs, true
}

func (n *Notifier) deliver(ctx context.Context, event shared.LevelEvent, subs []*subscription) {
	for _, sub := range subs {
		start := time.Now()
		err := n.invoke(ctx, sub, event)
		duration := time.Since(start)

		n.metrics.RecordHandlerExecution(event.EventType(), err)
		if err != nil {
			n.logger.Error("level handler failed",
				"channel", event.EventType(),
				"handler", sub.name,
				"principal_id", event.Principal,
				"new_level", event.NewLevel,
				"duration", duration,
				"error", err,
			)
		}
	}
}

// invoke calls one handler and converts a panic into an error.
func (n *Notifier) invoke(ctx context.Context, sub *subscription, event shared.LevelEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			n.metrics.RecordPanic(event.EventType())
			err = fmt.Errorf("%w: %v\n%s", errHandlerPanic, r, debug.Stack())
		}
	}()

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	return sub.handler(ctx, event)
}

var errHandlerPanic = errors.New("handler panicked")

// Close stops accepting subscriptions and waits for queued deliveries.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.closeCh)
	n.mu.Unlock()

	n.wg.Wait()

	n.logger.Info("notifier closed")
	return nil
}

// Metrics returns the notifier counters.
func (n *Notifier) Metrics() *NotifierMetrics {
	return n.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// NotifierMetrics counts publishes and handler outcomes per channel.
type NotifierMetrics struct {
	mu        sync.RWMutex
	published map[shared.EventType]int64
	succeeded map[shared.EventType]int64
	failed    map[shared.EventType]int64
	panicked  map[shared.EventType]int64
}

// NewNotifierMetrics creates an empty metrics tracker.
func NewNotifierMetrics() *NotifierMetrics {
	return &NotifierMetrics{
		published: make(map[shared.EventType]int64),
		succeeded: make(map[shared.EventType]int64),
		failed:    make(map[shared.EventType]int64),
		panicked:  make(map[shared.EventType]int64),
	}
}

// RecordPublish records one published event.
func (m *NotifierMetrics) RecordPublish(channel shared.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[channel]++
}

// RecordHandlerExecution records one handler outcome.
func (m *NotifierMetrics) RecordHandlerExecution(channel shared.EventType, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failed[channel]++
		return
	}
	m.succeeded[channel]++
}

// RecordPanic records a recovered handler panic.
func (m *NotifierMetrics) RecordPanic(channel shared.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicked[channel]++
}

// NotifierMetricsSnapshot is a point-in-time copy of one channel's counters.
type NotifierMetricsSnapshot struct {
	Published int64 `json:"published"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Panicked  int64 `json:"panicked"`
}

// Snapshot returns the counters for a channel.
func (m *NotifierMetrics) Snapshot(channel shared.EventType) NotifierMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return NotifierMetricsSnapshot{
		Published: m.published[channel],
		Succeeded: m.succeeded[channel],
		Failed:    m.failed[channel],
		Panicked:  m.panicked[channel],
	}
}
