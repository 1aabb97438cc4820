// Package events implements the Event Bus (C7): in-process publish/
// subscribe with bounded per-subscriber buffers, drop-and-count
// backpressure, and monotonically increasing per-topic sequence numbers.
//
// The bus's exact shape is reconstructed from call sites elsewhere in
// this codebase rather than copied from a single source file — see
// DESIGN.md for the grounding trail.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/farmd/internal/domain"
	"github.com/rs/zerolog"
)

// Handler receives events published under a subscribed topic. Handlers
// run on the bus's own dispatch goroutine per subscriber and must not
// block indefinitely — a slow handler only delays its own subscriber's
// queue, never the publisher.
type Handler func(*domain.Event)

// subscriber is one registered handler with its bounded inbox.
type subscriber struct {
	ch      chan *domain.Event
	handler Handler
	dropped uint64
}

// Bus is the production Event Bus. Publish is single-writer-per-topic in
// practice (each component owns the topics it emits) but the bus itself
// is safe for concurrent Publish from multiple components.
type Bus struct {
	log zerolog.Logger

	mu          sync.RWMutex
	subscribers map[domain.EventType][]*subscriber
	seq         map[domain.EventType]uint64

	bufferSize int
}

// NewBus constructs a Bus. bufferSize bounds each subscriber's inbox;
// Publish never blocks on a full inbox — it drops the event and
// increments that subscriber's drop counter instead.
func NewBus(bufferSize int, log zerolog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		log:         log.With().Str("component", "event_bus").Logger(),
		subscribers: make(map[domain.EventType][]*subscriber),
		seq:         make(map[domain.EventType]uint64),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers handler to run for every event published under
// topic. The handler is invoked from a dedicated goroutine draining this
// subscriber's inbox in publish order.
func (b *Bus) Subscribe(topic domain.EventType, handler Handler) {
	sub := &subscriber{ch: make(chan *domain.Event, b.bufferSize), handler: handler}

	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	b.mu.Unlock()

	go func() {
		for event := range sub.ch {
			sub.handler(event)
		}
	}()
}

// Publish wraps data in an Event, assigns it the next sequence number
// for its topic, and fans it out to every subscriber of that topic.
// Never blocks: a subscriber with a full inbox has this event dropped
// and its drop counter incremented, with a warning logged.
func (b *Bus) Publish(data domain.EventData) {
	b.PublishWithSeverityCorrelation(data, domain.SeverityInfo, "")
}

// PublishWithSeverityCorrelation is the full-fidelity publish path;
// Publish is a convenience wrapper defaulting severity/correlation.
func (b *Bus) PublishWithSeverityCorrelation(data domain.EventData, severity domain.Severity, correlationID string) {
	topic := data.EventType()

	b.mu.Lock()
	b.seq[topic]++
	seq := b.seq[topic]
	subs := append([]*subscriber(nil), b.subscribers[topic]...)
	b.mu.Unlock()

	event := &domain.Event{
		Seq:           seq,
		Timestamp:     time.Now(),
		Type:          topic,
		Severity:      severity,
		CorrelationID: correlationID,
		Data:          data,
	}

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			dropped := atomic.AddUint64(&sub.dropped, 1)
			b.log.Warn().Str("topic", string(topic)).Uint64("subscriber_dropped_total", dropped).Msg("subscriber inbox full, dropping event")
		}
	}
}

// DroppedEvents returns the total number of events dropped across every
// subscriber's backpressure counter, for surfacing on the operator
// status endpoint.
func (b *Bus) DroppedEvents() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var total uint64
	for _, subs := range b.subscribers {
		for _, sub := range subs {
			total += atomic.LoadUint64(&sub.dropped)
		}
	}
	return total
}
