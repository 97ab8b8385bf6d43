// Package events implements the pub/sub fan-out carrying registry state
// changes to RPC stream subscribers and HTTP SSE/WebSocket clients.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event type values. These are part of the wire contract on both the RPC
// stream and the SSE feed.
const (
	TypeServiceRegistered = "service_registered"
	TypeStatusChange      = "status_change"
	TypeSubscribed        = "subscribed"
	TypeConnection        = "connection"
)

// Event is one state-change notification.
type Event struct {
	Type        string
	ServiceName string
	// Data is the JSON-encoded event payload, sent verbatim on the wire.
	Data      string
	Timestamp time.Time
}

// StatusChangeData is the payload of a status_change event.
type StatusChangeData struct {
	ServiceID   string `json:"service_id"`
	ServiceName string `json:"service_name"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

// RegisteredData is the payload of a service_registered event.
type RegisteredData struct {
	ServiceID   string `json:"service_id"`
	ServiceName string `json:"service_name"`
	Address     string `json:"service_address"`
	Port        int    `json:"service_port"`
}

// NewStatusChange builds a status_change event. Reason is optional.
func NewStatusChange(serviceID, serviceName, status, reason string) Event {
	data, _ := json.Marshal(StatusChangeData{
		ServiceID:   serviceID,
		ServiceName: serviceName,
		Status:      status,
		Reason:      reason,
	})
	return Event{
		Type:        TypeStatusChange,
		ServiceName: serviceName,
		Data:        string(data),
		Timestamp:   time.Now().UTC(),
	}
}

// NewRegistered builds a service_registered event.
func NewRegistered(serviceID, serviceName, address string, port int) Event {
	data, _ := json.Marshal(RegisteredData{
		ServiceID:   serviceID,
		ServiceName: serviceName,
		Address:     address,
		Port:        port,
	})
	return Event{
		Type:        TypeServiceRegistered,
		ServiceName: serviceName,
		Data:        string(data),
		Timestamp:   time.Now().UTC(),
	}
}

// queueCapacity bounds each subscriber's backlog. When a subscriber falls
// this far behind, its oldest events are dropped so the producer never
// blocks and other subscribers are unaffected.
const queueCapacity = 100

// Subscriber is one attached consumer with its own bounded queue.
type Subscriber struct {
	ch chan Event

	mu       sync.Mutex
	closed   bool
	skipped  int
	reported int
}

// Events returns the receive side of the subscriber's queue. The channel
// is closed when the subscriber is detached from the bus.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// push enqueues ev, dropping the oldest queued event when the buffer is
// full. Never blocks. Returns the number of events dropped since the last
// nonzero return, so callers can report each lag episode without
// repeating already-counted drops.
func (s *Subscriber) push(ev Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}

	select {
	case s.ch <- ev:
		return 0
	default:
	}

	// Full: make room by discarding the oldest event.
	select {
	case <-s.ch:
		s.skipped++
	default:
	}
	select {
	case s.ch <- ev:
	default:
		s.skipped++
	}

	delta := s.skipped - s.reported
	s.reported = s.skipped
	return delta
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Bus is the broadcast primitive. Publish fans an event out to every
// subscriber without ever blocking the producer.
//
// The zero value is not usable — create instances with NewBus.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	logger *zap.Logger
}

// NewBus creates an empty Bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[*Subscriber]struct{}),
		logger: logger.Named("events"),
	}
}

// Subscribe attaches a new consumer and returns its handle.
func (b *Bus) Subscribe() *Subscriber {
	s := &Subscriber{ch: make(chan Event, queueCapacity)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe detaches s and closes its event channel. Safe to call more
// than once.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	_, attached := b.subs[s]
	delete(b.subs, s)
	b.mu.Unlock()
	if attached {
		s.close()
	}
}

// Publish delivers ev to every attached subscriber. Slow consumers lose
// their oldest events rather than stalling the producer.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	targets := make([]*Subscriber, 0, len(b.subs))
	for s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if skipped := s.push(ev); skipped > 0 {
			b.logger.Warn("subscriber lagged, skipped events",
				zap.Int("skipped", skipped),
				zap.String("event_type", ev.Type),
			)
		}
	}
}

// SubscriberCount returns the number of attached subscribers. Intended for
// metrics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
