package jsonp

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

type EventType string

const (
	EventData  EventType = "data"
	EventError EventType = "error"
)

// Event is one terminal outcome. Write failures carry no RequestID.
type Event struct {
	Type      EventType
	RequestID string
	Data      json.RawMessage
	Err       error
}

// Sink receives every event a session emits.
type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(event Event) {
	f(event)
}

var discardSink = SinkFunc(func(Event) {})

// ErrHubClosed indicates Subscribe on a closed EventHub.
var ErrHubClosed = errors.New("jsonp event hub closed")

// EventHub fans events out to channel subscribers. A subscriber whose buffer
// is full misses the event; Emit never blocks.
type EventHub struct {
	logger zerolog.Logger

	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	dropped     uint64
	closed      bool
}

func NewEventHub(logger zerolog.Logger) *EventHub {
	return &EventHub{logger: logger, subscribers: map[chan Event]struct{}{}}
}

// Subscribe returns a channel of future events and a cancel func that
// closes it. buffer below 1 is treated as 1.
func (hub *EventHub) Subscribe(buffer int) (<-chan Event, func(), error) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	hub.mu.Lock()
	if hub.closed {
		hub.mu.Unlock()
		return nil, nil, ErrHubClosed
	}
	hub.subscribers[ch] = struct{}{}
	hub.mu.Unlock()

	var cancelOnce sync.Once
	cancel := func() {
		cancelOnce.Do(func() {
			hub.mu.Lock()
			defer hub.mu.Unlock()
			if _, ok := hub.subscribers[ch]; ok {
				delete(hub.subscribers, ch)
				close(ch)
			}
		})
	}
	return ch, cancel, nil
}

func (hub *EventHub) Emit(event Event) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for ch := range hub.subscribers {
		select {
		case ch <- event:
		default:
			hub.dropped++
			hub.logger.Debug().
				Str("event", string(event.Type)).
				Str("request", event.RequestID).
				Msg("event dropped for slow subscriber")
		}
	}
}

// Dropped returns how many deliveries were skipped for full subscribers.
func (hub *EventHub) Dropped() uint64 {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return hub.dropped
}

// Close closes every subscriber channel and rejects new subscriptions.
func (hub *EventHub) Close() {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.closed {
		return
	}
	hub.closed = true
	for ch := range hub.subscribers {
		delete(hub.subscribers, ch)
		close(ch)
	}
}
