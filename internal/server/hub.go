package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/danmuck/isonp/internal/clock"
	"github.com/danmuck/isonp/internal/observability"
	"github.com/rs/zerolog"
)

// Hub holds one mailbox per client session.
type Hub struct {
	clock    clock.Clock
	maxQueue int
	logger   zerolog.Logger

	mu     sync.Mutex
	boxes  map[string]*mailbox
	done   chan struct{}
	closed bool
}

type mailbox struct {
	queue    []json.RawMessage
	notify   chan struct{}
	lastSeen time.Time
	waiting  int
}

func NewHub(c clock.Clock, maxQueue int, logger zerolog.Logger) *Hub {
	if c == nil {
		c = clock.System()
	}
	if maxQueue <= 0 {
		maxQueue = DefaultConfig().MaxQueue
	}
	return &Hub{
		clock:    c,
		maxQueue: maxQueue,
		logger:   logger,
		boxes:    make(map[string]*mailbox),
		done:     make(chan struct{}),
	}
}

// boxLocked returns the mailbox for sid, creating it, and marks it seen.
func (h *Hub) boxLocked(sid string) *mailbox {
	box := h.boxes[sid]
	if box == nil {
		box = &mailbox{notify: make(chan struct{})}
		h.boxes[sid] = box
		observability.SetServerMailboxes(len(h.boxes))
	}
	box.lastSeen = h.clock.Now()
	return box
}

// Touch creates the mailbox for sid if needed and refreshes its idle time.
func (h *Hub) Touch(sid string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.boxLocked(sid)
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.boxes)
}

// Publish queues msg for sid. A full mailbox drops its oldest message.
func (h *Hub) Publish(sid string, msg json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishLocked(sid, h.boxLocked(sid), msg)
}

// Broadcast queues msg for every known session and returns how many received it.
func (h *Hub) Broadcast(msg json.RawMessage) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sid, box := range h.boxes {
		h.publishLocked(sid, box, msg)
	}
	return len(h.boxes)
}

func (h *Hub) publishLocked(sid string, box *mailbox, msg json.RawMessage) {
	box.queue = append(box.queue, msg)
	if over := len(box.queue) - h.maxQueue; over > 0 {
		box.queue = append([]json.RawMessage(nil), box.queue[over:]...)
		observability.RecordServerDrop(over)
		h.logger.Warn().Str("session", sid).Int("dropped", over).Msg("mailbox full, dropped oldest")
	}
	close(box.notify)
	box.notify = make(chan struct{})
}

// Drain returns every message queued for sid, waiting up to hold for the
// first one. It returns an empty, non-nil slice when the hold expires or the
// hub closes, and ctx.Err() when ctx ends first.
func (h *Hub) Drain(ctx context.Context, sid string, hold time.Duration) ([]json.RawMessage, error) {
	var timeout <-chan time.Time
	if hold > 0 {
		timer := time.NewTimer(hold)
		defer timer.Stop()
		timeout = timer.C
	}

	h.mu.Lock()
	box := h.boxLocked(sid)
	box.waiting++
	defer func() {
		h.mu.Lock()
		box.waiting--
		box.lastSeen = h.clock.Now()
		h.mu.Unlock()
	}()
	for {
		if len(box.queue) > 0 {
			msgs := box.queue
			box.queue = nil
			h.mu.Unlock()
			return msgs, nil
		}
		if hold <= 0 || h.closed {
			h.mu.Unlock()
			return []json.RawMessage{}, nil
		}
		notify := box.notify
		h.mu.Unlock()

		select {
		case <-notify:
		case <-timeout:
			return []json.RawMessage{}, nil
		case <-h.done:
			return []json.RawMessage{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		h.mu.Lock()
	}
}

// Sweep removes mailboxes idle for longer than ttl with no poll waiting on them.
func (h *Hub) Sweep(ttl time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.clock.Now()
	removed := 0
	for sid, box := range h.boxes {
		if box.waiting > 0 || now.Sub(box.lastSeen) <= ttl {
			continue
		}
		delete(h.boxes, sid)
		removed++
	}
	if removed > 0 {
		observability.SetServerMailboxes(len(h.boxes))
		h.logger.Debug().Int("removed", removed).Int("remaining", len(h.boxes)).Msg("mailboxes swept")
	}
	return removed
}

// Close releases every waiting Drain with an empty result.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}
