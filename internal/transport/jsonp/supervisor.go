package jsonp

import (
	"sync"
	"time"

	"github.com/danmuck/isonp/internal/clock"
)

// supervisor keeps named, cancelable deadlines. Scheduling a name again
// replaces the earlier deadline. After cancelAll it accepts nothing new.
type supervisor struct {
	clock clock.Clock

	mu     sync.Mutex
	timers map[string]*deadline
	closed bool
}

type deadline struct {
	timer clock.Timer
}

func newSupervisor(c clock.Clock) *supervisor {
	return &supervisor{clock: c, timers: make(map[string]*deadline)}
}

func (s *supervisor) schedule(name string, d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if prev := s.timers[name]; prev != nil {
		prev.timer.Stop()
	}
	entry := &deadline{}
	s.timers[name] = entry
	entry.timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		if s.timers[name] != entry {
			// cancelled or replaced while this callback was already on its way
			s.mu.Unlock()
			return
		}
		delete(s.timers, name)
		s.mu.Unlock()
		f()
	})
}

func (s *supervisor) cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.timers[name]
	if entry == nil {
		return
	}
	delete(s.timers, name)
	entry.timer.Stop()
}

func (s *supervisor) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for name, entry := range s.timers {
		entry.timer.Stop()
		delete(s.timers, name)
	}
}

func (s *supervisor) pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[name]
	return ok
}

func (s *supervisor) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
