package jsonp

import (
	"encoding/json"
	"time"

	"code.hybscloud.com/atomix"
	"github.com/danmuck/isonp/internal/document"
)

// Callback receives the outcome of one poll.
type Callback func(err error, data json.RawMessage)

// requestSlot is one outstanding poll. It keeps its own references to the
// registry and supervisor so completion still works after End cleared the
// session's.
type requestSlot struct {
	session  *Session
	id       string
	path     string
	ns       *Registry
	timers   *supervisor
	script   document.Script
	callback Callback
	started  time.Time
	timeout  time.Duration

	fired atomix.Uint32
}

// complete is the registered handler. Only the first call has any effect.
func (slot *requestSlot) complete(err error, data json.RawMessage) {
	if slot.fired.Add(1) != 1 {
		return
	}
	slot.timers.cancel(slot.path)
	slot.ns.Unregister(slot.id)
	slot.script.ClearHooks()
	slot.script.Detach()
	slot.session.finish(slot, err, data)
}

// expire runs when the deadline passes. An absent entry means the slot
// already completed.
func (slot *requestSlot) expire() {
	slot.ns.Invoke(slot.id, timeoutError(slot.id), nil)
}

// loaded runs on the script ready signal. The delivered snippet normally
// completed the slot already, in which case this is a no-op.
func (slot *requestSlot) loaded() {
	slot.ns.Invoke(slot.id, nil, nil)
}
