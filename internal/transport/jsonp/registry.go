package jsonp

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"code.hybscloud.com/atomix"
	"github.com/danmuck/isonp/internal/document"
)

// Handler completes one request slot.
type Handler func(err error, data json.RawMessage)

// Registry maps request ids to completion handlers. It is the namespace
// object exposed on the hosting document, so a delivered snippet calling
// <name>.<id>(err, data) lands in Invoke. Ids come from one counter per
// registry, so sessions sharing a namespace never hand out the same id.
type Registry struct {
	name    string
	counter atomix.Uint32

	mu       sync.Mutex
	handlers map[string]Handler
	owners   int
	retired  bool
}

var _ document.Callable = (*Registry)(nil)

func NewRegistry(name string) *Registry {
	return &Registry{name: name, handlers: make(map[string]Handler)}
}

func (r *Registry) Name() string {
	return r.name
}

// next allocates the next request id, "0" first.
func (r *Registry) next() string {
	return strconv.FormatUint(uint64(r.counter.Add(1)-1), 10)
}

// acquire adds a session as owner. It fails once the last owner released
// the registry, so a retired namespace is never picked up again.
func (r *Registry) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired {
		return false
	}
	r.owners++
	return true
}

// release drops one owner and reports whether it was the last.
func (r *Registry) release() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owners > 0 {
		r.owners--
	}
	if r.owners == 0 {
		r.retired = true
	}
	return r.retired
}

// Owners reports how many sessions currently share the registry.
func (r *Registry) Owners() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owners
}

// Register adds h under id. Ids are never replaced.
func (r *Registry) Register(id string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[id]; ok {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateRequest, r.name, id)
	}
	r.handlers[id] = h
	return nil
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, id)
}

// Invoke calls the handler registered under id. It reports false, and does
// nothing, when id is absent. The handler runs outside the registry lock.
func (r *Registry) Invoke(id string, err error, data json.RawMessage) bool {
	r.mu.Lock()
	h := r.handlers[id]
	r.mu.Unlock()
	if h == nil {
		return false
	}
	h(err, data)
	return true
}

func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[id]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// IDs returns the registered ids in numeric order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sortIDs(ids)
	return ids
}

// Call adapts a snippet call to Invoke. The first argument is the error
// payload, the second the data. A call for an absent id is a no-op.
func (r *Registry) Call(member string, args []json.RawMessage) error {
	var errArg, dataArg json.RawMessage
	if len(args) > 0 {
		errArg = args[0]
	}
	if len(args) > 1 && string(args[1]) != "null" {
		dataArg = args[1]
	}
	r.Invoke(member, decodeRemoteError(member, errArg), dataArg)
	return nil
}

func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.ParseUint(ids[i], 10, 64)
		b, errB := strconv.ParseUint(ids[j], 10, 64)
		if errA != nil || errB != nil {
			return ids[i] < ids[j]
		}
		return a < b
	})
}
