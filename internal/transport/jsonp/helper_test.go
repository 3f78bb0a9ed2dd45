package jsonp

import (
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/isonp/internal/clock"
	"github.com/danmuck/isonp/internal/testutil/memdoc"
	"github.com/danmuck/isonp/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) count(kind EventType) int {
	n := 0
	for _, event := range r.snapshot() {
		if event.Type == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	t        *testing.T
	provider *memdoc.Provider
	clock    *clock.Manual
	sink     *recorder
	session  *Session
}

func newFixture(t *testing.T, mutate func(*Config, *Options)) *fixture {
	t.Helper()
	testlog.Start(t)
	f := &fixture{
		t:        t,
		provider: memdoc.New(),
		clock:    clock.NewManual(time.Unix(1700000000, 0)),
		sink:     &recorder{},
	}
	cfg := DefaultConfig()
	cfg.URL = "http://poll.example.com/poll"
	opts := Options{Documents: f.provider, Clock: f.clock, Sink: f.sink}
	if mutate != nil {
		mutate(&cfg, &opts)
	}
	s, err := New(cfg, opts)
	require.NoError(t, err)
	f.session = s
	return f
}

func (f *fixture) init() *fixture {
	f.t.Helper()
	require.NoError(f.t, f.session.Initialize())
	return f
}

// document returns the document the session is hosted in.
func (f *fixture) document() *memdoc.Document {
	f.t.Helper()
	if docs := f.provider.IsolatedDocuments(); len(docs) > 0 {
		return docs[len(docs)-1]
	}
	return f.provider.AmbientDocument()
}

func (f *fixture) namespace() *Registry {
	f.t.Helper()
	v, ok := f.document().Global(DefaultGlobal)
	require.True(f.t, ok, "namespace global missing")
	ns, ok := v.(*Registry)
	require.True(f.t, ok, "namespace global is %T", v)
	return ns
}

// script finds the script element created for request id.
func (f *fixture) script(id string) *memdoc.Script {
	f.t.Helper()
	want := DefaultGlobal + "." + id
	for _, s := range f.document().Scripts() {
		u, err := url.Parse(s.Src())
		require.NoError(f.t, err)
		if u.Query().Get(CallbackParam) == want {
			return s
		}
	}
	f.t.Fatalf("no script for request %s", id)
	return nil
}
