package jsonp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/danmuck/isonp/internal/clock"
	"github.com/danmuck/isonp/internal/document"
	"github.com/danmuck/isonp/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Static transport capabilities.
const (
	CrossDomain = true
	Binary      = false
)

// Supported reports whether provider can create remote-loading elements.
func Supported(provider document.Provider) bool {
	return provider != nil && provider.SupportsScripts()
}

type State int32

const (
	StateUninitialized State = iota
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Options supplies the session collaborators. Zero fields get defaults.
type Options struct {
	// Documents defaults to an HTTPProvider whose ambient domain is the poll URL host.
	Documents document.Provider
	// URLs defaults to a QueryComposer over Config.URL with sid and mode parameters.
	URLs URLComposer
	// Writer defaults to an HTTPWriter on Config.WriteURL when it is set.
	Writer     Writer
	Clock      clock.Clock
	Sink       Sink
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Session is one logical polling connection.
type Session struct {
	cfg    Config
	id     string
	logger zerolog.Logger
	docs   document.Provider
	urls   URLComposer
	writer Writer
	clock  clock.Clock
	sink   Sink

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	doc      document.Document
	isolated bool
	ns       *Registry
	timers   *supervisor
	active   map[string]*requestSlot
}

func New(cfg Config, opts Options) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	id := uuid.NewString()

	docs := opts.Documents
	if docs == nil {
		pollURL, _ := url.Parse(cfg.URL)
		docs = document.NewHTTPProvider(opts.HTTPClient,
			document.WithDomain(pollURL.Hostname()),
			document.WithLogger(logger))
	}
	if !Supported(docs) {
		return nil, ErrUnsupported
	}

	urls := opts.URLs
	if urls == nil {
		composer, err := NewQueryComposer(cfg.URL, url.Values{
			"sid":  {id},
			"mode": {string(cfg.Mode)},
		})
		if err != nil {
			return nil, err
		}
		urls = composer
	}

	writer := opts.Writer
	if writer == nil && cfg.WriteURL != "" {
		writeURL, err := withQuery(cfg.WriteURL, "sid", id)
		if err != nil {
			return nil, fmt.Errorf("%w: write_url: %v", ErrInvalidConfig, err)
		}
		writer = NewHTTPWriter(opts.HTTPClient, writeURL)
	}

	c := opts.Clock
	if c == nil {
		c = clock.System()
	}
	sink := opts.Sink
	if sink == nil {
		sink = discardSink
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:    cfg,
		id:     id,
		logger: logger.With().Str("session", id).Str("mode", string(cfg.Mode)).Logger(),
		docs:   docs,
		urls:   urls,
		writer: writer,
		clock:  c,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]*requestSlot),
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Config() Config {
	return s.cfg
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active returns the ids of outstanding slots in numeric order.
func (s *Session) Active() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sortIDs(ids)
	return ids
}

// Isolated reports whether the session is hosted in its own document.
func (s *Session) Isolated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isolated
}

// Initialize selects the hosting document, installs the namespace and starts
// the poll loop. Long mode polls immediately; short mode polls after one Interval.
func (s *Session) Initialize() error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return ErrAlreadyInitialized
	}
	doc, isolated := s.selectDocument()
	s.doc = doc
	s.isolated = isolated
	s.ns = ensureNamespace(doc, s.cfg.Global)
	s.timers = newSupervisor(s.clock)
	s.state = StateActive
	s.mu.Unlock()

	observability.SessionOpened()
	s.logger.Info().
		Str("domain", doc.Domain()).
		Bool("isolated", isolated).
		Str("global", s.cfg.Global).
		Msg("jsonp session active")

	switch s.cfg.Mode {
	case ModeShort:
		s.scheduleTick()
	default:
		s.loopPoll()
	}
	return nil
}

func (s *Session) selectDocument() (document.Document, bool) {
	domain := s.cfg.Domain
	if domain == "" {
		domain = s.docs.Ambient().Domain()
	}
	if s.docs.SupportsIsolation() {
		doc, err := s.docs.Isolated(domain)
		if err == nil {
			return doc, true
		}
		s.logger.Debug().Err(err).Str("domain", domain).Msg("isolated document unavailable, using ambient")
	}
	return s.docs.Ambient(), false
}

// ensureNamespace joins a live registry already installed under name, or
// installs a new one. Either way the caller becomes an owner.
func ensureNamespace(doc document.Document, name string) *Registry {
	if v, ok := doc.Global(name); ok {
		if ns, ok := v.(*Registry); ok && ns.acquire() {
			return ns
		}
	}
	ns := NewRegistry(name)
	ns.acquire()
	doc.SetGlobal(name, ns)
	return ns
}

// Poll opens one request slot and returns its id. cb may be nil.
// In long mode it fails with ErrPollInFlight while another slot is active.
func (s *Session) Poll(cb Callback) (string, error) {
	return s.poll(cb)
}

func (s *Session) poll(cb Callback) (string, error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return "", ErrNotActive
	}
	if s.cfg.Mode == ModeLong && len(s.active) > 0 {
		s.mu.Unlock()
		return "", ErrPollInFlight
	}

	id := s.ns.next()
	path := s.cfg.Global + "." + id
	src, err := s.urls.Compose(path)
	if err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("compose %s: %w", path, err)
	}
	el, err := s.doc.CreateScript(src)
	if err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("create script %s: %w", path, err)
	}
	slot := &requestSlot{
		session:  s,
		id:       id,
		path:     path,
		ns:       s.ns,
		timers:   s.timers,
		script:   el,
		callback: cb,
		started:  s.clock.Now(),
		timeout:  s.cfg.Timeout,
	}
	if err := s.ns.Register(id, slot.complete); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.active[id] = slot
	s.timers.schedule(path, s.cfg.Timeout, slot.expire)
	el.OnReady(slot.loaded)
	s.mu.Unlock()

	observability.RecordPollStarted(string(s.cfg.Mode))
	s.logger.Debug().Str("request", id).Str("src", src).Msg("poll started")

	if err := el.Attach(); err != nil {
		slot.complete(fmt.Errorf("attach %s: %w", path, err), nil)
	}
	return id, nil
}

// finish runs once per slot, after the slot released its registry entry,
// deadline and script.
func (s *Session) finish(slot *requestSlot, err error, data json.RawMessage) {
	s.mu.Lock()
	delete(s.active, slot.id)
	s.mu.Unlock()

	outcome := outcomeOf(err)
	observability.RecordPollCompleted(string(s.cfg.Mode), outcome, s.clock.Now().Sub(slot.started))

	event := Event{Type: EventData, RequestID: slot.id, Data: data}
	if err != nil {
		event = Event{Type: EventError, RequestID: slot.id, Err: err}
		logEvent := s.logger.Debug()
		if outcome == observability.OutcomeTimeout || outcome == observability.OutcomeRemoteError {
			logEvent = s.logger.Warn()
		}
		logEvent.Str("request", slot.id).Str("outcome", outcome).Err(err).Msg("poll failed")
	} else {
		s.logger.Debug().Str("request", slot.id).Int("bytes", len(data)).Msg("poll completed")
	}

	if slot.callback != nil {
		slot.callback(err, data)
	}
	s.sink.Emit(event)

	if s.cfg.Mode == ModeLong {
		s.scheduleNext()
	}
}

func outcomeOf(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return observability.OutcomeData
	case errors.Is(err, ErrTimeout):
		return observability.OutcomeTimeout
	case errors.Is(err, ErrAborted):
		return observability.OutcomeAborted
	case errors.As(err, &remote):
		return observability.OutcomeRemoteError
	default:
		return observability.OutcomeError
	}
}

func (s *Session) scheduleNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	s.timers.schedule(s.cfg.Global+":next", s.cfg.Interval, s.loopPoll)
}

// loopPoll is the long-mode loop step. A slot already in flight will re-arm
// the loop itself when it completes.
func (s *Session) loopPoll() {
	_, err := s.poll(nil)
	switch {
	case err == nil, errors.Is(err, ErrPollInFlight), errors.Is(err, ErrNotActive):
		return
	}
	s.logger.Warn().Err(err).Msg("poll setup failed")
	s.sink.Emit(Event{Type: EventError, Err: err})
	s.scheduleNext()
}

func (s *Session) scheduleTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	s.timers.schedule(s.cfg.Global+":tick", s.cfg.Interval, s.tick)
}

// tick is the short-mode loop step: re-arm first, then poll.
func (s *Session) tick() {
	s.scheduleTick()
	if _, err := s.poll(nil); err != nil && !errors.Is(err, ErrNotActive) {
		s.logger.Warn().Err(err).Msg("poll setup failed")
		s.sink.Emit(Event{Type: EventError, Err: err})
	}
}

// Write sends message on the outbound path without touching the poll loop.
// The send runs in the background; cb, when non-nil, receives its outcome.
// A failure is also emitted as an error event, unless End cancelled the send.
func (s *Session) Write(message []byte, cb func(error)) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrNotActive
	}
	if s.writer == nil {
		s.mu.Unlock()
		return ErrNoWriter
	}
	ctx := s.ctx
	s.mu.Unlock()

	payload := append([]byte(nil), message...)
	go func() {
		err := s.writer.Write(ctx, payload)
		observability.RecordWrite(err == nil)
		// a write cut short by End reports only to its own callback
		torndown := err != nil && errors.Is(err, context.Canceled) && s.State() == StateEnded
		if err != nil {
			err = &OutboundSendError{Err: err}
			if torndown {
				s.logger.Debug().Err(err).Int("bytes", len(payload)).Msg("write cancelled by end")
			} else {
				s.logger.Warn().Err(err).Int("bytes", len(payload)).Msg("write failed")
			}
		}
		if cb != nil {
			cb(err)
		}
		if err != nil && !torndown {
			s.sink.Emit(Event{Type: EventError, Err: err})
		}
	}()
	return nil
}

// End tears the session down. Deadlines are cancelled first, then every id
// this session still has outstanding completes with ErrAborted, then the
// namespace is removed if no other session shares it, and an isolated
// document is destroyed last. Only the first call does anything and reports
// true. A Write still in flight fails with its context cancelled; its
// callback still runs but no event is emitted for it.
func (s *Session) End() bool {
	s.mu.Lock()
	timers := s.timers
	if timers == nil {
		s.mu.Unlock()
		return false
	}
	s.timers = nil
	s.state = StateEnded
	ns, doc, isolated := s.ns, s.doc, s.isolated
	owned := make([]string, 0, len(s.active))
	for id := range s.active {
		owned = append(owned, id)
	}
	s.mu.Unlock()
	sortIDs(owned)

	timers.cancelAll()
	aborted := 0
	for _, id := range owned {
		if ns.Invoke(id, abortedError(id), nil) {
			aborted++
		}
	}
	if ns.release() {
		if v, ok := doc.Global(s.cfg.Global); ok && v == any(ns) {
			doc.DeleteGlobal(s.cfg.Global)
		}
	}
	s.cancel()

	s.mu.Lock()
	s.ns = nil
	s.doc = nil
	s.active = make(map[string]*requestSlot)
	s.mu.Unlock()

	if isolated {
		doc.Destroy()
	}
	observability.SessionClosed()
	s.logger.Info().Int("aborted", aborted).Msg("jsonp session ended")
	return true
}

// Destroy is End.
func (s *Session) Destroy() bool {
	return s.End()
}
