package document

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxScriptBytes bounds one delivered snippet.
const DefaultMaxScriptBytes = 1 << 20

// HTTPProvider loads scripts with an http.Client and executes the response
// body as a snippet. The ambient document is shared by every caller of Ambient.
type HTTPProvider struct {
	client   *http.Client
	logger   zerolog.Logger
	maxBytes int64

	ambientOnce sync.Once
	ambient     *httpDocument
	domain      string
}

// HTTPOption customizes an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithDomain sets the ambient document domain.
func WithDomain(domain string) HTTPOption {
	return func(p *HTTPProvider) {
		p.domain = strings.ToLower(strings.TrimSpace(domain))
	}
}

// WithLogger sets the logger used for load failures.
func WithLogger(logger zerolog.Logger) HTTPOption {
	return func(p *HTTPProvider) {
		p.logger = logger
	}
}

// WithMaxScriptBytes bounds response bodies. Non-positive keeps the default.
func WithMaxScriptBytes(n int64) HTTPOption {
	return func(p *HTTPProvider) {
		if n > 0 {
			p.maxBytes = n
		}
	}
}

func NewHTTPProvider(client *http.Client, opts ...HTTPOption) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	p := &HTTPProvider{
		client:   client,
		logger:   log.Logger,
		maxBytes: DefaultMaxScriptBytes,
		domain:   "localhost",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *HTTPProvider) Ambient() Document {
	p.ambientOnce.Do(func() {
		p.ambient = p.newDocument(p.domain, false)
	})
	return p.ambient
}

func (p *HTTPProvider) SupportsScripts() bool {
	return p != nil && p.client != nil
}

func (p *HTTPProvider) SupportsIsolation() bool {
	return true
}

// Isolated creates a fresh document with its own globals, relaxed to domain.
func (p *HTTPProvider) Isolated(domain string) (Document, error) {
	if !Relaxable(p.domain, domain) {
		return nil, fmt.Errorf("%w: %q from %q", ErrDomainMismatch, domain, p.domain)
	}
	return p.newDocument(strings.ToLower(strings.TrimSpace(domain)), true), nil
}

func (p *HTTPProvider) newDocument(domain string, isolated bool) *httpDocument {
	ctx, cancel := context.WithCancel(context.Background())
	return &httpDocument{
		provider: p,
		domain:   domain,
		isolated: isolated,
		ctx:      ctx,
		cancel:   cancel,
		globals:  make(map[string]any),
		scripts:  make(map[*httpScript]struct{}),
	}
}

type httpDocument struct {
	provider *HTTPProvider
	domain   string
	isolated bool
	ctx      context.Context
	cancel   context.CancelFunc

	mu        sync.Mutex
	globals   map[string]any
	scripts   map[*httpScript]struct{}
	destroyed bool
}

func (d *httpDocument) Domain() string {
	return d.domain
}

func (d *httpDocument) Global(name string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.globals[name]
	return v, ok
}

func (d *httpDocument) SetGlobal(name string, v any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	d.globals[name] = v
}

func (d *httpDocument) DeleteGlobal(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.globals, name)
}

func (d *httpDocument) CreateScript(src string) (Script, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, ErrDestroyed
	}
	return &httpScript{doc: d, src: src}, nil
}

// Destroy abandons every load in progress and clears the globals.
func (d *httpDocument) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	scripts := make([]*httpScript, 0, len(d.scripts))
	for s := range d.scripts {
		scripts = append(scripts, s)
	}
	d.scripts = make(map[*httpScript]struct{})
	d.globals = make(map[string]any)
	d.mu.Unlock()

	for _, s := range scripts {
		s.ClearHooks()
	}
	d.cancel()
}

func (d *httpDocument) attach(s *httpScript) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDestroyed
	}
	d.scripts[s] = struct{}{}
	return nil
}

func (d *httpDocument) detach(s *httpScript) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.scripts, s)
}

type httpScript struct {
	doc *httpDocument
	src string

	mu       sync.Mutex
	ready    func()
	cancel   context.CancelFunc
	attached bool
	detached bool
}

func (s *httpScript) Src() string {
	return s.src
}

func (s *httpScript) OnReady(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = f
}

func (s *httpScript) ClearHooks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = nil
}

func (s *httpScript) Attach() error {
	s.mu.Lock()
	if s.attached || s.detached {
		s.mu.Unlock()
		return fmt.Errorf("script %s already attached", s.src)
	}
	if err := s.doc.attach(s); err != nil {
		s.mu.Unlock()
		return err
	}
	ctx, cancel := context.WithCancel(s.doc.ctx)
	s.cancel = cancel
	s.attached = true
	s.mu.Unlock()

	go s.load(ctx)
	return nil
}

func (s *httpScript) Detach() {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	s.detached = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.doc.detach(s)
}

func (s *httpScript) load(ctx context.Context) {
	logger := s.doc.provider.logger.With().Str("src", s.src).Logger()
	body, err := s.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Debug().Err(err).Msg("script load failed")
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	if n, err := Run(s.doc, body); err != nil {
		logger.Warn().Err(err).Int("calls", n).Msg("script execution failed")
	}
	s.fireReady()
}

func (s *httpScript) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.src, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/javascript, text/javascript, */*")
	resp, err := s.doc.provider.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("script status %d", resp.StatusCode)
	}
	limit := s.doc.provider.maxBytes
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("script exceeds %d bytes", limit)
	}
	return body, nil
}

func (s *httpScript) fireReady() {
	s.mu.Lock()
	ready := s.ready
	s.ready = nil
	detached := s.detached
	s.mu.Unlock()
	if ready == nil || detached {
		return
	}
	ready()
}
