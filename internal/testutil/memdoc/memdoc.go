// Package memdoc is an in-memory document.Provider for tests. Scripts never
// fetch anything; a test delivers a body with Load or fires the ready hook
// directly with Ready.
package memdoc

import (
	"fmt"
	"sync"

	"github.com/danmuck/isonp/internal/document"
)

type Provider struct {
	mu          sync.Mutex
	ambient     *Document
	isolated    []*Document
	noIsolation bool
	noScripts   bool
}

func New() *Provider {
	return &Provider{ambient: newDocument("localhost")}
}

// DisableIsolation makes the provider report no isolated-document support.
func (p *Provider) DisableIsolation() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noIsolation = true
}

// DisableScripts makes the provider report no script support.
func (p *Provider) DisableScripts() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noScripts = true
}

func (p *Provider) Ambient() document.Document {
	return p.ambient
}

// AmbientDocument is Ambient with the concrete type.
func (p *Provider) AmbientDocument() *Document {
	return p.ambient
}

func (p *Provider) SupportsScripts() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.noScripts
}

func (p *Provider) SupportsIsolation() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.noIsolation
}

func (p *Provider) Isolated(domain string) (document.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.noIsolation {
		return nil, document.ErrIsolationUnsupported
	}
	d := newDocument(domain)
	p.isolated = append(p.isolated, d)
	return d, nil
}

// IsolatedDocuments returns every isolated document handed out so far.
func (p *Provider) IsolatedDocuments() []*Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Document(nil), p.isolated...)
}

type Document struct {
	domain string

	mu        sync.Mutex
	globals   map[string]any
	scripts   []*Script
	destroyed bool
}

func newDocument(domain string) *Document {
	return &Document{domain: domain, globals: make(map[string]any)}
}

func (d *Document) Domain() string {
	return d.domain
}

func (d *Document) Global(name string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.globals[name]
	return v, ok
}

func (d *Document) SetGlobal(name string, v any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.globals[name] = v
}

func (d *Document) DeleteGlobal(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.globals, name)
}

func (d *Document) CreateScript(src string) (document.Script, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, document.ErrDestroyed
	}
	s := &Script{doc: d, src: src}
	d.scripts = append(d.scripts, s)
	return s, nil
}

func (d *Document) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = true
	d.globals = make(map[string]any)
}

func (d *Document) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

// Scripts returns every script created on d, in creation order.
func (d *Document) Scripts() []*Script {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Script(nil), d.scripts...)
}

// Attached returns scripts that are attached and not yet detached.
func (d *Document) Attached() []*Script {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Script, 0, len(d.scripts))
	for _, s := range d.scripts {
		if s.isAttached() {
			out = append(out, s)
		}
	}
	return out
}

type Script struct {
	doc *Document
	src string

	mu       sync.Mutex
	ready    func()
	attached bool
	detached bool
}

func (s *Script) Src() string {
	return s.src
}

func (s *Script) OnReady(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = f
}

func (s *Script) ClearHooks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = nil
}

func (s *Script) Attach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached {
		return fmt.Errorf("script %s already attached", s.src)
	}
	s.attached = true
	return nil
}

func (s *Script) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached = true
}

func (s *Script) isAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached && !s.detached
}

// Detached reports whether Detach was called.
func (s *Script) Detached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

// HasHook reports whether a ready hook is still set.
func (s *Script) HasHook() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready != nil
}

// Load executes body against the owning document, then fires the ready hook.
func (s *Script) Load(body string) error {
	_, err := document.Run(s.doc, []byte(body))
	s.Ready()
	return err
}

// Ready fires the ready hook, if one is still set. The hook stays set so a
// test can fire it more than once.
func (s *Script) Ready() {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	if ready != nil {
		ready()
	}
}
