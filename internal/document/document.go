package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/isonp/internal/protocol/script"
)

var (
	// ErrDestroyed indicates use of a document after Destroy.
	ErrDestroyed = errors.New("document destroyed")
	// ErrIsolationUnsupported indicates the provider cannot create isolated documents.
	ErrIsolationUnsupported = errors.New("isolated documents unsupported")
	// ErrDomainMismatch indicates a domain that is not the ambient domain or a parent of it.
	ErrDomainMismatch = errors.New("domain is not relaxable from ambient domain")
	// ErrNotCallable indicates a snippet addressed a global that cannot receive calls.
	ErrNotCallable = errors.New("global is not callable")
)

// Callable is a global that receives snippet calls addressed to one of its members.
type Callable interface {
	Call(member string, args []json.RawMessage) error
}

// Script is a remote-loading element. Hooks must be set before Attach.
type Script interface {
	Src() string
	// OnReady sets the hook fired once the delivered snippet has executed.
	OnReady(func())
	// ClearHooks drops the ready hook without firing it.
	ClearHooks()
	// Attach inserts the element and starts loading it.
	Attach() error
	// Detach removes the element and abandons any load still in progress.
	Detach()
}

// Document hosts scripts and the globals they can reach.
type Document interface {
	Domain() string
	Global(name string) (any, bool)
	SetGlobal(name string, v any)
	DeleteGlobal(name string)
	CreateScript(src string) (Script, error)
	Destroy()
}

// Provider hands out hosting documents.
type Provider interface {
	Ambient() Document
	SupportsScripts() bool
	SupportsIsolation() bool
	Isolated(domain string) (Document, error)
}

// Run executes every call in body against doc's globals, in order.
// It returns the number of calls dispatched and the first error met.
// Calls after a failing one are still dispatched.
func Run(doc Document, body []byte) (int, error) {
	calls, err := script.Parse(body)
	if err != nil {
		return 0, err
	}
	var firstErr error
	dispatched := 0
	for _, call := range calls {
		global, member := call.Target()
		v, ok := doc.Global(global)
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s is undefined", ErrNotCallable, global)
			}
			continue
		}
		target, ok := v.(Callable)
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s", ErrNotCallable, global)
			}
			continue
		}
		dispatched++
		if err := target.Call(member, call.Args); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return dispatched, firstErr
}

// Relaxable reports whether a document on ambient may relax its domain to domain:
// equal, or a dot-separated parent of ambient.
func Relaxable(ambient, domain string) bool {
	ambient = strings.ToLower(strings.TrimSpace(ambient))
	domain = strings.ToLower(strings.TrimSpace(domain))
	if ambient == "" || domain == "" {
		return false
	}
	if ambient == domain {
		return true
	}
	if !strings.Contains(domain, ".") {
		return false
	}
	return strings.HasSuffix(ambient, "."+domain)
}
