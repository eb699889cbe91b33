// Package registry holds the in-memory catalog of platforms, their verbs and
// JSON schemas, and the per-platform ping timestamps maintained by the
// liveness subsystem. The catalog is immutable once the dispatcher starts;
// only the ping timestamps change afterwards.
package registry

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/sockethub/dispatcher/internal/protocol"
)

// Session is the per-connection handle passed to local verb handlers.
type Session interface {
	SessionID() int64
	IsRegistered() bool
	SetRegistered(registered bool)
	Send(frame *protocol.Frame) error
	Set(key string, value any)
	Value(key string) (any, bool)
}

// ResponseFunc is the (err, data) pair handed to local handlers: a non-nil
// err yields an error frame echoing the request, otherwise data is wrapped in
// a message frame.
type ResponseFunc func(err error, data any)

// HandlerFunc executes a verb in-process instead of forwarding it to a
// platform listener over the queue.
type HandlerFunc func(req map[string]any, sess Session, respond ResponseFunc)

// Verb is an action defined under a platform.
type Verb struct {
	Name    string
	Handler HandlerFunc
	schema  *gojsonschema.Schema
}

// Validate applies the verb's schema to the full request object. It returns
// the validator's first complaint, or nil.
func (v *Verb) Validate(req map[string]any) error {
	if v.schema == nil {
		return nil
	}
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(req))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	return fmt.Errorf("%s", result.Errors()[0].String())
}

// Platform is a named integration owning a verb set. Remote platforms carry
// ping timestamps; local platforms execute in-process and are never pinged.
type Platform struct {
	Name  string
	Local bool

	verbs map[string]*Verb

	// Unix millis, written by the liveness subsystem, read by ingress.
	lastSent     atomic.Int64
	lastReceived atomic.Int64
}

// Verb looks up a verb by name.
func (p *Platform) Verb(name string) (*Verb, bool) {
	v, ok := p.verbs[name]
	return v, ok
}

// AddVerb registers a verb with its schema document (any JSON-marshalable
// value; an empty map accepts every request) and an optional local handler.
func (p *Platform) AddVerb(name string, schema any, handler HandlerFunc) error {
	if _, exists := p.verbs[name]; exists {
		return fmt.Errorf("verb %q already defined under platform %q", name, p.Name)
	}
	v := &Verb{Name: name, Handler: handler}
	if schema != nil {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			return fmt.Errorf("compile schema for %s/%s: %w", p.Name, name, err)
		}
		v.schema = compiled
	}
	p.verbs[name] = v
	return nil
}

// ResetPing starts a fresh liveness round: the platform is pending until a
// ping or ping-response arrives.
func (p *Platform) ResetPing(t time.Time) {
	p.lastSent.Store(t.UnixMilli())
	p.lastReceived.Store(0)
}

// MarkPingSent records a (re-)broadcast ping.
func (p *Platform) MarkPingSent(t time.Time) {
	p.lastSent.Store(t.UnixMilli())
}

// MarkPingReceived records an inbound ping or ping-response from the
// platform's listener.
func (p *Platform) MarkPingReceived(t time.Time) {
	p.lastReceived.Store(t.UnixMilli())
}

// Responsive reports whether the listener answered the most recent ping
// round. Local platforms are always responsive.
func (p *Platform) Responsive() bool {
	if p.Local {
		return true
	}
	return p.lastReceived.Load() >= p.lastSent.Load()
}

// Seen reports whether the platform's listener has ever answered a ping.
// A remote platform that was never seen is rejected at ingress.
func (p *Platform) Seen() bool {
	if p.Local {
		return true
	}
	return p.lastReceived.Load() != 0
}

// Registry is the platform catalog.
type Registry struct {
	platforms map[string]*Platform
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{platforms: make(map[string]*Platform)}
}

// Add registers a platform. Adding a duplicate name is an error.
func (r *Registry) Add(name string, local bool) (*Platform, error) {
	if _, exists := r.platforms[name]; exists {
		return nil, fmt.Errorf("platform %q already registered", name)
	}
	p := &Platform{Name: name, Local: local, verbs: make(map[string]*Verb)}
	r.platforms[name] = p
	return p, nil
}

// Platform looks up a platform by name.
func (r *Registry) Platform(name string) (*Platform, bool) {
	p, ok := r.platforms[name]
	return p, ok
}

// Remote returns the remote platforms among names, skipping names the
// registry does not know.
func (r *Registry) Remote(names []string) []*Platform {
	var remote []*Platform
	for _, name := range names {
		if p, ok := r.platforms[name]; ok && !p.Local {
			remote = append(remote, p)
		}
	}
	return remote
}
