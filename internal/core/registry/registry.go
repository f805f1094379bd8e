// Package registry tracks live proxy sessions by id.
package registry

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"m0n1t0r_go/internal/core/scope"
)

// Kind describes what a session is. It is one of Forward or Socks5.
type Kind interface {
	kind() string
}

// Forward is a reverse port-forward: the agent listens on To and every
// accepted connection is relayed to the local From.
type Forward struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Agent string `json:"addr"`
}

func (Forward) kind() string { return "Forward" }

// Socks5 is a local SOCKS5 listener whose CONNECTs are dialed by the agent.
type Socks5 struct {
	Listen string `json:"from"`
	Agent  string `json:"addr"`
	Auth   string `json:"auth,omitempty"`
}

func (Socks5) kind() string { return "Socks5" }

// Summary is the read-only view of a session handed out by List.
type Summary struct {
	ID     string
	Kind   Kind
	Opened time.Time
}

// MarshalJSON renders the tagged form {"key":..,"type":{"Forward":{..}}}.
func (s Summary) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Key    string          `json:"key"`
		Type   map[string]Kind `json:"type"`
		Opened time.Time       `json:"opened"`
	}{
		Key:    s.ID,
		Type:   map[string]Kind{s.Kind.kind(): s.Kind},
		Opened: s.Opened,
	})
}

// Agent returns the agent id the session belongs to.
func (s Summary) Agent() string {
	switch k := s.Kind.(type) {
	case Forward:
		return k.Agent
	case Socks5:
		return k.Agent
	}
	return ""
}

// Observer is told about sessions entering and leaving the registry.
// Callbacks run outside the registry lock.
type Observer interface {
	OnOpen(Summary)
	OnClose(Summary)
}

type entry struct {
	summary Summary
	cancel  func(error)
}

type Registry struct {
	mu       sync.Mutex
	entries  map[string]*entry
	observer Observer
	newID    func() string
}

type Option func(*Registry)

func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Insert stores a session and returns its id. cancel is the session-scope
// cancel; Close calls it.
func (r *Registry) Insert(kind Kind, cancel func(error)) string {
	r.mu.Lock()
	id := r.newID()
	for {
		if _, taken := r.entries[id]; !taken {
			break
		}
		id = r.newID()
	}
	e := &entry{
		summary: Summary{ID: id, Kind: kind, Opened: time.Now()},
		cancel:  cancel,
	}
	r.entries[id] = e
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.OnOpen(e.summary)
	}
	return id
}

// Remove deletes id. Only the call that actually removed it gets ok == true.
func (r *Registry) Remove(id string) (Summary, bool) {
	e, ok := r.take(id)
	if !ok {
		return Summary{}, false
	}
	return e.summary, true
}

// Close removes the session and fires its cancel. Closing an unknown id is a no-op.
func (r *Registry) Close(id string) bool {
	e, ok := r.take(id)
	if !ok {
		return false
	}
	e.cancel(scope.ErrSessionClosed)
	return true
}

func (r *Registry) take(id string) (*entry, bool) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if ok && r.observer != nil {
		r.observer.OnClose(e.summary)
	}
	return e, ok
}

// CloseAgent closes every session that belongs to agent and returns how many.
func (r *Registry) CloseAgent(agent string) int {
	n := 0
	for _, s := range r.List() {
		if s.Agent() == agent && r.Close(s.ID) {
			n++
		}
	}
	return n
}

// List returns a snapshot ordered by opening time.
func (r *Registry) List() []Summary {
	r.mu.Lock()
	out := make([]Summary, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.summary)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Opened.Before(out[j].Opened) })
	return out
}

func (r *Registry) Get(id string) (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Summary{}, false
	}
	return e.summary, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
