package agent

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"m0n1t0r_go/internal/core/scope"
	"m0n1t0r_go/internal/shared/errors"
	"m0n1t0r_go/internal/shared/logger"
)

// Handle is one live agent connection.
type Handle struct {
	ID          string
	Name        string
	Agent       Agent
	Scope       *scope.Broadcast
	ConnectedAt time.Time

	closeOnce sync.Once
}

// NewHandle wires an agent to a fresh connection scope derived from parent.
func NewHandle(parent context.Context, id, name string, a Agent) *Handle {
	return &Handle{
		ID:          id,
		Name:        name,
		Agent:       a,
		Scope:       scope.NewBroadcastFrom(parent),
		ConnectedAt: time.Now(),
	}
}

// Ping measures a round trip, or returns nil for agents that cannot ping.
func (h *Handle) Ping(ctx context.Context) (time.Duration, error) {
	p, ok := h.Agent.(Pinger)
	if !ok {
		return 0, nil
	}
	start := time.Now()
	err := p.Ping(ctx)
	return time.Since(start), err
}

// Close fires the connection scope and closes the transport.
func (h *Handle) Close(cause error) {
	h.closeOnce.Do(func() {
		h.Scope.Fire(cause)
		if c, ok := h.Agent.(io.Closer); ok {
			_ = c.Close()
		}
	})
}

// Info is the JSON view of a connected agent.
type Info struct {
	Addr          string    `json:"addr"`
	Name          string    `json:"name,omitempty"`
	ConnectedTime time.Time `json:"connected_time"`
}

// Hub is the table of connected agents, keyed by id.
type Hub struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

func NewHub() *Hub {
	return &Hub{handles: make(map[string]*Handle)}
}

// Add registers h. An older handle with the same id is closed.
func (hub *Hub) Add(h *Handle) {
	hub.mu.Lock()
	old := hub.handles[h.ID]
	hub.handles[h.ID] = h
	hub.mu.Unlock()

	if old != nil && old != h {
		logger.Warn().Str("agent", h.ID).Msg("Agent reconnected, closing previous connection.")
		old.Close(scope.ErrConnectionLost)
	}
}

// Remove drops h only if it is still the registered handle for its id.
func (hub *Hub) Remove(h *Handle) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if cur, ok := hub.handles[h.ID]; ok && cur == h {
		delete(hub.handles, h.ID)
		return true
	}
	return false
}

func (hub *Hub) Get(id string) (*Handle, error) {
	hub.mu.RLock()
	h, ok := hub.handles[id]
	hub.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("agent ", id, " is not connected")
	}
	return h, nil
}

// Snapshot returns the live handles ordered by connection time.
func (hub *Hub) Snapshot() []*Handle {
	hub.mu.RLock()
	out := make([]*Handle, 0, len(hub.handles))
	for _, h := range hub.handles {
		out = append(out, h)
	}
	hub.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

func (hub *Hub) List() []Info {
	handles := hub.Snapshot()
	out := make([]Info, 0, len(handles))
	for _, h := range handles {
		out = append(out, Info{Addr: h.ID, Name: h.Name, ConnectedTime: h.ConnectedAt})
	}
	return out
}

// CloseAll closes every agent, e.g. on shutdown.
func (hub *Hub) CloseAll(cause error) {
	for _, h := range hub.Snapshot() {
		h.Close(cause)
		hub.Remove(h)
	}
}
