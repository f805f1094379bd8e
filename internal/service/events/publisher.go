// Package events publishes session and agent lifecycle events to NATS.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"m0n1t0r_go/internal/agent"
	"m0n1t0r_go/internal/core/registry"
	"m0n1t0r_go/internal/shared/logger"
	"m0n1t0r_go/internal/types"
)

const (
	EventProxyOpened       = "proxy.opened"
	EventProxyClosed       = "proxy.closed"
	EventAgentConnected    = "agent.connected"
	EventAgentDisconnected = "agent.disconnected"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Event is the JSON payload of every message.
type Event struct {
	Event     string            `json:"event"`
	Agent     string            `json:"agent,omitempty"`
	Proxy     *registry.Summary `json:"proxy,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Publisher implements registry.Observer. A nil *Publisher publishes nothing.
type Publisher struct {
	conn   Conn
	prefix string
}

var _ registry.Observer = (*Publisher)(nil)

func New(conn Conn, prefix string) *Publisher {
	return &Publisher{conn: conn, prefix: prefix}
}

// Connect dials NATS with reconnects enabled. An empty URL disables events
// and returns a nil publisher.
func Connect(conf types.EventsConf) (*Publisher, error) {
	if conf.NatsURL == "" {
		logger.Info().Msg("Events: nats_url not set, lifecycle events disabled.")
		return nil, nil
	}
	nc, err := nats.Connect(conf.NatsURL,
		nats.Name("m0n1t0r-server"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("Events: NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("Events: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("url", conf.NatsURL).Str("prefix", conf.SubjectPrefix).Msg("Events: publishing lifecycle events to NATS")
	return New(nc, conf.SubjectPrefix), nil
}

func (p *Publisher) subject(event string) string {
	if p.prefix == "" {
		return event
	}
	return p.prefix + "." + event
}

func (p *Publisher) publish(ev Event) {
	if p == nil || p.conn == nil {
		return
	}
	ev.Timestamp = time.Now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error().Err(err).Str("event", ev.Event).Msg("Events: marshal failed")
		return
	}
	if err := p.conn.Publish(p.subject(ev.Event), data); err != nil {
		logger.Warn().Err(err).Str("event", ev.Event).Msg("Events: publish failed")
	}
}

func (p *Publisher) OnOpen(s registry.Summary) {
	p.publish(Event{Event: EventProxyOpened, Agent: s.Agent(), Proxy: &s})
}

func (p *Publisher) OnClose(s registry.Summary) {
	p.publish(Event{Event: EventProxyClosed, Agent: s.Agent(), Proxy: &s})
}

func (p *Publisher) AgentConnected(h *agent.Handle) {
	p.publish(Event{Event: EventAgentConnected, Agent: h.ID})
}

func (p *Publisher) AgentDisconnected(h *agent.Handle) {
	p.publish(Event{Event: EventAgentDisconnected, Agent: h.ID})
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
