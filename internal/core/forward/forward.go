// Package forward implements reverse port-forwards: the agent listens inside
// its network and every connection it accepts is relayed to a local address.
package forward

import (
	"context"
	"net"
	"sync"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
	"github.com/rs/zerolog"

	"m0n1t0r_go/internal/agent"
	"m0n1t0r_go/internal/core/registry"
	"m0n1t0r_go/internal/core/scope"
	"m0n1t0r_go/internal/core/splice"
	"m0n1t0r_go/internal/shared/errors"
	"m0n1t0r_go/internal/shared/logger"
)

type Options struct {
	// DialTimeout bounds each local dial of from. Zero means no timeout.
	DialTimeout time.Duration
	// ProxyProtocol prepends a PROXY header of this version (1 or 2) to every
	// local connection. Zero disables it.
	ProxyProtocol int
	BufferSize    int
	// Dial overrides the local dialer.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

type tunnel struct {
	id       string
	from, to string
	handle   *agent.Handle
	listener agent.RemoteListener
	sess     *scope.Session
	reg      *registry.Registry
	opts     Options
	log      zerolog.Logger
}

// Open asks the agent behind h to listen on to and relays each accepted
// connection to the local from. It returns the registry id of the new session.
// An agent failure is returned before anything is registered.
func Open(ctx context.Context, reg *registry.Registry, h *agent.Handle, from, to string, opts Options) (string, error) {
	if _, _, err := net.SplitHostPort(from); err != nil {
		return "", errors.Parse("forward from ", from).Base(err)
	}
	if _, _, err := net.SplitHostPort(to); err != nil {
		return "", errors.Parse("forward to ", to).Base(err)
	}
	if opts.Dial == nil {
		opts.Dial = (&net.Dialer{}).DialContext
	}

	listener, err := h.Agent.Forward(ctx, to)
	if err != nil {
		return "", errors.Network("agent ", h.ID, " forward ", to).Base(err)
	}

	sess := h.Scope.Subscribe()
	t := &tunnel{
		from:     from,
		to:       to,
		handle:   h,
		listener: listener,
		sess:     sess,
		reg:      reg,
		opts:     opts,
	}
	t.id = reg.Insert(registry.Forward{From: from, To: to, Agent: h.ID}, sess.Cancel)
	t.log = logger.With().Str("session", t.id).Str("agent", h.ID).Str("from", from).Str("to", to).Logger()
	t.log.Info().Msg("Forward: session opened")

	go t.run()
	return t.id, nil
}

func (t *tunnel) run() {
	var wg sync.WaitGroup
	defer func() {
		if err := t.listener.Complete(); err != nil {
			t.log.Debug().Err(err).Msg("Forward: completion signal failed")
		}
		t.sess.Cancel(nil)
		wg.Wait()
		t.reg.Remove(t.id)
		t.log.Info().AnErr("cause", t.sess.Cause()).AnErr("listener", t.listener.Err()).Msg("Forward: session closed")
	}()

	channels := t.listener.Channels()
	for {
		select {
		case <-t.sess.Done():
			return
		case ch, ok := <-channels:
			if !ok {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				t.relay(ch)
			}()
		}
	}
}

func (t *tunnel) relay(ch agent.Channel) {
	ctx := t.sess.Context()
	dialCtx := ctx
	if t.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t.opts.DialTimeout)
		defer cancel()
	}

	var peer net.Addr
	if pc, ok := ch.(agent.PeerChannel); ok {
		peer = pc.Peer()
	}

	conn, err := t.opts.Dial(dialCtx, "tcp", t.from)
	if err != nil {
		t.log.Warn().Err(err).Stringer("peer", peer).Msg("Forward: local dial failed, dropping connection")
		ch.Close()
		return
	}

	if t.opts.ProxyProtocol > 0 {
		if _, err := proxyHeader(byte(t.opts.ProxyProtocol), peer, t.to).WriteTo(conn); err != nil {
			t.log.Warn().Err(err).Msg("Forward: failed to write PROXY header")
			conn.Close()
			ch.Close()
			return
		}
	}

	stats, err := splice.Splice(ctx, ch, conn, splice.WithBufferSize(t.opts.BufferSize))
	ev := t.log.Debug()
	if err != nil && !scope.IsShutdown(err) {
		ev = t.log.Warn().Err(err)
	}
	ev.Stringer("peer", peer).Int64("in", stats.AToB).Int64("out", stats.BToA).Msg("Forward: connection finished")
}

// proxyHeader describes the original client connecting to the agent-side
// address. Unknown peers produce a LOCAL header.
func proxyHeader(version byte, peer net.Addr, to string) *proxyproto.Header {
	src, _ := peer.(*net.TCPAddr)
	dst, _ := net.ResolveTCPAddr("tcp", to)
	if src == nil || dst == nil || (src.IP.To4() == nil) != (dst.IP.To4() == nil) {
		return &proxyproto.Header{
			Version:           version,
			Command:           proxyproto.LOCAL,
			TransportProtocol: proxyproto.UNSPEC,
		}
	}
	return proxyproto.HeaderProxyFromAddrs(version, src, dst)
}
