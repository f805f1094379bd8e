// Package gateway implements the SOCKS5 proxy gateway: a local listener
// whose CONNECT requests are dialed from the agent's side.
package gateway

import (
	"context"
	stderrors "errors"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"m0n1t0r_go/internal/agent"
	"m0n1t0r_go/internal/core/registry"
	"m0n1t0r_go/internal/core/scope"
	"m0n1t0r_go/internal/core/splice"
	"m0n1t0r_go/internal/shared"
	"m0n1t0r_go/internal/shared/errors"
	"m0n1t0r_go/internal/shared/logger"
)

// Resolver looks up domain targets before they are handed to the agent.
// *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type Options struct {
	// MaxConnections caps concurrent clients. Zero means unlimited.
	MaxConnections int
	BufferSize     int
	Resolver       Resolver
}

// client state, carried in log fields
const (
	stateAuthenticating = "authenticating"
	stateRequestParsed  = "request-parsed"
	stateConnecting     = "connecting"
	stateRelaying       = "relaying"
	stateRejected       = "rejected"
)

type Gateway struct {
	id        string
	listener  net.Listener
	handle    *agent.Handle
	auth      Authenticator
	sess      *scope.Session
	reg       *registry.Registry
	opts      Options
	log       zerolog.Logger
	waitGroup sync.WaitGroup
}

// Open binds listen, registers the gateway and starts serving it. It returns
// the bound address and the registry id. A bind failure is returned before
// anything is registered.
func Open(ctx context.Context, reg *registry.Registry, h *agent.Handle, listen string, auth Authenticator, opts Options) (net.Addr, string, error) {
	if auth == nil {
		auth = NoAuth{}
	}
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", listen)
	if err != nil {
		return nil, "", errors.Io("socks5 listen on ", listen).Base(err)
	}
	if opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, opts.MaxConnections)
	}

	sess := h.Scope.Subscribe()
	g := &Gateway{
		listener: ln,
		handle:   h,
		auth:     auth,
		sess:     sess,
		reg:      reg,
		opts:     opts,
	}
	bound := ln.Addr()
	g.id = reg.Insert(registry.Socks5{Listen: bound.String(), Agent: h.ID, Auth: auth.Name()}, sess.Cancel)
	g.log = logger.With().Str("session", g.id).Str("agent", h.ID).Str("listen", bound.String()).Logger()
	g.log.Info().Str("auth", auth.Name()).Msg("Socks5: gateway listening")

	go g.run()
	return bound, g.id, nil
}

func (g *Gateway) run() {
	stop := context.AfterFunc(g.sess.Context(), func() { g.listener.Close() })
	defer func() {
		stop()
		g.sess.Cancel(nil)
		g.listener.Close()
		g.waitGroup.Wait()
		g.reg.Remove(g.id)
		g.log.Info().AnErr("cause", g.sess.Cause()).Msg("Socks5: gateway closed")
	}()
	defer func() {
		if r := recover(); r != nil {
			g.log.Error().Interface("panic", r).Msg("Socks5: accept loop panicked")
		}
	}()

	for {
		conn, err := g.listener.Accept()
		if err != nil {
			if g.sess.Cause() == nil && !stderrors.Is(err, net.ErrClosed) {
				g.log.Warn().Err(err).Msg("Socks5: accept failed")
			}
			return
		}
		g.waitGroup.Add(1)
		go g.serve(conn)
	}
}

func (g *Gateway) serve(conn net.Conn) {
	defer g.waitGroup.Done()
	defer conn.Close()
	ctx := g.sess.Context()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	l := g.log.With().Str("trace_id", uuid.NewString()).Str("client", conn.RemoteAddr().String()).Logger()
	l.Debug().Str("state", stateAuthenticating).Msg("Socks5: client accepted")

	if err := handshake(conn, g.auth); err != nil {
		l.Warn().Err(err).Str("state", stateRejected).Stringer("kind", errors.KindOf(err)).Msg("Socks5: handshake failed")
		return
	}

	req, err := readRequest(conn)
	if err != nil {
		var typeErr shared.AddrTypeError
		if stderrors.As(err, &typeErr) {
			_ = writeReply(conn, repAddrTypeNotSupported)
		}
		l.Warn().Err(err).Str("state", stateRejected).Msg("Socks5: bad request")
		return
	}
	l = l.With().Str("cmd", commandName(req.cmd)).Str("target", req.addr.String()).Logger()
	l.Debug().Str("state", stateRequestParsed).Msg("Socks5: request parsed")

	if req.cmd != cmdConnect {
		_ = writeReply(conn, repCommandNotSupported)
		l.Info().Str("state", stateRejected).Msg("Socks5: command not supported")
		return
	}

	target := req.addr
	if target.IsDomain() {
		ips, err := g.opts.Resolver.LookupIPAddr(ctx, target.Host)
		if err != nil || len(ips) == 0 {
			_ = writeReply(conn, repConnectionRefused)
			l.Info().Err(err).Str("state", stateRejected).Msg("Socks5: resolve failed")
			return
		}
		target, _ = shared.ParseAddr(net.JoinHostPort(ips[0].IP.String(), strconv.Itoa(target.Port)))
	}

	l.Debug().Str("state", stateConnecting).Str("resolved", target.String()).Msg("Socks5: connecting through agent")
	ch, err := g.handle.Agent.Connect(ctx, target.String())
	if err != nil {
		rep := repGeneralFailure
		if stderrors.Is(err, agent.ErrRefused) {
			rep = repConnectionRefused
		}
		_ = writeReply(conn, rep)
		l.Warn().Err(err).Str("state", stateRejected).Msg("Socks5: agent connect failed")
		return
	}
	if err := writeReply(conn, repSucceeded); err != nil {
		ch.Close()
		return
	}

	l.Debug().Str("state", stateRelaying).Msg("Socks5: relaying")
	stats, err := splice.Splice(ctx, conn, ch, splice.WithBufferSize(g.opts.BufferSize))
	ev := l.Debug()
	if err != nil && !scope.IsShutdown(err) {
		ev = l.Warn().Err(err)
	}
	ev.Int64("up", stats.AToB).Int64("down", stats.BToA).Msg("Socks5: client finished")
}
