package tunnel

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/yamux"

	"m0n1t0r_go/internal/core/splice"
	"m0n1t0r_go/internal/shared"
	"m0n1t0r_go/internal/shared/logger"
)

// Service runs on the agent and answers the server's connect and forward
// requests from inside the agent's network.
type Service struct {
	Dial        func(ctx context.Context, network, addr string) (net.Conn, error)
	Listen      func(network, addr string) (net.Listener, error)
	DialTimeout time.Duration
	BufferSize  int
}

func NewService(bufferSize int) *Service {
	d := &net.Dialer{}
	return &Service{
		Dial:        d.DialContext,
		Listen:      net.Listen,
		DialTimeout: 10 * time.Second,
		BufferSize:  bufferSize,
	}
}

// Serve multiplexes conn until it breaks or ctx ends.
func (s *Service) Serve(ctx context.Context, conn net.Conn) error {
	session, err := yamux.Server(conn, DefaultYamuxConfig())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(ctx, func() { session.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	for {
		stream, err := session.AcceptStream()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, session, stream)
		}()
	}
}

func (s *Service) handle(ctx context.Context, session *yamux.Session, stream *yamux.Stream) {
	_ = stream.SetReadDeadline(time.Now().Add(handshakeTimeout))
	req, err := readRequest(stream)
	if err != nil {
		logger.Warn().Err(err).Msg("Agent: bad request from server")
		stream.Close()
		return
	}
	_ = stream.SetReadDeadline(time.Time{})

	switch req.cmd {
	case cmdConnect:
		s.connect(ctx, stream, req.addr)
	case cmdForward:
		s.forward(ctx, session, stream, req)
	default:
		stream.Close()
	}
}

func (s *Service) connect(ctx context.Context, stream *yamux.Stream, target shared.Addr) {
	dialCtx := ctx
	if s.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.DialTimeout)
		defer cancel()
	}
	conn, err := s.Dial(dialCtx, "tcp", target.String())
	if err != nil {
		status := statusFailure
		if isRefused(err) {
			status = statusRefused
		}
		logger.Debug().Err(err).Str("target", target.String()).Msg("Agent: connect failed")
		_ = writeReply(stream, status, err.Error())
		stream.Close()
		return
	}
	if err := writeReply(stream, statusOK, ""); err != nil {
		conn.Close()
		stream.Close()
		return
	}
	stats, err := splice.Splice(ctx, stream, conn, splice.WithBufferSize(s.BufferSize))
	logger.Debug().Str("target", target.String()).Int64("up", stats.AToB).Int64("down", stats.BToA).Err(err).Msg("Agent: connect finished")
}

func (s *Service) forward(ctx context.Context, session *yamux.Session, control *yamux.Stream, req request) {
	ln, err := s.Listen("tcp", req.addr.String())
	if err != nil {
		logger.Warn().Err(err).Str("listen", req.addr.String()).Msg("Agent: forward listen failed")
		_ = writeReply(control, statusFailure, err.Error())
		control.Close()
		return
	}
	if err := writeReply(control, statusOK, ""); err != nil {
		ln.Close()
		control.Close()
		return
	}
	logger.Info().Str("listen", ln.Addr().String()).Uint32("forward_id", req.id).Msg("Agent: forward started")

	// the server closing the control stream is the completion signal
	go func() {
		_, _ = io.Copy(io.Discard, control)
		ln.Close()
	}()
	defer control.Close()
	defer ln.Close()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Info().Str("listen", ln.Addr().String()).Uint32("forward_id", req.id).Msg("Agent: forward stopped")
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.relayAccepted(ctx, session, req.id, conn)
		}()
	}
}

func (s *Service) relayAccepted(ctx context.Context, session *yamux.Session, id uint32, conn net.Conn) {
	peer, err := shared.ParseAddr(conn.RemoteAddr().String())
	if err != nil {
		peer = shared.Addr{Type: shared.AddrTypeIPv4, Host: "0.0.0.0"}
	}
	stream, err := session.OpenStream()
	if err != nil {
		conn.Close()
		return
	}
	if err := writeRequest(stream, request{cmd: cmdForwarded, id: id, addr: peer}); err != nil {
		conn.Close()
		stream.Close()
		return
	}
	_, _ = splice.Splice(ctx, stream, conn, splice.WithBufferSize(s.BufferSize))
}

func isRefused(err error) bool {
	var dnsErr *net.DNSError
	return stderrors.Is(err, syscall.ECONNREFUSED) || stderrors.As(err, &dnsErr)
}
