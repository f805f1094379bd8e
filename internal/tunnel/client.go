package tunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/yamux"

	"m0n1t0r_go/internal/agent"
	"m0n1t0r_go/internal/shared"
	"m0n1t0r_go/internal/shared/errors"
	"m0n1t0r_go/internal/shared/logger"
)

const handshakeTimeout = 15 * time.Second

// Client is the server's view of one connected agent. It implements
// agent.Agent on top of a yamux session carried by the agent's websocket.
type Client struct {
	session *yamux.Session
	nextID  atomic.Uint32

	mu       sync.Mutex
	forwards map[uint32]*remoteListener

	closeOnce sync.Once
	waitGroup sync.WaitGroup
}

var _ agent.Agent = (*Client)(nil)

// NewClient starts the multiplexer over conn. The server is the yamux client
// side; the agent runs Service with the server side.
func NewClient(conn net.Conn, cfg *yamux.Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultYamuxConfig()
	}
	session, err := yamux.Client(conn, cfg)
	if err != nil {
		return nil, errors.Network("start multiplexer").Base(err)
	}
	c := &Client{
		session:  session,
		forwards: make(map[uint32]*remoteListener),
	}
	c.waitGroup.Add(1)
	go c.acceptLoop()
	return c, nil
}

// DefaultYamuxConfig keeps yamux's keepalive and routes its logs to zerolog.
func DefaultYamuxConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.LogOutput = nil
	cfg.Logger = yamuxLogger{}
	return cfg
}

type yamuxLogger struct{}

func (yamuxLogger) Print(v ...interface{}) {
	logger.Debug().Str("component", "yamux").Msg(fmt.Sprint(v...))
}
func (yamuxLogger) Printf(format string, v ...interface{}) {
	logger.Debug().Str("component", "yamux").Msgf(format, v...)
}
func (yamuxLogger) Println(v ...interface{}) {
	logger.Debug().Str("component", "yamux").Msg(fmt.Sprint(v...))
}

// Connect opens a channel that the agent dials to addr.
func (c *Client) Connect(ctx context.Context, addr string) (agent.Channel, error) {
	target, err := shared.ParseAddr(addr)
	if err != nil {
		return nil, errors.Parse("connect target ", addr).Base(err)
	}
	stream, err := c.open(ctx, request{cmd: cmdConnect, addr: target})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Forward asks the agent to listen on addr and relay each accepted
// connection back as a channel.
func (c *Client) Forward(ctx context.Context, addr string) (agent.RemoteListener, error) {
	target, err := shared.ParseAddr(addr)
	if err != nil {
		return nil, errors.Parse("forward address ", addr).Base(err)
	}
	id := c.nextID.Add(1)
	l := newRemoteListener(id, c)

	// registered before the request so early connections find their listener
	c.mu.Lock()
	c.forwards[id] = l
	c.mu.Unlock()

	control, err := c.open(ctx, request{cmd: cmdForward, id: id, addr: target})
	if err != nil {
		c.unregister(id)
		return nil, err
	}
	if !l.attach(control) {
		return l, nil
	}
	c.waitGroup.Add(1)
	go func() {
		defer c.waitGroup.Done()
		l.watchControl()
	}()
	return l, nil
}

// open sends req on a fresh stream and waits for the agent's status.
func (c *Client) open(ctx context.Context, req request) (*yamux.Stream, error) {
	stream, err := c.session.OpenStream()
	if err != nil {
		return nil, errors.Network("open stream").Base(err)
	}
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	_ = stream.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := writeRequest(stream, req); err != nil {
		stream.Close()
		return nil, errors.Network("send request to agent").Base(err)
	}
	rep, err := readReply(stream)
	if err != nil {
		stream.Close()
		if ctx.Err() != nil {
			return nil, errors.Network("agent request cancelled").Base(context.Cause(ctx))
		}
		return nil, errors.Network("read agent reply").Base(err)
	}
	_ = stream.SetDeadline(time.Time{})

	switch rep.status {
	case statusOK:
		if !stop() {
			// ctx fired after the reply, the stream is already closing
			return nil, errors.Network("agent request cancelled").Base(context.Cause(ctx))
		}
		return stream, nil
	case statusRefused:
		stream.Close()
		return nil, errors.Network("agent ", req.addr.String()).Base(fmt.Errorf("%w: %s", agent.ErrRefused, rep.message))
	default:
		stream.Close()
		return nil, errors.Network("agent ", req.addr.String(), ": ", rep.message)
	}
}

func (c *Client) acceptLoop() {
	defer c.waitGroup.Done()
	for {
		stream, err := c.session.AcceptStream()
		if err != nil {
			c.failForwards(errors.Network("agent session ended").Base(err))
			return
		}
		go c.routeForwarded(stream)
	}
}

func (c *Client) routeForwarded(stream *yamux.Stream) {
	_ = stream.SetReadDeadline(time.Now().Add(handshakeTimeout))
	req, err := readRequest(stream)
	if err != nil || req.cmd != cmdForwarded {
		logger.Warn().Err(err).Msg("Tunnel: dropping malformed agent stream")
		stream.Close()
		return
	}
	_ = stream.SetReadDeadline(time.Time{})

	c.mu.Lock()
	l, ok := c.forwards[req.id]
	c.mu.Unlock()
	if !ok {
		logger.Debug().Uint32("forward_id", req.id).Msg("Tunnel: connection for a forward that is gone")
		stream.Close()
		return
	}
	l.deliver(&forwardedChannel{Stream: stream, peer: req.addr})
}

func (c *Client) unregister(id uint32) {
	c.mu.Lock()
	delete(c.forwards, id)
	c.mu.Unlock()
}

func (c *Client) failForwards(err error) {
	c.mu.Lock()
	ls := make([]*remoteListener, 0, len(c.forwards))
	for _, l := range c.forwards {
		ls = append(ls, l)
	}
	c.mu.Unlock()
	for _, l := range ls {
		l.finish(err)
	}
}

// Ping measures the yamux round trip, bounded by ctx.
func (c *Client) Ping(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, err := c.session.Ping()
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return errors.Network("ping agent").Base(err)
		}
		return nil
	case <-ctx.Done():
		return errors.Network("ping agent").Base(ctx.Err())
	}
}

// CloseChan is closed once the underlying session is gone.
func (c *Client) CloseChan() <-chan struct{} { return c.session.CloseChan() }

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.session.Close()
		c.waitGroup.Wait()
	})
	return err
}

// forwardedChannel is a stream opened by the agent for one accepted connection.
type forwardedChannel struct {
	*yamux.Stream
	peer shared.Addr
}

func (f *forwardedChannel) Peer() net.Addr {
	ip := net.ParseIP(f.peer.Host)
	if ip == nil {
		return nil
	}
	return &net.TCPAddr{IP: ip, Port: f.peer.Port}
}

// remoteListener implements agent.RemoteListener for one forward id.
type remoteListener struct {
	id      uint32
	client  *Client
	control io.ReadWriteCloser
	ch      chan agent.Channel
	done    chan struct{}

	mu      sync.Mutex
	closed  bool
	sending sync.WaitGroup
	err     error
	once    sync.Once
}

func newRemoteListener(id uint32, c *Client) *remoteListener {
	return &remoteListener{
		id:     id,
		client: c,
		ch:     make(chan agent.Channel),
		done:   make(chan struct{}),
	}
}

func (l *remoteListener) Channels() <-chan agent.Channel { return l.ch }

func (l *remoteListener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Complete closes the control stream, which tells the agent to stop listening.
func (l *remoteListener) Complete() error {
	l.finish(nil)
	return nil
}

// attach installs the control stream unless the listener already finished.
func (l *remoteListener) attach(control io.ReadWriteCloser) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		control.Close()
		return false
	}
	l.control = control
	return true
}

func (l *remoteListener) deliver(c agent.Channel) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		c.Close()
		return
	}
	l.sending.Add(1)
	l.mu.Unlock()
	defer l.sending.Done()

	select {
	case l.ch <- c:
	case <-l.done:
		c.Close()
	}
}

// watchControl blocks until the agent closes the control stream.
func (l *remoteListener) watchControl() {
	_, err := io.Copy(io.Discard, l.control)
	if err == nil {
		err = io.EOF
	}
	l.finish(errors.Network("agent stopped forwarding").Base(err))
}

func (l *remoteListener) finish(err error) {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.err = err
		control := l.control
		l.mu.Unlock()

		l.client.unregister(l.id)
		close(l.done)
		if control != nil {
			control.Close()
		}
		l.sending.Wait()
		close(l.ch)
	})
}
