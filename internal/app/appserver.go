package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"m0n1t0r_go/internal/agent"
	"m0n1t0r_go/internal/core/forward"
	"m0n1t0r_go/internal/core/gateway"
	"m0n1t0r_go/internal/core/health"
	"m0n1t0r_go/internal/core/registry"
	"m0n1t0r_go/internal/core/scope"
	"m0n1t0r_go/internal/service/events"
	"m0n1t0r_go/internal/shared/errors"
	"m0n1t0r_go/internal/shared/logger"
	"m0n1t0r_go/internal/tunnel"
	"m0n1t0r_go/internal/types"
	"m0n1t0r_go/internal/web"
)

// AppServer is the application's main struct.
type AppServer struct {
	cfg *types.Config

	ctx    context.Context
	cancel context.CancelFunc

	hub           *agent.Hub
	registry      *registry.Registry
	events        *events.Publisher
	healthChecker *health.Checker

	webServer *http.Server
	webAddr   net.Addr

	waitGroup sync.WaitGroup
	stopOnce  sync.Once
}

var _ web.ServerController = (*AppServer)(nil)

// New creates a new AppServer instance
func New(cfg *types.Config) (*AppServer, error) {
	pub, err := events.Connect(cfg.EventsConf)
	if err != nil {
		return nil, fmt.Errorf("connect events: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &AppServer{
		cfg:           cfg,
		ctx:           ctx,
		cancel:        cancel,
		hub:           agent.NewHub(),
		events:        pub,
		healthChecker: health.New(time.Duration(cfg.HealthCheckTimeout) * time.Second),
	}
	var opts []registry.Option
	if pub != nil {
		opts = append(opts, registry.WithObserver(pub))
	}
	s.registry = registry.New(opts...)
	return s, nil
}

// Start brings up the control surface and the health loop without blocking.
func (s *AppServer) Start() error {
	logger.Info().Msg("Starting server...")

	srv, addr, err := web.StartServer(&s.waitGroup, s.cfg, s)
	if err != nil {
		return err
	}
	s.webServer, s.webAddr = srv, addr

	if s.cfg.HealthCheckInterval > 0 {
		s.waitGroup.Add(1)
		go func() {
			defer s.waitGroup.Done()
			s.healthChecker.Run(s.ctx, s.hub, time.Duration(s.cfg.HealthCheckInterval)*time.Second)
		}()
	} else {
		logger.Warn().Msg("Health checks are disabled.")
	}
	return nil
}

// Run is the server's entry point.
func (s *AppServer) Run() {
	if err := s.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Server failed to start")
	}
	s.Wait()
}

func (s *AppServer) Wait() {
	s.waitGroup.Wait()
}

// Addr is the bound address of the control surface.
func (s *AppServer) Addr() net.Addr { return s.webAddr }

// Stop gracefully shuts down the server.
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		logger.Info().Msg("Stopping server...")
		s.cancel()
		if s.webServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.webServer.Shutdown(ctx); err != nil {
				logger.Warn().Err(err).Msg("Web server shutdown")
			}
			cancel()
		}
		s.hub.CloseAll(scope.ErrConnectionLost)
		for _, p := range s.registry.List() {
			s.registry.Close(p.ID)
		}
		if err := s.events.Close(); err != nil {
			logger.Warn().Err(err).Msg("Events drain")
		}
		logger.Info().Msg("All sessions stopped.")
	})
}

// ServeAgent registers an agent connection and blocks until it is gone.
func (s *AppServer) ServeAgent(conn net.Conn, name string) {
	client, err := tunnel.NewClient(conn, nil)
	if err != nil {
		logger.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("Agent handshake failed")
		conn.Close()
		return
	}
	h := agent.NewHandle(s.ctx, conn.RemoteAddr().String(), name, client)
	s.hub.Add(h)
	s.events.AgentConnected(h)
	logger.Info().Str("agent", h.ID).Str("name", name).Msg("Agent connected")

	select {
	case <-client.CloseChan():
		h.Close(scope.ErrConnectionLost)
	case <-h.Scope.Done():
		h.Close(h.Scope.Err())
	}
	s.hub.Remove(h)
	s.events.AgentDisconnected(h)
	logger.Info().Str("agent", h.ID).AnErr("cause", h.Scope.Err()).Msg("Agent disconnected")
}

func (s *AppServer) ListAgents() []agent.Info {
	return s.hub.List()
}

func (s *AppServer) OpenForward(ctx context.Context, agentID, from, to string) (registry.Summary, error) {
	h, err := s.hub.Get(agentID)
	if err != nil {
		return registry.Summary{}, err
	}
	id, err := forward.Open(ctx, s.registry, h, from, to, forward.Options{
		DialTimeout:   time.Duration(s.cfg.DialTimeout) * time.Second,
		ProxyProtocol: s.cfg.ProxyProtocol,
		BufferSize:    s.cfg.BufferSize,
	})
	if err != nil {
		return registry.Summary{}, err
	}
	summary, ok := s.registry.Get(id)
	if !ok {
		// the agent went away between open and lookup
		return registry.Summary{}, errors.Network("forward ", id, " closed immediately")
	}
	return summary, nil
}

func (s *AppServer) OpenSocks5(ctx context.Context, agentID, listen string, auth gateway.Authenticator) (net.Addr, error) {
	h, err := s.hub.Get(agentID)
	if err != nil {
		return nil, err
	}
	addr, _, err := gateway.Open(ctx, s.registry, h, listen, auth, gateway.Options{
		MaxConnections: s.cfg.MaxConnections,
		BufferSize:     s.cfg.BufferSize,
	})
	return addr, err
}

func (s *AppServer) ListProxies() []registry.Summary {
	return s.registry.List()
}

func (s *AppServer) CloseProxy(key string) bool {
	return s.registry.Close(key)
}
