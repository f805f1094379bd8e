package web

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"m0n1t0r_go/internal/shared/logger"
	"m0n1t0r_go/internal/tunnel"
	"m0n1t0r_go/internal/types"
)

const agentNameHeader = tunnel.AgentNameHeader

// StartServer 启动控制面 HTTP 服务器，返回的 *http.Server 用于关闭。
func StartServer(wg *sync.WaitGroup, cfg *types.Config, controller ServerController) (*http.Server, net.Addr, error) {
	if cfg.WebPort < 0 {
		return nil, nil, fmt.Errorf("web_port must not be negative, got %d", cfg.WebPort)
	}

	mux := http.NewServeMux()
	NewHandler(cfg, controller).Routes(mux)

	addr := net.JoinHostPort(cfg.BindHost, fmt.Sprint(cfg.WebPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("web server failed to listen on %s: %w", addr, err)
	}
	logger.Info().Str("listen_addr", listener.Addr().String()).Str("agent_path", cfg.AgentPath).Msg(">>> Control surface is listening.")

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Web server error")
		}
		logger.Info().Msg("Web server stopped.")
	}()
	return srv, listener.Addr(), nil
}
