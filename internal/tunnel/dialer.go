package tunnel

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"m0n1t0r_go/internal/shared"
	"m0n1t0r_go/internal/shared/logger"
)

// AgentNameHeader carries the agent's configured name on the upgrade request.
const AgentNameHeader = "X-M0n1t0r-Agent"

// Dial 负责为 agent 建立到 server 的 WebSocket 连接。
func Dial(ctx context.Context, urlStr, name string) (net.Conn, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("tunnel dial: invalid URL: %w", err)
	}
	if parsedURL.Scheme != "ws" && parsedURL.Scheme != "wss" {
		return nil, fmt.Errorf("tunnel dial: unsupported scheme %q", parsedURL.Scheme)
	}

	requestHeader := http.Header{}
	requestHeader.Set("User-Agent", "m0n1t0r-agent/1.0")
	if name != "" {
		requestHeader.Set(AgentNameHeader, name)
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second
	dialer.NetDialContext = (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext

	ws, _, err := dialer.DialContext(ctx, urlStr, requestHeader)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("server", parsedURL.Host).Msg("Tunnel: websocket established")
	return shared.NewWebSocketConnAdapter(ws), nil
}
