package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/proxy"

	"m0n1t0r_go/internal/tunnel"
	"m0n1t0r_go/internal/types"
)

type envelope struct {
	Code int             `json:"code"`
	Body json.RawMessage `json:"body"`
}

func newTestServer(t *testing.T) (*AppServer, string) {
	t.Helper()
	cfg := new(types.Config)
	cfg.BindHost = "127.0.0.1"
	cfg.AgentPath = "/agent"
	cfg.BufferSize = 4096
	cfg.DialTimeout = 2
	cfg.HealthCheckTimeout = 2

	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s, "http://" + s.Addr().String()
}

// startAgent runs a real agent against s and returns its id once registered.
func startAgent(t *testing.T, s *AppServer) (string, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := &tunnel.Runner{
		ServerURL: "ws://" + s.Addr().String() + "/agent",
		Name:      "e2e",
		Interval:  50 * time.Millisecond,
		Service:   tunnel.NewService(4096),
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return len(s.ListAgents()) == 1 }, 5*time.Second, 10*time.Millisecond)
	info := s.ListAgents()[0]
	assert.Equal(t, "e2e", info.Name)
	return info.Addr, cancel
}

func echoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	return ln.Addr().String()
}

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func call(t *testing.T, method, target string, form url.Values) (int, envelope) {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, target, body)
	require.NoError(t, err)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func pingPong(t *testing.T, c net.Conn) {
	t.Helper()
	c.SetDeadline(time.Now().Add(5 * time.Second))
	_, err := c.Write([]byte("PING"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, "PING", string(buf))
}

func TestSocks5ThroughAgent(t *testing.T) {
	s, base := newTestServer(t)
	id, _ := startAgent(t, s)
	echo := echoServer(t)

	status, env := call(t, http.MethodPost, base+"/client/"+id+"/proxy/socks5/noauth", url.Values{"from": {"127.0.0.1:0"}})
	require.Equal(t, http.StatusOK, status, string(env.Body))
	var bound string
	require.NoError(t, json.Unmarshal(env.Body, &bound))

	dialer, err := proxy.SOCKS5("tcp", bound, nil, proxy.Direct)
	require.NoError(t, err)
	c, err := dialer.Dial("tcp", echo)
	require.NoError(t, err)
	pingPong(t, c)
	c.Close()

	status, env = call(t, http.MethodGet, base+"/server/proxy", nil)
	require.Equal(t, http.StatusOK, status)
	var proxies []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Body, &proxies))
	require.Len(t, proxies, 1)
	key := proxies[0]["key"].(string)

	status, _ = call(t, http.MethodDelete, base+"/server/proxy/"+key, nil)
	assert.Equal(t, http.StatusOK, status)
	require.Eventually(t, func() bool { return len(s.ListProxies()) == 0 }, 5*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", bound, 200*time.Millisecond)
		if err == nil {
			c.Close()
			return false
		}
		return true
	}, 5*time.Second, 20*time.Millisecond, "listener must be released once the session is closed")
}

func TestSocks5PasswordThroughAgent(t *testing.T) {
	s, base := newTestServer(t)
	id, _ := startAgent(t, s)
	echo := echoServer(t)

	status, env := call(t, http.MethodPost, base+"/client/"+id+"/proxy/socks5/pass",
		url.Values{"from": {"127.0.0.1:0"}, "name": {"alice"}, "password": {"s3cret"}})
	require.Equal(t, http.StatusOK, status, string(env.Body))
	var bound string
	require.NoError(t, json.Unmarshal(env.Body, &bound))

	dialer, err := proxy.SOCKS5("tcp", bound, &proxy.Auth{User: "alice", Password: "s3cret"}, proxy.Direct)
	require.NoError(t, err)
	c, err := dialer.Dial("tcp", echo)
	require.NoError(t, err)
	pingPong(t, c)
	c.Close()

	bad, err := proxy.SOCKS5("tcp", bound, &proxy.Auth{User: "alice", Password: "nope"}, proxy.Direct)
	require.NoError(t, err)
	_, err = bad.Dial("tcp", echo)
	assert.Error(t, err)
}

func TestForwardThroughAgent(t *testing.T) {
	s, base := newTestServer(t)
	id, _ := startAgent(t, s)
	echo := echoServer(t)
	to := freePort(t)

	status, env := call(t, http.MethodPost, base+"/client/"+id+"/proxy/forward", url.Values{"from": {echo}, "to": {to}})
	require.Equal(t, http.StatusOK, status, string(env.Body))
	var summary struct {
		Key  string `json:"key"`
		Type struct {
			Forward struct {
				From string `json:"from"`
				To   string `json:"to"`
				Addr string `json:"addr"`
			} `json:"Forward"`
		} `json:"type"`
	}
	require.NoError(t, json.Unmarshal(env.Body, &summary))
	assert.NotEmpty(t, summary.Key)
	assert.Equal(t, echo, summary.Type.Forward.From)
	assert.Equal(t, to, summary.Type.Forward.To)
	assert.Equal(t, id, summary.Type.Forward.Addr)

	c, err := net.DialTimeout("tcp", to, 2*time.Second)
	require.NoError(t, err)
	pingPong(t, c)
	c.Close()

	assert.True(t, s.CloseProxy(summary.Key))
	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", to, 200*time.Millisecond)
		if err == nil {
			c.Close()
			return false
		}
		return true
	}, 5*time.Second, 20*time.Millisecond, "agent must stop listening after the forward closes")
}

func TestAgentDisconnectEndsSessions(t *testing.T) {
	s, base := newTestServer(t)
	id, stopAgent := startAgent(t, s)

	status, env := call(t, http.MethodPost, base+"/client/"+id+"/proxy/socks5/noauth", url.Values{"from": {"127.0.0.1:0"}})
	require.Equal(t, http.StatusOK, status, string(env.Body))
	require.Len(t, s.ListProxies(), 1)

	stopAgent()
	require.Eventually(t, func() bool {
		return len(s.ListAgents()) == 0 && len(s.ListProxies()) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestUnknownAgent(t *testing.T) {
	_, base := newTestServer(t)

	status, env := call(t, http.MethodPost, base+"/client/10.9.9.9:1/proxy/socks5/noauth", url.Values{"from": {"127.0.0.1:0"}})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, -2, env.Code)

	status, env = call(t, http.MethodPost, base+"/client/10.9.9.9:1/proxy/forward", url.Values{"from": {"127.0.0.1:1"}, "to": {"127.0.0.1:2"}})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, -2, env.Code)
}
