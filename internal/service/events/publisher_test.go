package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m0n1t0r_go/internal/agent"
	"m0n1t0r_go/internal/core/registry"
	"m0n1t0r_go/internal/types"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu       sync.Mutex
	messages []message
	drained  bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message{subject, data})
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestRegistryLifecycleIsPublished(t *testing.T) {
	conn := &fakeConn{}
	reg := registry.New(registry.WithObserver(New(conn, "m0n1t0r")))

	id := reg.Insert(registry.Socks5{Listen: "127.0.0.1:1080", Agent: "10.0.0.1:1", Auth: "none"}, func(error) {})
	reg.Close(id)

	require.Len(t, conn.messages, 2)
	assert.Equal(t, "m0n1t0r.proxy.opened", conn.messages[0].subject)
	assert.Equal(t, "m0n1t0r.proxy.closed", conn.messages[1].subject)

	var ev struct {
		Event string `json:"event"`
		Agent string `json:"agent"`
		Proxy struct {
			Key  string                       `json:"key"`
			Type map[string]map[string]string `json:"type"`
		} `json:"proxy"`
	}
	require.NoError(t, json.Unmarshal(conn.messages[0].data, &ev))
	assert.Equal(t, EventProxyOpened, ev.Event)
	assert.Equal(t, "10.0.0.1:1", ev.Agent)
	assert.Equal(t, id, ev.Proxy.Key)
	assert.Equal(t, "127.0.0.1:1080", ev.Proxy.Type["Socks5"]["from"])
}

func TestAgentEvents(t *testing.T) {
	conn := &fakeConn{}
	p := New(conn, "")
	h := agent.NewHandle(context.Background(), "10.0.0.2:2", "", nil)
	p.AgentConnected(h)
	p.AgentDisconnected(h)
	require.Len(t, conn.messages, 2)
	assert.Equal(t, EventAgentConnected, conn.messages[0].subject)
	assert.Equal(t, EventAgentDisconnected, conn.messages[1].subject)

	require.NoError(t, p.Close())
	assert.True(t, conn.drained)
}

func TestNilPublisherIsInert(t *testing.T) {
	p, err := Connect(types.EventsConf{})
	require.NoError(t, err)
	assert.Nil(t, p)
	p.OnOpen(registry.Summary{Kind: registry.Forward{}})
	p.AgentConnected(agent.NewHandle(context.Background(), "x", "", nil))
	assert.NoError(t, p.Close())
}
