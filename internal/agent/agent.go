package agent

import (
	"context"
	"errors"
	"io"
	"net"
)

// Channel 是 agent 提供的一条双向字节流
type Channel interface {
	io.ReadWriteCloser
}

// PeerChannel is implemented by channels that know the address of the
// remote peer that produced them, e.g. the client accepted by a forward.
type PeerChannel interface {
	Channel
	Peer() net.Addr
}

// RemoteListener is the agent side of a reverse port-forward.
type RemoteListener interface {
	// Channels yields one Channel per connection the agent accepted. It is
	// closed when the agent stops emitting.
	Channels() <-chan Channel
	// Complete tells the agent to stop listening. Idempotent.
	Complete() error
	// Err explains why Channels was closed.
	Err() error
}

// Agent 是远端 agent 暴露给代理核心的能力
type Agent interface {
	// Connect asks the agent to dial addr from its own network.
	Connect(ctx context.Context, addr string) (Channel, error)
	// Forward asks the agent to listen on addr inside its network.
	Forward(ctx context.Context, addr string) (RemoteListener, error)
}

// Pinger is implemented by agents that can measure their round trip.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ErrRefused marks an agent-side dial that the target refused or that could
// not be resolved, as opposed to a transport failure.
var ErrRefused = errors.New("connection refused by agent")
