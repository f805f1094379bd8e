package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m0n1t0r_go/internal/agent"
)

type pingAgent struct {
	err   error
	delay time.Duration
}

func (p *pingAgent) Connect(context.Context, string) (agent.Channel, error) { return nil, nil }
func (p *pingAgent) Forward(context.Context, string) (agent.RemoteListener, error) {
	return nil, nil
}

func (p *pingAgent) Ping(ctx context.Context) error {
	select {
	case <-time.After(p.delay):
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestCheckCollectsEveryAgent(t *testing.T) {
	boom := errors.New("no pong")
	ok := agent.NewHandle(context.Background(), "ok", "", &pingAgent{})
	bad := agent.NewHandle(context.Background(), "bad", "", &pingAgent{err: boom})

	res := New(time.Second).Check(context.Background(), []*agent.Handle{ok, bad})
	require.Len(t, res, 2)
	assert.NoError(t, res["ok"].Err)
	assert.ErrorIs(t, res["bad"].Err, boom)
}

func TestSweepDropsUnresponsiveAgents(t *testing.T) {
	hub := agent.NewHub()
	alive := agent.NewHandle(context.Background(), "alive", "", &pingAgent{})
	stuck := agent.NewHandle(context.Background(), "stuck", "", &pingAgent{delay: time.Hour})
	hub.Add(alive)
	hub.Add(stuck)
	sess := stuck.Scope.Subscribe()

	dropped := New(50*time.Millisecond).Sweep(context.Background(), hub)
	assert.Equal(t, 1, dropped)

	_, err := hub.Get("stuck")
	assert.Error(t, err)
	_, err = hub.Get("alive")
	assert.NoError(t, err)

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("sessions of the dropped agent were not cancelled")
	}
	assert.Error(t, sess.Cause())
}

func TestRunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(time.Second).Run(ctx, agent.NewHub(), 10*time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
