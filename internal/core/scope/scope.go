// Package scope implements the two-level cancellation used by proxy sessions.
//
// A Broadcast is owned by one agent connection and fires once when that
// connection goes away. Each tunnel subscribes to it and gets its own Session,
// which can be cancelled on its own without affecting siblings. A Session is
// done as soon as either it or its Broadcast fires.
package scope

import (
	"context"
	"errors"
)

var (
	// ErrConnectionLost is the cause recorded when a Broadcast fires without one.
	ErrConnectionLost = errors.New("agent connection lost")
	// ErrSessionClosed is the cause recorded when a Session is cancelled without one.
	ErrSessionClosed = errors.New("session closed")
)

// Broadcast is the connection-scope token.
type Broadcast struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

func NewBroadcast() *Broadcast {
	return NewBroadcastFrom(context.Background())
}

// NewBroadcastFrom ties the broadcast to a parent, e.g. the server lifetime.
func NewBroadcastFrom(parent context.Context) *Broadcast {
	ctx, cancel := context.WithCancelCause(parent)
	return &Broadcast{ctx: ctx, cancel: cancel}
}

// Fire cancels the connection scope. Only the first call records its cause.
func (b *Broadcast) Fire(cause error) {
	if cause == nil {
		cause = ErrConnectionLost
	}
	b.cancel(cause)
}

func (b *Broadcast) Done() <-chan struct{} { return b.ctx.Done() }

// Err returns the cause once fired, nil before.
func (b *Broadcast) Err() error {
	if b.ctx.Err() == nil {
		return nil
	}
	return context.Cause(b.ctx)
}

func (b *Broadcast) Context() context.Context { return b.ctx }

// Subscribe derives a fresh session scope from the broadcast.
func (b *Broadcast) Subscribe() *Session {
	ctx, cancel := context.WithCancelCause(b.ctx)
	return &Session{ctx: ctx, cancel: cancel}
}

// Session is the session-scope token of a single tunnel.
type Session struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// Cancel is idempotent and safe from any goroutine.
func (s *Session) Cancel(cause error) {
	if cause == nil {
		cause = ErrSessionClosed
	}
	s.cancel(cause)
}

func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) Context() context.Context { return s.ctx }

// Cause tells which scope ended the session. Nil while it is live.
func (s *Session) Cause() error {
	if s.ctx.Err() == nil {
		return nil
	}
	return context.Cause(s.ctx)
}

// IsShutdown reports whether err is one of the scope causes rather than a
// real failure.
func IsShutdown(err error) bool {
	return errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, context.Canceled)
}
