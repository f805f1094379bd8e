// Package splice relays bytes between two duplex streams.
package splice

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

const DefaultBufferSize = 32 * 1024

// Stats counts the bytes moved in each direction.
type Stats struct {
	AToB int64
	BToA int64
}

type options struct {
	bufferSize int
}

type Option func(*options)

// WithBufferSize sets the per-direction copy buffer. Non-positive values are ignored.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// Splice copies a→b and b→a until either direction ends or ctx is done.
// The first direction to finish closes both endpoints, which unblocks the
// other one. There is no half-close: bytes still in flight in the surviving
// direction may be dropped.
//
// The returned error is the first direction's I/O error, or the context
// cause when ctx ended the splice. A clean EOF yields nil.
func Splice(ctx context.Context, a, b io.ReadWriteCloser, opts ...Option) (Stats, error) {
	o := options{bufferSize: DefaultBufferSize}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		once  sync.Once
		stats Stats
	)
	// shutdown reports whether the caller was the first to end the splice.
	shutdown := func() (first bool) {
		once.Do(func() {
			first = true
			_ = a.Close()
			_ = b.Close()
		})
		return first
	}

	stop := make(chan struct{})
	watched := make(chan struct{})
	cancelled := make(chan error, 1)
	go func() {
		defer close(watched)
		select {
		case <-ctx.Done():
			if shutdown() {
				cancelled <- context.Cause(ctx)
			}
		case <-stop:
		}
	}()

	var g errgroup.Group
	pump := func(dst io.Writer, src io.Reader, n *int64) func() error {
		return func() error {
			buf := make([]byte, o.bufferSize)
			written, err := io.CopyBuffer(dst, src, buf)
			*n = written
			if shutdown() {
				return normalize(err)
			}
			return nil
		}
	}
	g.Go(pump(b, a, &stats.AToB))
	g.Go(pump(a, b, &stats.BToA))

	err := g.Wait()
	close(stop)
	<-watched
	select {
	case cause := <-cancelled:
		return stats, cause
	default:
	}
	return stats, err
}

func normalize(err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
