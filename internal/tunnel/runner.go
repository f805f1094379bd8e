package tunnel

import (
	"context"
	"net"
	"time"

	"m0n1t0r_go/internal/shared/logger"
)

// Runner keeps an agent connected to its server, redialing after failures.
type Runner struct {
	ServerURL string
	Name      string
	Interval  time.Duration
	Service   *Service

	dial func(ctx context.Context, urlStr, name string) (net.Conn, error)
}

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	dial := r.dial
	if dial == nil {
		dial = Dial
	}
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	for {
		conn, err := dial(ctx, r.ServerURL, r.Name)
		if err != nil {
			logger.Warn().Err(err).Str("server", r.ServerURL).Dur("retry_in", interval).Msg("Agent: failed to reach server")
		} else {
			logger.Info().Str("server", r.ServerURL).Msg("Agent: connected")
			err = r.Service.Serve(ctx, conn)
			conn.Close()
			logger.Warn().Err(err).Msg("Agent: disconnected")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
