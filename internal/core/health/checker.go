package health

import (
	"context"
	"sync"
	"time"

	"m0n1t0r_go/internal/agent"
	"m0n1t0r_go/internal/shared/errors"
	"m0n1t0r_go/internal/shared/logger"
)

// Result is the outcome of one ping.
type Result struct {
	Latency time.Duration
	Err     error
}

// Checker 负责对已连接的 agent 进行存活检查。
type Checker struct {
	timeout time.Duration
}

// New 创建一个新的 Checker 实例。
func New(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Checker{timeout: timeout}
}

// Check 对传入的 agent 进行并发 ping，返回以 agent id 为键的结果。
func (c *Checker) Check(ctx context.Context, handles []*agent.Handle) map[string]Result {
	results := make(map[string]Result, len(handles))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, h := range handles {
		wg.Add(1)
		go func(h *agent.Handle) {
			defer wg.Done()
			pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			latency, err := h.Ping(pingCtx)
			logFields := logger.Debug().Str("agent", h.ID)
			if err != nil {
				logFields.Bool("success", false).Err(err).Msg("HealthCheck: ping failed.")
			} else {
				logFields.Bool("success", true).Int64("latency_ms", latency.Milliseconds()).Msg("HealthCheck: ping passed.")
			}

			mu.Lock()
			results[h.ID] = Result{Latency: latency, Err: err}
			mu.Unlock()
		}(h)
	}

	wg.Wait()
	return results
}

// Sweep pings every agent in hub and closes the ones that did not answer,
// which fires their connection scope. It returns the number of agents dropped.
func (c *Checker) Sweep(ctx context.Context, hub *agent.Hub) int {
	handles := hub.Snapshot()
	if len(handles) == 0 {
		return 0
	}
	results := c.Check(ctx, handles)

	dropped := 0
	for _, h := range handles {
		res := results[h.ID]
		if res.Err == nil || ctx.Err() != nil {
			continue
		}
		logger.Warn().Str("agent", h.ID).Err(res.Err).Msg("HealthCheck: agent unresponsive, closing connection.")
		h.Close(errors.Network("agent ", h.ID, " unresponsive").Base(res.Err))
		if hub.Remove(h) {
			dropped++
		}
	}
	return dropped
}

// Run sweeps every interval until ctx is done.
func (c *Checker) Run(ctx context.Context, hub *agent.Hub, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := c.Sweep(ctx, hub); n > 0 {
				logger.Info().Int("dropped", n).Msg("HealthCheck: cycle complete.")
			}
		case <-ctx.Done():
			return
		}
	}
}
