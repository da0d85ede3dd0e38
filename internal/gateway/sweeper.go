// ABOUTME: Periodic idle-session sweep run alongside the servers
// ABOUTME: Pauses active sessions that saw no activity within sessions.inactive_timeout

package gateway

import (
	"context"
	"time"
)

// startSweeper runs sweepOnce every sweep_interval until ctx ends or the
// gateway shuts down.
func (g *Gateway) startSweeper(ctx context.Context) {
	interval := g.config.Sessions.SweepInterval
	if interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	g.sweepStop = cancel
	g.sweepDone = make(chan struct{})

	go func() {
		defer close(g.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.sweepOnce(ctx)
			}
		}
	}()
}

func (g *Gateway) stopSweeper() {
	if g.sweepStop == nil {
		return
	}
	g.sweepStop()
	<-g.sweepDone
}

// sweepOnce pauses idle sessions and reports how many it touched.
func (g *Gateway) sweepOnce(ctx context.Context) int {
	paused, err := g.sessions.SweepIdle(ctx, g.config.Sessions.InactiveTimeout)
	if err != nil {
		g.logger.Warn("idle sweep failed", "error", err)
	}
	if len(paused) > 0 {
		g.logger.Info("paused idle sessions", "count", len(paused))
	}
	return len(paused)
}
