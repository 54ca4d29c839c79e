package registry

import (
	"context"
	"time"
)

// Start runs the missed-heartbeat reaper until ctx is cancelled. The check
// interval is a quarter of the heartbeat window so an agent is marked
// unreachable shortly after the window expires.
func (r *Registry) Start(ctx context.Context) {
	interval := r.opts.HeartbeatWindow / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.ReapStale()
			}
		}
	}()
}
