package summary

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Start runs the heartbeat ticker that keeps buckets rolling over even
// during an otherwise idle window, grounded on internal/health.Checker's
// Start/ticker-goroutine idiom.
func (a *Aggregator) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.Tick()
				log.Debug().Str("summary", a.CompactReport()).Msg("log-summary heartbeat")
			}
		}
	}()
}
