package decisionapi

import (
	"context"
	"log/slog"

	"github.com/dmfontes/skuld/internal/bus"
	"github.com/dmfontes/skuld/internal/cache"
	"github.com/dmfontes/skuld/internal/observability"
)

// RunL1Invalidation drops L1 entries as change-bus events arrive, keeping
// same-process staleness bounded by propagation latency instead of the L1
// TTL. It blocks until the context is cancelled or the event channel closes.
func RunL1Invalidation(ctx context.Context, logger *slog.Logger, l1 *cache.MemoryCache, events <-chan bus.ProjectEvent) {
	if logger == nil {
		logger = slog.Default()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case pe, ok := <-events:
			if !ok {
				return
			}
			l1.Del(cache.SnapshotKey(pe.ProjectKey, pe.Event.FlagKey, pe.Event.EnvironmentKey))
			observability.L1Invalidations.Inc()
			observability.L1Items.Set(float64(l1.Len()))

			logger.Debug("l1 entry invalidated",
				slog.String("project", pe.ProjectKey),
				slog.String("flag_key", pe.Event.FlagKey),
				slog.String("environment", pe.Event.EnvironmentKey),
			)
		}
	}
}
