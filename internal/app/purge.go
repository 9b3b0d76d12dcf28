package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// StartCachePurge purges expired sqlite cache rows on spec until the returned
// stop function is called. It is a no-op for the memory backend.
func (a *App) StartCachePurge(ctx context.Context, spec string) (stop func(), err error) {
	if a.cacheRepo == nil || spec == "" {
		return func() {}, nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() {
		if _, err := a.PurgeExpiredCache(ctx); err != nil {
			a.logger.Warn("report cache purge failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid cache purge spec %q: %w", spec, err)
	}
	c.Start()
	a.logger.Info("report cache purge scheduled", "spec", spec)
	return func() { <-c.Stop().Done() }, nil
}
