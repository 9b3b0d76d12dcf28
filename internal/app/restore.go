package app

import (
	"context"
	"fmt"
)

// RestoreSchedulerState clears "running" claims left behind by a process that
// stopped mid-batch, so those reports become due again. Call it once at
// startup before the scheduler starts.
func (a *App) RestoreSchedulerState(ctx context.Context) error {
	n, err := a.reportRepo.ReleaseRunning(ctx)
	if err != nil {
		return fmt.Errorf("release stale report claims: %w", err)
	}
	if n > 0 {
		a.logger.Warn("released stale scheduled report claims", "reports", n)
	}
	return nil
}
