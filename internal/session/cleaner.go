package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper is implemented by stores that can drop expired sessions in bulk.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Cleaner sweeps a store on a fixed interval so expired sessions do not pile
// up between lazy Get-time deletions.
type Cleaner struct {
	store    Sweeper
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCleaner creates a cleaner for the store. An interval of zero disables
// sweeping.
func NewCleaner(store Sweeper, interval time.Duration, logger *slog.Logger) *Cleaner {
	return &Cleaner{store: store, interval: interval, logger: logger}
}

// Start launches the sweep loop. It returns immediately.
func (c *Cleaner) Start(ctx context.Context) {
	if c.interval <= 0 {
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				removed, err := c.store.DeleteExpired(ctx)
				if err != nil {
					c.logger.Warn("session sweep failed", "error", err)
					continue
				}
				if removed > 0 {
					c.logger.Info("expired sessions removed", "count", removed)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for it to exit.
func (c *Cleaner) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}
