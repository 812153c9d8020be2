// internal/sweeper/sweeper.go
package sweeper

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/statroom/statroom/internal/store"
)

// Sweeper deletes rooms that have been idle longer than TTL. It runs on its
// own fixed timer, independent of the session engine; staleness is judged
// on the updated_at snapshot read at sweep time, so a room that a join just
// touched never matches the predicate.
type Sweeper struct {
	Store    store.Store
	Interval time.Duration
	TTL      time.Duration
	Log      *logrus.Logger
}

func New(s store.Store, interval, ttl time.Duration, logger *logrus.Logger) *Sweeper {
	return &Sweeper{
		Store:    s,
		Interval: interval,
		TTL:      ttl,
		Log:      logger,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	sw.Log.Infof("Retention sweeper running (interval %s, ttl %s)", sw.Interval, sw.TTL)
	for {
		select {
		case <-ctx.Done():
			sw.Log.Info("Retention sweeper stopping")
			return
		case <-ticker.C:
			sw.SweepOnce(ctx)
		}
	}
}

// SweepOnce deletes every room idle past TTL and returns how many went.
func (sw *Sweeper) SweepOnce(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-sw.TTL)
	codes, err := sw.Store.ListIdleRooms(ctx, cutoff)
	if err != nil {
		sw.Log.Warnf("sweep: failed to list idle rooms: %v", err)
		return 0
	}

	deleted := 0
	for _, code := range codes {
		if err := sw.Store.DeleteRoom(ctx, code); err != nil {
			sw.Log.Warnf("sweep: failed to delete room %s: %v", code, err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		sw.Log.Infof("Cleaned up %d inactive rooms", deleted)
	}
	return deleted
}
