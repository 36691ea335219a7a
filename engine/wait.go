package engine

import (
	"context"
	"time"

	"cryptdrive.io/clock"
	"cryptdrive.io/core"
)

// Wait blocks until Exec is likely to make progress again: ctx is done,
// the transport layer reports data ready, a filesystem notification
// arrives under one of the active syncs' local roots, or the earliest
// armed backoff timer across every subsystem fires. It never blocks past
// that minimum next-fire instant, matching §4.1's per-tick recomputation
// of the minimum next_fire_ds.
func (e *Engine) Wait(ctx context.Context) {
	timer := time.NewTimer(e.nextFireDelay())
	defer timer.Stop()

	fsEvents := e.fsNotifications(ctx)

	select {
	case <-ctx.Done():
	case <-e.caps.Http.Ready():
	case <-fsEvents:
	case <-timer.C:
	}
}

// nextFireDelay computes how long to sleep before any subsystem's backoff
// timer would fire on its own, via clock.MinOf across the RPC dispatcher
// and SC reader backoffs (transfer/direct-read/sync have no independent
// timers of their own; they're re-evaluated every Exec call).
func (e *Engine) nextFireDelay() time.Duration {
	min := clock.MinOf(e.rpcBackoff.NextFire(), e.streamBackoff.NextFire())
	if min == clock.Never {
		return time.Hour
	}
	now := e.clock.Now()
	if min <= now {
		return 0
	}
	return time.Duration(min-now) * 100 * time.Millisecond
}

// fsNotifications merges the FileSystemAccess notification channels for
// every active sync's local root into one channel Wait can select on.
// Subscription errors are treated as "no notifications available for
// this root" rather than fatal, since a sync in InitialScan may cover a
// root the capability hasn't finished indexing yet.
func (e *Engine) fsNotifications(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	syncs := e.Sync.Syncs()
	if len(syncs) == 0 {
		return out
	}
	for _, s := range syncs {
		ch, err := e.caps.FS.Notifications(s.Config.LocalRoot)
		if err != nil {
			continue
		}
		go func(ch <-chan core.FSEvent) {
			select {
			case _, ok := <-ch:
				if ok {
					select {
					case out <- struct{}{}:
					default:
					}
				}
			case <-ctx.Done():
			}
		}(ch)
	}
	return out
}
