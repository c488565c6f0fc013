// Package ingest listens for upstream notifications that new calls were
// classified and asks the poller for an immediate cycle.
package ingest

import (
	"context"
	"time"
)

const (
	minBackoff = 200 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Triggerer is satisfied by the poller.
type Triggerer interface {
	Trigger()
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = minBackoff
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d < minBackoff {
		return minBackoff
	}
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
