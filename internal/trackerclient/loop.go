package trackerclient

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/halvarsen/torrentcore/internal/model"
)

// RunLoop announces on a schedule driven by each successful reply's
// interval_seconds+1, publishing every peer it receives to peerQueue. The
// first announce uses EventStarted; completed reports EventCompleted once
// and falls back to EventNone afterward. If an entire cycle fails (every
// tracker errors or returns no peers), the loop waits an exponentially
// growing backoff delay (github.com/cenkalti/backoff, grounded on
// uber-kraken's go.mod, 2s initially, capped at 2 minutes) and then retries,
// rather than busy-retrying.
func (c *Client) RunLoop(ctx context.Context, peerQueue chan<- model.PeerAddress, isComplete func() bool) {
	startedOnce := false
	completedSent := false

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 2 * time.Minute
	bo.MaxElapsedTime = 0 // never give up; the loop itself is long-lived

	for {
		event := EventNone
		switch {
		case !startedOnce:
			event = EventStarted
		case isComplete() && !completedSent:
			event = EventCompleted
		}

		peers, err := c.Announce(ctx, event)
		if err != nil {
			c.log.Warn("tracker refresh cycle failed, backing off", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(bo.NextBackOff()):
			}
			continue
		}

		bo.Reset()
		startedOnce = true
		if event == EventCompleted {
			completedSent = true
		}

		for _, p := range peers {
			select {
			case peerQueue <- p:
			case <-ctx.Done():
				return
			}
		}

		interval := c.Stats().IntervalSeconds
		if interval <= 0 {
			interval = 60
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(interval+1) * time.Second):
		}
	}
}
