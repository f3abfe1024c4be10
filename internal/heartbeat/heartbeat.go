// Package heartbeat runs the daemon side of the membership protocol
// (§4.5 step 4, §4.6): a periodic "ls //" request framed with V: ... HB,
// sent every SendInterval for as long as the process lives. The tracker
// side of the same protocol is internal/membership's sweeper.
package heartbeat

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pns-project/pns/internal/rpcclient"
)

// SendInterval is part of the wire contract (§4.6): a non-tracker daemon
// heartbeats at this cadence, well under membership.ExpireAfter so that a
// single dropped beat does not trigger eviction.
const SendInterval = time.Second

// Run sends a heartbeat to client's tracker every SendInterval until ctx is
// canceled. A single failed heartbeat is retried with bounded exponential
// backoff (retries stop once SendInterval has elapsed) rather than aborting the loop —
// a tracker that's mid-restart or briefly unreachable should not make the
// daemon give up and drop off the roster sooner than it has to.
func Run(ctx context.Context, client *rpcclient.Client, log *log.Logger) {
	ticker := time.NewTicker(SendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sendOnce(ctx, client); err != nil {
				log.Printf("heartbeat to %s failed: %v", client.Addr, err)
			}
		}
	}
}

func sendOnce(ctx context.Context, client *rpcclient.Client) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = SendInterval
	return backoff.Retry(func() error {
		_, err := client.Heartbeat()
		return err
	}, backoff.WithContext(b, ctx))
}
