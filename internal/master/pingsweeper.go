package master

import (
	"context"
	"time"
)

// checkPingInterval is how often the sweeper scans for idle connections.
const checkPingInterval = 10 * time.Second

// clientPingTimeout is how long a connection may go without a K command
// before it is considered dead.
const clientPingTimeout = 3*time.Minute + 30*time.Second

// PingSweeper periodically scans the registry for connections that have
// gone quiet longer than clientPingTimeout and asks their owning worker to
// disconnect them. It never closes a socket directly, preserving the
// invariant that only a connection's owning worker mutates or tears it
// down.
type PingSweeper struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
}

// NewPingSweeper constructs a PingSweeper with the default interval and
// timeout.
func NewPingSweeper(registry *Registry) *PingSweeper {
	return &PingSweeper{registry: registry, interval: checkPingInterval, timeout: clientPingTimeout}
}

// Run scans on a fixed interval until ctx is canceled.
func (s *PingSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep disconnects every connection idle longer than the timeout.
func (s *PingSweeper) sweep(now time.Time) {
	for _, c := range s.registry.SnapshotClients() {
		if c.idleSince(now) > s.timeout {
			c.ownerWorker.Disconnect(c)
		}
	}
}
