package master

import (
	"sync"
	"time"
)

// penaltyEntry is one FIFO cost record in a PenaltyMeter's queue.
type penaltyEntry struct {
	at   time.Time
	cost int
}

// PenaltyMeter tracks one client's command cost over a sliding time window,
// so abusive command rates can be detected without a per-client timer.
// Pruning of expired entries happens lazily, on OverLimit and Total: a
// flooder queries often enough to be pruned promptly, and a silent client
// cannot exceed the limit regardless.
type PenaltyMeter struct {
	mu        sync.Mutex
	window    time.Duration
	maxPoints int
	queue     []penaltyEntry
	total     int
}

// NewPenaltyMeter creates a PenaltyMeter with the given sliding window (in
// seconds) and trip threshold.
func NewPenaltyMeter(windowSeconds, maxPoints int) *PenaltyMeter {
	return &PenaltyMeter{
		window:    time.Duration(windowSeconds) * time.Second,
		maxPoints: maxPoints,
	}
}

// Add enqueues a cost at the current time.
func (p *PenaltyMeter) Add(cost int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.queue = append(p.queue, penaltyEntry{at: time.Now(), cost: cost})
	p.total += cost
}

// OverLimit prunes entries older than the window, then reports whether the
// remaining total meets or exceeds the configured threshold.
func (p *PenaltyMeter) OverLimit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneLocked(time.Now())
	return p.total >= p.maxPoints
}

// Total returns the current total after pruning expired entries.
func (p *PenaltyMeter) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneLocked(time.Now())
	return p.total
}

// pruneLocked drops entries from the front of the queue whose age exceeds
// the window. Entries with a timestamp in the future (clock skew) have a
// negative age and are always retained, since the loop stops at the first
// entry that isn't expired.
func (p *PenaltyMeter) pruneLocked(now time.Time) {
	i := 0
	for i < len(p.queue) {
		if now.Sub(p.queue[i].at) <= p.window {
			break
		}
		p.total -= p.queue[i].cost
		i++
	}
	if i > 0 {
		p.queue = p.queue[i:]
	}
	if p.total < 0 {
		p.total = 0
	}
}
