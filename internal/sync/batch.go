package sync

import (
	"sync"
	"time"
)

// BatchCollector coalesces rapid-fire alarm changes into one eventual batch
// publish. Each Add merges ids into the pending set, keeps the newest
// revision, and resets the single debounce timer; when the timer fires the
// pending state is drained atomically and handed to the publisher. Flush
// drains synchronously for callers about to issue an immediate sync that
// supersedes any pending partial batch.
type BatchCollector struct {
	mu             sync.Mutex
	pendingIDs     map[int64]struct{}
	latestRevision int64
	timer          *time.Timer
	generation     uint64
	debounce       time.Duration
	publisher      Publisher
}

// NewBatchCollector returns a collector that publishes through publisher
// after the given quiet period.
func NewBatchCollector(debounce time.Duration, publisher Publisher) *BatchCollector {
	return &BatchCollector{
		pendingIDs: make(map[int64]struct{}),
		debounce:   debounce,
		publisher:  publisher,
	}
}

// Add merges ids into the pending set and restarts the debounce timer.
// Last-add-wins reset semantics: the quiet period is measured from the most
// recent Add, not accumulated.
func (c *BatchCollector) Add(ids []int64, revision int64) {
	if len(ids) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		c.pendingIDs[id] = struct{}{}
	}
	if revision > c.latestRevision {
		c.latestRevision = revision
	}

	// Stop is best-effort: a callback already past the timer can be blocked
	// on the mutex right now. Bumping the generation makes that in-flight
	// callback a no-op, so the quiet period truly restarts here.
	if c.timer != nil {
		c.timer.Stop()
	}
	c.generation++
	generation := c.generation
	c.timer = time.AfterFunc(c.debounce, func() { c.publishPending(generation) })
}

// Flush cancels any outstanding timer and drains the pending state
// immediately. The boolean reports whether anything was pending.
func (c *BatchCollector) Flush() ([]int64, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
	return c.drainLocked()
}

func (c *BatchCollector) publishPending(generation uint64) {
	c.mu.Lock()
	if generation != c.generation {
		c.mu.Unlock()
		return
	}
	ids, revision, ok := c.drainLocked()
	c.timer = nil
	c.mu.Unlock()

	if !ok {
		return
	}
	c.publisher.PublishBatch(ids, revision)
}

func (c *BatchCollector) drainLocked() ([]int64, int64, bool) {
	if len(c.pendingIDs) == 0 {
		return nil, 0, false
	}
	ids := make([]int64, 0, len(c.pendingIDs))
	for id := range c.pendingIDs {
		ids = append(ids, id)
	}
	c.pendingIDs = make(map[int64]struct{})
	return ids, c.latestRevision, true
}
