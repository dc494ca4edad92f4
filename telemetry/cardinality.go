package telemetry

import (
	"sync"
	"time"
)

// OverflowValue replaces label values past a cardinality limit.
const OverflowValue = "other"

// CardinalityLimiter bounds the distinct values each metric label may take.
// Values not seen for the idle window are forgotten, freeing their slot.
type CardinalityLimiter struct {
	limits map[string]int
	idle   time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]map[string]time.Time // metric.label -> value -> last use

	stopChan chan struct{}
	stopped  sync.Once
}

// NewCardinalityLimiter creates a limiter for limits keyed by label name.
// Labels without a limit pass through unchanged.
func NewCardinalityLimiter(limits map[string]int) *CardinalityLimiter {
	c := newCardinalityLimiter(limits, 10*time.Minute, time.Now)
	go c.cleanupLoop(5 * time.Minute)
	return c
}

func newCardinalityLimiter(limits map[string]int, idle time.Duration, now func() time.Time) *CardinalityLimiter {
	return &CardinalityLimiter{
		limits:   limits,
		idle:     idle,
		now:      now,
		seen:     make(map[string]map[string]time.Time),
		stopChan: make(chan struct{}),
	}
}

// CheckAndLimit returns value, or OverflowValue when the label of metric is
// already at its limit and value is new.
func (c *CardinalityLimiter) CheckAndLimit(metric, label, value string) string {
	limit, ok := c.limits[label]
	if !ok {
		return value
	}

	key := metric + "." + label
	c.mu.Lock()
	defer c.mu.Unlock()

	values, ok := c.seen[key]
	if !ok {
		values = make(map[string]time.Time)
		c.seen[key] = values
	}
	if _, known := values[value]; !known && len(values) >= limit {
		return OverflowValue
	}
	values[value] = c.now()
	return value
}

// CurrentCardinality returns the number of tracked label values.
func (c *CardinalityLimiter) CurrentCardinality() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, values := range c.seen {
		total += len(values)
	}
	return total
}

func (c *CardinalityLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopChan:
			return
		}
	}
}

func (c *CardinalityLimiter) cleanup() {
	cutoff := c.now().Add(-c.idle)
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, values := range c.seen {
		for v, at := range values {
			if at.Before(cutoff) {
				delete(values, v)
			}
		}
		if len(values) == 0 {
			delete(c.seen, key)
		}
	}
}

// Stop ends the cleanup goroutine.
func (c *CardinalityLimiter) Stop() {
	c.stopped.Do(func() {
		close(c.stopChan)
	})
}
