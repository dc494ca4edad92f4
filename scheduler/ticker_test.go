package scheduler

import (
	"sync"
	"time"
)

// manualTickers is a TickerSource driven by explicit Tick calls.
type manualTickers struct {
	mu      sync.Mutex
	tickers map[time.Duration][]*manualTicker
	created int
}

func newManualTickers() *manualTickers {
	return &manualTickers{tickers: make(map[time.Duration][]*manualTicker)}
}

type manualTicker struct {
	c       chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (m *manualTicker) C() <-chan time.Time { return m.c }

func (m *manualTicker) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *manualTickers) Source() TickerSource {
	return func(interval time.Duration) Ticker {
		t := &manualTicker{c: make(chan time.Time)}
		m.mu.Lock()
		m.tickers[interval] = append(m.tickers[interval], t)
		m.created++
		m.mu.Unlock()
		return t
	}
}

// WaitCreated reports whether n tickers exist before timeout passes.
func (m *manualTickers) WaitCreated(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		created := m.created
		m.mu.Unlock()
		if created >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// Tick delivers one tick to every live ticker with interval. It blocks until
// each receiver has taken the tick, or a second passes, and reports how many
// tickers received it.
func (m *manualTickers) Tick(interval time.Duration, at time.Time) int {
	m.mu.Lock()
	targets := append([]*manualTicker(nil), m.tickers[interval]...)
	m.mu.Unlock()

	n := 0
	for _, t := range targets {
		t.mu.Lock()
		stopped := t.stopped
		t.mu.Unlock()
		if stopped {
			continue
		}
		select {
		case t.c <- at:
			n++
		case <-time.After(time.Second):
		}
	}
	return n
}
