package scheduler

import "time"

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerSource creates a ticker for an interval.
type TickerSource func(interval time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// RealTickers is the wall-clock TickerSource.
func RealTickers(interval time.Duration) Ticker {
	return realTicker{t: time.NewTicker(interval)}
}
