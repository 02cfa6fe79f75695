package game

import "time"

// PeriodicTickerChannelCreator abstracts time.Ticker so tests can feed
// the round driver a hand-controlled channel. The returned stop func
// must be called when the owner goroutine exits, so no ticker outlives
// its room.
type PeriodicTickerChannelCreator interface {
	Create(duration time.Duration) (<-chan time.Time, func())
}

type ticker struct{}

func (ticker) Create(duration time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(duration)
	return t.C, t.Stop
}

func NewTickerGen() ticker {
	return ticker{}
}
