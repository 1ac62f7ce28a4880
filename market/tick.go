package market

import (
	"errors"
	"time"
)

type Tick struct {
	Instrument string
	Time       time.Time
	Bid        float64
	Ask        float64
}

func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

// ErrNoPrice is returned when no quote has been seen yet.
var ErrNoPrice = errors.New("price not found")
