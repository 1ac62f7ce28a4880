package sim

import (
	"time"

	"github.com/rustyeddy/bullion/broker"
	"github.com/rustyeddy/bullion/market"
)

type position struct {
	broker.OpenPosition
}

func (p *position) hitStopLoss(mark float64) bool {
	if p.StopLoss == 0 {
		return false
	}
	if p.Direction == market.Long {
		return mark <= p.StopLoss
	}
	return mark >= p.StopLoss
}

func (p *position) hitTakeProfit(mark float64) bool {
	if p.TakeProfit == 0 {
		return false
	}
	if p.Direction == market.Long {
		return mark >= p.TakeProfit
	}
	return mark <= p.TakeProfit
}

// checkBar evaluates stop/take against a bar's range. When both are inside
// the bar the stop is assumed to fill first.
func (p *position) checkBar(c market.Candle) (exit float64, reason string, hit bool) {
	var stopHit, takeHit bool
	switch p.Direction {
	case market.Long:
		stopHit = p.StopLoss != 0 && c.Low <= p.StopLoss
		takeHit = p.TakeProfit != 0 && c.High >= p.TakeProfit
	case market.Short:
		stopHit = p.StopLoss != 0 && c.High >= p.StopLoss
		takeHit = p.TakeProfit != 0 && c.Low <= p.TakeProfit
	}
	switch {
	case stopHit:
		return p.StopLoss, ReasonStopLoss, true
	case takeHit:
		return p.TakeProfit, ReasonTakeProfit, true
	}
	return 0, "", false
}

func (p *position) close(price float64, at time.Time, profit float64, reason string) broker.ClosedTrade {
	return broker.ClosedTrade{
		Ticket:     p.Ticket,
		Instrument: p.Instrument,
		Direction:  p.Direction,
		Lots:       p.Lots,
		OpenPrice:  p.OpenPrice,
		ClosePrice: price,
		Profit:     profit,
		OpenTime:   p.OpenTime,
		CloseTime:  at,
		Reason:     reason,
	}
}
