// market/instruments.go
package market

import "fmt"

type InstrumentMeta struct {
	Name          string
	QuoteCurrency string
	Digits        int

	// Point is the smallest price increment; PointValue is the account
	// currency value of a one point move on one lot.
	Point        float64
	PointValue   float64
	ContractSize float64

	LotStep    float64
	MinLot     float64
	MaxLot     float64
	MarginRate float64
}

var Instruments = map[string]InstrumentMeta{
	"XAU_USD": {
		Name:          "XAU_USD",
		QuoteCurrency: "USD",
		Digits:        2,
		Point:         0.01,
		PointValue:    1.0,
		ContractSize:  100,
		LotStep:       0.01,
		MinLot:        0.01,
		MaxLot:        100,
		MarginRate:    0.01,
	},
	"EUR_USD": {
		Name:          "EUR_USD",
		QuoteCurrency: "USD",
		Digits:        5,
		Point:         0.00001,
		PointValue:    1.0,
		ContractSize:  100000,
		LotStep:       0.01,
		MinLot:        0.01,
		MaxLot:        100,
		MarginRate:    0.0333,
	},
}

// Lookup returns the metadata for a known instrument.
func Lookup(name string) (InstrumentMeta, error) {
	meta, ok := Instruments[name]
	if !ok {
		return InstrumentMeta{}, fmt.Errorf("unknown instrument: %s", name)
	}
	return meta, nil
}

// Points converts a price distance to points.
func (m InstrumentMeta) Points(distance float64) float64 {
	if m.Point <= 0 {
		return 0
	}
	return distance / m.Point
}

// Margin is the margin needed to hold lots at price.
func (m InstrumentMeta) Margin(lots, price float64) float64 {
	return lots * m.ContractSize * price * m.MarginRate
}

// Profit is the account currency P/L of moving from open to close.
func (m InstrumentMeta) Profit(d Direction, lots, open, close float64) float64 {
	return d.Sign() * m.Points(close-open) * m.PointValue * lots
}
