package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/bullion/market"
)

// Ticket is the broker's position id. Zero means no position was opened.
type Ticket uint64

var (
	ErrPositionNotFound      = errors.New("position not found")
	ErrPositionAlreadyClosed = errors.New("position already closed")
	ErrOrderRejected         = errors.New("order rejected")
)

// Gateway executes orders. Calls are synchronous; a failed call leaves no
// partial fill behind.
type Gateway interface {
	OpenLong(ctx context.Context, req OrderRequest) (Ticket, error)
	OpenShort(ctx context.Context, req OrderRequest) (Ticket, error)
	ClosePosition(ctx context.Context, ticket Ticket) error
	CloseAll(ctx context.Context) error
	ModifyStopLoss(ctx context.Context, ticket Ticket, stop float64) error
}

// AccountState is the read-only view of the account and its positions.
type AccountState interface {
	Account(ctx context.Context) (Account, error)
	OpenPositions(ctx context.Context) ([]OpenPosition, error)
	Position(ctx context.Context, ticket Ticket) (OpenPosition, bool, error)
	History(ctx context.Context, ticket Ticket) (ClosedTrade, bool, error)
	RealizedSince(ctx context.Context, since time.Time) (float64, error)
	MarginRequired(ctx context.Context, d market.Direction, lots, price float64) (float64, error)
}

// Broker is both halves of the broker contract.
type Broker interface {
	Gateway
	AccountState
}

type Account struct {
	ID         string
	Currency   string
	Balance    float64
	Equity     float64
	MarginUsed float64
	FreeMargin float64
}

// Floating is the unrealized P/L of the open positions.
func (a Account) Floating() float64 {
	return a.Equity - a.Balance
}

type OrderRequest struct {
	Instrument string
	Lots       float64
	StopLoss   float64 // 0 = none
	TakeProfit float64 // 0 = none
	Comment    string
	StrategyID string
}

type OpenPosition struct {
	Ticket     Ticket
	Instrument string
	StrategyID string
	Direction  market.Direction
	Lots       float64
	OpenPrice  float64
	StopLoss   float64
	TakeProfit float64
	Profit     float64
	OpenTime   time.Time
	Comment    string
}

type ClosedTrade struct {
	Ticket     Ticket
	Instrument string
	Direction  market.Direction
	Lots       float64
	OpenPrice  float64
	ClosePrice float64
	Profit     float64
	OpenTime   time.Time
	CloseTime  time.Time
	Reason     string
}

// Open dispatches req to OpenLong or OpenShort.
func Open(ctx context.Context, g Gateway, d market.Direction, req OrderRequest) (Ticket, error) {
	switch d {
	case market.Long:
		return g.OpenLong(ctx, req)
	case market.Short:
		return g.OpenShort(ctx, req)
	}
	return 0, ErrOrderRejected
}
