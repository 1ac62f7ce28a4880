package broker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// Guarded wraps a Gateway in a circuit breaker. After repeated gateway
// failures calls fail fast with gobreaker.ErrOpenState until the breaker
// half-opens again.
type Guarded struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker
}

type BreakerConfig struct {
	Name                string        `json:"name" yaml:"name"`
	ConsecutiveFailures uint32        `json:"consecutive_failures" yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `json:"open_timeout" yaml:"open_timeout"`
}

func NewGuarded(next Gateway, cfg BreakerConfig) *Guarded {
	if cfg.Name == "" {
		cfg.Name = "gateway"
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 60 * time.Second
	}
	st := gobreaker.Settings{
		Name:     cfg.Name,
		Interval: 60 * time.Second,
		Timeout:  cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
	}
	return &Guarded{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

// State reports the breaker state ("closed", "open", "half-open").
func (g *Guarded) State() string {
	return g.cb.State().String()
}

func (g *Guarded) OpenLong(ctx context.Context, req OrderRequest) (Ticket, error) {
	return g.open(func() (Ticket, error) { return g.next.OpenLong(ctx, req) })
}

func (g *Guarded) OpenShort(ctx context.Context, req OrderRequest) (Ticket, error) {
	return g.open(func() (Ticket, error) { return g.next.OpenShort(ctx, req) })
}

func (g *Guarded) open(fn func() (Ticket, error)) (Ticket, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return 0, err
	}
	return v.(Ticket), nil
}

func (g *Guarded) ClosePosition(ctx context.Context, ticket Ticket) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.next.ClosePosition(ctx, ticket)
	})
	return err
}

func (g *Guarded) CloseAll(ctx context.Context) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.next.CloseAll(ctx)
	})
	return err
}

func (g *Guarded) ModifyStopLoss(ctx context.Context, ticket Ticket, stop float64) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.next.ModifyStopLoss(ctx, ticket, stop)
	})
	return err
}
