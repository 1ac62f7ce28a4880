package risk

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/bullion/broker"
	"github.com/rustyeddy/bullion/market"
)

func TestCalculateLotSizeRisksExactAmount(t *testing.T) {
	t.Parallel()

	acct := newFakeAccount(10000)
	rm := newTestManager(DefaultConfig(), acct, &clock{day1})

	lots, err := rm.CalculateLotSize(context.Background(), 2, 2000.00, 1990.00)
	require.NoError(t, err)
	assert.InDelta(t, 0.20, lots, 1e-9)

	risked := lots * acct.meta.PointValue * acct.meta.Points(10)
	assert.InDelta(t, 200, risked, 1e-6)
}

func TestCalculateLotSizeUnitPointFixture(t *testing.T) {
	t.Parallel()

	acct := newFakeAccount(10000)
	acct.meta = market.InstrumentMeta{Name: "TEST", Point: 1, PointValue: 1, ContractSize: 1, LotStep: 0.01, MinLot: 0.01, MaxLot: 1000, MarginRate: 0.01}
	acct.acct.FreeMargin = 1e6
	cfg := DefaultConfig()
	cfg.MaxLotMultiplier = 100000

	rm := newTestManager(cfg, acct, &clock{day1})
	lots, err := rm.CalculateLotSize(context.Background(), 2, 2000, 1990)
	require.NoError(t, err)
	assert.InDelta(t, 20, lots, 1e-9)
}

func TestCalculateLotSizeProperty(t *testing.T) {
	t.Parallel()

	acct := newFakeAccount(10000)
	acct.acct.FreeMargin = 1e9
	cfg := DefaultConfig()
	cfg.MaxLotMultiplier = 0
	rm := newTestManager(cfg, acct, &clock{day1})
	ctx := context.Background()

	for _, pct := range []float64{0.5, 1, 1.5, 2, 3} {
		for _, dist := range []float64{3.7, 5, 10, 22.5} {
			lots, err := rm.CalculateLotSize(ctx, pct, 2000, 2000-dist)
			require.NoError(t, err)

			perLot := acct.meta.Points(dist) * acct.meta.PointValue
			want := pct / 100 * acct.acct.Balance
			got := lots * perLot
			assert.LessOrEqual(t, got, want+1e-4, "pct=%v dist=%v", pct, dist)
			assert.Greater(t, got, want-acct.meta.LotStep*perLot-1e-4, "pct=%v dist=%v", pct, dist)
		}
	}
}

func TestCalculateLotSizeFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(*fakeAccount, *Config)
		pct   float64
		entry float64
		stop  float64
		want  Code
	}{
		{"zero distance", nil, 2, 2000, 2000, ErrInvalidStopDistance},
		{"below minimum", nil, 0.0001, 2000, 1990, ErrLotBelowMinimum},
		{"zero risk", nil, 0, 2000, 1990, ErrLotBelowMinimum},
		{"no margin", func(a *fakeAccount, _ *Config) { a.acct.FreeMargin = 100 }, 2, 2000, 1990, ErrInsufficientMargin},
		{"margin usage cap", func(a *fakeAccount, c *Config) {
			a.acct.FreeMargin = 700
			c.MaxMarginUsage = 50
		}, 2, 2000, 1990, ErrInsufficientMargin},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			acct := newFakeAccount(10000)
			cfg := DefaultConfig()
			if tt.setup != nil {
				tt.setup(acct, &cfg)
			}
			rm := newTestManager(cfg, acct, &clock{day1})

			lots, err := rm.CalculateLotSize(context.Background(), tt.pct, tt.entry, tt.stop)
			assert.Zero(t, lots)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsRejection(err))
		})
	}
}

func TestCalculateLotSizeCapsAtMultiplier(t *testing.T) {
	t.Parallel()

	acct := newFakeAccount(10000)
	cfg := DefaultConfig()
	cfg.MaxLotMultiplier = 10
	rm := newTestManager(cfg, acct, &clock{day1})

	lots, err := rm.CalculateLotSize(context.Background(), 2, 2000, 1999)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, lots, 1e-9)
}

func TestComputeRiskPercentInvertsLotSize(t *testing.T) {
	t.Parallel()

	acct := newFakeAccount(10000)
	rm := newTestManager(DefaultConfig(), acct, &clock{day1})
	ctx := context.Background()

	pct, err := rm.ComputeRiskPercent(ctx, 0.2, 2000, 1990)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, pct, 1e-9)

	_, err = rm.ComputeRiskPercent(ctx, 0.2, 2000, 2000)
	assert.ErrorIs(t, err, ErrInvalidStopDistance)

	_, err = rm.ComputeRiskPercent(ctx, 0, 2000, 1990)
	assert.Error(t, err)
	assert.False(t, IsRejection(err))
}

func TestDailyLossHalts(t *testing.T) {
	t.Parallel()

	acct := newFakeAccount(9650)
	acct.realized = -350
	cfg := DefaultConfig()
	cfg.DailyLossLimit = 3.0
	rm := newTestManager(cfg, acct, &clock{day1})

	err := rm.CanOpenNewPosition(context.Background())
	assert.ErrorIs(t, err, ErrDailyLossLimitHalted)
	assert.True(t, rm.Halted())

	stats, err := rm.Stats(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, -3.5, stats.DailyPnLPct, 1e-9)
	assert.True(t, stats.TradingHalted)
}

func TestHaltIsMonotonicWithinDay(t *testing.T) {
	t.Parallel()

	acct := newFakeAccount(9650)
	acct.realized = -350
	c := &clock{day1}
	rm := newTestManager(DefaultConfig(), acct, c)
	ctx := context.Background()

	require.Error(t, rm.CanOpenNewPosition(ctx))

	// floating profit brings the day back to +1.5%
	acct.acct.Equity = acct.acct.Balance + 500
	c.t = day1.Add(6 * time.Hour)

	err := rm.CanOpenNewPosition(ctx)
	assert.ErrorIs(t, err, ErrDailyLossLimitHalted)
	halted, err := rm.CheckDailyLoss(ctx)
	require.NoError(t, err)
	assert.True(t, halted)

	// next server day
	acct.realized = 0
	c.t = day1.Add(24 * time.Hour)
	assert.NoError(t, rm.CanOpenNewPosition(ctx))
	assert.False(t, rm.Halted())
}

func TestPositionCountLimit(t *testing.T) {
	t.Parallel()

	acct := newFakeAccount(10000)
	cfg := DefaultConfig()
	cfg.MaxPositions = 5
	cfg.MaxTotalExposure = 100
	rm := newTestManager(cfg, acct, &clock{day1})

	for i := 1; i <= 5; i++ {
		rm.AddPosition(broker.Ticket(i), 0.1)
	}

	err := rm.CanOpenNewPosition(context.Background())
	assert.ErrorIs(t, err, ErrPositionCountLimit)
	assert.False(t, rm.Halted())
}

func TestExposureLimit(t *testing.T) {
	t.Parallel()

	acct := newFakeAccount(10000)
	cfg := DefaultConfig()
	cfg.MaxPositions = 10
	cfg.MaxTotalExposure = 6
	rm := newTestManager(cfg, acct, &clock{day1})

	rm.AddPosition(1, 2)
	rm.AddPosition(2, 2)
	assert.NoError(t, rm.CanOpenNewPosition(context.Background()))

	rm.AddPosition(3, 2)
	assert.ErrorIs(t, rm.CanOpenNewPosition(context.Background()), ErrExposureLimitReached)
}

func TestExposureInvariant(t *testing.T) {
	t.Parallel()

	acct := newFakeAccount(10000)
	rm := newTestManager(DefaultConfig(), acct, &clock{day1})
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(7))

	want := map[broker.Ticket]float64{}
	for i := 0; i < 500; i++ {
		ticket := broker.Ticket(rnd.Intn(20) + 1)
		if rnd.Intn(2) == 0 {
			pct := float64(rnd.Intn(300)) / 100
			if _, ok := want[ticket]; !ok {
				want[ticket] = pct
			}
			rm.AddPosition(ticket, pct)
		} else {
			delete(want, ticket)
			rm.RemovePosition(ctx, ticket)
		}

		var sum float64
		for _, pct := range want {
			sum += pct
		}
		require.InDelta(t, sum, rm.CurrentExposure(), 1e-9)
		require.Equal(t, len(want), rm.Count())
	}
}

func TestAddPositionKeepsInitialRisk(t *testing.T) {
	t.Parallel()

	rm := newTestManager(DefaultConfig(), newFakeAccount(10000), &clock{day1})
	rm.AddPosition(1, 1.5)
	rm.AddPosition(1, 3)
	assert.InDelta(t, 1.5, rm.CurrentExposure(), 1e-12)
}

func TestAdjustRiskForStreak(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		losses  int
		scaling bool
		want    float64
	}{
		{"no losses", 0, true, 2.0},
		{"level 1", 2, true, 1.5},
		{"level 2 wins", 3, true, 1.0},
		{"beyond level 2", 6, true, 1.0},
		{"scaling off", 3, false, 2.0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			cfg.LossScaling = tt.scaling
			cfg.LossesLevel1 = 2
			cfg.LossesLevel2 = 3
			cfg.ReductionLevel1 = 25
			cfg.ReductionLevel2 = 50
			rm := newTestManager(cfg, newFakeAccount(10000), &clock{day1})
			for i := 0; i < tt.losses; i++ {
				rm.recordResult(-1)
			}

			assert.InDelta(t, tt.want, rm.AdjustRiskForStreak(2.0), 1e-12)
		})
	}
}

func TestAdjustRiskForDirection(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.ShortRiskMultiplier = 0.5
	rm := newTestManager(cfg, newFakeAccount(10000), &clock{day1})

	assert.InDelta(t, 2.0, rm.AdjustRiskForDirection(2, market.Long), 1e-12)
	assert.InDelta(t, 1.0, rm.AdjustRiskForDirection(2, market.Short), 1e-12)
}

func TestRemovePositionUpdatesStreak(t *testing.T) {
	t.Parallel()

	acct := newFakeAccount(10000)
	rm := newTestManager(DefaultConfig(), acct, &clock{day1})
	ctx := context.Background()

	acct.history[1] = broker.ClosedTrade{Ticket: 1, Profit: -40}
	acct.history[2] = broker.ClosedTrade{Ticket: 2, Profit: -25}
	acct.open[3] = broker.OpenPosition{Ticket: 3, Profit: 0}
	acct.open[4] = broker.OpenPosition{Ticket: 4, Profit: 80}
	for i := 1; i <= 5; i++ {
		rm.AddPosition(broker.Ticket(i), 1)
	}

	rm.RemovePosition(ctx, 1)
	rm.RemovePosition(ctx, 2)
	assert.Equal(t, 2, rm.ConsecutiveLosses())

	// flat result leaves the streak alone
	rm.RemovePosition(ctx, 3)
	assert.Equal(t, 2, rm.ConsecutiveLosses())

	// live position result when not in history
	rm.RemovePosition(ctx, 4)
	stats, err := rm.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ConsecutiveLosses)
	assert.Equal(t, 1, stats.ConsecutiveWins)

	// unknown result still untracks
	rm.RemovePosition(ctx, 5)
	assert.Zero(t, rm.Count())
	assert.Zero(t, rm.CurrentExposure())

	// untracked ticket is a no-op
	rm.RemovePosition(ctx, 99)
	assert.Equal(t, 1, rm.wins)
}
