package trust

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokentrust/pkg/marketdata"
)

type staticSource struct {
	snap *marketdata.Snapshot
	err  error
}

func (s staticSource) Get(ctx context.Context, token string) (*marketdata.Snapshot, error) {
	return s.snap, s.err
}

func snapshot(liquidity, vol24h, mcap, m5, h24 float64) *marketdata.Snapshot {
	return &marketdata.Snapshot{
		TokenAddress: "mint",
		PairAddress:  "pair",
		LiquidityUSD: liquidity,
		Volume:       marketdata.Horizons{H24: vol24h},
		MarketCap:    mcap,
		PriceChange:  marketdata.Horizons{M5: m5, H24: h24},
	}
}

func newScorer(t *testing.T, snap *marketdata.Snapshot) *Scorer {
	t.Helper()
	s, err := NewScorer(DefaultConfig(), staticSource{snap: snap})
	require.NoError(t, err)
	return s
}

func TestScore(t *testing.T) {
	t.Run("Saturated components sum to one", func(t *testing.T) {
		assert.Equal(t, 1.0, Score(snapshot(120_000, 60_000, 1_200_000, 0, 0)))
	})

	t.Run("Weighted partial components", func(t *testing.T) {
		// .5*.4 + .5*.4 + .5*.2
		assert.InDelta(t, 0.5, Score(snapshot(50_000, 25_000, 500_000, 0, 0)), 1e-12)
	})

	t.Run("FDV backs up missing market cap", func(t *testing.T) {
		snap := snapshot(0, 0, 0, 0, 0)
		snap.FDV = 2_000_000
		assert.InDelta(t, 0.2, Score(snap), 1e-12)
	})

	t.Run("Always within unit interval", func(t *testing.T) {
		values := []float64{-1e12, -1, 0, 1, 999, 1e5, 1e9, 1e300, math.Inf(1)}
		for _, l := range values {
			for _, v := range values {
				for _, m := range values {
					s := Score(snapshot(l, v, m, 0, 0))
					assert.GreaterOrEqual(t, s, 0.0)
					assert.LessOrEqual(t, s, 1.0)
				}
			}
		}
	})
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	_, err := NewScorer(Config{HighConfidenceThreshold: 0.3, LowConfidenceThreshold: 0.6}, staticSource{})
	assert.ErrorIs(t, err, ErrThresholdOrdering)

	_, err = NewScorer(Config{HighConfidenceThreshold: 0.5, LowConfidenceThreshold: 0.5}, staticSource{})
	assert.ErrorIs(t, err, ErrThresholdOrdering)
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		snap   *marketdata.Snapshot
		advice Advice
		risk   RiskLevel
		stop   bool
	}{
		{
			name:   "Buy on 5m momentum with high trust",
			snap:   snapshot(90_000, 100_000, 900_000, 6, 0),
			advice: AdviceBuy,
			risk:   RiskLow,
		},
		{
			name:   "Buy on 24h momentum with medium trust",
			snap:   snapshot(40_000, 30_000, 300_000, 0, 12),
			advice: AdviceBuy,
			risk:   RiskMedium,
		},
		{
			name:   "Momentum without volume is not a buy",
			snap:   snapshot(100_000, 15_000, 1_000_000, 6, 0),
			advice: AdviceHold,
			risk:   RiskLow,
		},
		{
			name:   "Sell on 5m drop",
			snap:   snapshot(100_000, 100_000, 1_000_000, -6, 0),
			advice: AdviceSell,
			risk:   RiskLow,
		},
		{
			name:   "Sell at or below high confidence threshold",
			snap:   snapshot(50_000, 25_000, 500_000, 0, 0),
			advice: AdviceSell,
			risk:   RiskMedium,
		},
		{
			name:   "Hold when trusted and flat",
			snap:   snapshot(100_000, 100_000, 1_000_000, 1, 2),
			advice: AdviceHold,
			risk:   RiskLow,
		},
		{
			name:   "Freefall stops monitoring regardless of trust",
			snap:   snapshot(1e6, 1e6, 1e7, -25, 50),
			advice: AdviceSell,
			risk:   RiskLow,
			stop:   true,
		},
		{
			name:   "Steep drop with low trust stops monitoring",
			snap:   snapshot(10_000, 5_000, 100_000, -16, 0),
			advice: AdviceSell,
			risk:   RiskHigh,
			stop:   true,
		},
		{
			name:   "Trust floor stops monitoring even on momentum",
			snap:   snapshot(1_000, 1_000, 10_000, 30, 40),
			advice: AdviceSell,
			risk:   RiskHigh,
			stop:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			eval, err := newScorer(t, tc.snap).Evaluate(ctx, "mint")
			require.NoError(t, err)
			assert.Equal(t, tc.advice, eval.TradingAdvice, eval.Reason)
			assert.Equal(t, tc.risk, eval.RiskLevel)
			assert.Equal(t, tc.stop, eval.StopMonitoring)
			assert.NotEmpty(t, eval.Reason)
			if eval.StopMonitoring {
				assert.Equal(t, AdviceSell, eval.TradingAdvice)
			}
		})
	}
}

func TestStopMonitoringAlwaysSells(t *testing.T) {
	s := newScorer(t, nil)
	for _, m5 := range []float64{-90, -40, -21, -17, -10, 0, 15} {
		for _, liq := range []float64{0, 1_000, 10_000, 200_000} {
			snap := snapshot(liq, liq/2, liq*10, m5, 20)
			eval, err := s.EvaluateSnapshot("mint", snap)
			require.NoError(t, err)
			if eval.StopMonitoring {
				assert.Equal(t, AdviceSell, eval.TradingAdvice, "m5=%v liq=%v", m5, liq)
			}
		}
	}
}

func TestEvaluateErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("Empty snapshot is insufficient data", func(t *testing.T) {
		s, err := NewScorer(DefaultConfig(), staticSource{snap: &marketdata.Snapshot{TokenAddress: "mint"}})
		require.NoError(t, err)

		_, err = s.Evaluate(ctx, "mint")
		require.Error(t, err)
		var evalErr *EvaluationError
		require.True(t, errors.As(err, &evalErr))
		assert.Equal(t, "mint", evalErr.Token)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("Source failure is wrapped", func(t *testing.T) {
		boom := errors.New("boom")
		s, err := NewScorer(DefaultConfig(), staticSource{err: boom})
		require.NoError(t, err)

		_, err = s.Evaluate(ctx, "mint")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Non-finite values are rejected", func(t *testing.T) {
		snap := snapshot(math.NaN(), 1, 1, 0, 0)
		_, err := newScorer(t, snap).Evaluate(ctx, "mint")
		assert.ErrorIs(t, err, ErrInsufficientData)
	})
}
