package trust

import (
	"context"
	"errors"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"tokentrust/pkg/marketdata"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

type Advice string

const (
	AdviceBuy  Advice = "BUY"
	AdviceSell Advice = "SELL"
	AdviceHold Advice = "HOLD"
)

// Normalisation denominators and weights of the trust score.
const (
	liquidityNorm = 100_000.0
	volumeNorm    = 50_000.0
	marketCapNorm = 1_000_000.0

	liquidityWeight = 0.4
	volumeWeight    = 0.4
	marketCapWeight = 0.2
)

// Momentum triggers, in percent.
const (
	buyMomentum5m  = 5.0
	buyMomentum24h = 10.0
	sellDrop5m     = -5.0

	freefall5m        = -20.0
	steepDrop5m       = -15.0
	steepDropMaxTrust = 0.15
	floorTrust        = 0.08
)

var (
	ErrInsufficientData  = errors.New("insufficient market data")
	ErrThresholdOrdering = errors.New("high confidence threshold must exceed low confidence threshold")
)

// EvaluationError reports why a token could not be evaluated.
type EvaluationError struct {
	Token string
	Err   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate %s: %v", e.Token, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// SnapshotSource is satisfied by *marketdata.Cache.
type SnapshotSource interface {
	Get(ctx context.Context, tokenAddress string) (*marketdata.Snapshot, error)
}

// Config holds the decision thresholds. HighConfidenceThreshold marks LOW
// risk and is also the trust level at or below which a token is sold;
// LowConfidenceThreshold is the trust needed to buy and marks MEDIUM risk.
type Config struct {
	HighConfidenceThreshold float64
	LowConfidenceThreshold  float64
	MinVolume24h            float64
}

func DefaultConfig() Config {
	return Config{
		HighConfidenceThreshold: 0.7,
		LowConfidenceThreshold:  0.4,
		MinVolume24h:            20_000,
	}
}

func (c Config) Validate() error {
	if c.HighConfidenceThreshold <= c.LowConfidenceThreshold {
		return fmt.Errorf("%w: high=%.3f low=%.3f", ErrThresholdOrdering,
			c.HighConfidenceThreshold, c.LowConfidenceThreshold)
	}
	if c.MinVolume24h < 0 {
		return fmt.Errorf("min volume must not be negative: %.2f", c.MinVolume24h)
	}
	return nil
}

// Evaluation is the scorer's verdict on one token.
type Evaluation struct {
	TokenAddress   string               `json:"token_address"`
	TrustScore     float64              `json:"trust_score"`
	RiskLevel      RiskLevel            `json:"risk_level"`
	TradingAdvice  Advice               `json:"trading_advice"`
	Reason         string               `json:"reason"`
	StopMonitoring bool                 `json:"stop_monitoring"`
	Snapshot       *marketdata.Snapshot `json:"snapshot,omitempty"`
}

// Scorer turns market snapshots into trust scores and trading advice.
type Scorer struct {
	cfg    Config
	source SnapshotSource
}

// NewScorer validates cfg and returns a Scorer reading from source.
func NewScorer(cfg Config, source SnapshotSource) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg, source: source}, nil
}

func (s *Scorer) Config() Config {
	return s.cfg
}

// Score returns the weighted, clamped trust score in [0,1].
func Score(snap *marketdata.Snapshot) float64 {
	if snap == nil {
		return 0
	}
	score := clampRatio(snap.LiquidityUSD, liquidityNorm)*liquidityWeight +
		clampRatio(snap.Volume.H24, volumeNorm)*volumeWeight +
		clampRatio(snap.EffectiveMarketCap(), marketCapNorm)*marketCapWeight
	return math.Min(1, math.Max(0, score))
}

func clampRatio(value, norm float64) float64 {
	if math.IsNaN(value) || value <= 0 {
		return 0
	}
	return math.Min(value/norm, 1)
}

// Evaluate fetches the token's snapshot and classifies it.
func (s *Scorer) Evaluate(ctx context.Context, tokenAddress string) (*Evaluation, error) {
	snap, err := s.source.Get(ctx, tokenAddress)
	if err != nil {
		return nil, &EvaluationError{Token: tokenAddress, Err: err}
	}
	return s.EvaluateSnapshot(tokenAddress, snap)
}

// EvaluateSnapshot classifies an already fetched snapshot.
func (s *Scorer) EvaluateSnapshot(tokenAddress string, snap *marketdata.Snapshot) (*Evaluation, error) {
	if err := validateSnapshot(snap); err != nil {
		return nil, &EvaluationError{Token: tokenAddress, Err: err}
	}

	score := Score(snap)
	eval := &Evaluation{
		TokenAddress: tokenAddress,
		TrustScore:   score,
		RiskLevel:    s.riskLevel(score),
		Snapshot:     snap,
	}
	eval.TradingAdvice, eval.Reason = s.advice(snap, score)

	if stop, why := stopMonitoring(snap, score); stop {
		eval.StopMonitoring = true
		eval.TradingAdvice = AdviceSell
		eval.Reason = why
	}

	log.WithFields(log.Fields{
		"token":  tokenAddress,
		"trust":  fmt.Sprintf("%.4f", score),
		"risk":   eval.RiskLevel,
		"advice": eval.TradingAdvice,
		"stop":   eval.StopMonitoring,
	}).Debug("token evaluated")

	return eval, nil
}

func validateSnapshot(snap *marketdata.Snapshot) error {
	if snap.IsEmpty() {
		return ErrInsufficientData
	}
	for _, v := range []float64{snap.LiquidityUSD, snap.Volume.H24, snap.PriceChange.M5, snap.PriceChange.H24, snap.MarketCap, snap.FDV} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite field", ErrInsufficientData)
		}
	}
	return nil
}

func (s *Scorer) riskLevel(score float64) RiskLevel {
	switch {
	case score > s.cfg.HighConfidenceThreshold:
		return RiskLow
	case score > s.cfg.LowConfidenceThreshold:
		return RiskMedium
	default:
		return RiskHigh
	}
}

func (s *Scorer) advice(snap *marketdata.Snapshot, score float64) (Advice, string) {
	m5 := snap.PriceChange.M5
	h24 := snap.PriceChange.H24

	momentum := m5 >= buyMomentum5m || h24 >= buyMomentum24h
	if momentum && score >= s.cfg.LowConfidenceThreshold && snap.Volume.H24 >= s.cfg.MinVolume24h {
		return AdviceBuy, fmt.Sprintf("positive momentum (5m %.2f%%, 24h %.2f%%) with trust %.2f and 24h volume $%.0f",
			m5, h24, score, snap.Volume.H24)
	}
	if m5 <= sellDrop5m {
		return AdviceSell, fmt.Sprintf("5m price drop of %.2f%%", m5)
	}
	if score <= s.cfg.HighConfidenceThreshold {
		return AdviceSell, fmt.Sprintf("trust %.2f at or below %.2f", score, s.cfg.HighConfidenceThreshold)
	}
	return AdviceHold, fmt.Sprintf("no actionable signal (5m %.2f%%, trust %.2f)", m5, score)
}

func stopMonitoring(snap *marketdata.Snapshot, score float64) (bool, string) {
	m5 := snap.PriceChange.M5
	switch {
	case m5 < freefall5m:
		return true, fmt.Sprintf("freefall: 5m change %.2f%%", m5)
	case m5 < steepDrop5m && score < steepDropMaxTrust:
		return true, fmt.Sprintf("steep drop %.2f%% with trust %.2f", m5, score)
	case score < floorTrust:
		return true, fmt.Sprintf("trust %.3f below floor %.2f", score, floorTrust)
	}
	return false, ""
}
