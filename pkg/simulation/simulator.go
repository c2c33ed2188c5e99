package simulation

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"tokentrust/pkg/marketdata"
	"tokentrust/pkg/trust"
)

type Action string

const (
	ActionExecute Action = "EXECUTE"
	ActionAbort   Action = "ABORT"
)

// Momentum thresholds of the pre-trade gate.
const (
	minVolume5m   = 100.0
	minVolume1h   = 1000.0
	minBuys5m     = 2
	minBuyRatio5m = 0.8
	minBuys1h     = 10
	maxDrop5m     = -15.0
	maxFDV        = 1_000_000.0
)

// Momentum holds the signals derived from a snapshot.
type Momentum struct {
	Buys5m      int     `json:"buys_5m"`
	Sells5m     int     `json:"sells_5m"`
	BuyRatio5m  float64 `json:"buy_ratio_5m"`
	Volume5m    float64 `json:"volume_5m"`
	Volume1h    float64 `json:"volume_1h"`
	PriceChange float64 `json:"price_change_5m"`
	Buys1h      int     `json:"buys_1h"`
	Sells1h     int     `json:"sells_1h"`
	FDV         float64 `json:"fdv"`
}

// Result is the gate's verdict.
type Result struct {
	TokenAddress      string            `json:"token_address"`
	Amount            float64           `json:"amount"`
	RecommendedAction Action            `json:"recommended_action"`
	Reason            string            `json:"reason"`
	PriceImpact       float64           `json:"price_impact"`
	Momentum          Momentum          `json:"momentum"`
	Evaluation        *trust.Evaluation `json:"evaluation"`
}

// Evaluator is satisfied by *trust.Scorer.
type Evaluator interface {
	Evaluate(ctx context.Context, tokenAddress string) (*trust.Evaluation, error)
}

// Simulator combines momentum heuristics with the trust verdict.
type Simulator struct {
	evaluator Evaluator
}

func NewSimulator(evaluator Evaluator) *Simulator {
	return &Simulator{evaluator: evaluator}
}

// Simulate decides whether a trade of amount in tokenAddress should go ahead.
// Any evaluation failure is returned as an error and never turns into
// EXECUTE.
func (s *Simulator) Simulate(ctx context.Context, tokenAddress string, amount float64) (*Result, error) {
	eval, err := s.evaluator.Evaluate(ctx, tokenAddress)
	if err != nil {
		return nil, fmt.Errorf("simulate %s: %w", tokenAddress, err)
	}

	m := MomentumFrom(eval.Snapshot)
	action, reason := decide(m, eval)

	res := &Result{
		TokenAddress:      tokenAddress,
		Amount:            amount,
		RecommendedAction: action,
		Reason:            reason,
		Momentum:          m,
		Evaluation:        eval,
	}

	log.WithFields(log.Fields{
		"token":  tokenAddress,
		"amount": amount,
		"action": action,
		"reason": reason,
	}).Info("trade simulated")
	return res, nil
}

// MomentumFrom extracts momentum signals from a snapshot.
func MomentumFrom(snap *marketdata.Snapshot) Momentum {
	if snap == nil {
		return Momentum{}
	}
	m := Momentum{
		Buys5m:      snap.Txns.M5.Buys,
		Sells5m:     snap.Txns.M5.Sells,
		Volume5m:    snap.Volume.M5,
		Volume1h:    snap.Volume.H1,
		PriceChange: snap.PriceChange.M5,
		Buys1h:      snap.Txns.H1.Buys,
		Sells1h:     snap.Txns.H1.Sells,
		FDV:         snap.FDV,
	}
	if total := m.Buys5m + m.Sells5m; total > 0 {
		m.BuyRatio5m = float64(m.Buys5m) / float64(total)
	}
	return m
}

// momentumExecute reports whether momentum alone justifies the trade and
// which checks failed otherwise.
func momentumExecute(m Momentum) (bool, []string) {
	var failed []string
	if !(m.Volume5m > minVolume5m || m.Volume1h > minVolume1h) {
		failed = append(failed, fmt.Sprintf("volume too thin (5m $%.0f, 1h $%.0f)", m.Volume5m, m.Volume1h))
	}
	if !((m.Buys5m > minBuys5m && m.BuyRatio5m >= minBuyRatio5m) || m.Buys1h > minBuys1h) {
		failed = append(failed, fmt.Sprintf("weak buying (5m %d buys, ratio %.2f, 1h %d buys)", m.Buys5m, m.BuyRatio5m, m.Buys1h))
	}
	if !(m.PriceChange > maxDrop5m) {
		failed = append(failed, fmt.Sprintf("5m price change %.2f%%", m.PriceChange))
	}
	if !(m.Buys1h > m.Sells1h) {
		failed = append(failed, fmt.Sprintf("1h sells %d outnumber buys %d", m.Sells1h, m.Buys1h))
	}
	if !(m.FDV < maxFDV) {
		failed = append(failed, fmt.Sprintf("FDV $%.0f too high", m.FDV))
	}
	return len(failed) == 0, failed
}

func decide(m Momentum, eval *trust.Evaluation) (Action, string) {
	ok, failed := momentumExecute(m)

	// Risk vetoes are checked before the buy override.
	if eval.RiskLevel == trust.RiskHigh || eval.TradingAdvice == trust.AdviceSell {
		return ActionAbort, fmt.Sprintf("trust override: risk %s, advice %s (%s)",
			eval.RiskLevel, eval.TradingAdvice, eval.Reason)
	}
	if ok {
		return ActionExecute, fmt.Sprintf("momentum confirmed: %d/%d buys in 5m, $%.0f 5m volume",
			m.Buys5m, m.Buys5m+m.Sells5m, m.Volume5m)
	}
	if eval.TradingAdvice == trust.AdviceBuy {
		return ActionExecute, fmt.Sprintf("trust override: BUY advice with trust %.2f (%s)",
			eval.TrustScore, eval.Reason)
	}
	return ActionAbort, "momentum insufficient: " + strings.Join(failed, "; ")
}
