// Package services wires market data, scoring, simulation, execution and
// the ledger into the recommendation and position-monitoring flows.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"tokentrust/internal/ledger"
	"tokentrust/internal/models"
	"tokentrust/pkg/executor"
	"tokentrust/pkg/marketdata"
	"tokentrust/pkg/simulation"
	"tokentrust/pkg/trust"
	"tokentrust/pkg/utils"
)

const (
	DefaultRecentTradeWindow = time.Hour
	DefaultTradeEventsQueue  = "trade_events"

	// A close is a rapid dump when the price fell by more than
	// rapidDumpDrop of the buy price within rapidDumpWindow of the buy.
	rapidDumpDrop   = 0.5
	rapidDumpWindow = 30 * time.Minute
)

var (
	ErrInvalidRecommendation = errors.New("invalid recommendation")
	// ErrUnrecorded means a swap landed on chain but the ledger does not
	// hold it. Retrying would trade again.
	ErrUnrecorded = errors.New("executed trade not recorded")
)

// Evaluator is satisfied by *trust.Scorer.
type Evaluator interface {
	Evaluate(ctx context.Context, tokenAddress string) (*trust.Evaluation, error)
}

// Gate is satisfied by *simulation.Simulator.
type Gate interface {
	Simulate(ctx context.Context, tokenAddress string, amount float64) (*simulation.Result, error)
}

// Trader is satisfied by *executor.Executor.
type Trader interface {
	Execute(ctx context.Context, req executor.Request) *executor.Result
}

// DecimalsSource is satisfied by *solana.AccountInfo.
type DecimalsSource interface {
	TokenDecimals(ctx context.Context, mint string) (uint8, error)
}

// EventPublisher is satisfied by *config.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, queueName string, message interface{}) error
}

// Recommendation is one call of a token, as received from the intake queue.
type Recommendation struct {
	Token       string          `json:"token"`
	Identity    ledger.Identity `json:"identity"`
	Amount      float64         `json:"amount"`
	SlippageBps int             `json:"slippage_bps"`
}

type Outcome string

const (
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeAborted   Outcome = "aborted"
	OutcomeFailed    Outcome = "failed"
	OutcomeExecuted  Outcome = "executed"
)

type ProcessResult struct {
	Outcome       Outcome            `json:"outcome"`
	Reason        string             `json:"reason,omitempty"`
	RecommenderID uuid.UUID          `json:"recommender_id"`
	Simulation    *simulation.Result `json:"simulation,omitempty"`
	Execution     *executor.Result   `json:"execution,omitempty"`
	Trade         *models.Trade      `json:"trade,omitempty"`
}

// TradeEvent is published after every executed buy or sell.
type TradeEvent struct {
	Type          models.TransactionType `json:"type"`
	Token         string                 `json:"token"`
	Signature     string                 `json:"signature"`
	Amount        float64                `json:"amount"`
	Price         float64                `json:"price"`
	Recommenders  []uuid.UUID            `json:"recommenders"`
	ProfitPercent *float64               `json:"profit_percent,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

type Config struct {
	// DefaultAmount is the SOL spent when a recommendation carries none.
	DefaultAmount      float64
	DefaultSlippageBps int
	RecentTradeWindow  time.Duration
	TradeEventsQueue   string
	TokenDecimals      uint8
}

func (c Config) withDefaults() Config {
	if c.DefaultSlippageBps <= 0 {
		c.DefaultSlippageBps = executor.DefaultSlippageBps
	}
	if c.RecentTradeWindow <= 0 {
		c.RecentTradeWindow = DefaultRecentTradeWindow
	}
	if c.TradeEventsQueue == "" {
		c.TradeEventsQueue = DefaultTradeEventsQueue
	}
	if c.TokenDecimals == 0 {
		c.TokenDecimals = executor.DefaultTokenDecimals
	}
	return c
}

type Pipeline struct {
	cfg       Config
	ledger    *ledger.Ledger
	evaluator Evaluator
	gate      Gate
	trader    Trader
	publisher EventPublisher
	decimals  DecimalsSource
	clock     utils.Clock

	mu    sync.Mutex
	locks map[string]*tokenLock
}

// tokenLock is dropped from Pipeline.locks once nobody holds or waits on it.
type tokenLock struct {
	mu   sync.Mutex
	refs int
}

// NewPipeline builds a pipeline. publisher may be nil.
func NewPipeline(cfg Config, l *ledger.Ledger, evaluator Evaluator, gate Gate, trader Trader, publisher EventPublisher, clock utils.Clock) *Pipeline {
	if clock == nil {
		clock = utils.SystemClock()
	}
	return &Pipeline{
		cfg:       cfg.withDefaults(),
		ledger:    l,
		evaluator: evaluator,
		gate:      gate,
		trader:    trader,
		publisher: publisher,
		clock:     clock,
		locks:     make(map[string]*tokenLock),
	}
}

// WithDecimals makes the pipeline look up each mint's decimals instead of
// assuming Config.TokenDecimals.
func (p *Pipeline) WithDecimals(src DecimalsSource) *Pipeline {
	p.decimals = src
	return p
}

func (p *Pipeline) tokenDecimals(ctx context.Context, token string) uint8 {
	if p.decimals == nil {
		return p.cfg.TokenDecimals
	}
	d, err := p.decimals.TokenDecimals(ctx, token)
	if err != nil {
		log.WithField("token", token).WithError(err).Warn("mint decimals unavailable, using default")
		return p.cfg.TokenDecimals
	}
	return d
}

// lockToken serialises work on one token.
func (p *Pipeline) lockToken(token string) func() {
	p.mu.Lock()
	l, ok := p.locks[token]
	if !ok {
		l = &tokenLock{}
		p.locks[token] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(p.locks, token)
		}
		p.mu.Unlock()
	}
}

// ProcessRecommendation runs fetch, score, simulate, execute and persist
// for one call. Business outcomes are reported in the result; the error is
// reserved for failures to evaluate or record.
func (p *Pipeline) ProcessRecommendation(ctx context.Context, rec Recommendation) (*ProcessResult, error) {
	rec.Token = strings.TrimSpace(rec.Token)
	if rec.Token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrInvalidRecommendation)
	}
	if rec.Amount <= 0 {
		rec.Amount = p.cfg.DefaultAmount
	}
	if rec.SlippageBps <= 0 {
		rec.SlippageBps = p.cfg.DefaultSlippageBps
	}

	unlock := p.lockToken(rec.Token)
	defer unlock()

	recommender, err := p.ledger.GetOrCreateRecommender(ctx, rec.Identity)
	if errors.Is(err, ledger.ErrInvalidInput) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecommendation, err)
	}
	if err != nil {
		return nil, err
	}
	res := &ProcessResult{RecommenderID: recommender.ID}
	logger := log.WithFields(log.Fields{"token": rec.Token, "recommender": recommender.ID})

	recent, err := p.ledger.GetRecentTrades(ctx, rec.Token, p.cfg.RecentTradeWindow)
	if err != nil {
		return nil, err
	}
	if len(recent) > 0 {
		res.Outcome = OutcomeDuplicate
		res.Reason = fmt.Sprintf("token traded within %s or still held", p.cfg.RecentTradeWindow)
		logger.WithField("recent_trades", len(recent)).Info("duplicate recommendation skipped")
		return res, nil
	}

	sim, err := p.gate.Simulate(ctx, rec.Token, rec.Amount)
	if err != nil {
		return nil, err
	}
	res.Simulation = sim
	snap := &marketdata.Snapshot{TokenAddress: rec.Token}
	if sim.Evaluation != nil && sim.Evaluation.Snapshot != nil {
		snap = sim.Evaluation.Snapshot
	}

	if err := p.recordToken(ctx, rec.Token, snap, false); err != nil {
		return nil, err
	}
	err = p.ledger.AddTokenRecommendation(ctx, &models.TokenRecommendation{
		RecommenderID:    recommender.ID,
		TokenAddress:     rec.Token,
		InitialMarketCap: snap.EffectiveMarketCap(),
		InitialLiquidity: snap.LiquidityUSD,
		InitialPrice:     snap.PriceUSD,
	})
	if err != nil {
		return nil, err
	}
	if err := p.bumpMetrics(ctx, recommender.ID, func(m *models.RecommenderMetrics) {
		m.TotalRecommendations++
	}); err != nil {
		return nil, err
	}
	if _, err := p.ledger.RefreshValidationTrust(ctx, rec.Token); err != nil {
		return nil, err
	}

	if sim.RecommendedAction != simulation.ActionExecute {
		res.Outcome = OutcomeAborted
		res.Reason = sim.Reason
		logger.WithField("reason", sim.Reason).Info("trade aborted by simulation")
		return res, nil
	}

	exec := p.trader.Execute(ctx, executor.Request{
		Token:         rec.Token,
		Amount:        rec.Amount,
		SlippageBps:   rec.SlippageBps,
		TokenDecimals: p.tokenDecimals(ctx, rec.Token),
	})
	res.Execution = exec
	if !exec.Success {
		res.Outcome = OutcomeFailed
		res.Reason = exec.Details.ErrorType
		if exec.Err != nil {
			res.Reason = exec.Err.Error()
		}
		logger.WithFields(log.Fields{
			"error_type": exec.Details.ErrorType,
			"attempts":   exec.Details.Attempts,
		}).WithError(exec.Err).Warn("buy failed")
		return res, nil
	}

	trade, err := p.recordBuy(ctx, recommender.ID, rec, snap, exec)
	if err != nil {
		logger.WithFields(log.Fields{
			"signature":  exec.Signature,
			"out_amount": exec.Details.OutAmount,
			"sol":        rec.Amount,
		}).WithError(err).Error("buy executed but ledger write failed, reconcile manually")
		return nil, fmt.Errorf("%w: buy %s: %w", ErrUnrecorded, exec.Signature, err)
	}
	res.Outcome = OutcomeExecuted
	res.Trade = trade
	logger.WithFields(log.Fields{
		"signature": exec.Signature,
		"amount":    trade.BuyAmount,
		"price":     trade.BuyPrice,
	}).Info("buy executed")
	return res, nil
}

func (p *Pipeline) recordBuy(ctx context.Context, recommenderID uuid.UUID, rec Recommendation, snap *marketdata.Snapshot, exec *executor.Result) (*models.Trade, error) {
	price := decimal.NewFromFloat(snap.PriceUSD)
	bought := decimal.NewFromFloat(exec.Details.OutAmount)
	if bought.IsZero() && price.IsPositive() {
		bought = decimal.NewFromFloat(rec.Amount).Div(price)
	}
	now := p.clock.Now()

	trade := &models.Trade{
		TokenAddress:  rec.Token,
		RecommenderID: recommenderID,
		BuyTimestamp:  now,
		BuyPrice:      snap.PriceUSD,
		BuyAmount:     bought.InexactFloat64(),
		BuySol:        rec.Amount,
		BuyValueUsd:   bought.Mul(price).InexactFloat64(),
		BuyMarketCap:  snap.EffectiveMarketCap(),
		BuyLiquidity:  snap.LiquidityUSD,
	}
	if err := p.ledger.AddTradePerformance(ctx, trade, false); err != nil {
		return nil, err
	}
	if err := p.ledger.AddTransaction(ctx, &models.Transaction{
		TransactionHash: exec.Signature,
		TokenAddress:    rec.Token,
		Type:            models.TransactionBuy,
		Amount:          trade.BuyAmount,
		Price:           trade.BuyPrice,
		Timestamp:       now,
	}); err != nil {
		return nil, err
	}
	if err := p.adjustBalance(ctx, rec.Token, bought); err != nil {
		return nil, err
	}

	p.publish(ctx, TradeEvent{
		Type:         models.TransactionBuy,
		Token:        rec.Token,
		Signature:    exec.Signature,
		Amount:       trade.BuyAmount,
		Price:        trade.BuyPrice,
		Recommenders: []uuid.UUID{recommenderID},
		Timestamp:    now,
	})
	return trade, nil
}

// MonitorReport summarises one monitoring pass.
type MonitorReport struct {
	Tokens int `json:"tokens"`
	Sold   int `json:"sold"`
	Closed int `json:"closed"`
	Errors int `json:"errors"`
}

// MonitorOpenTrades re-evaluates every token with open trades and sells the
// position when the scorer advises SELL or asks to stop monitoring.
func (p *Pipeline) MonitorOpenTrades(ctx context.Context) (*MonitorReport, error) {
	open, err := p.ledger.GetOpenTrades(ctx, "")
	if err != nil {
		return nil, err
	}
	byToken := make(map[string][]models.Trade)
	for _, t := range open {
		byToken[t.TokenAddress] = append(byToken[t.TokenAddress], t)
	}
	tokens := make([]string, 0, len(byToken))
	for token := range byToken {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	report := &MonitorReport{Tokens: len(tokens)}
	for _, token := range tokens {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		closed, sold, err := p.monitorToken(ctx, token)
		report.Closed += closed
		if sold {
			report.Sold++
		}
		if err != nil {
			report.Errors++
			log.WithField("token", token).WithError(err).Warn("monitor token failed")
		}
	}
	log.WithFields(log.Fields{
		"tokens": report.Tokens,
		"sold":   report.Sold,
		"closed": report.Closed,
		"errors": report.Errors,
	}).Info("open trades monitored")
	return report, nil
}

func (p *Pipeline) monitorToken(ctx context.Context, token string) (int, bool, error) {
	unlock := p.lockToken(token)
	defer unlock()

	eval, err := p.evaluator.Evaluate(ctx, token)
	if err != nil {
		return 0, false, err
	}
	if eval.Snapshot == nil {
		eval.Snapshot = &marketdata.Snapshot{TokenAddress: token}
	}
	if eval.TradingAdvice != trust.AdviceSell && !eval.StopMonitoring {
		return 0, false, p.recordToken(ctx, token, eval.Snapshot, false)
	}

	// Re-read under the token lock; a concurrent pass may have sold.
	trades, err := p.ledger.GetOpenTrades(ctx, token)
	if err != nil || len(trades) == 0 {
		return 0, false, err
	}
	total := decimal.Zero
	for _, t := range trades {
		total = total.Add(decimal.NewFromFloat(t.BuyAmount))
	}

	exec := p.trader.Execute(ctx, executor.Request{
		Token:         token,
		Amount:        total.InexactFloat64(),
		SlippageBps:   p.cfg.DefaultSlippageBps,
		IsSell:        true,
		TokenDecimals: p.tokenDecimals(ctx, token),
	})
	if !exec.Success {
		return 0, false, fmt.Errorf("sell %s (%s): %w", token, exec.Details.ErrorType, exec.Err)
	}
	log.WithFields(log.Fields{
		"token":     token,
		"signature": exec.Signature,
		"reason":    eval.Reason,
	}).Info("position sold")

	closed, err := p.recordSell(ctx, token, trades, total, eval.Snapshot, exec)
	return closed, true, err
}

func (p *Pipeline) recordSell(ctx context.Context, token string, trades []models.Trade, total decimal.Decimal, snap *marketdata.Snapshot, exec *executor.Result) (int, error) {
	now := p.clock.Now()
	price := decimal.NewFromFloat(snap.PriceUSD)
	received := decimal.NewFromFloat(exec.Details.OutAmount)

	var (
		closed       int
		rapidDump    bool
		recommenders []uuid.UUID
		costUsd      = decimal.Zero
		valueUsd     = decimal.Zero
	)
	for i := range trades {
		t := &trades[i]
		details := SellDetailsFor(t, snap, received, total, now)
		if details.RapidDump {
			rapidDump = true
		}
		err := p.ledger.UpdateTradePerformanceOnSell(ctx, t.TokenAddress, t.RecommenderID, t.BuyTimestamp, details, false)
		if errors.Is(err, ledger.ErrNoOpenTrade) {
			continue
		}
		if err != nil {
			return closed, err
		}
		closed++
		recommenders = append(recommenders, t.RecommenderID)
		costUsd = costUsd.Add(decimal.NewFromFloat(t.BuyValueUsd))
		valueUsd = valueUsd.Add(decimal.NewFromFloat(details.SellValueUsd))

		profitable := details.ProfitUsd > 0
		profitPct := details.ProfitPercent
		closedBefore := p.closedTradeCount(ctx, t.RecommenderID) - 1
		if closedBefore < 0 {
			closedBefore = 0
		}
		if err := p.bumpMetrics(ctx, t.RecommenderID, func(m *models.RecommenderMetrics) {
			if profitable {
				m.SuccessfulRecs++
			}
			m.AvgTokenPerformance = (m.AvgTokenPerformance*float64(closedBefore) + profitPct) / float64(closedBefore+1)
		}); err != nil {
			return closed, err
		}
	}

	if err := p.ledger.AddTransaction(ctx, &models.Transaction{
		TransactionHash: exec.Signature,
		TokenAddress:    token,
		Type:            models.TransactionSell,
		Amount:          total.InexactFloat64(),
		Price:           price.InexactFloat64(),
		Timestamp:       now,
	}); err != nil {
		return closed, err
	}
	if err := p.adjustBalance(ctx, token, total.Neg()); err != nil {
		return closed, err
	}
	if err := p.recordToken(ctx, token, snap, rapidDump); err != nil {
		return closed, err
	}

	event := TradeEvent{
		Type:         models.TransactionSell,
		Token:        token,
		Signature:    exec.Signature,
		Amount:       total.InexactFloat64(),
		Price:        price.InexactFloat64(),
		Recommenders: recommenders,
		Timestamp:    now,
	}
	if costUsd.IsPositive() {
		pct := valueUsd.Sub(costUsd).Div(costUsd).Mul(decimal.NewFromInt(100)).InexactFloat64()
		event.ProfitPercent = &pct
	}
	p.publish(ctx, event)
	return closed, nil
}

// SellDetailsFor prices the close of t at the snapshot price. Received SOL
// is split across the position pro rata to each trade's size.
func SellDetailsFor(t *models.Trade, snap *marketdata.Snapshot, receivedSol, positionSize decimal.Decimal, now time.Time) models.SellDetails {
	amount := decimal.NewFromFloat(t.BuyAmount)
	price := decimal.NewFromFloat(snap.PriceUSD)
	cost := decimal.NewFromFloat(t.BuyValueUsd)
	value := amount.Mul(price)
	profit := value.Sub(cost)

	share := decimal.Zero
	if positionSize.IsPositive() {
		share = amount.Div(positionSize)
	}
	profitPct := decimal.Zero
	if cost.IsPositive() {
		profitPct = profit.Div(cost).Mul(decimal.NewFromInt(100))
	}
	sellMC := snap.EffectiveMarketCap()

	return models.SellDetails{
		SellPrice:       snap.PriceUSD,
		SellTimestamp:   now,
		SellAmount:      t.BuyAmount,
		ReceivedSol:     receivedSol.Mul(share).InexactFloat64(),
		SellValueUsd:    value.InexactFloat64(),
		ProfitUsd:       profit.InexactFloat64(),
		ProfitPercent:   profitPct.InexactFloat64(),
		SellMarketCap:   sellMC,
		MarketCapChange: sellMC - t.BuyMarketCap,
		SellLiquidity:   snap.LiquidityUSD,
		LiquidityChange: snap.LiquidityUSD - t.BuyLiquidity,
		RapidDump:       IsRapidDump(t.BuyPrice, snap.PriceUSD, t.BuyTimestamp, now),
	}
}

// IsRapidDump reports a price drop of more than half within 30 minutes of
// the buy.
func IsRapidDump(buyPrice, sellPrice float64, bought, sold time.Time) bool {
	if buyPrice <= 0 || sold.Sub(bought) > rapidDumpWindow {
		return false
	}
	return sellPrice < buyPrice*(1-rapidDumpDrop)
}

// recordToken refreshes the token row from a snapshot, keeping flags
// already set on it.
func (p *Pipeline) recordToken(ctx context.Context, token string, snap *marketdata.Snapshot, rapidDump bool) error {
	perf, err := p.ledger.GetTokenPerformance(ctx, token)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		perf = &models.TokenPerformance{TokenAddress: token}
	case err != nil:
		return err
	}
	if snap != nil && !snap.IsEmpty() {
		perf.Symbol = snap.Symbol
		perf.PriceChange24h = snap.PriceChange.H24
		perf.Liquidity = snap.LiquidityUSD
		if perf.InitialMarketCap == 0 {
			perf.InitialMarketCap = snap.EffectiveMarketCap()
		}
	}
	perf.RapidDump = perf.RapidDump || rapidDump
	return p.ledger.UpsertTokenPerformance(ctx, perf)
}

func (p *Pipeline) adjustBalance(ctx context.Context, token string, delta decimal.Decimal) error {
	perf, err := p.ledger.GetTokenPerformance(ctx, token)
	if err != nil {
		return err
	}
	balance := decimal.NewFromFloat(perf.Balance).Add(delta)
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	return p.ledger.UpdateTokenBalance(ctx, token, balance.InexactFloat64())
}

// bumpMetrics applies fn to the recommender's metrics, then derives the
// trust score as the share of successful recommendations. The ledger runs
// the whole update in one transaction; fn must not touch the ledger.
func (p *Pipeline) bumpMetrics(ctx context.Context, id uuid.UUID, fn func(m *models.RecommenderMetrics)) error {
	now := p.clock.Now()
	_, err := p.ledger.ModifyRecommenderMetrics(ctx, id, func(m *models.RecommenderMetrics) error {
		fn(m)
		if m.TotalRecommendations > 0 {
			m.TrustScore = float64(m.SuccessfulRecs) / float64(m.TotalRecommendations)
		}
		m.LastActiveDate = now
		return nil
	})
	return err
}

func (p *Pipeline) closedTradeCount(ctx context.Context, id uuid.UUID) int {
	trades, err := p.ledger.GetTradesByRecommender(ctx, id)
	if err != nil {
		return 0
	}
	n := 0
	for i := range trades {
		if !trades[i].IsOpen() {
			n++
		}
	}
	return n
}

func (p *Pipeline) publish(ctx context.Context, event TradeEvent) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, p.cfg.TradeEventsQueue, event); err != nil {
		log.WithFields(log.Fields{
			"token":     event.Token,
			"signature": event.Signature,
		}).WithError(err).Error("publish trade event failed")
	}
}
