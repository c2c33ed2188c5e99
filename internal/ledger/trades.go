package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tokentrust/internal/models"
)

// routeSimulation decides which trade table an operation uses. Every trade
// is currently routed to the live table whatever the caller asks for, so
// the simulation table stays empty. See DESIGN.md before changing this.
func routeSimulation(requested bool) bool {
	if requested {
		log.Debug("simulation trade requested; recording in live trade table")
	}
	return false
}

func tradeTable(isSimulation bool) string {
	if isSimulation {
		return models.SimulationTrade{}.TableName()
	}
	return models.Trade{}.TableName()
}

// AddTradePerformance records a newly opened trade. A buy timestamp in the
// future is clamped to now.
func (l *Ledger) AddTradePerformance(ctx context.Context, trade *models.Trade, isSimulation bool) error {
	if trade == nil || trade.TokenAddress == "" || trade.RecommenderID == uuid.Nil {
		return fmt.Errorf("add trade performance: %w", ErrInvalidInput)
	}
	if trade.SellTimestamp != nil {
		return fmt.Errorf("add trade performance: %w: trade is already closed", ErrInvalidInput)
	}

	now := l.now()
	switch {
	case trade.BuyTimestamp.IsZero(), trade.BuyTimestamp.After(now):
		trade.BuyTimestamp = now
	default:
		trade.BuyTimestamp = normalize(trade.BuyTimestamp)
	}
	trade.LastUpdated = now

	table := tradeTable(routeSimulation(isSimulation))
	return l.write(ctx, "add trade performance", func(tx *gorm.DB) error {
		return tx.Table(table).Omit(clause.Associations).Create(trade).Error
	})
}

// UpdateTradePerformanceOnSell closes the matching open trade. It fails
// with ErrNoOpenTrade when there is none, including when the trade exists
// but is already closed.
func (l *Ledger) UpdateTradePerformanceOnSell(ctx context.Context, tokenAddress string, recommenderID uuid.UUID, buyTimestamp time.Time, sell models.SellDetails, isSimulation bool) error {
	if sell.SellTimestamp.IsZero() {
		sell.SellTimestamp = l.now()
	}
	sellTs := normalize(sell.SellTimestamp)
	table := tradeTable(routeSimulation(isSimulation))

	return l.write(ctx, "update trade on sell", func(tx *gorm.DB) error {
		var open models.Trade
		err := tx.Table(table).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_address = ? AND recommender_id = ? AND buy_timestamp = ? AND sell_timestamp IS NULL",
				tokenAddress, recommenderID, normalize(buyTimestamp)).
			Take(&open).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.WithFields(log.Fields{
				"token":         tokenAddress,
				"recommender":   recommenderID,
				"buy_timestamp": buyTimestamp,
			}).Warn("sell without a matching open trade")
			return ErrNoOpenTrade
		}
		if err != nil {
			return err
		}

		res := tx.Table(table).
			Where("token_address = ? AND recommender_id = ? AND buy_timestamp = ? AND sell_timestamp IS NULL",
				open.TokenAddress, open.RecommenderID, open.BuyTimestamp).
			Updates(map[string]interface{}{
				"sell_price":        sell.SellPrice,
				"sell_timestamp":    sellTs,
				"sell_amount":       sell.SellAmount,
				"received_sol":      sell.ReceivedSol,
				"sell_value_usd":    sell.SellValueUsd,
				"profit_usd":        sell.ProfitUsd,
				"profit_percent":    sell.ProfitPercent,
				"sell_market_cap":   sell.SellMarketCap,
				"market_cap_change": sell.MarketCapChange,
				"sell_liquidity":    sell.SellLiquidity,
				"liquidity_change":  sell.LiquidityChange,
				"rapid_dump":        sell.RapidDump,
				"last_updated":      l.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoOpenTrade
		}
		return nil
	})
}

// GetTradePerformance returns one trade by its key.
func (l *Ledger) GetTradePerformance(ctx context.Context, tokenAddress string, recommenderID uuid.UUID, buyTimestamp time.Time, isSimulation bool) (*models.Trade, error) {
	var trade models.Trade
	err := l.read(ctx).Table(tradeTable(routeSimulation(isSimulation))).
		Where("token_address = ? AND recommender_id = ? AND buy_timestamp = ?",
			tokenAddress, recommenderID, normalize(buyTimestamp)).
		Take(&trade).Error
	if err != nil {
		return nil, translate("get trade performance", err)
	}
	return &trade, nil
}

// GetOpenTrades returns trades on the token that are still open, have a
// valid buy price and were not bought in the future. An empty token
// matches every token.
func (l *Ledger) GetOpenTrades(ctx context.Context, tokenAddress string) ([]models.Trade, error) {
	q := l.read(ctx).Model(&models.Trade{}).
		Where("sell_timestamp IS NULL AND buy_price > 0 AND buy_timestamp <= ?", l.now())
	if tokenAddress != "" {
		q = q.Where("token_address = ?", tokenAddress)
	}
	var trades []models.Trade
	if err := q.Order("buy_timestamp").Find(&trades).Error; err != nil {
		return nil, translate("get open trades", err)
	}
	return trades, nil
}

// GetRecentTrades returns trades on the token bought or sold within the
// trailing window, plus any still open.
func (l *Ledger) GetRecentTrades(ctx context.Context, tokenAddress string, window time.Duration) ([]models.Trade, error) {
	since := l.now().Add(-window)
	var trades []models.Trade
	err := l.read(ctx).
		Where("token_address = ?", tokenAddress).
		Where(l.db.Session(&gorm.Session{NewDB: true}).Where("buy_timestamp >= ?", since).
			Or("sell_timestamp >= ?", since).
			Or("sell_timestamp IS NULL")).
		Order("buy_timestamp DESC").
		Find(&trades).Error
	if err != nil {
		return nil, translate("get recent trades", err)
	}
	return trades, nil
}

func (l *Ledger) GetTradesByRecommender(ctx context.Context, recommenderID uuid.UUID) ([]models.Trade, error) {
	var trades []models.Trade
	err := l.read(ctx).Where("recommender_id = ?", recommenderID).Order("buy_timestamp").Find(&trades).Error
	if err != nil {
		return nil, translate("get trades by recommender", err)
	}
	return trades, nil
}
