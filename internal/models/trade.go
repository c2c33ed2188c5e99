package models

import (
	"time"

	"github.com/google/uuid"
)

// Trade is a position opened on a recommender's call. It is open while
// SellTimestamp is nil; the sell columns are written once, together.
type Trade struct {
	TokenAddress  string    `gorm:"column:token_address;primaryKey" json:"token_address"`
	RecommenderID uuid.UUID `gorm:"column:recommender_id;type:uuid;primaryKey" json:"recommender_id"`
	BuyTimestamp  time.Time `gorm:"column:buy_timestamp;primaryKey" json:"buy_timestamp"`
	BuyPrice      float64   `gorm:"column:buy_price;not null" json:"buy_price"`
	BuyAmount     float64   `gorm:"column:buy_amount;not null" json:"buy_amount"`
	BuySol        float64   `gorm:"column:buy_sol;not null" json:"buy_sol"`
	BuyValueUsd   float64   `gorm:"column:buy_value_usd;not null" json:"buy_value_usd"`
	BuyMarketCap  float64   `gorm:"column:buy_market_cap" json:"buy_market_cap"`
	BuyLiquidity  float64   `gorm:"column:buy_liquidity" json:"buy_liquidity"`

	SellPrice       *float64   `gorm:"column:sell_price" json:"sell_price,omitempty"`
	SellTimestamp   *time.Time `gorm:"column:sell_timestamp;index" json:"sell_timestamp,omitempty"`
	SellAmount      *float64   `gorm:"column:sell_amount" json:"sell_amount,omitempty"`
	ReceivedSol     *float64   `gorm:"column:received_sol" json:"received_sol,omitempty"`
	SellValueUsd    *float64   `gorm:"column:sell_value_usd" json:"sell_value_usd,omitempty"`
	ProfitUsd       *float64   `gorm:"column:profit_usd" json:"profit_usd,omitempty"`
	ProfitPercent   *float64   `gorm:"column:profit_percent" json:"profit_percent,omitempty"`
	SellMarketCap   *float64   `gorm:"column:sell_market_cap" json:"sell_market_cap,omitempty"`
	MarketCapChange *float64   `gorm:"column:market_cap_change" json:"market_cap_change,omitempty"`
	SellLiquidity   *float64   `gorm:"column:sell_liquidity" json:"sell_liquidity,omitempty"`
	LiquidityChange *float64   `gorm:"column:liquidity_change" json:"liquidity_change,omitempty"`
	RapidDump       bool       `gorm:"column:rapid_dump;not null;default:false" json:"rapid_dump"`
	LastUpdated     time.Time  `gorm:"column:last_updated" json:"last_updated"`

	Recommender *Recommender `gorm:"foreignKey:RecommenderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

func (Trade) TableName() string {
	return "trade"
}

func (t *Trade) IsOpen() bool {
	return t.SellTimestamp == nil
}

// SimulationTrade has the same shape as Trade and lives in its own table.
type SimulationTrade Trade

func (SimulationTrade) TableName() string {
	return "simulation_trade"
}

// SellDetails carries every column written when a trade closes.
type SellDetails struct {
	SellPrice       float64   `json:"sell_price"`
	SellTimestamp   time.Time `json:"sell_timestamp"`
	SellAmount      float64   `json:"sell_amount"`
	ReceivedSol     float64   `json:"received_sol"`
	SellValueUsd    float64   `json:"sell_value_usd"`
	ProfitUsd       float64   `json:"profit_usd"`
	ProfitPercent   float64   `json:"profit_percent"`
	SellMarketCap   float64   `json:"sell_market_cap"`
	MarketCapChange float64   `json:"market_cap_change"`
	SellLiquidity   float64   `json:"sell_liquidity"`
	LiquidityChange float64   `json:"liquidity_change"`
	RapidDump       bool      `json:"rapid_dump"`
}
