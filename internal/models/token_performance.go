package models

import (
	"time"

	"github.com/google/uuid"
)

type TokenPerformance struct {
	TokenAddress       string    `gorm:"column:token_address;primaryKey" json:"token_address"`
	Symbol             string    `gorm:"column:symbol" json:"symbol"`
	PriceChange24h     float64   `gorm:"column:price_change_24h" json:"price_change_24h"`
	VolumeChange24h    float64   `gorm:"column:volume_change_24h" json:"volume_change_24h"`
	TradeChange24h     float64   `gorm:"column:trade_change_24h" json:"trade_change_24h"`
	Liquidity          float64   `gorm:"column:liquidity" json:"liquidity"`
	LiquidityChange24h float64   `gorm:"column:liquidity_change_24h" json:"liquidity_change_24h"`
	HolderChange24h    float64   `gorm:"column:holder_change_24h" json:"holder_change_24h"`
	MarketCapChange24h float64   `gorm:"column:market_cap_change_24h" json:"market_cap_change_24h"`
	RugPull            bool      `gorm:"column:rug_pull;not null;default:false" json:"rug_pull"`
	IsScam             bool      `gorm:"column:is_scam;not null;default:false" json:"is_scam"`
	SustainedGrowth    bool      `gorm:"column:sustained_growth;not null;default:false" json:"sustained_growth"`
	RapidDump          bool      `gorm:"column:rapid_dump;not null;default:false" json:"rapid_dump"`
	SuspiciousVolume   bool      `gorm:"column:suspicious_volume;not null;default:false" json:"suspicious_volume"`
	ValidationTrust    float64   `gorm:"column:validation_trust;not null;default:0" json:"validation_trust"`
	Balance            float64   `gorm:"column:balance;not null;default:0" json:"balance"`
	InitialMarketCap   float64   `gorm:"column:initial_market_cap" json:"initial_market_cap"`
	LastUpdated        time.Time `gorm:"column:last_updated" json:"last_updated"`

	// The token owns every row that names it.
	Recommendations  []TokenRecommendation `gorm:"foreignKey:TokenAddress;references:TokenAddress;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Trades           []Trade               `gorm:"foreignKey:TokenAddress;references:TokenAddress;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	SimulationTrades []SimulationTrade     `gorm:"foreignKey:TokenAddress;references:TokenAddress;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Transactions     []Transaction         `gorm:"foreignKey:TokenAddress;references:TokenAddress;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

func (TokenPerformance) TableName() string {
	return "token_performance"
}

// TokenRecommendation records one call of a token by a recommender.
// Rows are never updated.
type TokenRecommendation struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	RecommenderID    uuid.UUID `gorm:"column:recommender_id;type:uuid;not null;index" json:"recommender_id"`
	TokenAddress     string    `gorm:"column:token_address;not null;index" json:"token_address"`
	Timestamp        time.Time `gorm:"column:timestamp;not null" json:"timestamp"`
	InitialMarketCap float64   `gorm:"column:initial_market_cap" json:"initial_market_cap"`
	InitialLiquidity float64   `gorm:"column:initial_liquidity" json:"initial_liquidity"`
	InitialPrice     float64   `gorm:"column:initial_price" json:"initial_price"`

	Recommender *Recommender `gorm:"foreignKey:RecommenderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

func (TokenRecommendation) TableName() string {
	return "token_recommendations"
}
