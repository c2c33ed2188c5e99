package models

import (
	"time"

	"github.com/google/uuid"
)

// Recommender is a source of token calls. Every alias is optional but
// unique when present.
type Recommender struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Address      *string   `gorm:"column:address;uniqueIndex" json:"address,omitempty"`
	SolanaPubkey *string   `gorm:"column:solana_pubkey;uniqueIndex" json:"solana_pubkey,omitempty"`
	TelegramID   *string   `gorm:"column:telegram_id;uniqueIndex" json:"telegram_id,omitempty"`
	DiscordID    *string   `gorm:"column:discord_id;uniqueIndex" json:"discord_id,omitempty"`
	TwitterID    *string   `gorm:"column:twitter_id;uniqueIndex" json:"twitter_id,omitempty"`
	IP           *string   `gorm:"column:ip" json:"ip,omitempty"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Recommender) TableName() string {
	return "recommenders"
}

// RecommenderMetrics is the current reputation of a recommender.
type RecommenderMetrics struct {
	RecommenderID        uuid.UUID `gorm:"column:recommender_id;type:uuid;primaryKey" json:"recommender_id"`
	TrustScore           float64   `gorm:"column:trust_score;not null;default:0" json:"trust_score"`
	TotalRecommendations int       `gorm:"column:total_recommendations;not null;default:0" json:"total_recommendations"`
	SuccessfulRecs       int       `gorm:"column:successful_recs;not null;default:0" json:"successful_recs"`
	AvgTokenPerformance  float64   `gorm:"column:avg_token_performance;not null;default:0" json:"avg_token_performance"`
	RiskScore            float64   `gorm:"column:risk_score;not null;default:0" json:"risk_score"`
	ConsistencyScore     float64   `gorm:"column:consistency_score;not null;default:0" json:"consistency_score"`
	VirtualConfidence    float64   `gorm:"column:virtual_confidence;not null;default:0" json:"virtual_confidence"`
	LastActiveDate       time.Time `gorm:"column:last_active_date" json:"last_active_date"`
	TrustDecay           float64   `gorm:"column:trust_decay;not null;default:0" json:"trust_decay"`
	LastUpdated          time.Time `gorm:"column:last_updated" json:"last_updated"`

	Recommender *Recommender `gorm:"foreignKey:RecommenderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

func (RecommenderMetrics) TableName() string {
	return "recommender_metrics"
}

// RecommenderMetricsHistory is an append-only snapshot of a metrics row as
// it was before an update.
type RecommenderMetricsHistory struct {
	HistoryID            uuid.UUID `gorm:"column:history_id;type:uuid;primaryKey" json:"history_id"`
	RecommenderID        uuid.UUID `gorm:"column:recommender_id;type:uuid;not null;index" json:"recommender_id"`
	TrustScore           float64   `gorm:"column:trust_score" json:"trust_score"`
	TotalRecommendations int       `gorm:"column:total_recommendations" json:"total_recommendations"`
	SuccessfulRecs       int       `gorm:"column:successful_recs" json:"successful_recs"`
	AvgTokenPerformance  float64   `gorm:"column:avg_token_performance" json:"avg_token_performance"`
	RiskScore            float64   `gorm:"column:risk_score" json:"risk_score"`
	ConsistencyScore     float64   `gorm:"column:consistency_score" json:"consistency_score"`
	VirtualConfidence    float64   `gorm:"column:virtual_confidence" json:"virtual_confidence"`
	LastActiveDate       time.Time `gorm:"column:last_active_date" json:"last_active_date"`
	TrustDecay           float64   `gorm:"column:trust_decay" json:"trust_decay"`
	RecordedAt           time.Time `gorm:"column:recorded_at;not null" json:"recorded_at"`

	Recommender *Recommender `gorm:"foreignKey:RecommenderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

func (RecommenderMetricsHistory) TableName() string {
	return "recommender_metrics_history"
}

// HistoryFrom snapshots m.
func HistoryFrom(m *RecommenderMetrics, recordedAt time.Time) *RecommenderMetricsHistory {
	return &RecommenderMetricsHistory{
		HistoryID:            uuid.New(),
		RecommenderID:        m.RecommenderID,
		TrustScore:           m.TrustScore,
		TotalRecommendations: m.TotalRecommendations,
		SuccessfulRecs:       m.SuccessfulRecs,
		AvgTokenPerformance:  m.AvgTokenPerformance,
		RiskScore:            m.RiskScore,
		ConsistencyScore:     m.ConsistencyScore,
		VirtualConfidence:    m.VirtualConfidence,
		LastActiveDate:       m.LastActiveDate,
		TrustDecay:           m.TrustDecay,
		RecordedAt:           recordedAt,
	}
}
