package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tokentrust/internal/models"
)

// Columns kept from the stored row when a token is upserted again. Balance
// is owned by UpdateTokenBalance; the initial market cap is first-seen.
var tokenPreservedColumns = map[string]bool{
	"token_address":      true,
	"balance":            true,
	"initial_market_cap": true,
}

func tokenUpdateColumns(tx *gorm.DB) ([]string, error) {
	stmt := &gorm.Statement{DB: tx}
	if err := stmt.Parse(&models.TokenPerformance{}); err != nil {
		return nil, err
	}
	var cols []string
	for _, name := range stmt.Schema.DBNames {
		if !tokenPreservedColumns[name] {
			cols = append(cols, name)
		}
	}
	return cols, nil
}

// UpsertTokenPerformance recomputes validation trust and inserts or
// replaces the token's row.
func (l *Ledger) UpsertTokenPerformance(ctx context.Context, perf *models.TokenPerformance) error {
	if perf == nil || strings.TrimSpace(perf.TokenAddress) == "" {
		return fmt.Errorf("upsert token performance: %w: missing token address", ErrInvalidInput)
	}
	return l.write(ctx, "upsert token performance", func(tx *gorm.DB) error {
		trust, err := validationTrust(tx, perf.TokenAddress)
		if err != nil {
			return err
		}
		perf.ValidationTrust = trust
		perf.LastUpdated = l.now()

		cols, err := tokenUpdateColumns(tx)
		if err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token_address"}},
			DoUpdates: clause.AssignmentColumns(cols),
		}).Omit(clause.Associations).Create(perf).Error
	})
}

func (l *Ledger) GetTokenPerformance(ctx context.Context, tokenAddress string) (*models.TokenPerformance, error) {
	var perf models.TokenPerformance
	if err := l.read(ctx).Take(&perf, "token_address = ?", tokenAddress).Error; err != nil {
		return nil, translate("get token performance", err)
	}
	return &perf, nil
}

func (l *Ledger) ListTokenPerformance(ctx context.Context, limit, offset int) ([]models.TokenPerformance, error) {
	var rows []models.TokenPerformance
	q := l.read(ctx).Order("last_updated DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, translate("list token performance", err)
	}
	return rows, nil
}

func (l *Ledger) UpdateTokenBalance(ctx context.Context, tokenAddress string, balance float64) error {
	return l.write(ctx, "update token balance", func(tx *gorm.DB) error {
		res := tx.Model(&models.TokenPerformance{}).
			Where("token_address = ?", tokenAddress).
			Updates(map[string]interface{}{"balance": balance, "last_updated": l.now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// DeleteTokenPerformance removes a token; its recommendations, trades and
// transactions cascade.
func (l *Ledger) DeleteTokenPerformance(ctx context.Context, tokenAddress string) error {
	return l.write(ctx, "delete token performance", func(tx *gorm.DB) error {
		res := tx.Delete(&models.TokenPerformance{}, "token_address = ?", tokenAddress)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// RefreshValidationTrust recomputes and stores the token's validation trust.
func (l *Ledger) RefreshValidationTrust(ctx context.Context, tokenAddress string) (float64, error) {
	var trust float64
	err := l.write(ctx, "refresh validation trust", func(tx *gorm.DB) error {
		var err error
		if trust, err = validationTrust(tx, tokenAddress); err != nil {
			return err
		}
		res := tx.Model(&models.TokenPerformance{}).
			Where("token_address = ?", tokenAddress).
			Updates(map[string]interface{}{"validation_trust": trust, "last_updated": l.now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return trust, nil
}

// CalculateValidationTrust is the mean trust score of every recommender
// who has recommended the token, or 0 when nobody has.
func (l *Ledger) CalculateValidationTrust(ctx context.Context, tokenAddress string) (float64, error) {
	v, err := validationTrust(l.read(ctx), tokenAddress)
	if err != nil {
		return 0, translate("calculate validation trust", err)
	}
	return v, nil
}

func validationTrust(db *gorm.DB, tokenAddress string) (float64, error) {
	var avg sql.NullFloat64
	err := db.Raw(`
		SELECT AVG(m.trust_score)
		FROM recommender_metrics m
		WHERE m.recommender_id IN (
			SELECT DISTINCT r.recommender_id
			FROM token_recommendations r
			WHERE r.token_address = ?
		)`, tokenAddress).Scan(&avg).Error
	if err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, nil
	}
	return clamp01(avg.Float64), nil
}

// AddTokenRecommendation appends a recommendation. The recommender and
// token rows must exist.
func (l *Ledger) AddTokenRecommendation(ctx context.Context, rec *models.TokenRecommendation) error {
	if rec == nil || rec.RecommenderID == uuid.Nil || rec.TokenAddress == "" {
		return fmt.Errorf("add token recommendation: %w", ErrInvalidInput)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	} else {
		rec.Timestamp = normalize(rec.Timestamp)
	}
	return l.write(ctx, "add token recommendation", func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Create(rec).Error
	})
}

func (l *Ledger) GetRecommendationsByRecommender(ctx context.Context, recommenderID uuid.UUID) ([]models.TokenRecommendation, error) {
	var rows []models.TokenRecommendation
	err := l.read(ctx).Where("recommender_id = ?", recommenderID).Order("timestamp").Find(&rows).Error
	if err != nil {
		return nil, translate("get recommendations by recommender", err)
	}
	return rows, nil
}

func (l *Ledger) GetRecommendationsByToken(ctx context.Context, tokenAddress string) ([]models.TokenRecommendation, error) {
	var rows []models.TokenRecommendation
	err := l.read(ctx).Where("token_address = ?", tokenAddress).Order("timestamp").Find(&rows).Error
	if err != nil {
		return nil, translate("get recommendations by token", err)
	}
	return rows, nil
}
