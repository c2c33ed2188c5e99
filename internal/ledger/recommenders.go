package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tokentrust/internal/models"
)

// Identity carries the aliases a recommender may be known by.
type Identity struct {
	Address      string `json:"address,omitempty"`
	SolanaPubkey string `json:"solana_pubkey,omitempty"`
	TelegramID   string `json:"telegram_id,omitempty"`
	DiscordID    string `json:"discord_id,omitempty"`
	TwitterID    string `json:"twitter_id,omitempty"`
	IP           string `json:"ip,omitempty"`
}

func (id Identity) aliases() map[string]string {
	out := map[string]string{}
	for col, v := range map[string]string{
		"address":       id.Address,
		"solana_pubkey": id.SolanaPubkey,
		"telegram_id":   id.TelegramID,
		"discord_id":    id.DiscordID,
		"twitter_id":    id.TwitterID,
	} {
		if v = strings.TrimSpace(v); v != "" {
			out[col] = v
		}
	}
	return out
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// GetOrCreateRecommender finds the recommender matching any alias in id or
// creates one. A metrics row always exists afterwards.
func (l *Ledger) GetOrCreateRecommender(ctx context.Context, id Identity) (*models.Recommender, error) {
	aliases := id.aliases()
	if len(aliases) == 0 {
		return nil, fmt.Errorf("get or create recommender: %w: no identifier", ErrInvalidInput)
	}

	var rec models.Recommender
	err := l.write(ctx, "get or create recommender", func(tx *gorm.DB) error {
		q := tx.Model(&models.Recommender{})
		first := true
		for col, v := range aliases {
			if first {
				q = q.Where(col+" = ?", v)
				first = false
			} else {
				q = q.Or(col+" = ?", v)
			}
		}
		err := q.Clauses(clause.Locking{Strength: "UPDATE"}).Order("created_at").Take(&rec).Error
		switch {
		case err == nil:
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec = models.Recommender{
				ID:           uuid.New(),
				Address:      optional(id.Address),
				SolanaPubkey: optional(id.SolanaPubkey),
				TelegramID:   optional(id.TelegramID),
				DiscordID:    optional(id.DiscordID),
				TwitterID:    optional(id.TwitterID),
				IP:           optional(id.IP),
				CreatedAt:    l.now(),
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
			log.WithFields(log.Fields{"recommender": rec.ID}).Info("recommender created")
		default:
			return err
		}
		return ensureMetrics(tx, rec.ID, l.now())
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func ensureMetrics(tx *gorm.DB, id uuid.UUID, now time.Time) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.RecommenderMetrics{
		RecommenderID:  id,
		LastActiveDate: now,
		LastUpdated:    now,
	}).Error
}

func (l *Ledger) GetRecommender(ctx context.Context, id uuid.UUID) (*models.Recommender, error) {
	var rec models.Recommender
	if err := l.read(ctx).Take(&rec, "id = ?", id).Error; err != nil {
		return nil, translate("get recommender", err)
	}
	return &rec, nil
}

// GetRecommenderByAlias matches alias against every identifier column.
func (l *Ledger) GetRecommenderByAlias(ctx context.Context, alias string) (*models.Recommender, error) {
	var rec models.Recommender
	err := l.read(ctx).
		Where("address = ?", alias).
		Or("solana_pubkey = ?", alias).
		Or("telegram_id = ?", alias).
		Or("discord_id = ?", alias).
		Or("twitter_id = ?", alias).
		Order("created_at").
		Take(&rec).Error
	if err != nil {
		return nil, translate("get recommender by alias", err)
	}
	return &rec, nil
}

func (l *Ledger) ListRecommenders(ctx context.Context, limit, offset int) ([]models.Recommender, error) {
	var recs []models.Recommender
	q := l.read(ctx).Order("created_at")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, translate("list recommenders", err)
	}
	return recs, nil
}

func (l *Ledger) GetRecommenderMetrics(ctx context.Context, id uuid.UUID) (*models.RecommenderMetrics, error) {
	var m models.RecommenderMetrics
	if err := l.read(ctx).Take(&m, "recommender_id = ?", id).Error; err != nil {
		return nil, translate("get recommender metrics", err)
	}
	return &m, nil
}

// UpdateRecommenderMetrics snapshots the stored metrics into history and
// then overwrites them with m, atomically.
func (l *Ledger) UpdateRecommenderMetrics(ctx context.Context, m *models.RecommenderMetrics) error {
	if m == nil || m.RecommenderID == uuid.Nil {
		return fmt.Errorf("update recommender metrics: %w: missing recommender id", ErrInvalidInput)
	}
	return l.write(ctx, "update recommender metrics", func(tx *gorm.DB) error {
		current, err := lockMetrics(tx, m.RecommenderID)
		if err != nil {
			return err
		}
		return l.replaceMetrics(tx, current, m)
	})
}

// ModifyRecommenderMetrics applies fn to the stored metrics and writes the
// result back, snapshotting the old row into history. The read and the
// write share one transaction, so concurrent callers never lose an update.
// Returning an error from fn leaves the row untouched.
func (l *Ledger) ModifyRecommenderMetrics(ctx context.Context, id uuid.UUID, fn func(m *models.RecommenderMetrics) error) (*models.RecommenderMetrics, error) {
	if id == uuid.Nil || fn == nil {
		return nil, fmt.Errorf("modify recommender metrics: %w: missing recommender id", ErrInvalidInput)
	}
	var next models.RecommenderMetrics
	err := l.write(ctx, "modify recommender metrics", func(tx *gorm.DB) error {
		current, err := lockMetrics(tx, id)
		if err != nil {
			return err
		}
		next = *current
		if err := fn(&next); err != nil {
			return err
		}
		next.RecommenderID = id
		return l.replaceMetrics(tx, current, &next)
	})
	if err != nil {
		return nil, err
	}
	return &next, nil
}

func lockMetrics(tx *gorm.DB, id uuid.UUID) (*models.RecommenderMetrics, error) {
	var current models.RecommenderMetrics
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&current, "recommender_id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &current, nil
}

func (l *Ledger) replaceMetrics(tx *gorm.DB, current, m *models.RecommenderMetrics) error {
	now := l.now()
	if err := tx.Create(models.HistoryFrom(current, now)).Error; err != nil {
		return err
	}

	m.TrustScore = clamp01(m.TrustScore)
	m.LastActiveDate = normalize(m.LastActiveDate)
	m.LastUpdated = now
	return tx.Model(&models.RecommenderMetrics{}).
		Where("recommender_id = ?", m.RecommenderID).
		Select("*").Omit("recommender_id", clause.Associations).
		Updates(m).Error
}

// GetRecommenderMetricsHistory returns snapshots oldest first.
func (l *Ledger) GetRecommenderMetricsHistory(ctx context.Context, id uuid.UUID) ([]models.RecommenderMetricsHistory, error) {
	var rows []models.RecommenderMetricsHistory
	err := l.read(ctx).
		Where("recommender_id = ?", id).
		Order("recorded_at").
		Find(&rows).Error
	if err != nil {
		return nil, translate("get recommender metrics history", err)
	}
	return rows, nil
}

// DeleteRecommender removes a recommender; metrics, history,
// recommendations and trades cascade.
func (l *Ledger) DeleteRecommender(ctx context.Context, id uuid.UUID) error {
	return l.write(ctx, "delete recommender", func(tx *gorm.DB) error {
		res := tx.Delete(&models.Recommender{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
