package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tokentrust/internal/models"
)

// CreateAirdrop registers a signup. New airdrops start ACTIVE.
func (l *Ledger) CreateAirdrop(ctx context.Context, a *models.Airdrop) error {
	if a == nil || strings.TrimSpace(a.ProgramName) == "" || strings.TrimSpace(a.WalletAddress) == "" {
		return fmt.Errorf("create airdrop: %w: program name and wallet address are required", ErrInvalidInput)
	}
	if a.RewardAmount.IsNegative() {
		return fmt.Errorf("create airdrop: %w: negative reward", ErrInvalidInput)
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.AirdropActive
	}
	if a.Status != models.AirdropActive {
		return fmt.Errorf("create airdrop: %w: new airdrops start %s", ErrInvalidTransition, models.AirdropActive)
	}
	now := l.now()
	if a.SignedUpAt.IsZero() {
		a.SignedUpAt = now
	} else {
		a.SignedUpAt = normalize(a.SignedUpAt)
	}
	a.UpdatedAt = now

	return l.write(ctx, "create airdrop", func(tx *gorm.DB) error {
		return tx.Create(a).Error
	})
}

func (l *Ledger) GetAirdrop(ctx context.Context, id uuid.UUID) (*models.Airdrop, error) {
	var a models.Airdrop
	if err := l.read(ctx).Take(&a, "id = ?", id).Error; err != nil {
		return nil, translate("get airdrop", err)
	}
	return &a, nil
}

// ListAirdrops returns airdrops newest first, optionally filtered by status.
func (l *Ledger) ListAirdrops(ctx context.Context, status models.AirdropStatus) ([]models.Airdrop, error) {
	q := l.read(ctx).Order("signed_up_at DESC")
	if status != "" {
		if !status.Valid() {
			return nil, fmt.Errorf("list airdrops: %w: unknown status %q", ErrInvalidInput, status)
		}
		q = q.Where("status = ?", status)
	}
	var rows []models.Airdrop
	if err := q.Find(&rows).Error; err != nil {
		return nil, translate("list airdrops", err)
	}
	return rows, nil
}

// UpdateAirdropStatus moves an airdrop along its state machine.
func (l *Ledger) UpdateAirdropStatus(ctx context.Context, id uuid.UUID, next models.AirdropStatus) (*models.Airdrop, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("update airdrop status: %w: unknown status %q", ErrInvalidInput, next)
	}
	var a models.Airdrop
	err := l.write(ctx, "update airdrop status", func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&a, "id = ?", id).Error; err != nil {
			return err
		}
		if !a.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, next)
		}
		prev := a.Status
		a.Status = next
		a.UpdatedAt = l.now()
		if err := tx.Model(&models.Airdrop{}).Where("id = ?", a.ID).
			Updates(map[string]interface{}{"status": a.Status, "updated_at": a.UpdatedAt}).Error; err != nil {
			return err
		}
		log.WithFields(log.Fields{"airdrop": a.ID, "from": prev, "to": next}).Info("airdrop status changed")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (l *Ledger) DeleteAirdrop(ctx context.Context, id uuid.UUID) error {
	return l.write(ctx, "delete airdrop", func(tx *gorm.DB) error {
		res := tx.Delete(&models.Airdrop{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
