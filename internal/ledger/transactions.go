package ledger

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tokentrust/internal/models"
)

// AddTransaction appends an executed swap. The token row must exist.
func (l *Ledger) AddTransaction(ctx context.Context, txn *models.Transaction) error {
	if txn == nil || txn.TransactionHash == "" || txn.TokenAddress == "" {
		return fmt.Errorf("add transaction: %w", ErrInvalidInput)
	}
	if txn.Type != models.TransactionBuy && txn.Type != models.TransactionSell {
		return fmt.Errorf("add transaction: %w: type %q", ErrInvalidInput, txn.Type)
	}
	if txn.Timestamp.IsZero() {
		txn.Timestamp = l.now()
	} else {
		txn.Timestamp = normalize(txn.Timestamp)
	}
	return l.write(ctx, "add transaction", func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Create(txn).Error
	})
}

// GetTransactionsByToken returns the token's swaps, oldest first.
func (l *Ledger) GetTransactionsByToken(ctx context.Context, tokenAddress string) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := l.read(ctx).Where("token_address = ?", tokenAddress).Order("timestamp").Find(&rows).Error
	if err != nil {
		return nil, translate("get transactions by token", err)
	}
	return rows, nil
}
