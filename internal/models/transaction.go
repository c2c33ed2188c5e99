package models

import "time"

type TransactionType string

const (
	TransactionBuy  TransactionType = "buy"
	TransactionSell TransactionType = "sell"
)

// Transaction is an executed on-chain swap. Rows are never updated.
type Transaction struct {
	TransactionHash string          `gorm:"column:transaction_hash;primaryKey" json:"transaction_hash"`
	TokenAddress    string          `gorm:"column:token_address;not null;index" json:"token_address"`
	Type            TransactionType `gorm:"column:type;size:8;not null" json:"type"`
	Amount          float64         `gorm:"column:amount;not null" json:"amount"`
	Price           float64         `gorm:"column:price;not null" json:"price"`
	IsSimulation    bool            `gorm:"column:is_simulation;not null;default:false" json:"is_simulation"`
	Timestamp       time.Time       `gorm:"column:timestamp;not null" json:"timestamp"`

}

func (Transaction) TableName() string {
	return "transactions"
}
