package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type AirdropStatus string

const (
	AirdropActive    AirdropStatus = "ACTIVE"
	AirdropPending   AirdropStatus = "PENDING"
	AirdropCompleted AirdropStatus = "COMPLETED"
	AirdropClaimed   AirdropStatus = "CLAIMED"
	AirdropFailed    AirdropStatus = "FAILED"
)

var airdropTransitions = map[AirdropStatus][]AirdropStatus{
	AirdropActive:    {AirdropPending},
	AirdropPending:   {AirdropCompleted, AirdropClaimed, AirdropFailed},
	AirdropCompleted: {AirdropClaimed},
}

func (s AirdropStatus) Valid() bool {
	switch s {
	case AirdropActive, AirdropPending, AirdropCompleted, AirdropClaimed, AirdropFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether s may move to next. CLAIMED and FAILED
// are terminal.
func (s AirdropStatus) CanTransitionTo(next AirdropStatus) bool {
	for _, allowed := range airdropTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Airdrop tracks a wallet's participation in an airdrop program.
type Airdrop struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ProgramName   string          `gorm:"column:program_name;size:128;not null" json:"program_name"`
	WalletAddress string          `gorm:"column:wallet_address;size:64;not null;index" json:"wallet_address"`
	SignupURL     string          `gorm:"column:signup_url" json:"signup_url"`
	Status        AirdropStatus   `gorm:"column:status;size:16;not null;default:'ACTIVE';index" json:"status"`
	RewardAmount  decimal.Decimal `gorm:"column:reward_amount;type:numeric(38,18);not null;default:0" json:"reward_amount"`
	Metadata      datatypes.JSON  `gorm:"column:metadata" json:"metadata,omitempty"`
	SignedUpAt    time.Time       `gorm:"column:signed_up_at;not null" json:"signed_up_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Airdrop) TableName() string {
	return "airdrops"
}
