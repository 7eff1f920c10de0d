package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// LedgerEntryDirection represents debit or credit postings.
type LedgerEntryDirection string

const (
	LedgerEntryDirectionDebit  LedgerEntryDirection = "debit"
	LedgerEntryDirectionCredit LedgerEntryDirection = "credit"
)

// LedgerSourceType names the escrow event that moved money. Each payment
// posts at most one entry per source type.
type LedgerSourceType string

const (
	SourceTypeCapture LedgerSourceType = "escrow_capture"
	SourceTypeRelease LedgerSourceType = "escrow_release"
	SourceTypePayout  LedgerSourceType = "escrow_payout"
	SourceTypeRefund  LedgerSourceType = "escrow_refund"
)

type LedgerAccountCode string

const (
	// Funds held at the payment processor on the platform's behalf.
	AccountCodeProcessorCash LedgerAccountCode = "processor_cash"
	// Captured funds not yet released.
	AccountCodeEscrowHolding LedgerAccountCode = "escrow_holding"
	// Released worker share awaiting transfer.
	AccountCodeWorkerPayable   LedgerAccountCode = "worker_payable"
	AccountCodePlatformRevenue LedgerAccountCode = "platform_revenue"
)

func (c LedgerAccountCode) Valid() bool {
	switch c {
	case AccountCodeProcessorCash, AccountCodeEscrowHolding, AccountCodeWorkerPayable, AccountCodePlatformRevenue:
		return true
	default:
		return false
	}
}

// LedgerAccount is a chart-of-accounts row.
type LedgerAccount struct {
	Code      LedgerAccountCode `gorm:"primaryKey;type:text"`
	Name      string            `gorm:"type:text;not null"`
	CreatedAt time.Time         `gorm:"not null"`
}

func (LedgerAccount) TableName() string { return "ledger_accounts" }

// LedgerEntry captures the immutable header for a money movement.
type LedgerEntry struct {
	ID         snowflake.ID     `json:"id" gorm:"primaryKey"`
	SourceType LedgerSourceType `json:"source_type" gorm:"type:text;not null"`
	SourceID   snowflake.ID     `json:"source_id" gorm:"not null"`
	Currency   string           `json:"currency" gorm:"type:text;not null"`
	OccurredAt time.Time        `json:"occurred_at" gorm:"not null"`
	CreatedAt  time.Time        `json:"created_at" gorm:"not null"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// LedgerEntryLine is a double-entry posting line. Amount is in minor units.
type LedgerEntryLine struct {
	ID            snowflake.ID         `json:"id" gorm:"primaryKey"`
	LedgerEntryID snowflake.ID         `json:"ledger_entry_id" gorm:"not null;index"`
	AccountCode   LedgerAccountCode    `json:"account_code" gorm:"type:text;not null"`
	Direction     LedgerEntryDirection `json:"direction" gorm:"type:text;not null"`
	Amount        int64                `json:"amount" gorm:"not null"`
	CreatedAt     time.Time            `json:"created_at" gorm:"not null"`
}

func (LedgerEntryLine) TableName() string { return "ledger_entry_lines" }
