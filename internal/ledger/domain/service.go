package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Posting struct {
	SourceType LedgerSourceType
	SourceID   snowflake.ID
	Currency   string
	OccurredAt time.Time
	Lines      []LedgerEntryLine
}

type Service interface {
	// Post writes a balanced entry inside tx. A second post for the same
	// source is ignored and reports false.
	Post(ctx context.Context, tx *gorm.DB, posting Posting) (bool, error)
	ListBySource(ctx context.Context, sourceID snowflake.ID) ([]EntryWithLines, error)
	Balances(ctx context.Context) (map[LedgerAccountCode]int64, error)
}

type EntryWithLines struct {
	LedgerEntry
	Lines []LedgerEntryLine `json:"lines"`
}

var (
	ErrInvalidSourceType    = errors.New("invalid_source_type")
	ErrInvalidSourceID      = errors.New("invalid_source_id")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrInvalidOccurredAt    = errors.New("invalid_occurred_at")
	ErrInvalidEntryLines    = errors.New("invalid_entry_lines")
	ErrInvalidAccount       = errors.New("invalid_account")
	ErrInvalidLineDirection = errors.New("invalid_line_direction")
	ErrInvalidLineAmount    = errors.New("invalid_line_amount")
	ErrUnbalancedEntry      = errors.New("unbalanced_entry")
)

// ValidateBalanced checks that debits equal credits.
func ValidateBalanced(lines []LedgerEntryLine) error {
	var debit, credit int64
	for _, line := range lines {
		switch line.Direction {
		case LedgerEntryDirectionDebit:
			debit += line.Amount
		case LedgerEntryDirectionCredit:
			credit += line.Amount
		default:
			return ErrInvalidLineDirection
		}
	}
	if debit != credit {
		return ErrUnbalancedEntry
	}
	return nil
}

func Debit(account LedgerAccountCode, amount int64) LedgerEntryLine {
	return LedgerEntryLine{AccountCode: account, Direction: LedgerEntryDirectionDebit, Amount: amount}
}

func Credit(account LedgerAccountCode, amount int64) LedgerEntryLine {
	return LedgerEntryLine{AccountCode: account, Direction: LedgerEntryDirectionCredit, Amount: amount}
}
