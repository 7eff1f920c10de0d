package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/overtimestaff/escrow/internal/clock"
	ledgerdomain "github.com/overtimestaff/escrow/internal/ledger/domain"
	obsmetrics "github.com/overtimestaff/escrow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Post(ctx context.Context, tx *gorm.DB, posting ledgerdomain.Posting) (bool, error) {
	sourceType := ledgerdomain.LedgerSourceType(strings.TrimSpace(string(posting.SourceType)))
	if sourceType == "" {
		return false, ledgerdomain.ErrInvalidSourceType
	}
	if posting.SourceID == 0 {
		return false, ledgerdomain.ErrInvalidSourceID
	}
	currency := strings.ToUpper(strings.TrimSpace(posting.Currency))
	if currency == "" {
		return false, ledgerdomain.ErrInvalidCurrency
	}
	if posting.OccurredAt.IsZero() {
		return false, ledgerdomain.ErrInvalidOccurredAt
	}

	lines := make([]ledgerdomain.LedgerEntryLine, 0, len(posting.Lines))
	for _, line := range posting.Lines {
		if !line.AccountCode.Valid() {
			return false, ledgerdomain.ErrInvalidAccount
		}
		direction, err := normalizeDirection(line.Direction)
		if err != nil {
			return false, err
		}
		if line.Amount < 0 {
			return false, ledgerdomain.ErrInvalidLineAmount
		}
		if line.Amount == 0 {
			continue
		}
		lines = append(lines, ledgerdomain.LedgerEntryLine{
			AccountCode: line.AccountCode,
			Direction:   direction,
			Amount:      line.Amount,
		})
	}
	if len(lines) == 0 {
		return false, nil
	}
	if len(lines) < 2 {
		return false, ledgerdomain.ErrInvalidEntryLines
	}
	if err := ledgerdomain.ValidateBalanced(lines); err != nil {
		return false, err
	}

	if tx == nil {
		tx = s.db
	}
	entryID := s.genID.Generate()
	now := s.clock.Now()
	result := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (id, source_type, source_id, currency, occurred_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_type, source_id) DO NOTHING`,
		entryID,
		string(sourceType),
		posting.SourceID,
		currency,
		posting.OccurredAt.UTC(),
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		s.log.Debug("ledger entry already posted",
			zap.String("source_type", string(sourceType)),
			zap.String("source_id", posting.SourceID.String()),
		)
		return false, nil
	}

	for _, line := range lines {
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO ledger_entry_lines (id, ledger_entry_id, account_code, direction, amount, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			s.genID.Generate(),
			entryID,
			string(line.AccountCode),
			string(line.Direction),
			line.Amount,
			now,
		).Error; err != nil {
			return false, err
		}
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEntry(ctx, string(sourceType))
	}
	return true, nil
}

func (s *Service) ListBySource(ctx context.Context, sourceID snowflake.ID) ([]ledgerdomain.EntryWithLines, error) {
	var entries []ledgerdomain.LedgerEntry
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, source_type, source_id, currency, occurred_at, created_at
		FROM ledger_entries WHERE source_id = ? ORDER BY occurred_at ASC, id ASC`,
		sourceID,
	).Scan(&entries).Error; err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return []ledgerdomain.EntryWithLines{}, nil
	}

	ids := make([]snowflake.ID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	var lines []ledgerdomain.LedgerEntryLine
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, ledger_entry_id, account_code, direction, amount, created_at
		FROM ledger_entry_lines WHERE ledger_entry_id IN ? ORDER BY id ASC`,
		ids,
	).Scan(&lines).Error; err != nil {
		return nil, err
	}

	byEntry := make(map[snowflake.ID][]ledgerdomain.LedgerEntryLine, len(entries))
	for _, line := range lines {
		byEntry[line.LedgerEntryID] = append(byEntry[line.LedgerEntryID], line)
	}
	out := make([]ledgerdomain.EntryWithLines, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerdomain.EntryWithLines{LedgerEntry: e, Lines: byEntry[e.ID]})
	}
	return out, nil
}

// Balances returns debit-minus-credit per account across all entries.
func (s *Service) Balances(ctx context.Context) (map[ledgerdomain.LedgerAccountCode]int64, error) {
	type row struct {
		AccountCode string
		Debit       int64
		Credit      int64
	}
	var rows []row
	if err := s.db.WithContext(ctx).Raw(
		`SELECT account_code,
			COALESCE(SUM(CASE WHEN direction = 'debit' THEN amount ELSE 0 END), 0) AS debit,
			COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE 0 END), 0) AS credit
		FROM ledger_entry_lines GROUP BY account_code`,
	).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[ledgerdomain.LedgerAccountCode]int64, len(rows))
	for _, r := range rows {
		out[ledgerdomain.LedgerAccountCode(r.AccountCode)] = r.Debit - r.Credit
	}
	return out, nil
}

func normalizeDirection(direction ledgerdomain.LedgerEntryDirection) (ledgerdomain.LedgerEntryDirection, error) {
	switch strings.ToLower(strings.TrimSpace(string(direction))) {
	case string(ledgerdomain.LedgerEntryDirectionDebit):
		return ledgerdomain.LedgerEntryDirectionDebit, nil
	case string(ledgerdomain.LedgerEntryDirectionCredit):
		return ledgerdomain.LedgerEntryDirectionCredit, nil
	default:
		return "", ledgerdomain.ErrInvalidLineDirection
	}
}
