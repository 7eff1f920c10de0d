package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/overtimestaff/escrow/internal/clock"
	"github.com/overtimestaff/escrow/internal/config"
	escrowdomain "github.com/overtimestaff/escrow/internal/escrow/domain"
	"github.com/overtimestaff/escrow/internal/money"
	statsdomain "github.com/overtimestaff/escrow/internal/statistics/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultWindow = 30 * 24 * time.Hour
	defaultTopN   = 5
	maxTopN       = 50

	// maxBuckets bounds the revenue series, a year of daily points.
	maxBuckets = 366
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Settings *config.SettingsHolder
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	settings *config.SettingsHolder
}

func NewService(p Params) statsdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("statistics.service"),
		clock:    p.Clock,
		settings: p.Settings,
	}
}

func (s *Service) Summary(ctx context.Context, req statsdomain.SummaryRequest) (statsdomain.Summary, error) {
	from, to, err := normalizeRange(req, s.clock.Now())
	if err != nil {
		return statsdomain.Summary{}, err
	}
	bucket := req.Bucket
	if bucket == "" {
		bucket = statsdomain.BucketDay
	}
	if bucket != statsdomain.BucketDay && bucket != statsdomain.BucketWeek && bucket != statsdomain.BucketMonth {
		return statsdomain.Summary{}, statsdomain.ErrInvalidBucket
	}
	if bucketCount(from, to, bucket) > maxBuckets {
		return statsdomain.Summary{}, statsdomain.ErrInvalidTimeRange
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.settings.Get().CurrencyCode
	}
	if len(currency) != 3 {
		return statsdomain.Summary{}, statsdomain.ErrInvalidCurrency
	}
	topN := req.TopN
	if topN <= 0 {
		topN = defaultTopN
	}
	topN = min(topN, maxTopN)

	db := s.db.WithContext(ctx)
	out := statsdomain.Summary{
		From:     from,
		To:       to,
		Bucket:   bucket,
		Currency: currency,
	}

	if err := db.Raw(
		`SELECT DISTINCT currency FROM shift_payments
		WHERE created_at >= ? AND created_at < ?
		ORDER BY currency`,
		from, to,
	).Scan(&out.Currencies).Error; err != nil {
		return statsdomain.Summary{}, fmt.Errorf("statistics currencies: %w", err)
	}
	if out.Currencies == nil {
		out.Currencies = []string{}
	}

	if out.ByStatus, err = s.byStatus(db, currency, from, to); err != nil {
		return statsdomain.Summary{}, err
	}
	for _, row := range out.ByStatus {
		out.TotalPayments += row.Count
	}

	var totals struct {
		PlatformFees decimal.Decimal
		Disputed     int64
		Completed    int64
		Failed       int64
	}
	if err := db.Raw(
		`SELECT
			COALESCE(SUM(CASE WHEN status IN (?, ?) THEN platform_fee ELSE 0 END), 0) AS platform_fees,
			COALESCE(SUM(CASE WHEN disputed_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS disputed,
			COALESCE(SUM(CASE WHEN payout_status = ? THEN 1 ELSE 0 END), 0) AS completed,
			COALESCE(SUM(CASE WHEN payout_status = ? THEN 1 ELSE 0 END), 0) AS failed
		FROM shift_payments
		WHERE currency = ? AND created_at >= ? AND created_at < ?`,
		escrowdomain.StatusReleased, escrowdomain.StatusPaidOut,
		escrowdomain.PayoutCompleted, escrowdomain.PayoutFailed,
		currency, from, to,
	).Scan(&totals).Error; err != nil {
		return statsdomain.Summary{}, fmt.Errorf("statistics totals: %w", err)
	}
	out.TotalPlatformFees = money.Round2(totals.PlatformFees)
	if out.TotalPayments > 0 {
		out.DisputeRate = float64(totals.Disputed) / float64(out.TotalPayments)
	}
	if settled := totals.Completed + totals.Failed; settled > 0 {
		rate := float64(totals.Completed) / float64(settled)
		out.PayoutSuccessRate = &rate
	}

	if out.AverageResolutionHours, err = s.averageResolution(db, currency, from, to); err != nil {
		return statsdomain.Summary{}, err
	}
	if out.TopWorkers, err = s.topParties(db, currency, "worker_id", "worker_amount", "status = ?", escrowdomain.StatusPaidOut, from, to, topN); err != nil {
		return statsdomain.Summary{}, err
	}
	if out.TopBusinesses, err = s.topParties(db, currency, "business_id", "total_amount", "captured_at IS NOT NULL AND status <> ?", escrowdomain.StatusPending, from, to, topN); err != nil {
		return statsdomain.Summary{}, err
	}
	if out.Revenue, err = s.revenue(db, currency, from, to, bucket); err != nil {
		return statsdomain.Summary{}, err
	}
	return out, nil
}

func (s *Service) byStatus(db *gorm.DB, currency string, from, to time.Time) ([]statsdomain.StatusTotal, error) {
	var rows []struct {
		Status string
		Count  int64
		Amount decimal.Decimal
	}
	if err := db.Raw(
		`SELECT status, COUNT(*) AS count, COALESCE(SUM(total_amount), 0) AS amount
		FROM shift_payments
		WHERE currency = ? AND created_at >= ? AND created_at < ?
		GROUP BY status`,
		currency, from, to,
	).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("statistics by status: %w", err)
	}

	found := make(map[string]statsdomain.StatusTotal, len(rows))
	for _, row := range rows {
		found[row.Status] = statsdomain.StatusTotal{Status: row.Status, Count: row.Count, Amount: money.Round2(row.Amount)}
	}
	out := make([]statsdomain.StatusTotal, 0, len(escrowdomain.AllStatuses))
	for _, status := range escrowdomain.AllStatuses {
		row, ok := found[string(status)]
		if !ok {
			row = statsdomain.StatusTotal{Status: string(status), Amount: decimal.Zero}
		}
		out = append(out, row)
	}
	return out, nil
}

// averageResolution covers disputes resolved inside the window. The duration
// is computed here because date arithmetic differs across dialects.
func (s *Service) averageResolution(db *gorm.DB, currency string, from, to time.Time) (*float64, error) {
	var rows []struct {
		DisputedAt        time.Time
		DisputeResolvedAt time.Time
	}
	if err := db.Raw(
		`SELECT disputed_at, dispute_resolved_at
		FROM shift_payments
		WHERE currency = ? AND disputed_at IS NOT NULL AND dispute_resolved_at >= ? AND dispute_resolved_at < ?`,
		currency, from, to,
	).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("statistics resolution time: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	var total time.Duration
	for _, row := range rows {
		total += row.DisputeResolvedAt.Sub(row.DisputedAt)
	}
	hours := total.Hours() / float64(len(rows))
	return &hours, nil
}

func (s *Service) topParties(db *gorm.DB, currency, idColumn, amountColumn, where string, arg any, from, to time.Time, limit int) ([]statsdomain.PartyTotal, error) {
	var rows []struct {
		PartyID  int64
		Payments int64
		Amount   decimal.Decimal
	}
	query := fmt.Sprintf(
		`SELECT %[1]s AS party_id, COUNT(*) AS payments, COALESCE(SUM(%[2]s), 0) AS amount
		FROM shift_payments
		WHERE %[3]s AND currency = ? AND created_at >= ? AND created_at < ?
		GROUP BY %[1]s
		ORDER BY amount DESC, party_id ASC
		LIMIT ?`,
		idColumn, amountColumn, where,
	)
	if err := db.Raw(query, arg, currency, from, to, limit).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("statistics top %s: %w", strings.TrimSuffix(idColumn, "_id"), err)
	}
	out := make([]statsdomain.PartyTotal, 0, len(rows))
	for _, row := range rows {
		out = append(out, statsdomain.PartyTotal{
			ID:       strconv.FormatInt(row.PartyID, 10),
			Payments: row.Payments,
			Amount:   money.Round2(row.Amount),
		})
	}
	return out, nil
}

// revenue buckets the platform fee of payments released inside the window.
// Every bucket in range is present, empty ones with zero.
func (s *Service) revenue(db *gorm.DB, currency string, from, to time.Time, bucket statsdomain.Bucket) ([]statsdomain.RevenuePoint, error) {
	var rows []struct {
		ReleasedAt  time.Time
		PlatformFee decimal.Decimal
	}
	if err := db.Raw(
		`SELECT released_at, platform_fee
		FROM shift_payments
		WHERE currency = ? AND released_at >= ? AND released_at < ? AND status IN (?, ?)`,
		currency, from, to, escrowdomain.StatusReleased, escrowdomain.StatusPaidOut,
	).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("statistics revenue: %w", err)
	}

	points := make(map[string]*statsdomain.RevenuePoint)
	var out []statsdomain.RevenuePoint
	for start := truncate(from, bucket); start.Before(to); start = next(start, bucket) {
		out = append(out, statsdomain.RevenuePoint{Period: label(start, bucket), PlatformFees: decimal.Zero})
	}
	for i := range out {
		points[out[i].Period] = &out[i]
	}
	for _, row := range rows {
		point, ok := points[label(truncate(row.ReleasedAt.UTC(), bucket), bucket)]
		if !ok {
			continue
		}
		point.Payments++
		point.PlatformFees = money.Round2(point.PlatformFees.Add(row.PlatformFee))
	}
	return out, nil
}

func normalizeRange(req statsdomain.SummaryRequest, now time.Time) (time.Time, time.Time, error) {
	from, to := req.From, req.To
	if from.IsZero() && to.IsZero() {
		to = now
		from = now.Add(-defaultWindow)
	}
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return time.Time{}, time.Time{}, statsdomain.ErrInvalidTimeRange
	}
	return from.UTC(), to.UTC(), nil
}

// bucketCount stops counting once the cap is passed.
func bucketCount(from, to time.Time, bucket statsdomain.Bucket) int {
	n := 0
	for start := truncate(from, bucket); start.Before(to) && n <= maxBuckets; start = next(start, bucket) {
		n++
	}
	return n
}

func truncate(value time.Time, bucket statsdomain.Bucket) time.Time {
	day := time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, time.UTC)
	switch bucket {
	case statsdomain.BucketWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case statsdomain.BucketMonth:
		return time.Date(value.Year(), value.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

func next(start time.Time, bucket statsdomain.Bucket) time.Time {
	switch bucket {
	case statsdomain.BucketWeek:
		return start.AddDate(0, 0, 7)
	case statsdomain.BucketMonth:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

func label(start time.Time, bucket statsdomain.Bucket) string {
	if bucket == statsdomain.BucketMonth {
		return start.Format("2006-01")
	}
	return start.Format("2006-01-02")
}
