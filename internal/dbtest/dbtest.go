// Package dbtest opens in-memory sqlite databases carrying the service schema.
package dbtest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var seq atomic.Int64

var schema = []string{
	`CREATE TABLE regional_pricings (
		id BIGINT PRIMARY KEY,
		country_code TEXT NOT NULL,
		region_code TEXT,
		currency_code TEXT NOT NULL,
		ppp_factor NUMERIC NOT NULL,
		min_hourly_rate NUMERIC NOT NULL,
		max_hourly_rate NUMERIC NOT NULL,
		platform_fee_rate NUMERIC NOT NULL,
		worker_fee_rate NUMERIC NOT NULL DEFAULT 0,
		tier_adjustments TEXT NOT NULL DEFAULT '{}',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE price_adjustments (
		id BIGINT PRIMARY KEY,
		regional_pricing_id BIGINT NOT NULL,
		adjustment_type TEXT NOT NULL,
		multiplier NUMERIC NOT NULL,
		fixed_adjustment NUMERIC NOT NULL DEFAULT 0,
		valid_from DATETIME NOT NULL,
		valid_until DATETIME,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE shift_payments (
		id BIGINT PRIMARY KEY,
		shift_id BIGINT NOT NULL,
		worker_id BIGINT NOT NULL,
		business_id BIGINT NOT NULL,
		currency TEXT NOT NULL,
		hourly_rate NUMERIC NOT NULL,
		hours_worked NUMERIC NOT NULL,
		total_amount NUMERIC NOT NULL,
		platform_fee NUMERIC NOT NULL,
		platform_fee_percentage NUMERIC NOT NULL,
		worker_fee_rate NUMERIC NOT NULL DEFAULT 0,
		worker_amount NUMERIC NOT NULL,
		country_code TEXT NOT NULL,
		region_code TEXT,
		regional_pricing_id BIGINT,
		status TEXT NOT NULL,
		payout_status TEXT NOT NULL,
		customer_ref TEXT NOT NULL,
		destination_ref TEXT NOT NULL,
		charge_id TEXT,
		transfer_id TEXT,
		refund_id TEXT,
		payout_retry_count INTEGER NOT NULL DEFAULT 0,
		last_payout_error TEXT,
		is_disputed BOOLEAN NOT NULL DEFAULT FALSE,
		dispute_reason TEXT,
		dispute_evidence TEXT,
		dispute_filed_by TEXT,
		disputed_at DATETIME,
		dispute_resolved_at DATETIME,
		dispute_resolution TEXT,
		resolution_notes TEXT,
		admin_dispute_notes TEXT,
		hold_reason TEXT,
		held_at DATETIME,
		refund_status TEXT,
		refund_amount NUMERIC,
		refund_reason TEXT,
		refunded_at DATETIME,
		failure_reason TEXT,
		failed_at DATETIME,
		captured_at DATETIME,
		released_at DATETIME,
		paid_out_at DATETIME,
		version BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_shift_payments_shift_worker ON shift_payments (shift_id, worker_id)`,
	`CREATE TABLE ledger_accounts (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`INSERT INTO ledger_accounts (code, name) VALUES
		('processor_cash', 'Processor cash'),
		('escrow_holding', 'Escrow holding'),
		('worker_payable', 'Worker payable'),
		('platform_revenue', 'Platform revenue')`,
	`CREATE TABLE ledger_entries (
		id BIGINT PRIMARY KEY,
		source_type TEXT NOT NULL,
		source_id BIGINT NOT NULL,
		currency TEXT NOT NULL,
		occurred_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_ledger_entries_source ON ledger_entries (source_type, source_id)`,
	`CREATE TABLE ledger_entry_lines (
		id BIGINT PRIMARY KEY,
		ledger_entry_id BIGINT NOT NULL,
		account_code TEXT NOT NULL,
		direction TEXT NOT NULL,
		amount BIGINT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE audit_logs (
		id BIGINT PRIMARY KEY,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE agency_tiers (
		id BIGINT PRIMARY KEY,
		level INTEGER NOT NULL UNIQUE,
		name TEXT NOT NULL,
		pricing_tier TEXT,
		min_monthly_revenue NUMERIC NOT NULL DEFAULT 0,
		min_active_workers INTEGER NOT NULL DEFAULT 0,
		min_fill_rate NUMERIC NOT NULL DEFAULT 0,
		min_rating NUMERIC NOT NULL DEFAULT 0,
		commission_rate NUMERIC NOT NULL DEFAULT 0,
		priority_booking_hours INTEGER NOT NULL DEFAULT 0,
		benefits TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE agency_profiles (
		agency_id BIGINT PRIMARY KEY,
		agency_tier_id BIGINT,
		monthly_revenue NUMERIC NOT NULL DEFAULT 0,
		active_workers INTEGER NOT NULL DEFAULT 0,
		fill_rate NUMERIC NOT NULL DEFAULT 0,
		rating NUMERIC NOT NULL DEFAULT 0,
		tier_achieved_at DATETIME,
		last_evaluated_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE agency_tier_histories (
		id BIGINT PRIMARY KEY,
		agency_id BIGINT NOT NULL,
		from_tier_id BIGINT,
		to_tier_id BIGINT NOT NULL,
		change_type TEXT NOT NULL,
		is_manual BOOLEAN NOT NULL DEFAULT FALSE,
		reason TEXT,
		changed_by TEXT,
		metrics_snapshot TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE user_contacts (
		user_id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at DATETIME NOT NULL
	)`,
}

// Open returns a fresh shared-cache in-memory database with every table created.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:escrow_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

// Node returns a snowflake node for tests.
func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}
