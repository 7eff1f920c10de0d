package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/overtimestaff/escrow/internal/agencytier"
	"github.com/overtimestaff/escrow/internal/audit"
	"github.com/overtimestaff/escrow/internal/authorization"
	"github.com/overtimestaff/escrow/internal/clock"
	"github.com/overtimestaff/escrow/internal/config"
	"github.com/overtimestaff/escrow/internal/dispute"
	"github.com/overtimestaff/escrow/internal/escrow"
	"github.com/overtimestaff/escrow/internal/ledger"
	"github.com/overtimestaff/escrow/internal/migration"
	"github.com/overtimestaff/escrow/internal/notification"
	"github.com/overtimestaff/escrow/internal/observability"
	"github.com/overtimestaff/escrow/internal/paymentlock"
	"github.com/overtimestaff/escrow/internal/payout"
	"github.com/overtimestaff/escrow/internal/providers"
	"github.com/overtimestaff/escrow/internal/regionalpricing"
	"github.com/overtimestaff/escrow/internal/server"
	"github.com/overtimestaff/escrow/internal/statistics"
	"github.com/overtimestaff/escrow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		audit.Module,
		authorization.Module,

		providers.Module,
		notification.Module,
		paymentlock.Module,

		ledger.Module,
		regionalpricing.Module,
		agencytier.Module,
		escrow.Module,
		payout.Module,
		dispute.Module,
		statistics.Module,

		// No scheduler here, see apps/scheduler.
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
