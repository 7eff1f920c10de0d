package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/overtimestaff/escrow/internal/agencytier"
	"github.com/overtimestaff/escrow/internal/audit"
	"github.com/overtimestaff/escrow/internal/authorization"
	"github.com/overtimestaff/escrow/internal/clock"
	"github.com/overtimestaff/escrow/internal/config"
	"github.com/overtimestaff/escrow/internal/escrow"
	"github.com/overtimestaff/escrow/internal/ledger"
	"github.com/overtimestaff/escrow/internal/metricspush"
	"github.com/overtimestaff/escrow/internal/notification"
	"github.com/overtimestaff/escrow/internal/observability"
	"github.com/overtimestaff/escrow/internal/paymentlock"
	"github.com/overtimestaff/escrow/internal/payout"
	"github.com/overtimestaff/escrow/internal/providers"
	"github.com/overtimestaff/escrow/internal/regionalpricing"
	"github.com/overtimestaff/escrow/internal/scheduler"
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
		audit.Module,
		authorization.Module,

		// Domain services required by scheduler
		providers.Module,
		notification.Module,
		paymentlock.Module,
		ledger.Module,
		regionalpricing.Module,
		agencytier.Module,
		escrow.Module,
		payout.Module,

		// No server module, so metrics are pushed instead of scraped.
		metricspush.Module,
		scheduler.Module,
		fx.Invoke(scheduler.Start),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}
