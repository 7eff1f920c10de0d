package providers

import (
	"github.com/overtimestaff/escrow/internal/providers/email"
	"github.com/overtimestaff/escrow/internal/providers/processor"
	"github.com/overtimestaff/escrow/internal/providers/slack"
	"go.uber.org/fx"
)

// Module wires every outbound integration: the payment processor, mail and
// the admin alert channel.
var Module = fx.Module("providers",
	processor.Module,
	email.Module,
	slack.Module,
)
