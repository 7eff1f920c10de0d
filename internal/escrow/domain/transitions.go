package domain

// Event is anything that may move a payment between statuses.
type Event string

const (
	EventCapture           Event = "capture"
	EventCaptureFailed     Event = "capture_failed"
	EventHoldPeriodElapsed Event = "hold_period_elapsed"
	EventRelease           Event = "release"
	EventHold              Event = "hold"
	EventRemoveHold        Event = "remove_hold"
	EventPayout            Event = "payout"
	EventPayoutFailed      Event = "payout_failed"
	EventRefund            Event = "refund"
	EventResolveRelease    Event = "resolve_release"
	EventResolveRefund     Event = "resolve_refund"
)

// transitions is the complete edge set. Anything absent is invalid.
var transitions = map[PaymentStatus]map[Event]PaymentStatus{
	StatusPending: {
		EventCapture:       StatusInEscrow,
		EventCaptureFailed: StatusFailed,
	},
	StatusInEscrow: {
		EventHoldPeriodElapsed: StatusReleased,
		EventRelease:           StatusReleased,
		EventHold:              StatusOnHold,
		EventRefund:            StatusRefunded,
		EventResolveRelease:    StatusReleased,
		EventResolveRefund:     StatusRefunded,
	},
	StatusReleased: {
		EventHold:           StatusOnHold,
		EventPayout:         StatusPaidOut,
		EventPayoutFailed:   StatusFailed,
		EventRefund:         StatusRefunded,
		EventResolveRelease: StatusReleased,
		EventResolveRefund:  StatusRefunded,
	},
	StatusOnHold: {
		EventHold:           StatusOnHold,
		EventRemoveHold:     StatusReleased,
		EventRefund:         StatusRefunded,
		EventResolveRelease: StatusReleased,
		EventResolveRefund:  StatusRefunded,
	},
	StatusPaidOut:  {},
	StatusRefunded: {},
	StatusFailed:   {},
}

// Transition returns the status reached by applying ev in from.
func Transition(from PaymentStatus, ev Event) (PaymentStatus, error) {
	edges, ok := transitions[from]
	if !ok {
		return "", ErrInvalidTransition
	}
	to, ok := edges[ev]
	if !ok {
		return "", ErrInvalidTransition
	}
	return to, nil
}

// Allowed lists the events valid in from, for UI affordances.
func Allowed(from PaymentStatus) []Event {
	edges := transitions[from]
	out := make([]Event, 0, len(edges))
	for _, ev := range allEvents {
		if _, ok := edges[ev]; ok {
			out = append(out, ev)
		}
	}
	return out
}

var allEvents = []Event{
	EventCapture,
	EventCaptureFailed,
	EventHoldPeriodElapsed,
	EventRelease,
	EventHold,
	EventRemoveHold,
	EventPayout,
	EventPayoutFailed,
	EventRefund,
	EventResolveRelease,
	EventResolveRefund,
}
