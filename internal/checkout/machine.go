package checkout

import "evanda/internal/status"

// State is the position of one checkout session. Exactly one charge attempt
// may be active per order, and the machine enforces the strict call
// sequencing: order creation, then charge initiation, then settlement watch,
// then reconciliation.
type State int

const (
	// Selecting: quantities may still change.
	Selecting State = iota

	// CreatingOrder: the order-creation call is in flight. Quantities are
	// frozen from here on.
	CreatingOrder

	// AwaitingPaymentInput: the order exists server-side; waiting for a
	// payer phone number.
	AwaitingPaymentInput

	// PaymentInitiating: the single charge-initiation call is in flight.
	PaymentInitiating

	// PaymentPending: the PIN prompt reached the gateway; settlement
	// happens out of band on the payer's phone.
	PaymentPending

	// Reconciling: the order-status update call is in flight.
	Reconciling

	// Completed: terminal. The order is paid (or paid with a flagged
	// reconciliation gap).
	Completed

	// Failed: terminal per attempt. The user may retry with the same order
	// or abandon it.
	Failed

	// Cancelled: terminal. User abandoned before completion.
	Cancelled

	// SettlementUnknown: terminal. The settlement wait elapsed with the
	// order still pending; neither success nor failure is known and the
	// attempt is journaled for follow-up.
	SettlementUnknown
)

func (s State) String() string {
	switch s {
	case Selecting:
		return "selecting"
	case CreatingOrder:
		return "creating_order"
	case AwaitingPaymentInput:
		return "awaiting_payment_input"
	case PaymentInitiating:
		return "payment_initiating"
	case PaymentPending:
		return "payment_pending"
	case Reconciling:
		return "reconciling"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	case SettlementUnknown:
		return "settlement_unknown"
	}
	return "unknown"
}

// Terminal reports whether the session accepts no further events at all.
// Failed is deliberately not terminal: EventRetry reopens it.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == SettlementUnknown
}

// Event is a stimulus applied to the machine: a user action or the outcome
// of a remote call.
type Event int

const (
	EventSubmit Event = iota
	EventOrderCreated
	EventOrderRejected
	EventChargeRequested
	EventChargeAccepted
	EventChargeFailed
	EventSettled
	EventDeclined
	EventSettlementTimeout
	EventReconciled
	EventReconcileFailed
	EventRetry
	EventCancel
)

func (e Event) String() string {
	switch e {
	case EventSubmit:
		return "submit"
	case EventOrderCreated:
		return "order_created"
	case EventOrderRejected:
		return "order_rejected"
	case EventChargeRequested:
		return "charge_requested"
	case EventChargeAccepted:
		return "charge_accepted"
	case EventChargeFailed:
		return "charge_failed"
	case EventSettled:
		return "settled"
	case EventDeclined:
		return "declined"
	case EventSettlementTimeout:
		return "settlement_timeout"
	case EventReconciled:
		return "reconciled"
	case EventReconcileFailed:
		return "reconcile_failed"
	case EventRetry:
		return "retry"
	case EventCancel:
		return "cancel"
	}
	return "unknown"
}

// next is the pure transition function. Every remote side effect happens
// strictly between two calls to next, so an illegal event can never slip a
// second network call into an attempt.
func next(s State, e Event) (State, error) {
	switch s {
	case Selecting:
		switch e {
		case EventSubmit:
			return CreatingOrder, nil
		case EventCancel:
			return Cancelled, nil
		}

	case CreatingOrder:
		switch e {
		case EventOrderCreated:
			return AwaitingPaymentInput, nil
		case EventOrderRejected:
			return Selecting, nil
		}

	case AwaitingPaymentInput:
		switch e {
		case EventChargeRequested:
			return PaymentInitiating, nil
		case EventCancel:
			return Cancelled, nil
		}

	case PaymentInitiating:
		switch e {
		case EventChargeAccepted:
			return PaymentPending, nil
		case EventChargeFailed:
			return Failed, nil
		}

	case PaymentPending:
		switch e {
		case EventSettled:
			return Reconciling, nil
		case EventDeclined:
			return Failed, nil
		case EventSettlementTimeout:
			return SettlementUnknown, nil
		case EventCancel:
			// The wait is pure wall-clock time; abandoning it races nothing.
			return Cancelled, nil
		}

	case Reconciling:
		switch e {
		case EventReconciled:
			return Completed, nil
		case EventReconcileFailed:
			// The charge already went through from the payer's point of
			// view; the gap is flagged, never shown as a failed purchase.
			return Completed, nil
		}

	case Failed:
		switch e {
		case EventRetry:
			return AwaitingPaymentInput, nil
		case EventCancel:
			return Cancelled, nil
		}
	}

	return s, status.ErrInvalidTransition
}
