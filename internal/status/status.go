package status

import "errors"

var (
	ErrInvalidPhone      = errors.New("phone: not a valid Safaricom subscriber number")
	ErrEmptySelection    = errors.New("checkout: no tickets selected")
	ErrQuantityExceeded  = errors.New("checkout: quantity exceeds tickets available for sale")
	ErrInvalidTransition = errors.New("checkout: event not allowed in current state")
	ErrPaymentInFlight   = errors.New("payment: charge initiation already in flight")
	ErrSessionClosed     = errors.New("checkout: session reached a terminal state")
	ErrSessionNotFound   = errors.New("checkout: session not found")

	ErrEmptyPayload = errors.New("scan: empty QR payload")
	ErrScanInFlight = errors.New("scan: validation already in flight")
)
