// Package scanner runs the gate-side ticket check. The server is the only
// authority on a ticket's verdict and marks valid tickets as used on check,
// so the validator submits each payload exactly once and keeps transport
// trouble strictly apart from a rejected ticket.
package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"evanda/internal/status"
	"evanda/models"
	"evanda/utils"
)

// Remote is the validation endpoint the station talks to.
type Remote interface {
	ValidateTicket(ctx context.Context, payload, stationID string) (*models.ValidationResult, error)
}

// Phase is where the station's screen is in the scan cycle.
type Phase int

const (
	// Idle: camera armed, waiting for a decode.
	Idle Phase = iota

	// Validating: one payload submitted, verdict not yet back.
	Validating

	// ShowingResult: verdict (or offline notice) on screen until an
	// explicit reset.
	ShowingResult
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case ShowingResult:
		return "showing_result"
	}
	return "unknown"
}

// Outcome is one finished scan. Exactly one of Result and Offline is set:
// Offline means the verdict is unknown, which is never rendered as an
// invalid ticket. ScannedAt is the station clock at submission; the server's
// own timestamp, when present, rides inside Result.
type Outcome struct {
	Result    *models.ValidationResult `json:"result,omitempty"`
	Offline   bool                     `json:"offline,omitempty"`
	Err       string                   `json:"error,omitempty"`
	ScannedAt time.Time                `json:"scanned_at"`
}

// Validator is one station's scan loop. A scanned payload is opaque: it is
// forwarded to the server untouched, never parsed or judged locally.
type Validator struct {
	stationID string
	remote    Remote
	breaker   *utils.CircuitBreaker

	mu    sync.Mutex
	phase Phase
	last  *Outcome
}

func NewValidator(stationID string, remote Remote) *Validator {
	return &Validator{
		stationID: stationID,
		remote:    remote,
		breaker:   utils.NewCircuitBreaker("validate-ticket"),
		phase:     Idle,
	}
}

func (v *Validator) Phase() Phase {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.phase
}

// LastOutcome returns the verdict currently on screen, nil while Idle or
// Validating.
func (v *Validator) LastOutcome() *Outcome {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last
}

// Scan submits one decoded payload. Empty payloads are refused locally, and
// a scan while another is mid-flight or still on screen is refused so a
// payload can never be submitted twice.
func (v *Validator) Scan(ctx context.Context, payload string) (*Outcome, error) {
	if payload == "" {
		return nil, status.ErrEmptyPayload
	}

	v.mu.Lock()
	if v.phase != Idle {
		v.mu.Unlock()
		return nil, status.ErrScanInFlight
	}
	v.phase = Validating
	scannedAt := time.Now()
	v.mu.Unlock()

	var result *models.ValidationResult
	err := v.breaker.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = v.remote.ValidateTicket(ctx, payload, v.stationID)
		return callErr
	})

	outcome := &Outcome{ScannedAt: scannedAt}
	if err != nil {
		// Unreachable backend: verdict unknown. The screen says offline,
		// not invalid, and the gate decision goes to the staff member.
		outcome.Offline = true
		outcome.Err = err.Error()
	} else {
		outcome.Result = result
	}

	v.mu.Lock()
	v.phase = ShowingResult
	v.last = outcome
	v.mu.Unlock()

	if err != nil {
		return outcome, fmt.Errorf("scanner: validate: %w", err)
	}
	return outcome, nil
}

// Reset clears the on-screen verdict and re-arms the camera. The result
// stays up until this is called; there is no auto-dismiss timer.
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.phase == Validating {
		// The in-flight call still owns the screen.
		return
	}
	v.phase = Idle
	v.last = nil
}
