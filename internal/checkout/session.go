// Package checkout drives one ticket purchase from selection to a terminal
// order state: create the order, initiate a mobile-money charge, watch for
// settlement, reconcile the order status. The remote API owns all business
// authority; this package owns the sequencing and makes sure no call is
// duplicated and no successful payment is silently lost.
package checkout

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"evanda/internal/api"
	"evanda/internal/mpesa"
	"evanda/internal/recon"
	"evanda/internal/status"
	"evanda/models"
)

// Backend is the slice of the ticketing API a checkout session needs. The
// authenticated client is injected so sessions never reach into ambient
// state for credentials.
type Backend interface {
	CreateOrder(ctx context.Context, items []models.OrderItemInput, idempotencyKey string) (int, error)
	GetOrder(ctx context.Context, orderID int) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int, newStatus models.OrderStatus) error
	InitiateCharge(ctx context.Context, amount decimal.Decimal, localPhone string, orderID int, idempotencyKey string) error
}

// Journal receives attempts that need back-office follow-up.
type Journal interface {
	Record(ctx context.Context, g recon.Gap) error
}

type Config struct {
	// PollInterval is how often the settlement watcher re-reads the order.
	PollInterval time.Duration

	// MaxWait bounds the settlement watch. An order still pending when it
	// elapses ends the attempt in SettlementUnknown, never in an optimistic
	// paid state.
	MaxWait time.Duration

	// OnResolved, when set, fires exactly once when the session reaches a
	// terminal state. wait is the time from charge acceptance to the
	// settlement signal, zero when no charge was pending.
	OnResolved func(snap Snapshot, wait time.Duration)
}

// Snapshot is a read-only view of a session for presentation.
type Snapshot struct {
	ID                string          `json:"session_id"`
	State             string          `json:"state"`
	OrderID           int             `json:"order_id,omitempty"`
	Total             decimal.Decimal `json:"total"`
	FailReason        string          `json:"fail_reason,omitempty"`
	ReconciliationGap bool            `json:"reconciliation_gap,omitempty"`
}

// Session owns one checkout. It is safe for concurrent use, but the state
// machine serializes remote calls: no two calls for the same session are
// ever in flight together.
type Session struct {
	ID      string
	EventID int

	backend  Backend
	journal  Journal
	notifier Notifier
	cfg      Config

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	catalog        map[int]models.TicketType
	selection      map[int]int
	orderID        int
	phone          string // canonical 254 form
	attemptKey     string
	failReason     string
	reconGap       bool
	resolved       bool
	chargeAccepted time.Time
}

// NewSession starts a session in Selecting over the given ticket catalog.
// journal and notifier may be nil.
func NewSession(ctx context.Context, id string, eventID int, catalog []models.TicketType, backend Backend, journal Journal, notifier Notifier, cfg Config) *Session {
	ctx, cancel := context.WithCancel(ctx)

	byID := make(map[int]models.TicketType, len(catalog))
	for _, t := range catalog {
		byID[t.ID] = t
	}

	return &Session{
		ID:        id,
		EventID:   eventID,
		backend:   backend,
		journal:   journal,
		notifier:  notifier,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		state:     Selecting,
		catalog:   byID,
		selection: make(map[int]int),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:                s.ID,
		State:             s.state.String(),
		OrderID:           s.orderID,
		Total:             s.totalLocked(),
		FailReason:        s.failReason,
		ReconciliationGap: s.reconGap,
	}
}

// resolve fires the OnResolved hook once the session has reached a terminal
// state. Safe to call from any path; only the first terminal call fires.
func (s *Session) resolve() {
	s.mu.Lock()
	if !s.state.Terminal() || s.resolved {
		s.mu.Unlock()
		return
	}
	s.resolved = true
	snap := s.snapshotLocked()
	var wait time.Duration
	if !s.chargeAccepted.IsZero() {
		wait = time.Since(s.chargeAccepted)
	}
	hook := s.cfg.OnResolved
	s.mu.Unlock()

	if hook != nil {
		hook(snap, wait)
	}
}

// AdjustQuantity sets the selected quantity for a ticket type. Allowed only
// in Selecting; once order creation begins the selection is frozen.
func (s *Session) AdjustQuantity(ticketID, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Selecting {
		return status.ErrInvalidTransition
	}

	ticket, ok := s.catalog[ticketID]
	if !ok {
		return fmt.Errorf("checkout: unknown ticket type %d", ticketID)
	}
	if quantity < 0 {
		return fmt.Errorf("checkout: negative quantity for ticket type %d", ticketID)
	}
	if quantity > ticket.Remaining() {
		return status.ErrQuantityExceeded
	}

	if quantity == 0 {
		delete(s.selection, ticketID)
		return nil
	}
	s.selection[ticketID] = quantity
	return nil
}

// Total is the live-computed sum of unit price times quantity over the
// current selection. It is never cached across calls.
func (s *Session) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalLocked()
}

func (s *Session) totalLocked() decimal.Decimal {
	total := decimal.Zero
	for ticketID, qty := range s.selection {
		total = total.Add(s.catalog[ticketID].Price.Mul(decimal.NewFromInt(int64(qty))))
	}
	return total
}

func (s *Session) itemsLocked() []models.OrderItemInput {
	items := make([]models.OrderItemInput, 0, len(s.selection))
	for ticketID, qty := range s.selection {
		items = append(items, models.OrderItemInput{TicketID: ticketID, Quantity: qty})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].TicketID < items[j].TicketID })
	return items
}

// Submit freezes the selection and issues the single order-creation call.
// On rejection the session returns to Selecting with the server's reason;
// nothing is retried behind the user's back.
func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return status.ErrSessionClosed
	}
	if _, err := next(s.state, EventSubmit); err != nil {
		s.mu.Unlock()
		return err
	}

	items := s.itemsLocked()
	if len(items) == 0 {
		s.mu.Unlock()
		return status.ErrEmptySelection
	}
	for _, item := range items {
		if item.Quantity > s.catalog[item.TicketID].Remaining() {
			s.mu.Unlock()
			return status.ErrQuantityExceeded
		}
	}

	s.state, _ = next(s.state, EventSubmit)
	key := uuid.NewString()
	s.mu.Unlock()

	orderID, err := s.backend.CreateOrder(ctx, items, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state, _ = next(s.state, EventOrderRejected)
		s.failReason = reasonFrom(err, "booking failed")
		return fmt.Errorf("checkout: create order: %w", err)
	}

	s.state, _ = next(s.state, EventOrderCreated)
	s.orderID = orderID
	s.failReason = ""
	return nil
}

// InitiatePayment validates the payer phone, recomputes the total from the
// live selection and issues exactly one charge-initiation call for this
// attempt. A concurrent duplicate gets ErrPaymentInFlight and causes no
// network traffic.
func (s *Session) InitiatePayment(ctx context.Context, rawPhone string) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return status.ErrSessionClosed
	}
	switch s.state {
	case AwaitingPaymentInput:
	case PaymentInitiating, PaymentPending, Reconciling:
		s.mu.Unlock()
		return status.ErrPaymentInFlight
	default:
		s.mu.Unlock()
		return status.ErrInvalidTransition
	}

	msisdn, err := mpesa.NormalizePhone(rawPhone)
	if err != nil {
		// Stay in AwaitingPaymentInput; this never reaches the network.
		s.mu.Unlock()
		return err
	}

	// The charged amount is recomputed here, not trusted from any earlier
	// snapshot of the selection.
	total := s.totalLocked()
	orderID := s.orderID
	s.phone = msisdn
	key := uuid.NewString()
	s.attemptKey = key
	s.state, _ = next(s.state, EventChargeRequested)
	s.mu.Unlock()

	err = s.backend.InitiateCharge(ctx, total, mpesa.LocalFormat(msisdn), orderID, key)

	s.mu.Lock()
	if err != nil {
		s.state, _ = next(s.state, EventChargeFailed)
		s.failReason = reasonFrom(err, "could not reach the payment service")
		s.mu.Unlock()
		return fmt.Errorf("checkout: initiate charge: %w", err)
	}

	s.state, _ = next(s.state, EventChargeAccepted)
	s.failReason = ""
	s.chargeAccepted = time.Now()
	s.mu.Unlock()

	go s.watchSettlement(s.ctx, orderID, total, msisdn)
	return nil
}

// watchSettlement waits for the out-of-band settlement: it polls the order
// status and, when a push notifier is wired, also listens for gateway
// events. Whichever signal arrives first decides the attempt.
func (s *Session) watchSettlement(ctx context.Context, orderID int, total decimal.Decimal, msisdn string) {
	deadline := time.NewTimer(s.cfg.MaxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	var pushed <-chan SettlementEvent
	if s.notifier != nil {
		pushed = s.notifier.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-deadline.C:
			s.mu.Lock()
			if s.state == PaymentPending {
				s.state, _ = next(s.state, EventSettlementTimeout)
			}
			s.mu.Unlock()
			s.record(recon.KindSettlementUnknown, orderID, total, msisdn, "order still pending at settlement deadline")
			log.Printf("checkout %s: order %d still pending after %s, flagged for follow-up", s.ID, orderID, s.cfg.MaxWait)
			s.resolve()
			return

		case ev := <-pushed:
			if ev.OrderID != orderID {
				continue
			}
			if ev.Settled() {
				s.reconcile(ctx, orderID, total, msisdn)
				return
			}
			s.fail("payment was declined")
			return

		case <-ticker.C:
			order, err := s.backend.GetOrder(ctx, orderID)
			if err != nil {
				// A flaky poll read must not fail the attempt; the deadline
				// still bounds the wait.
				log.Printf("checkout %s: settlement poll: %v", s.ID, err)
				continue
			}
			switch order.Status {
			case models.OrderPaid:
				// Settled and already reconciled server-side (gateway
				// callback landed); nothing left to update.
				s.mu.Lock()
				s.state, _ = next(s.state, EventSettled)
				s.state, _ = next(s.state, EventReconciled)
				s.mu.Unlock()
				s.resolve()
				return
			case models.OrderCancelled:
				s.fail("payment was declined")
				return
			}
		}
	}
}

// reconcile issues the single order-status update after a settled charge.
// If the update fails the purchase is still reported as successful: the
// money moved, so the gap goes to the journal, not to the user as an error.
func (s *Session) reconcile(ctx context.Context, orderID int, total decimal.Decimal, msisdn string) {
	s.mu.Lock()
	st, err := next(s.state, EventSettled)
	if err != nil {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()

	err = s.backend.UpdateOrderStatus(ctx, orderID, models.OrderPaid)

	s.mu.Lock()
	if err != nil {
		s.state, _ = next(s.state, EventReconcileFailed)
		s.reconGap = true
		s.mu.Unlock()
		log.Printf("checkout %s: order %d paid but status update failed: %v", s.ID, orderID, err)
		s.record(recon.KindReconcileFailed, orderID, total, msisdn, err.Error())
		s.resolve()
		return
	}
	s.state, _ = next(s.state, EventReconciled)
	s.mu.Unlock()
	s.resolve()
}

func (s *Session) fail(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, err := next(s.state, EventDeclined); err == nil {
		s.state = st
		s.failReason = reason
	}
}

func (s *Session) record(kind string, orderID int, total decimal.Decimal, msisdn, reason string) {
	if s.journal == nil {
		return
	}
	gap := recon.Gap{
		Kind:    kind,
		OrderID: orderID,
		Amount:  total,
		Phone:   msisdn,
		Reason:  reason,
	}
	// Journaling runs on a background context: the user abandoning the UI
	// must not lose the follow-up record.
	if err := s.journal.Record(context.Background(), gap); err != nil {
		log.Printf("checkout %s: journal: %v", s.ID, err)
	}
}

// Retry reopens a failed attempt: back to AwaitingPaymentInput with the
// same order and a fresh idempotency key on the next charge.
func (s *Session) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := next(s.state, EventRetry)
	if err != nil {
		return err
	}
	s.state = st
	s.failReason = ""
	s.attemptKey = ""
	return nil
}

// Cancel abandons the session. It is refused while a side-effecting call is
// in flight (CreatingOrder, PaymentInitiating, Reconciling): the call is
// allowed to finish and its result discarded rather than racing an abort
// against a request the server may already have acted on.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.state == Cancelled {
		s.mu.Unlock()
		return nil
	}
	st, err := next(s.state, EventCancel)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = st
	s.cancel()
	s.mu.Unlock()

	s.resolve()
	return nil
}

func reasonFrom(err error, fallback string) string {
	if msg := api.RejectionMessage(err); msg != "" {
		return msg
	}
	return fallback
}
