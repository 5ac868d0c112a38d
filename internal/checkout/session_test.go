package checkout

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evanda/internal/api"
	"evanda/internal/recon"
	"evanda/internal/status"
	"evanda/models"
)

type fakeBackend struct {
	createOrderFn    func(ctx context.Context, items []models.OrderItemInput, key string) (int, error)
	getOrderFn       func(ctx context.Context, orderID int) (*models.Order, error)
	updateStatusFn   func(ctx context.Context, orderID int, newStatus models.OrderStatus) error
	initiateChargeFn func(ctx context.Context, amount decimal.Decimal, localPhone string, orderID int, idempotencyKey string) error

	chargeCalls int32
	updateCalls int32
}

func (f *fakeBackend) CreateOrder(ctx context.Context, items []models.OrderItemInput, key string) (int, error) {
	return f.createOrderFn(ctx, items, key)
}

func (f *fakeBackend) GetOrder(ctx context.Context, orderID int) (*models.Order, error) {
	return f.getOrderFn(ctx, orderID)
}

func (f *fakeBackend) UpdateOrderStatus(ctx context.Context, orderID int, newStatus models.OrderStatus) error {
	atomic.AddInt32(&f.updateCalls, 1)
	return f.updateStatusFn(ctx, orderID, newStatus)
}

func (f *fakeBackend) InitiateCharge(ctx context.Context, amount decimal.Decimal, localPhone string, orderID int, idempotencyKey string) error {
	atomic.AddInt32(&f.chargeCalls, 1)
	return f.initiateChargeFn(ctx, amount, localPhone, orderID, idempotencyKey)
}

type fakeJournal struct {
	mu   sync.Mutex
	gaps []recon.Gap
}

func (f *fakeJournal) Record(_ context.Context, g recon.Gap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gaps = append(f.gaps, g)
	return nil
}

func (f *fakeJournal) recorded() []recon.Gap {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recon.Gap(nil), f.gaps...)
}

type chanNotifier struct{ ch chan SettlementEvent }

func (n *chanNotifier) Events() <-chan SettlementEvent { return n.ch }

func testCatalog() []models.TicketType {
	return []models.TicketType{
		{ID: 1, Name: "Regular", Price: decimal.NewFromInt(2500), QuantityAvailable: 100, QuantitySold: 10},
		{ID: 2, Name: "VIP", Price: decimal.NewFromInt(5000), QuantityAvailable: 20, QuantitySold: 18},
	}
}

func testConfig() Config {
	return Config{PollInterval: 10 * time.Millisecond, MaxWait: time.Second}
}

func newTestSession(t *testing.T, backend Backend, journal Journal, notifier Notifier, cfg Config) *Session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewSession(ctx, "sess-1", 7, testCatalog(), backend, journal, notifier, cfg)
}

func TestSession_TotalRecomputedFromSelection(t *testing.T) {
	s := newTestSession(t, &fakeBackend{}, nil, nil, testConfig())

	require.NoError(t, s.AdjustQuantity(1, 2))
	require.NoError(t, s.AdjustQuantity(2, 1))
	assert.True(t, s.Total().Equal(decimal.NewFromInt(10000)), "2x2500 + 1x5000")

	require.NoError(t, s.AdjustQuantity(2, 0))
	assert.True(t, s.Total().Equal(decimal.NewFromInt(5000)))

	require.NoError(t, s.AdjustQuantity(1, 0))
	assert.True(t, s.Total().IsZero())
}

func TestSession_AdjustQuantityGuards(t *testing.T) {
	s := newTestSession(t, &fakeBackend{}, nil, nil, testConfig())

	assert.Error(t, s.AdjustQuantity(99, 1), "unknown ticket type")
	assert.Error(t, s.AdjustQuantity(1, -1))

	// VIP has 2 remaining (20 available, 18 sold).
	assert.ErrorIs(t, s.AdjustQuantity(2, 3), status.ErrQuantityExceeded)
	assert.NoError(t, s.AdjustQuantity(2, 2))
}

func TestSession_SubmitEmptySelection(t *testing.T) {
	backend := &fakeBackend{
		createOrderFn: func(context.Context, []models.OrderItemInput, string) (int, error) {
			t.Fatal("create order must not be called for an empty selection")
			return 0, nil
		},
	}
	s := newTestSession(t, backend, nil, nil, testConfig())

	assert.ErrorIs(t, s.Submit(context.Background()), status.ErrEmptySelection)
	assert.Equal(t, Selecting, s.State())
}

func TestSession_SubmitRejectionReturnsToSelecting(t *testing.T) {
	backend := &fakeBackend{
		createOrderFn: func(context.Context, []models.OrderItemInput, string) (int, error) {
			return 0, &api.APIError{StatusCode: http.StatusConflict, Message: "insufficient tickets available"}
		},
	}
	s := newTestSession(t, backend, nil, nil, testConfig())
	require.NoError(t, s.AdjustQuantity(1, 2))

	err := s.Submit(context.Background())
	require.Error(t, err)
	assert.True(t, api.IsRejection(err))

	snap := s.Snapshot()
	assert.Equal(t, "selecting", snap.State)
	assert.Equal(t, "insufficient tickets available", snap.FailReason)

	// Quantities may change again after a rejection.
	assert.NoError(t, s.AdjustQuantity(1, 1))
}

func TestSession_SubmitSuccess(t *testing.T) {
	var gotItems []models.OrderItemInput
	var gotKey string
	backend := &fakeBackend{
		createOrderFn: func(_ context.Context, items []models.OrderItemInput, key string) (int, error) {
			gotItems = items
			gotKey = key
			return 42, nil
		},
	}
	s := newTestSession(t, backend, nil, nil, testConfig())
	require.NoError(t, s.AdjustQuantity(1, 2))
	require.NoError(t, s.AdjustQuantity(2, 1))

	require.NoError(t, s.Submit(context.Background()))
	assert.Equal(t, AwaitingPaymentInput, s.State())
	assert.Equal(t, 42, s.Snapshot().OrderID)
	assert.NotEmpty(t, gotKey)
	assert.Equal(t, []models.OrderItemInput{{TicketID: 1, Quantity: 2}, {TicketID: 2, Quantity: 1}}, gotItems)

	// Selection is frozen once the order exists.
	assert.ErrorIs(t, s.AdjustQuantity(1, 3), status.ErrInvalidTransition)
}

func TestSession_InitiatePaymentBadPhoneStaysPut(t *testing.T) {
	backend := &fakeBackend{
		createOrderFn: func(context.Context, []models.OrderItemInput, string) (int, error) { return 42, nil },
		initiateChargeFn: func(context.Context, decimal.Decimal, string, int, string) error {
			t.Fatal("a bad phone number must never reach the network")
			return nil
		},
		getOrderFn: func(context.Context, int) (*models.Order, error) {
			return &models.Order{ID: 42, Status: models.OrderPending}, nil
		},
	}
	s := newTestSession(t, backend, nil, nil, testConfig())
	require.NoError(t, s.AdjustQuantity(1, 1))
	require.NoError(t, s.Submit(context.Background()))

	assert.ErrorIs(t, s.InitiatePayment(context.Background(), "12345"), status.ErrInvalidPhone)
	assert.Equal(t, AwaitingPaymentInput, s.State(), "bad input keeps the prompt open")

	// Same attempt, corrected input, still works.
	backend.initiateChargeFn = func(context.Context, decimal.Decimal, string, int, string) error { return nil }
	require.NoError(t, s.InitiatePayment(context.Background(), "0712345678"))
}

func TestSession_InitiatePaymentSingleFlight(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{
		createOrderFn: func(context.Context, []models.OrderItemInput, string) (int, error) { return 42, nil },
		initiateChargeFn: func(context.Context, decimal.Decimal, string, int, string) error {
			<-release
			return nil
		},
		getOrderFn: func(context.Context, int) (*models.Order, error) {
			return &models.Order{ID: 42, Status: models.OrderPending}, nil
		},
	}
	s := newTestSession(t, backend, nil, nil, testConfig())
	require.NoError(t, s.AdjustQuantity(1, 1))
	require.NoError(t, s.Submit(context.Background()))

	first := make(chan error, 1)
	go func() { first <- s.InitiatePayment(context.Background(), "0712345678") }()

	require.Eventually(t, func() bool {
		return s.State() == PaymentInitiating
	}, time.Second, time.Millisecond)

	// A duplicate tap while the first call is in flight: refused locally,
	// no second network call.
	assert.ErrorIs(t, s.InitiatePayment(context.Background(), "0712345678"), status.ErrPaymentInFlight)

	close(release)
	require.NoError(t, <-first)
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.chargeCalls))
}

func TestSession_ChargeAmountAndPhoneForm(t *testing.T) {
	var gotAmount decimal.Decimal
	var gotPhone string
	backend := &fakeBackend{
		createOrderFn: func(context.Context, []models.OrderItemInput, string) (int, error) { return 42, nil },
		initiateChargeFn: func(_ context.Context, amount decimal.Decimal, localPhone string, _ int, _ string) error {
			gotAmount = amount
			gotPhone = localPhone
			return nil
		},
		getOrderFn: func(context.Context, int) (*models.Order, error) {
			return &models.Order{ID: 42, Status: models.OrderPending}, nil
		},
	}
	s := newTestSession(t, backend, nil, nil, testConfig())
	require.NoError(t, s.AdjustQuantity(1, 2))
	require.NoError(t, s.AdjustQuantity(2, 1))
	require.NoError(t, s.Submit(context.Background()))

	require.NoError(t, s.InitiatePayment(context.Background(), "+254 712 345 678"))
	assert.True(t, gotAmount.Equal(decimal.NewFromInt(10000)), "amount recomputed from the live selection")
	assert.Equal(t, "0712345678", gotPhone, "charge endpoint takes the local form")
}

func TestSession_ChargeTransportFailure(t *testing.T) {
	backend := &fakeBackend{
		createOrderFn: func(context.Context, []models.OrderItemInput, string) (int, error) { return 42, nil },
		initiateChargeFn: func(context.Context, decimal.Decimal, string, int, string) error {
			return errors.New("dial tcp: i/o timeout")
		},
		getOrderFn: func(context.Context, int) (*models.Order, error) {
			t.Fatal("no settlement watch after a failed initiation")
			return nil, nil
		},
		updateStatusFn: func(context.Context, int, models.OrderStatus) error {
			t.Fatal("no reconciliation after a failed initiation")
			return nil
		},
	}
	s := newTestSession(t, backend, nil, nil, testConfig())
	require.NoError(t, s.AdjustQuantity(1, 1))
	require.NoError(t, s.Submit(context.Background()))

	err := s.InitiatePayment(context.Background(), "0712345678")
	require.Error(t, err)
	assert.False(t, api.IsRejection(err))

	snap := s.Snapshot()
	assert.Equal(t, "failed", snap.State)
	assert.NotEqual(t, "payment was declined", snap.FailReason, "network trouble is not a decline")

	// The attempt can be retried against the same order.
	require.NoError(t, s.Retry())
	assert.Equal(t, AwaitingPaymentInput, s.State())
	assert.Empty(t, s.Snapshot().FailReason)
}

func TestSession_SettlementViaPolling(t *testing.T) {
	var polls int32
	backend := &fakeBackend{
		createOrderFn: func(context.Context, []models.OrderItemInput, string) (int, error) { return 42, nil },
		initiateChargeFn: func(context.Context, decimal.Decimal, string, int, string) error { return nil },
		getOrderFn: func(context.Context, int) (*models.Order, error) {
			if atomic.AddInt32(&polls, 1) < 3 {
				return &models.Order{ID: 42, Status: models.OrderPending}, nil
			}
			return &models.Order{ID: 42, Status: models.OrderPaid}, nil
		},
		updateStatusFn: func(context.Context, int, models.OrderStatus) error {
			t.Fatal("already paid server-side, no status update needed")
			return nil
		},
	}
	s := newTestSession(t, backend, nil, nil, testConfig())
	require.NoError(t, s.AdjustQuantity(1, 1))
	require.NoError(t, s.Submit(context.Background()))
	require.NoError(t, s.InitiatePayment(context.Background(), "0712345678"))

	require.Eventually(t, func() bool {
		return s.State() == Completed
	}, time.Second, 5*time.Millisecond)
	assert.False(t, s.Snapshot().ReconciliationGap)
}

func TestSession_DeclineViaPolling(t *testing.T) {
	backend := &fakeBackend{
		createOrderFn:    func(context.Context, []models.OrderItemInput, string) (int, error) { return 42, nil },
		initiateChargeFn: func(context.Context, decimal.Decimal, string, int, string) error { return nil },
		getOrderFn: func(context.Context, int) (*models.Order, error) {
			return &models.Order{ID: 42, Status: models.OrderCancelled}, nil
		},
	}
	s := newTestSession(t, backend, nil, nil, testConfig())
	require.NoError(t, s.AdjustQuantity(1, 1))
	require.NoError(t, s.Submit(context.Background()))
	require.NoError(t, s.InitiatePayment(context.Background(), "0712345678"))

	require.Eventually(t, func() bool {
		return s.State() == Failed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "payment was declined", s.Snapshot().FailReason)
}

func TestSession_SettlementTimeoutIsJournaled(t *testing.T) {
	backend := &fakeBackend{
		createOrderFn:    func(context.Context, []models.OrderItemInput, string) (int, error) { return 42, nil },
		initiateChargeFn: func(context.Context, decimal.Decimal, string, int, string) error { return nil },
		getOrderFn: func(context.Context, int) (*models.Order, error) {
			return &models.Order{ID: 42, Status: models.OrderPending}, nil
		},
		updateStatusFn: func(context.Context, int, models.OrderStatus) error {
			t.Fatal("an unconfirmed settlement must never be marked paid")
			return nil
		},
	}
	journal := &fakeJournal{}
	cfg := Config{PollInterval: 10 * time.Millisecond, MaxWait: 60 * time.Millisecond}
	s := newTestSession(t, backend, journal, nil, cfg)
	require.NoError(t, s.AdjustQuantity(1, 1))
	require.NoError(t, s.Submit(context.Background()))
	require.NoError(t, s.InitiatePayment(context.Background(), "0712345678"))

	require.Eventually(t, func() bool {
		return s.State() == SettlementUnknown
	}, time.Second, 5*time.Millisecond)

	gaps := journal.recorded()
	require.Len(t, gaps, 1)
	assert.Equal(t, recon.KindSettlementUnknown, gaps[0].Kind)
	assert.Equal(t, 42, gaps[0].OrderID)
	assert.True(t, s.State().Terminal())
}

func TestSession_PushSettlementReconciles(t *testing.T) {
	var updatedTo models.OrderStatus
	backend := &fakeBackend{
		createOrderFn:    func(context.Context, []models.OrderItemInput, string) (int, error) { return 42, nil },
		initiateChargeFn: func(context.Context, decimal.Decimal, string, int, string) error { return nil },
		getOrderFn: func(context.Context, int) (*models.Order, error) {
			return &models.Order{ID: 42, Status: models.OrderPending}, nil
		},
		updateStatusFn: func(_ context.Context, _ int, newStatus models.OrderStatus) error {
			updatedTo = newStatus
			return nil
		},
	}
	notifier := &chanNotifier{ch: make(chan SettlementEvent, 1)}
	cfg := Config{PollInterval: time.Hour, MaxWait: time.Hour}
	s := newTestSession(t, backend, nil, notifier, cfg)
	require.NoError(t, s.AdjustQuantity(1, 1))
	require.NoError(t, s.Submit(context.Background()))
	require.NoError(t, s.InitiatePayment(context.Background(), "0712345678"))

	// An event for another order is ignored.
	notifier.ch <- SettlementEvent{OrderID: 99, Status: "success"}
	notifier.ch <- SettlementEvent{OrderID: 42, Status: "success"}

	require.Eventually(t, func() bool {
		return s.State() == Completed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.OrderPaid, updatedTo)
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.updateCalls))
}

func TestSession_ReconcileFailureCompletesWithGap(t *testing.T) {
	backend := &fakeBackend{
		createOrderFn:    func(context.Context, []models.OrderItemInput, string) (int, error) { return 42, nil },
		initiateChargeFn: func(context.Context, decimal.Decimal, string, int, string) error { return nil },
		getOrderFn: func(context.Context, int) (*models.Order, error) {
			return &models.Order{ID: 42, Status: models.OrderPending}, nil
		},
		updateStatusFn: func(context.Context, int, models.OrderStatus) error {
			return errors.New("connection reset by peer")
		},
	}
	journal := &fakeJournal{}
	notifier := &chanNotifier{ch: make(chan SettlementEvent, 1)}
	cfg := Config{PollInterval: time.Hour, MaxWait: time.Hour}
	s := newTestSession(t, backend, journal, notifier, cfg)
	require.NoError(t, s.AdjustQuantity(1, 1))
	require.NoError(t, s.Submit(context.Background()))
	require.NoError(t, s.InitiatePayment(context.Background(), "0712345678"))

	notifier.ch <- SettlementEvent{OrderID: 42, Status: "success"}

	require.Eventually(t, func() bool {
		return s.State() == Completed
	}, time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, "completed", snap.State, "money moved, so the purchase is never shown as failed")
	assert.True(t, snap.ReconciliationGap)
	assert.Empty(t, snap.FailReason)

	gaps := journal.recorded()
	require.Len(t, gaps, 1)
	assert.Equal(t, recon.KindReconcileFailed, gaps[0].Kind)
	assert.Equal(t, 42, gaps[0].OrderID)
	assert.True(t, gaps[0].Amount.Equal(decimal.NewFromInt(2500)))
}

func TestSession_CancelWhilePending(t *testing.T) {
	backend := &fakeBackend{
		createOrderFn:    func(context.Context, []models.OrderItemInput, string) (int, error) { return 42, nil },
		initiateChargeFn: func(context.Context, decimal.Decimal, string, int, string) error { return nil },
		getOrderFn: func(context.Context, int) (*models.Order, error) {
			return &models.Order{ID: 42, Status: models.OrderPending}, nil
		},
	}
	s := newTestSession(t, backend, nil, nil, testConfig())
	require.NoError(t, s.AdjustQuantity(1, 1))
	require.NoError(t, s.Submit(context.Background()))
	require.NoError(t, s.InitiatePayment(context.Background(), "0712345678"))

	require.NoError(t, s.Cancel())
	assert.Equal(t, Cancelled, s.State())

	// A second cancel is harmless; everything else is refused.
	assert.NoError(t, s.Cancel())
	assert.ErrorIs(t, s.Submit(context.Background()), status.ErrSessionClosed)
	assert.ErrorIs(t, s.InitiatePayment(context.Background(), "0712345678"), status.ErrSessionClosed)
}

func TestSession_ChargeCarriesFreshAttemptKey(t *testing.T) {
	var keys []string
	var calls int32
	backend := &fakeBackend{
		createOrderFn: func(context.Context, []models.OrderItemInput, string) (int, error) { return 42, nil },
		initiateChargeFn: func(_ context.Context, _ decimal.Decimal, _ string, _ int, key string) error {
			keys = append(keys, key)
			if atomic.AddInt32(&calls, 1) == 1 {
				return errors.New("dial tcp: i/o timeout")
			}
			return nil
		},
		getOrderFn: func(context.Context, int) (*models.Order, error) {
			return &models.Order{ID: 42, Status: models.OrderPending}, nil
		},
	}
	s := newTestSession(t, backend, nil, nil, testConfig())
	require.NoError(t, s.AdjustQuantity(1, 1))
	require.NoError(t, s.Submit(context.Background()))

	require.Error(t, s.InitiatePayment(context.Background(), "0712345678"))
	require.NoError(t, s.Retry())
	require.NoError(t, s.InitiatePayment(context.Background(), "0712345678"))

	require.Len(t, keys, 2)
	assert.NotEmpty(t, keys[0])
	assert.NotEmpty(t, keys[1])
	assert.NotEqual(t, keys[0], keys[1], "each charge attempt gets its own key")
}

func TestSession_ResolvedHookFiresOnceOnCompletion(t *testing.T) {
	backend := &fakeBackend{
		createOrderFn:    func(context.Context, []models.OrderItemInput, string) (int, error) { return 42, nil },
		initiateChargeFn: func(context.Context, decimal.Decimal, string, int, string) error { return nil },
		getOrderFn: func(context.Context, int) (*models.Order, error) {
			return &models.Order{ID: 42, Status: models.OrderPaid}, nil
		},
	}

	var mu sync.Mutex
	var resolvedStates []string
	var resolvedWaits []time.Duration
	cfg := testConfig()
	cfg.OnResolved = func(snap Snapshot, wait time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		resolvedStates = append(resolvedStates, snap.State)
		resolvedWaits = append(resolvedWaits, wait)
	}

	s := newTestSession(t, backend, nil, nil, cfg)
	require.NoError(t, s.AdjustQuantity(1, 1))
	require.NoError(t, s.Submit(context.Background()))
	require.NoError(t, s.InitiatePayment(context.Background(), "0712345678"))

	require.Eventually(t, func() bool {
		return s.State() == Completed
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(resolvedStates) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "completed", resolvedStates[0])
	assert.Greater(t, resolvedWaits[0], time.Duration(0), "settlement wait is measured from charge acceptance")
}

func TestSession_ResolvedHookFiresOnCancel(t *testing.T) {
	var mu sync.Mutex
	var resolvedStates []string
	var resolvedWaits []time.Duration
	cfg := testConfig()
	cfg.OnResolved = func(snap Snapshot, wait time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		resolvedStates = append(resolvedStates, snap.State)
		resolvedWaits = append(resolvedWaits, wait)
	}

	s := newTestSession(t, &fakeBackend{}, nil, nil, cfg)
	require.NoError(t, s.Cancel())

	// A repeat cancel must not fire the hook again.
	require.NoError(t, s.Cancel())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, resolvedStates, 1)
	assert.Equal(t, "cancelled", resolvedStates[0])
	assert.Equal(t, time.Duration(0), resolvedWaits[0], "no charge was pending")
}

func TestSession_ResolvedHookFiresOnSettlementTimeout(t *testing.T) {
	backend := &fakeBackend{
		createOrderFn:    func(context.Context, []models.OrderItemInput, string) (int, error) { return 42, nil },
		initiateChargeFn: func(context.Context, decimal.Decimal, string, int, string) error { return nil },
		getOrderFn: func(context.Context, int) (*models.Order, error) {
			return &models.Order{ID: 42, Status: models.OrderPending}, nil
		},
	}

	var resolved int32
	cfg := Config{PollInterval: 10 * time.Millisecond, MaxWait: 60 * time.Millisecond}
	cfg.OnResolved = func(snap Snapshot, _ time.Duration) {
		if snap.State == "settlement_unknown" {
			atomic.AddInt32(&resolved, 1)
		}
	}

	s := newTestSession(t, backend, &fakeJournal{}, nil, cfg)
	require.NoError(t, s.AdjustQuantity(1, 1))
	require.NoError(t, s.Submit(context.Background()))
	require.NoError(t, s.InitiatePayment(context.Background(), "0712345678"))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&resolved) == 1
	}, time.Second, 5*time.Millisecond)
}
