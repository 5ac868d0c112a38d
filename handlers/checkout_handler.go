package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v5"

	"evanda/internal/api"
	"evanda/internal/checkout"
	"evanda/internal/status"
	"evanda/monitoring"
	"evanda/utils"
)

// CheckoutHandler exposes the checkout flow to the storefront. Sessions are
// held in process and addressed by an opaque id; their lifetime is the
// process, not the request.
type CheckoutHandler struct {
	client   *api.Client
	journal  checkout.Journal
	notifier checkout.Notifier
	monitor  *monitoring.Monitor
	cfg      checkout.Config

	mu       sync.Mutex
	sessions map[string]*checkout.Session
}

func NewCheckoutHandler(client *api.Client, journal checkout.Journal, notifier checkout.Notifier, monitor *monitoring.Monitor, cfg checkout.Config) *CheckoutHandler {
	if monitor != nil {
		// Terminal transitions happen inside the session (settlement watch,
		// reconcile, cancel), so outcomes are recorded there, not per route.
		cfg.OnResolved = func(snap checkout.Snapshot, wait time.Duration) {
			monitor.TrackSessionClosed()
			monitor.TrackCheckoutOutcome(snap.State)
			if wait > 0 {
				monitor.TrackSettlementWait(wait)
			}
		}
	}
	return &CheckoutHandler{
		client:   client,
		journal:  journal,
		notifier: notifier,
		monitor:  monitor,
		cfg:      cfg,
		sessions: make(map[string]*checkout.Session),
	}
}

func (h *CheckoutHandler) ListEvents(c echo.Context) error {
	events, err := h.client.ListEvents(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"events": events})
}

func (h *CheckoutHandler) ListEventTickets(c echo.Context) error {
	eventID, err := pathInt(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid event id"})
	}

	tickets, err := h.client.ListEventTickets(c.Request().Context(), eventID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"tickets": tickets})
}

// StartCheckout opens a session over the event's current ticket catalog.
func (h *CheckoutHandler) StartCheckout(c echo.Context) error {
	var req struct {
		EventID int `json:"event_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	tickets, err := h.client.ListEventTickets(c.Request().Context(), req.EventID)
	if err != nil {
		return writeError(c, err)
	}

	id, err := utils.GenerateCode(8)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not create session"})
	}

	session := checkout.NewSession(context.Background(), id, req.EventID, tickets, h.client, h.journal, h.notifier, h.cfg)

	h.mu.Lock()
	h.sessions[id] = session
	h.mu.Unlock()

	if h.monitor != nil {
		h.monitor.TrackSessionOpened()
	}

	return c.JSON(http.StatusCreated, session.Snapshot())
}

func (h *CheckoutHandler) GetCheckout(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, session.Snapshot())
}

func (h *CheckoutHandler) AdjustQuantity(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return writeError(c, err)
	}

	var req struct {
		TicketID int `json:"ticket_id"`
		Quantity int `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if err := session.AdjustQuantity(req.TicketID, req.Quantity); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, session.Snapshot())
}

func (h *CheckoutHandler) Submit(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return writeError(c, err)
	}

	if err := session.Submit(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, session.Snapshot())
}

func (h *CheckoutHandler) Pay(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return writeError(c, err)
	}

	var req struct {
		Phone string `json:"phone"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	err = session.InitiatePayment(c.Request().Context(), req.Phone)
	if h.monitor != nil {
		switch {
		case err == nil:
			h.monitor.TrackChargeInitiation("accepted")
		case api.IsRejection(err):
			h.monitor.TrackChargeInitiation("rejected")
		case errors.Is(err, status.ErrInvalidPhone), errors.Is(err, status.ErrPaymentInFlight),
			errors.Is(err, status.ErrInvalidTransition), errors.Is(err, status.ErrSessionClosed):
			// Refused locally, no call was made.
		default:
			h.monitor.TrackChargeInitiation("transport_error")
		}
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, session.Snapshot())
}

func (h *CheckoutHandler) Retry(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return writeError(c, err)
	}

	if err := session.Retry(); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, session.Snapshot())
}

func (h *CheckoutHandler) Cancel(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return writeError(c, err)
	}

	if err := session.Cancel(); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, session.Snapshot())
}

func (h *CheckoutHandler) session(c echo.Context) (*checkout.Session, error) {
	id := c.PathParam("id")

	h.mu.Lock()
	defer h.mu.Unlock()
	session, ok := h.sessions[id]
	if !ok {
		return nil, status.ErrSessionNotFound
	}
	return session, nil
}
