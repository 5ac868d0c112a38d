// Package api is the authenticated HTTP client for the remote ticketing
// backend. All business authority (pricing, inventory, settlement, ticket
// issuance) lives behind these endpoints; this client only moves requests
// and surfaces outcomes. No call is ever retried automatically.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"evanda/models"
)

// TokenSource supplies the bearer token for outgoing calls. It is injected
// rather than read from ambient storage so the token's lifecycle is explicit
// and tests can run without a real credential store.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed-token source, used by scan stations that
// authenticate once at startup.
type StaticToken string

func (s StaticToken) Token() string { return string(s) }

// Session is a mutable token source written only by Login/Logout.
type Session struct {
	mu    sync.Mutex
	token string
}

func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Logout discards the stored token.
func (s *Session) Logout() { s.set("") }

type Client struct {
	baseURL string
	tokens  TokenSource

	// hc is the http client. Its timeout bounds every remote call; a
	// timeout is a failure for the calling state transition, never an
	// implied success.
	hc *http.Client
}

func NewClient(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		hc: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body *bytes.Buffer) (*http.Request, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return nil, err
	}

	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req, nil
}

// doJSON issues a JSON request and decodes the reply into out (when out is
// non-nil). Non-2xx replies become *APIError.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Buffer
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: json.Marshal: %w", err)
		}
		body = bytes.NewBuffer(b)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("api: http.NewRequestWithContext: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("api: http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out != nil {
		dec := json.NewDecoder(resp.Body)
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("api: json.Decode: %w", err)
		}
	}

	return nil
}

// Login authenticates against the backend and stores the returned token in
// the session.
func (c *Client) Login(ctx context.Context, session *Session, email, password string) error {
	var reply struct {
		Token string `json:"token"`
	}

	in := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/login", in, &reply); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	session.set(reply.Token)
	return nil
}

func (c *Client) ListEvents(ctx context.Context) ([]models.Event, error) {
	var reply struct {
		Events []models.Event `json:"events"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/events", nil, &reply); err != nil {
		return nil, fmt.Errorf("listEvents: %w", err)
	}
	return reply.Events, nil
}

func (c *Client) ListEventTickets(ctx context.Context, eventID int) ([]models.TicketType, error) {
	var reply struct {
		Tickets []models.TicketType `json:"tickets"`
	}
	path := fmt.Sprintf("/events/%d/tickets", eventID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &reply); err != nil {
		return nil, fmt.Errorf("listEventTickets: %w", err)
	}
	return reply.Tickets, nil
}

// CreateOrder submits the selected line items and returns the server's order
// id. The idempotency key identifies this checkout attempt so a duplicate
// submission at a lower layer cannot create a second order.
func (c *Client) CreateOrder(ctx context.Context, items []models.OrderItemInput, idempotencyKey string) (int, error) {
	in := map[string]any{"items": items}
	b, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("createOrder: json.Marshal: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/orders", bytes.NewBuffer(b))
	if err != nil {
		return 0, fmt.Errorf("createOrder: http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("createOrder: http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("createOrder: %w", decodeError(resp))
	}

	var reply struct {
		OrderID int    `json:"order_id"`
		Message string `json:"message"`
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return 0, fmt.Errorf("createOrder: json.Decode: %w", err)
	}

	return reply.OrderID, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID int) (*models.Order, error) {
	var order models.Order
	path := fmt.Sprintf("/orders/%d", orderID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &order); err != nil {
		return nil, fmt.Errorf("getOrder: %w", err)
	}
	return &order, nil
}

// UpdateOrderStatus asks the server to move the order to status. The client
// never mirrors the change locally; the server's stored status stays
// authoritative whether or not this call succeeds.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID int, newStatus models.OrderStatus) error {
	in := map[string]string{"order_status": string(newStatus)}
	path := fmt.Sprintf("/orders/%d", orderID)
	if err := c.doJSON(ctx, http.MethodPatch, path, in, nil); err != nil {
		return fmt.Errorf("updateOrderStatus: %w", err)
	}
	return nil
}

// InitiateCharge triggers the STK push prompt on the payer's phone. The
// endpoint expects multipart form fields and the LOCAL 0-prefixed phone
// form; callers convert with mpesa.LocalFormat before calling. The
// idempotency key identifies the charge attempt so a duplicate push at a
// lower layer can be deduped server-side. A 200 reply only means the prompt
// was accepted for delivery, not that money moved.
func (c *Client) InitiateCharge(ctx context.Context, amount decimal.Decimal, localPhone string, orderID int, idempotencyKey string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("amount", amount.String())
	mw.WriteField("phone", localPhone)
	mw.WriteField("order_id", strconv.Itoa(orderID))
	if err := mw.Close(); err != nil {
		return fmt.Errorf("initiateCharge: multipart.Close: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/mpesa_payment", &buf)
	if err != nil {
		return fmt.Errorf("initiateCharge: http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("initiateCharge: http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("initiateCharge: %w", decodeError(resp))
	}

	return nil
}

// ValidateTicket submits a scanned payload for the station identified by
// stationID. The server marks a valid ticket as used on check, so this call
// must never be auto-retried. Rejections that carry a verdict body (wrong
// hash, already scanned, unauthorized station) come back as a
// ValidationResult, not an error; only transport failures return an error.
func (c *Client) ValidateTicket(ctx context.Context, payload, stationID string) (*models.ValidationResult, error) {
	in := map[string]string{"qr_data": payload, "scanner_id": stationID}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("validateTicket: json.Marshal: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/validate-ticket", bytes.NewBuffer(b))
	if err != nil {
		return nil, fmt.Errorf("validateTicket: http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("validateTicket: http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("validateTicket: %w", decodeError(resp))
	}

	var result models.ValidationResult
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("validateTicket: json.Decode: %w", err)
	}

	return &result, nil
}

func (c *Client) AddScanner(ctx context.Context, username, location string) error {
	in := map[string]string{"username": username, "location": location}
	if err := c.doJSON(ctx, http.MethodPost, "/add-scanner", in, nil); err != nil {
		return fmt.Errorf("addScanner: %w", err)
	}
	return nil
}

func (c *Client) Health(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	return nil
}
