package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus values mirror the ticketing API's order lifecycle.
// pending -> paid and pending -> cancelled are the only legal moves;
// paid and cancelled are terminal.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
)

// CanTransition reports whether an order may move from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s != OrderPending {
		return false
	}
	return next == OrderPaid || next == OrderCancelled
}

// Terminal reports whether no further status change is allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderCancelled
}

type Order struct {
	ID          int             `json:"order_id"`
	UserID      int             `json:"user_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      OrderStatus     `json:"order_status"`
	Items       []OrderItem     `json:"items,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// OrderItem is one (ticket type, quantity) line. PriceAtPurchase is the
// unit price captured when the order was created; later price changes on
// the ticket type never alter it.
type OrderItem struct {
	ID              int             `json:"id"`
	OrderID         int             `json:"order_id"`
	TicketID        int             `json:"ticket_id"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
	Subtotal        decimal.Decimal `json:"subtotal"`
}

// OrderItemInput is the request shape for order creation.
type OrderItemInput struct {
	TicketID int `json:"ticket_id"`
	Quantity int `json:"quantity"`
}
