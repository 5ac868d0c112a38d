package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TicketType is a sellable inventory unit for one event ("VIP Pass").
type TicketType struct {
	ID                int             `json:"id"`
	EventID           int             `json:"event_id"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	QuantityAvailable int             `json:"quantity_available"`
	QuantitySold      int             `json:"quantity_sold"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Remaining is the number of tickets still sellable. The server is the
// authority; this is only a client-side guard for the selection screen.
func (t TicketType) Remaining() int {
	r := t.QuantityAvailable - t.QuantitySold
	if r < 0 {
		return 0
	}
	return r
}
