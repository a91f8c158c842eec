// Package events defines the market event types the engine emits for the
// notification layer. Delivery is fire-and-forget: correctness never
// depends on an event reaching a subscriber.
package events

import "time"

// Event types emitted by the engine.
const (
	TypeListingSold    = "listing.sold"
	TypeListingExpired = "listing.expired"
	TypeOrderResolved  = "order.resolved"
	TypeOrderRefunded  = "order.refunded"
)

// Event is one market occurrence. Fields not relevant to a given type are
// left zero and omitted from JSON.
type Event struct {
	Type      string    `json:"type"`
	ListingID string    `json:"listing_id,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	ItemID    string    `json:"item_id,omitempty"`
	AccountID string    `json:"account_id,omitempty"` // party the event concerns
	Amount    int64     `json:"amount,omitempty"`     // gold moved, if any
	CycleID   int64     `json:"cycle_id,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher delivers events to interested subscribers. Implementations
// must not block the caller; dropping under pressure is acceptable.
type Publisher interface {
	Publish(e Event)
}

// Discard is a Publisher that drops everything. Useful in tests and when
// no notification hub is wired.
type Discard struct{}

func (Discard) Publish(Event) {}
