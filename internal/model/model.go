// Package model defines the core domain types shared across the market engine.
// All gold amounts are integer gold pieces — never floats for money.
package model

import "time"

// ListingStatus is the lifecycle state of a sell listing.
// SOLD, CANCELLED, and EXPIRED are terminal. RESOLVING is an internal
// state held only while the resolver owns the listing during a tick;
// it blocks cancels and new orders.
type ListingStatus string

const (
	ListingActive    ListingStatus = "ACTIVE"
	ListingResolving ListingStatus = "RESOLVING"
	ListingSold      ListingStatus = "SOLD"
	ListingCancelled ListingStatus = "CANCELLED"
	ListingExpired   ListingStatus = "EXPIRED"
)

// OrderStatus is the lifecycle state of a buy order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderWon       OrderStatus = "WON"
	OrderLost      OrderStatus = "LOST"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Balance is a two-bucket gold account. Available is spendable; Escrowed
// is held against pending buy orders. Neither bucket is ever negative,
// and available+escrowed only changes through ledger debit/credit.
type Balance struct {
	AccountID string `json:"account_id" db:"account_id"`
	Available int64  `json:"available" db:"available"`
	Escrowed  int64  `json:"escrowed" db:"escrowed"`
}

// Total returns available + escrowed.
func (b Balance) Total() int64 { return b.Available + b.Escrowed }

// ItemStack is a quantity of one item reserved out of a seller's general
// inventory and locked to a listing for its lifetime.
type ItemStack struct {
	ListingID string `json:"listing_id" db:"listing_id"`
	OwnerID   string `json:"owner_id" db:"owner_id"`
	ItemID    string `json:"item_id" db:"item_id"`
	Quantity  int64  `json:"quantity" db:"quantity"`
}

// Listing is a sell-side offer. The underlying items are held in a
// listing-locked ItemStack from creation until the listing reaches a
// terminal state.
type Listing struct {
	ID        string        `json:"id" db:"id"`
	SellerID  string        `json:"seller_id" db:"seller_id"`
	ItemID    string        `json:"item_id" db:"item_id"`
	ItemType  string        `json:"item_type" db:"item_type"`
	Rarity    string        `json:"rarity" db:"rarity"`
	UnitPrice int64         `json:"unit_price" db:"unit_price"`
	Quantity  int64         `json:"quantity" db:"quantity"` // units still unsold
	Status    ListingStatus `json:"status" db:"status"`
	ListedAt  time.Time     `json:"listed_at" db:"listed_at"`
	ExpiresAt time.Time     `json:"expires_at" db:"expires_at"`
}

// BuyOrder is a buy-side bid against one listing. BidPrice gold is moved
// into the buyer's escrow bucket at placement and stays there until the
// order leaves PENDING.
type BuyOrder struct {
	ID        string      `json:"id" db:"id"`
	ListingID string      `json:"listing_id" db:"listing_id"`
	BuyerID   string      `json:"buyer_id" db:"buyer_id"`
	BidPrice  int64       `json:"bid_price" db:"bid_price"`
	Status    OrderStatus `json:"status" db:"status"`
	PlacedAt  time.Time   `json:"placed_at" db:"placed_at"`
}

// Cycle is the process-wide auction cycle. ID increases monotonically;
// StartedAt is the wall-clock start of the current cycle. Both are durable
// so a restart neither re-runs nor skips a cycle.
type Cycle struct {
	ID        int64         `json:"id" db:"id"`
	StartedAt time.Time     `json:"started_at" db:"started_at"`
	Period    time.Duration `json:"period" db:"-"`
}

// ClosesAt returns the wall-clock end of the cycle.
func (c Cycle) ClosesAt() time.Time { return c.StartedAt.Add(c.Period) }

// RollModifier is one itemized component of a priority roll.
type RollModifier struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

// Roll is the recorded priority roll for one order contending one unit:
// raw d20 plus itemized modifiers. Persisted verbatim so the UI can show
// the breakdown without recomputation.
type Roll struct {
	OrderID   string         `json:"order_id"`
	BuyerID   string         `json:"buyer_id"`
	Die       int            `json:"die"`
	Modifiers []RollModifier `json:"modifiers"`
	Total     int            `json:"total"`
}

// ResolutionRecord is the append-only price-history artifact written once
// per unit sold (or once per listing when it expires with no winner).
// Never mutated.
type ResolutionRecord struct {
	ID             string    `json:"id" db:"id"`
	ListingID      string    `json:"listing_id" db:"listing_id"`
	ItemID         string    `json:"item_id" db:"item_id"`
	CycleID        int64     `json:"cycle_id" db:"cycle_id"`
	WinningOrderID string    `json:"winning_order_id,omitempty" db:"winning_order_id"` // empty if no winner
	SalePrice      int64     `json:"sale_price" db:"sale_price"`
	Fee            int64     `json:"fee" db:"fee"`
	Quantity       int64     `json:"quantity" db:"quantity"`
	Rolls          []Roll    `json:"rolls,omitempty" db:"rolls"`
	SoldAt         time.Time `json:"sold_at" db:"sold_at"`
}
