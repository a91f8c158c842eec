// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and zero-config development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/wyrmgate/market-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a guarded status transition finds the
	// record in a different state than expected, or on duplicate creation.
	ErrConflict = errors.New("store: conflict")

	// ErrShortBalance is returned when a guarded adjustment would drive a
	// gold bucket or item quantity negative.
	ErrShortBalance = errors.New("store: balance would go negative")
)

// ListingFilter narrows and orders a browse query. Zero values mean
// "no constraint". Page is 1-based.
type ListingFilter struct {
	Search   string // case-insensitive substring of item ID
	ItemType string
	Rarity   string
	MinPrice int64
	MaxPrice int64
	Sort     string // "price_asc", "price_desc", "expiry", "" = newest first
	Page     int
	Limit    int
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. All mutating methods are
// atomic per call: guarded updates either fully apply or return an error
// with no change.
type Store interface {
	// --- Gold balances ---

	// GetBalance returns an account's balance. Accounts the engine has not
	// seen yet read as zero; no error.
	GetBalance(ctx context.Context, accountID string) (model.Balance, error)

	// AdjustBalance atomically applies deltas to the two buckets of one
	// account. Returns ErrShortBalance (and applies nothing) if either
	// bucket would go negative.
	AdjustBalance(ctx context.Context, accountID string, availableDelta, escrowedDelta int64) error

	// --- Item inventory ---

	// ItemQuantity returns an account's unreserved quantity of one item.
	ItemQuantity(ctx context.Context, accountID, itemID string) (int64, error)

	// AdjustItem atomically changes an account's unreserved quantity of one
	// item. Returns ErrShortBalance if the result would be negative.
	AdjustItem(ctx context.Context, accountID, itemID string, delta int64) error

	// CreateStack persists a listing-locked item stack.
	CreateStack(ctx context.Context, stack *model.ItemStack) error

	// StackByListing returns the stack locked to a listing.
	StackByListing(ctx context.Context, listingID string) (*model.ItemStack, error)

	// AdjustStack changes a stack's quantity. Returns ErrShortBalance if
	// the result would be negative.
	AdjustStack(ctx context.Context, listingID string, delta int64) error

	// DeleteStack removes a stack once emptied or released.
	DeleteStack(ctx context.Context, listingID string) error

	// --- Listings ---

	CreateListing(ctx context.Context, l *model.Listing) error
	GetListing(ctx context.Context, id string) (*model.Listing, error)

	// BrowseListings returns ACTIVE listings matching the filter plus the
	// total match count before pagination.
	BrowseListings(ctx context.Context, f ListingFilter) ([]model.Listing, int, error)

	ListingsBySeller(ctx context.Context, sellerID string) ([]model.Listing, error)

	// ListingsByStatus returns every listing currently in the given
	// status. The scheduler uses it at startup to reclaim claims a crash
	// left behind.
	ListingsByStatus(ctx context.Context, status model.ListingStatus) ([]model.Listing, error)

	// TransitionListing moves a listing from one status to another only if
	// it is currently in the `from` status. Returns ErrConflict otherwise.
	// This is the optimistic check shared by cancel and the resolver.
	TransitionListing(ctx context.Context, id string, from, to model.ListingStatus) error

	// SetListingQuantity records the units still unsold.
	SetListingQuantity(ctx context.Context, id string, quantity int64) error

	// DueListings returns ACTIVE listings that are past expiry or have at
	// least one PENDING order as of `now`.
	DueListings(ctx context.Context, now time.Time) ([]model.Listing, error)

	// --- Buy orders ---

	CreateOrder(ctx context.Context, o *model.BuyOrder) error
	GetOrder(ctx context.Context, id string) (*model.BuyOrder, error)

	// TransitionOrder moves an order between statuses with the same guard
	// semantics as TransitionListing.
	TransitionOrder(ctx context.Context, id string, from, to model.OrderStatus) error

	// PendingOrders returns all PENDING orders for a listing.
	PendingOrders(ctx context.Context, listingID string) ([]model.BuyOrder, error)

	OrdersByBuyer(ctx context.Context, buyerID string) ([]model.BuyOrder, error)

	// CountPendingOrders returns the number of PENDING orders engine-wide.
	CountPendingOrders(ctx context.Context) (int64, error)

	// --- Resolution records (append-only) ---

	InsertResolution(ctx context.Context, r *model.ResolutionRecord) error
	ResolutionsByItem(ctx context.Context, itemID string, limit int) ([]model.ResolutionRecord, error)
	RecentResolutions(ctx context.Context, limit int) ([]model.ResolutionRecord, error)
	ResolutionsSince(ctx context.Context, since time.Time) ([]model.ResolutionRecord, error)

	// --- Auction cycle (durable singleton) ---

	// LoadCycle returns the persisted cycle, or ErrNotFound on first boot.
	LoadCycle(ctx context.Context) (*model.Cycle, error)
	SaveCycle(ctx context.Context, c model.Cycle) error
}
