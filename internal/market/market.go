// Package market implements the sell side (listings), the buy side
// (order book), and the HTTP facade of the batch auction marketplace.
//
// Gold only moves through the ledger primitives and items only through
// the inventory primitives; this package never touches balances directly.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wyrmgate/market-engine/internal/events"
	"github.com/wyrmgate/market-engine/internal/inventory"
	"github.com/wyrmgate/market-engine/internal/item"
	"github.com/wyrmgate/market-engine/internal/ledger"
	"github.com/wyrmgate/market-engine/internal/metrics"
	"github.com/wyrmgate/market-engine/internal/model"
	"github.com/wyrmgate/market-engine/internal/store"
)

var (
	// ErrInvalidListing is returned when placing an order against a
	// listing that is missing, not ACTIVE, or past its cycle close.
	ErrInvalidListing = errors.New("market: listing not open for orders")

	// ErrBidTooLow is returned when a bid is below the asking price.
	ErrBidTooLow = errors.New("market: bid must be at least the asking price")

	// ErrSelfTrade is returned when a seller bids on their own listing.
	ErrSelfTrade = errors.New("market: cannot bid on your own listing")

	// ErrNotOwner is returned when a cancel comes from a different account
	// than the one that created the listing or order.
	ErrNotOwner = errors.New("market: not the owner")

	// ErrInvalidState is returned when a cancel finds the listing or order
	// already out of its cancellable state, including the race where the
	// resolver has picked it up in the current tick.
	ErrInvalidState = errors.New("market: not in a cancellable state")
)

// Market composes the listing store and order book over the shared
// ledger, inventory, and persistence layers.
type Market struct {
	store           store.Store
	ledger          *ledger.Ledger
	inventory       *inventory.Inventory
	publisher       events.Publisher
	listingLifetime time.Duration
}

// New creates a Market. Pass events.Discard{} when no notification hub
// is wired.
func New(st store.Store, led *ledger.Ledger, inv *inventory.Inventory, pub events.Publisher, listingLifetime time.Duration) *Market {
	return &Market{
		store:           st,
		ledger:          led,
		inventory:       inv,
		publisher:       pub,
		listingLifetime: listingLifetime,
	}
}

// Ledger exposes the gold ledger for read-only balance queries.
func (m *Market) Ledger() *ledger.Ledger { return m.ledger }

// ListItem reserves qty of the seller's item and creates an ACTIVE
// listing for it. The item reference must parse (its type and rarity are
// denormalized onto the listing for browse filters).
func (m *Market) ListItem(ctx context.Context, sellerID, itemID string, unitPrice, qty int64) (*model.Listing, error) {
	if unitPrice <= 0 {
		return nil, fmt.Errorf("%w: unit price must be positive", ErrInvalidListing)
	}
	ref, err := item.ParseRef(itemID)
	if err != nil {
		return nil, err
	}

	listingID := uuid.New().String()
	if err := m.inventory.Reserve(ctx, sellerID, itemID, qty, listingID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	listing := &model.Listing{
		ID:        listingID,
		SellerID:  sellerID,
		ItemID:    itemID,
		ItemType:  ref.Type,
		Rarity:    ref.Rarity,
		UnitPrice: unitPrice,
		Quantity:  qty,
		Status:    model.ListingActive,
		ListedAt:  now,
		ExpiresAt: now.Add(m.listingLifetime),
	}
	if err := m.store.CreateListing(ctx, listing); err != nil {
		// The reservation never took effect; hand the items back.
		_ = m.inventory.Release(ctx, listingID)
		return nil, fmt.Errorf("create listing: %w", err)
	}

	metrics.ListingsCreated.Inc()
	slog.Info("listing created",
		"listing", listing.ID,
		"seller", sellerID,
		"item", itemID,
		"unit_price", unitPrice,
		"qty", qty,
	)
	return listing, nil
}

// CancelListing takes an ACTIVE listing off the market: reserved items go
// back to the seller and any pending orders are refunded in full. A
// listing the resolver has already picked up (RESOLVING) or that has
// reached a terminal state is rejected with ErrInvalidState.
func (m *Market) CancelListing(ctx context.Context, listingID, requesterID string) error {
	listing, err := m.store.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if listing.SellerID != requesterID {
		return ErrNotOwner
	}
	if err := m.store.TransitionListing(ctx, listingID, model.ListingActive, model.ListingCancelled); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrInvalidState
		}
		return err
	}

	// The listing left ACTIVE, so no new orders can arrive; refund what
	// is already queued.
	pending, err := m.store.PendingOrders(ctx, listingID)
	if err != nil {
		return fmt.Errorf("cancel listing %s: %w", listingID, err)
	}
	for _, o := range pending {
		if err := m.refundOrder(ctx, o, model.OrderCancelled); err != nil {
			return err
		}
	}

	if err := m.inventory.Release(ctx, listingID); err != nil {
		return err
	}

	metrics.ListingsCancelled.Inc()
	slog.Info("listing cancelled", "listing", listingID, "seller", requesterID, "orders_refunded", len(pending))
	return nil
}

// PlaceOrder escrows the bid and queues a PENDING order against an
// ACTIVE listing for the next resolution cycle.
func (m *Market) PlaceOrder(ctx context.Context, buyerID, listingID string, bidPrice int64) (*model.BuyOrder, error) {
	listing, err := m.store.GetListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidListing
		}
		return nil, err
	}
	now := time.Now().UTC()
	if listing.Status != model.ListingActive || !listing.ExpiresAt.After(now) {
		return nil, ErrInvalidListing
	}
	if listing.SellerID == buyerID {
		return nil, ErrSelfTrade
	}
	if bidPrice < listing.UnitPrice {
		return nil, ErrBidTooLow
	}

	if err := m.ledger.Escrow(ctx, buyerID, bidPrice); err != nil {
		metrics.OrdersRejected.WithLabelValues("insufficient_funds").Inc()
		return nil, err
	}

	order := &model.BuyOrder{
		ID:        uuid.New().String(),
		ListingID: listingID,
		BuyerID:   buyerID,
		BidPrice:  bidPrice,
		Status:    model.OrderPending,
		PlacedAt:  now,
	}
	if err := m.store.CreateOrder(ctx, order); err != nil {
		_ = m.ledger.ReleaseEscrow(ctx, buyerID, bidPrice, ledger.Refund)
		return nil, fmt.Errorf("create order: %w", err)
	}

	// The listing may have gone to the resolver between the status check
	// and the insert; an order it never saw must not sit in escrow until
	// a tick that will not come.
	current, err := m.store.GetListing(ctx, listingID)
	if err == nil && current.Status != model.ListingActive && current.Status != model.ListingResolving {
		if cerr := m.store.TransitionOrder(ctx, order.ID, model.OrderPending, model.OrderCancelled); cerr == nil {
			_ = m.ledger.ReleaseEscrow(ctx, buyerID, bidPrice, ledger.Refund)
		}
		return nil, ErrInvalidListing
	}

	metrics.OrdersPlaced.Inc()
	slog.Info("order placed",
		"order", order.ID,
		"listing", listingID,
		"buyer", buyerID,
		"bid", bidPrice,
	)
	return order, nil
}

// CancelOrder withdraws a PENDING order and refunds its escrow. An order
// the resolver has already settled in the current tick is rejected with
// ErrInvalidState, never silently ignored.
func (m *Market) CancelOrder(ctx context.Context, orderID, requesterID string) error {
	order, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.BuyerID != requesterID {
		return ErrNotOwner
	}
	if err := m.refundOrder(ctx, *order, model.OrderCancelled); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrInvalidState
		}
		return err
	}
	slog.Info("order cancelled", "order", orderID, "buyer", requesterID, "refund", order.BidPrice)
	return nil
}

// refundOrder transitions a PENDING order to the given terminal status
// and refunds its escrow. The guarded transition makes the refund happen
// at most once regardless of racing callers.
func (m *Market) refundOrder(ctx context.Context, o model.BuyOrder, to model.OrderStatus) error {
	if err := m.store.TransitionOrder(ctx, o.ID, model.OrderPending, to); err != nil {
		return err
	}
	if err := m.ledger.ReleaseEscrow(ctx, o.BuyerID, o.BidPrice, ledger.Refund); err != nil {
		return err
	}
	metrics.OrdersRefunded.Inc()
	m.publisher.Publish(events.Event{
		Type:      events.TypeOrderRefunded,
		OrderID:   o.ID,
		ListingID: o.ListingID,
		AccountID: o.BuyerID,
		Amount:    o.BidPrice,
		At:        time.Now().UTC(),
	})
	return nil
}

// Browse returns ACTIVE listings matching the filter plus the total
// match count. Read-only.
func (m *Market) Browse(ctx context.Context, f store.ListingFilter) ([]model.Listing, int, error) {
	return m.store.BrowseListings(ctx, f)
}

// MyListings returns all of a seller's listings, newest first.
func (m *Market) MyListings(ctx context.Context, sellerID string) ([]model.Listing, error) {
	return m.store.ListingsBySeller(ctx, sellerID)
}

// MyOrders returns all of a buyer's orders, newest first.
func (m *Market) MyOrders(ctx context.Context, buyerID string) ([]model.BuyOrder, error) {
	return m.store.OrdersByBuyer(ctx, buyerID)
}

// PriceHistory returns recent resolution records for one item.
func (m *Market) PriceHistory(ctx context.Context, itemID string, limit int) ([]model.ResolutionRecord, error) {
	return m.store.ResolutionsByItem(ctx, itemID, limit)
}

// RecentResults returns the most recent resolution records market-wide.
func (m *Market) RecentResults(ctx context.Context, limit int) ([]model.ResolutionRecord, error) {
	return m.store.RecentResolutions(ctx, limit)
}
