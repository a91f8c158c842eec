// Package inventory manages item ownership: each account holds unreserved
// quantities per item, and each active listing holds a listing-locked
// stack carved out of the seller's inventory. Items only move through
// Reserve, Release, and Transfer.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyrmgate/market-engine/internal/model"
	"github.com/wyrmgate/market-engine/internal/store"
)

var (
	// ErrInsufficientItems is returned when a reservation exceeds the
	// account's unreserved quantity.
	ErrInsufficientItems = errors.New("inventory: insufficient items")

	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
)

// Inventory exposes atomic item operations over a Store.
type Inventory struct {
	store store.Store
}

// New creates an Inventory backed by the given store.
func New(st store.Store) *Inventory {
	return &Inventory{store: st}
}

// Quantity returns an account's unreserved quantity of one item.
func (inv *Inventory) Quantity(ctx context.Context, accountID, itemID string) (int64, error) {
	return inv.store.ItemQuantity(ctx, accountID, itemID)
}

// Grant adds items to an account's general inventory (crafting, loot and
// admin seeding enter here).
func (inv *Inventory) Grant(ctx context.Context, accountID, itemID string, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return inv.store.AdjustItem(ctx, accountID, itemID, qty)
}

// Reserve moves qty of an item out of the seller's general inventory into
// a stack locked to listingID. Fails with ErrInsufficientItems if the
// unreserved quantity is too small; on any later failure the withdrawal
// is compensated so no items are lost.
func (inv *Inventory) Reserve(ctx context.Context, accountID, itemID string, qty int64, listingID string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if err := inv.store.AdjustItem(ctx, accountID, itemID, -qty); err != nil {
		if errors.Is(err, store.ErrShortBalance) {
			return ErrInsufficientItems
		}
		return fmt.Errorf("reserve %s for %s: %w", itemID, accountID, err)
	}
	stack := &model.ItemStack{
		ListingID: listingID,
		OwnerID:   accountID,
		ItemID:    itemID,
		Quantity:  qty,
	}
	if err := inv.store.CreateStack(ctx, stack); err != nil {
		// Put the items back; the reservation never happened.
		_ = inv.store.AdjustItem(ctx, accountID, itemID, qty)
		return fmt.Errorf("create stack for listing %s: %w", listingID, err)
	}
	return nil
}

// Release returns a listing's remaining reserved stack to the seller's
// general inventory. Used on cancel and expiry.
func (inv *Inventory) Release(ctx context.Context, listingID string) error {
	stack, err := inv.store.StackByListing(ctx, listingID)
	if err != nil {
		return fmt.Errorf("release listing %s: %w", listingID, err)
	}
	if stack.Quantity > 0 {
		if err := inv.store.AdjustItem(ctx, stack.OwnerID, stack.ItemID, stack.Quantity); err != nil {
			return fmt.Errorf("return stack for listing %s: %w", listingID, err)
		}
	}
	return inv.store.DeleteStack(ctx, listingID)
}

// Transfer moves qty units from the listing's reserved stack directly to
// the buyer's general inventory. The seller never gets the items back
// mid-sale; settlement bypasses their inventory entirely.
func (inv *Inventory) Transfer(ctx context.Context, listingID, toAccountID string, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	stack, err := inv.store.StackByListing(ctx, listingID)
	if err != nil {
		return fmt.Errorf("transfer from listing %s: %w", listingID, err)
	}
	if err := inv.store.AdjustStack(ctx, listingID, -qty); err != nil {
		if errors.Is(err, store.ErrShortBalance) {
			return ErrInsufficientItems
		}
		return fmt.Errorf("draw %d from listing %s: %w", qty, listingID, err)
	}
	if err := inv.store.AdjustItem(ctx, toAccountID, stack.ItemID, qty); err != nil {
		// Compensate the stack draw.
		_ = inv.store.AdjustStack(ctx, listingID, qty)
		return fmt.Errorf("deliver %s to %s: %w", stack.ItemID, toAccountID, err)
	}
	return nil
}
