package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/wyrmgate/market-engine/internal/events"
	"github.com/wyrmgate/market-engine/internal/identity"
	"github.com/wyrmgate/market-engine/internal/inventory"
	"github.com/wyrmgate/market-engine/internal/ledger"
	"github.com/wyrmgate/market-engine/internal/metrics"
	"github.com/wyrmgate/market-engine/internal/model"
	"github.com/wyrmgate/market-engine/internal/store"
)

// errOrderGone signals that a candidate winner was cancelled between the
// pending snapshot and settlement; selection continues without it.
var errOrderGone = errors.New("auction: order left pending before settlement")

// FeePolicy sets the market's cut of each sale. Fees go to the treasury
// account, never out of existence, so gold conservation stays checkable.
type FeePolicy struct {
	FeeBps          int64
	MerchantFeeBps  int64
	TreasuryAccount string
}

// Fee returns the fee for a sale price, floored, at the seller's rate.
func (f FeePolicy) Fee(salePrice int64, sellerIsMerchant bool) int64 {
	bps := f.FeeBps
	if sellerIsMerchant {
		bps = f.MerchantFeeBps
	}
	return salePrice * bps / 10000
}

// Resolver settles due listings: it rolls priority for each pending
// order, settles the winner with the seller and the treasury, refunds
// everyone else, and appends resolution records for price history.
type Resolver struct {
	store     store.Store
	ledger    *ledger.Ledger
	inventory *inventory.Inventory
	profiles  identity.Provider
	publisher events.Publisher
	roller    *Roller
	fees      FeePolicy
}

// NewResolver creates a Resolver.
func NewResolver(
	st store.Store,
	led *ledger.Ledger,
	inv *inventory.Inventory,
	profiles identity.Provider,
	pub events.Publisher,
	roller *Roller,
	fees FeePolicy,
) *Resolver {
	return &Resolver{
		store:     st,
		ledger:    led,
		inventory: inv,
		profiles:  profiles,
		publisher: pub,
		roller:    roller,
		fees:      fees,
	}
}

// contender is one pending order with its buyer profile and current roll.
type contender struct {
	order          model.BuyOrder
	profile        identity.Profile
	roll           model.Roll
	sellerMerchant bool // captured at settlement for the fee record
}

// ResolveListing runs the full resolution for one due listing during one
// tick. Re-invoking it on a listing that already left ACTIVE is a no-op,
// which makes the tick safe to replay after a crash.
//
// Each unit's settlement is atomic through compensating actions: a
// failure mid-settlement unwinds that unit completely, puts the listing
// back to ACTIVE, and returns an error so the scheduler can retry on the
// next tick.
func (r *Resolver) ResolveListing(ctx context.Context, listingID string, cycleID int64) error {
	start := time.Now()

	// Claiming the listing is the optimistic lock shared with cancel: once
	// it is RESOLVING, cancels and new orders bounce off.
	if err := r.store.TransitionListing(ctx, listingID, model.ListingActive, model.ListingResolving); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil // already resolved, cancelled, or claimed
		}
		return err
	}

	listing, err := r.store.GetListing(ctx, listingID)
	if err != nil {
		return r.releaseClaim(ctx, listingID, err)
	}

	pending, err := r.store.PendingOrders(ctx, listingID)
	if err != nil {
		return r.releaseClaim(ctx, listingID, err)
	}

	contenders := make([]*contender, 0, len(pending))
	for _, o := range pending {
		profile, err := r.profiles.Profile(ctx, o.BuyerID)
		if err != nil {
			return r.releaseClaim(ctx, listingID, fmt.Errorf("profile %s: %w", o.BuyerID, err))
		}
		contenders = append(contenders, &contender{order: o, profile: profile})
	}

	now := time.Now().UTC()
	remaining := listing.Quantity
	unitsSold := int64(0)

	for remaining > 0 && len(contenders) > 0 {
		for _, c := range contenders {
			c.roll = r.roller.Roll(c.profile, c.order, *listing)
		}
		rankContenders(contenders)

		// Settle the highest-ranked contender still PENDING.
		var winner *contender
		for len(contenders) > 0 {
			c := contenders[0]
			err := r.settleUnit(ctx, listing, c)
			if errors.Is(err, errOrderGone) {
				contenders = contenders[1:]
				continue
			}
			if err != nil {
				return r.releaseClaim(ctx, listingID, err)
			}
			winner = c
			contenders = contenders[1:]
			break
		}
		if winner == nil {
			break // every contender was cancelled mid-tick
		}

		remaining--
		unitsSold++
		if err := r.store.SetListingQuantity(ctx, listingID, remaining); err != nil {
			slog.Error("listing quantity update failed after settlement", "listing", listingID, "err", err)
		}

		rolls := []model.Roll{winner.roll}
		for _, c := range contenders {
			rolls = append(rolls, c.roll)
		}
		record := &model.ResolutionRecord{
			ID:             uuid.New().String(),
			ListingID:      listingID,
			ItemID:         listing.ItemID,
			CycleID:        cycleID,
			WinningOrderID: winner.order.ID,
			SalePrice:      winner.order.BidPrice,
			Fee:            r.fees.Fee(winner.order.BidPrice, winner.sellerMerchant),
			Quantity:       1,
			Rolls:          rolls,
			SoldAt:         now,
		}
		if err := r.store.InsertResolution(ctx, record); err != nil {
			slog.Error("resolution record insert failed", "listing", listingID, "err", err)
		}

		r.publisher.Publish(events.Event{
			Type:      events.TypeOrderResolved,
			OrderID:   winner.order.ID,
			ListingID: listingID,
			ItemID:    listing.ItemID,
			AccountID: winner.order.BuyerID,
			Amount:    winner.order.BidPrice,
			CycleID:   cycleID,
			At:        now,
		})
	}

	// Everyone left over lost this listing; their escrow comes back whole.
	for _, c := range contenders {
		if err := r.refundLoser(ctx, c.order); err != nil {
			return r.releaseClaim(ctx, listingID, err)
		}
	}

	if err := r.closeOut(ctx, listing, remaining, unitsSold, cycleID, now); err != nil {
		return err
	}

	metrics.ResolveLatency.Observe(time.Since(start).Seconds())
	return nil
}

// closeOut moves the listing from RESOLVING to its final state for this
// tick and sweeps up orders that slipped in after the pending snapshot.
func (r *Resolver) closeOut(ctx context.Context, listing *model.Listing, remaining, unitsSold, cycleID int64, now time.Time) error {
	listingID := listing.ID

	switch {
	case remaining == 0:
		if err := r.store.TransitionListing(ctx, listingID, model.ListingResolving, model.ListingSold); err != nil {
			return err
		}
		if err := r.store.DeleteStack(ctx, listingID); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Error("stack cleanup failed for sold listing", "listing", listingID, "err", err)
		}
		metrics.ListingsResolved.WithLabelValues("sold").Inc()
		r.publisher.Publish(events.Event{
			Type:      events.TypeListingSold,
			ListingID: listingID,
			ItemID:    listing.ItemID,
			AccountID: listing.SellerID,
			CycleID:   cycleID,
			At:        now,
		})
		slog.Info("listing sold out", "listing", listingID, "cycle", cycleID, "units", unitsSold)

	case !listing.ExpiresAt.After(now):
		// Out of orders and past expiry: remaining units go home.
		if err := r.inventory.Release(ctx, listingID); err != nil {
			return r.releaseClaim(ctx, listingID, err)
		}
		if err := r.store.TransitionListing(ctx, listingID, model.ListingResolving, model.ListingExpired); err != nil {
			return err
		}
		metrics.ListingsResolved.WithLabelValues("expired").Inc()
		metrics.ListingsExpired.Inc()
		r.publisher.Publish(events.Event{
			Type:      events.TypeListingExpired,
			ListingID: listingID,
			ItemID:    listing.ItemID,
			AccountID: listing.SellerID,
			CycleID:   cycleID,
			At:        now,
		})
		slog.Info("listing expired with units unsold", "listing", listingID, "remaining", remaining, "units_sold", unitsSold)

	default:
		// Units remain and the listing has lifetime left: back on the
		// market for the next cycle.
		if err := r.store.TransitionListing(ctx, listingID, model.ListingResolving, model.ListingActive); err != nil {
			return err
		}
	}

	// Orders placed after the pending snapshot never contested a unit;
	// refund them rather than strand their escrow.
	stragglers, err := r.store.PendingOrders(ctx, listingID)
	if err != nil {
		return err
	}
	current, err := r.store.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if current.Status != model.ListingActive {
		for _, o := range stragglers {
			if err := r.refundLoser(ctx, o); err != nil {
				return err
			}
		}
	}
	return nil
}

// releaseClaim puts a RESOLVING listing back to ACTIVE after a failure so
// the next tick can retry, then returns the original error.
func (r *Resolver) releaseClaim(ctx context.Context, listingID string, cause error) error {
	if err := r.store.TransitionListing(ctx, listingID, model.ListingResolving, model.ListingActive); err != nil {
		slog.Error("failed to release resolution claim", "listing", listingID, "err", err)
	}
	return fmt.Errorf("resolve listing %s: %w", listingID, cause)
}

// settleUnit atomically settles one unit to one winner. The sub-steps run
// as a compensating-action sequence: any failure unwinds every step
// already taken, so escrow is never released without the item moving and
// vice versa.
func (r *Resolver) settleUnit(ctx context.Context, listing *model.Listing, c *contender) error {
	order := c.order
	bid := order.BidPrice

	sellerProfile, err := r.profiles.Profile(ctx, listing.SellerID)
	if err != nil {
		return fmt.Errorf("seller profile %s: %w", listing.SellerID, err)
	}
	c.sellerMerchant = sellerProfile.Merchant
	fee := r.fees.Fee(bid, sellerProfile.Merchant)
	proceeds := bid - fee

	// Claim the order first; a concurrent cancel wins if it got there
	// before us, and then this order simply stops contending.
	if err := r.store.TransitionOrder(ctx, order.ID, model.OrderPending, model.OrderWon); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return errOrderGone
		}
		return err
	}

	undo := []func(){
		func() { _ = r.store.TransitionOrder(ctx, order.ID, model.OrderWon, model.OrderPending) },
	}
	fail := func(cause error) error {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return cause
	}

	if err := r.ledger.ReleaseEscrow(ctx, order.BuyerID, bid, ledger.Settle); err != nil {
		return fail(err)
	}
	undo = append(undo, func() { _ = r.ledger.RestoreEscrow(ctx, order.BuyerID, bid) })

	if proceeds > 0 {
		if err := r.ledger.Credit(ctx, listing.SellerID, proceeds); err != nil {
			return fail(err)
		}
		undo = append(undo, func() { _ = r.ledger.Debit(ctx, listing.SellerID, proceeds) })
	}

	if fee > 0 {
		if err := r.ledger.Credit(ctx, r.fees.TreasuryAccount, fee); err != nil {
			return fail(err)
		}
		undo = append(undo, func() { _ = r.ledger.Debit(ctx, r.fees.TreasuryAccount, fee) })
	}

	if err := r.inventory.Transfer(ctx, listing.ID, order.BuyerID, 1); err != nil {
		return fail(err)
	}

	metrics.GoldSettled.Add(float64(proceeds))
	metrics.FeesCollected.Add(float64(fee))
	slog.Info("unit settled",
		"listing", listing.ID,
		"order", order.ID,
		"buyer", order.BuyerID,
		"seller", listing.SellerID,
		"price", bid,
		"fee", fee,
		"roll", c.roll.Total,
		"die", c.roll.Die,
	)
	return nil
}

// refundLoser marks a pending order LOST and returns its escrow in full.
// A concurrent cancel already refunded it, so a transition conflict is
// not an error.
func (r *Resolver) refundLoser(ctx context.Context, o model.BuyOrder) error {
	if err := r.store.TransitionOrder(ctx, o.ID, model.OrderPending, model.OrderLost); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return err
	}
	if err := r.ledger.ReleaseEscrow(ctx, o.BuyerID, o.BidPrice, ledger.Refund); err != nil {
		return err
	}
	metrics.OrdersRefunded.Inc()
	r.publisher.Publish(events.Event{
		Type:      events.TypeOrderRefunded,
		OrderID:   o.ID,
		ListingID: o.ListingID,
		AccountID: o.BuyerID,
		Amount:    o.BidPrice,
		At:        time.Now().UTC(),
	})
	return nil
}

// rankContenders orders by roll total, then bid price, then placement
// time, then order ID. Ties never re-roll; the chain is total so the
// same inputs always rank the same way.
func rankContenders(cs []*contender) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.roll.Total != b.roll.Total {
			return a.roll.Total > b.roll.Total
		}
		if a.order.BidPrice != b.order.BidPrice {
			return a.order.BidPrice > b.order.BidPrice
		}
		if !a.order.PlacedAt.Equal(b.order.PlacedAt) {
			return a.order.PlacedAt.Before(b.order.PlacedAt)
		}
		return a.order.ID < b.order.ID
	})
}
