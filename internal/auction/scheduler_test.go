package auction_test

import (
	"context"
	"testing"
	"time"

	"github.com/wyrmgate/market-engine/internal/auction"
	"github.com/wyrmgate/market-engine/internal/events"
	"github.com/wyrmgate/market-engine/internal/model"
)

func newTestScheduler(e *testEnv, maxRetries int) *auction.Scheduler {
	return auction.NewScheduler(e.store, e.resolver, e.inv, events.Discard{}, 10*time.Minute, maxRetries)
}

func TestTickAdvancesDurableCycle(t *testing.T) {
	e := newTestEnv(t, 1)
	s := newTestScheduler(e, 3)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := s.Tick(ctx, now); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if err := s.Tick(ctx, now.Add(10*time.Minute)); err != nil {
		t.Fatalf("tick: %v", err)
	}

	// The advance is persisted, so a restart picks up where this left off.
	c, err := e.store.LoadCycle(ctx)
	if err != nil {
		t.Fatalf("load cycle: %v", err)
	}
	if c.ID != 2 {
		t.Errorf("cycle = %d, want 2", c.ID)
	}

	st, err := s.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.CycleID != 2 {
		t.Errorf("status cycle = %d, want 2", st.CycleID)
	}
}

func TestTickExpiresUnbidListing(t *testing.T) {
	e := newTestEnv(t, 1)
	s := newTestScheduler(e, 3)
	ctx := context.Background()

	l := e.seedListing(t, "l1", "seller", 100, 2)
	// Push the listing past its lifetime with no orders placed.
	now := l.ExpiresAt.Add(time.Minute)

	if err := s.Tick(ctx, now); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := e.store.GetListing(ctx, "l1")
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if got.Status != model.ListingExpired {
		t.Errorf("listing status = %s, want EXPIRED", got.Status)
	}
	// Reserved items travel home with the expiry.
	q, err := e.inv.Quantity(ctx, "seller", testItem)
	if err != nil || q != 2 {
		t.Errorf("seller quantity = %d (%v), want 2", q, err)
	}
}

func TestTickLeavesQuietListingsAlone(t *testing.T) {
	e := newTestEnv(t, 1)
	s := newTestScheduler(e, 3)
	ctx := context.Background()

	e.seedListing(t, "l1", "seller", 100, 1)

	if err := s.Tick(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := e.store.GetListing(ctx, "l1")
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	// No orders and lifetime remaining: nothing to resolve yet.
	if got.Status != model.ListingActive {
		t.Errorf("listing status = %s, want ACTIVE", got.Status)
	}
}

func TestTickResolvesDueListing(t *testing.T) {
	e := newTestEnv(t, 1)
	s := newTestScheduler(e, 3)
	ctx := context.Background()

	e.seedListing(t, "l1", "seller", 100, 1)
	e.seedOrder(t, "o1", "l1", "buyer", 100, time.Now().UTC())

	if err := s.Tick(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if got := e.orderStatus(t, "o1"); got != model.OrderWon {
		t.Errorf("order status = %s, want WON", got)
	}
}

func TestRestartReclaimsClaimedListing(t *testing.T) {
	e := newTestEnv(t, 1)
	ctx := context.Background()

	// A crash mid-tick leaves the persisted RESOLVING claim behind with
	// the order still pending and its escrow still held.
	e.seedListing(t, "l1", "seller", 100, 1)
	e.seedOrder(t, "o1", "l1", "buyer", 100, time.Now().UTC())
	if err := e.store.TransitionListing(ctx, "l1", model.ListingActive, model.ListingResolving); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Restart: a fresh scheduler sweeps abandoned claims before ticking.
	s := newTestScheduler(e, 3)
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := s.Run(cancelled); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := e.store.GetListing(ctx, "l1")
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if got.Status != model.ListingActive {
		t.Fatalf("listing status after restart = %s, want ACTIVE", got.Status)
	}

	// The reclaimed listing is due again and resolves normally.
	if err := s.Tick(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if e.orderStatus(t, "o1") != model.OrderWon {
		t.Errorf("order did not resolve after reclaim")
	}
	b := e.mustBalance(t, "buyer")
	if b.Escrowed != 0 {
		t.Errorf("buyer escrow still held after reclaim: %d", b.Escrowed)
	}
}

func TestQuarantineAfterRepeatedFailures(t *testing.T) {
	e := newTestEnv(t, 1)
	s := newTestScheduler(e, 2)
	ctx := context.Background()

	// A listing with a pending order but no reserved stack: settlement
	// cannot transfer the item, so resolution fails every tick.
	now := time.Now().UTC()
	broken := &model.Listing{
		ID:        "l-broken",
		SellerID:  "seller",
		ItemID:    testItem,
		ItemType:  "weapon",
		Rarity:    "rare",
		UnitPrice: 100,
		Quantity:  1,
		Status:    model.ListingActive,
		ListedAt:  now,
		ExpiresAt: now.Add(48 * time.Hour),
	}
	if err := e.store.CreateListing(ctx, broken); err != nil {
		t.Fatalf("create listing: %v", err)
	}
	e.seedOrder(t, "o1", "l-broken", "buyer", 100, now)

	// Two failing ticks reach the retry limit.
	for i := 0; i < 2; i++ {
		if err := s.Tick(ctx, now.Add(time.Duration(i)*10*time.Minute)); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	// Failed resolution releases the claim, so the listing is still
	// ACTIVE with its order intact, just off the tick path.
	got, err := e.store.GetListing(ctx, "l-broken")
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if got.Status != model.ListingActive {
		t.Errorf("listing status = %s, want ACTIVE", got.Status)
	}
	if e.orderStatus(t, "o1") != model.OrderPending {
		t.Errorf("order left PENDING state on failed resolution")
	}

	// The buyer's escrow is untouched while the listing awaits an operator.
	b := e.mustBalance(t, "buyer")
	if b.Escrowed != 100 {
		t.Errorf("buyer escrow = %d, want 100", b.Escrowed)
	}

	// A healthy listing still resolves; the quarantined one no longer
	// consumes retries.
	e.seedListing(t, "l-good", "seller2", 50, 1)
	e.seedOrder(t, "o2", "l-good", "buyer2", 50, now)
	if err := s.Tick(ctx, now.Add(30*time.Minute)); err != nil {
		t.Fatalf("tick after quarantine: %v", err)
	}
	if e.orderStatus(t, "o2") != model.OrderWon {
		t.Errorf("healthy listing did not resolve after quarantine")
	}
}
