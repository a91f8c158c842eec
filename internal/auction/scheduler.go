package auction

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wyrmgate/market-engine/internal/events"
	"github.com/wyrmgate/market-engine/internal/inventory"
	"github.com/wyrmgate/market-engine/internal/metrics"
	"github.com/wyrmgate/market-engine/internal/model"
	"github.com/wyrmgate/market-engine/internal/store"
)

// Status is the scheduler snapshot served by the cycle-status endpoint.
type Status struct {
	CycleID       int64         `json:"cycle_id"`
	StartedAt     time.Time     `json:"started_at"`
	NextTickAt    time.Time     `json:"next_tick_at"`
	TimeRemaining time.Duration `json:"time_remaining_ms"`
	PendingOrders int64         `json:"pending_orders"`
}

// Scheduler is the single ticking process that advances the auction
// cycle and drives resolution. The cycle's ID and start time are durable
// so a restart neither re-runs nor skips a cycle; the tick itself is
// replay-safe because resolution is idempotent per listing.
type Scheduler struct {
	store     store.Store
	resolver  *Resolver
	inventory *inventory.Inventory
	publisher events.Publisher
	period    time.Duration

	maxRetries int
	mu         sync.Mutex
	cycle      model.Cycle
	retries    map[string]int
	quarantine map[string]bool
}

// NewScheduler creates a Scheduler ticking at the given period.
func NewScheduler(st store.Store, res *Resolver, inv *inventory.Inventory, pub events.Publisher, period time.Duration, maxRetries int) *Scheduler {
	return &Scheduler{
		store:      st,
		resolver:   res,
		inventory:  inv,
		publisher:  pub,
		period:     period,
		maxRetries: maxRetries,
		retries:    make(map[string]int),
		quarantine: make(map[string]bool),
	}
}

// Run loads or creates the durable cycle and ticks until ctx is done.
// A cycle that elapsed while the process was down ticks immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.restoreCycle(ctx); err != nil {
		return err
	}
	if err := s.reclaimAbandonedListings(ctx); err != nil {
		return err
	}

	for {
		s.mu.Lock()
		wait := time.Until(s.cycle.StartedAt.Add(s.period))
		s.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			if err := s.Tick(ctx, time.Now().UTC()); err != nil {
				slog.Error("auction tick failed", "err", err)
			}
		}
	}
}

func (s *Scheduler) restoreCycle(ctx context.Context) error {
	c, err := s.store.LoadCycle(ctx)
	if errors.Is(err, store.ErrNotFound) {
		c = &model.Cycle{ID: 1, StartedAt: time.Now().UTC(), Period: s.period}
		if err := s.store.SaveCycle(ctx, *c); err != nil {
			return err
		}
		slog.Info("auction cycle initialized", "cycle", c.ID)
	} else if err != nil {
		return err
	}
	c.Period = s.period

	s.mu.Lock()
	s.cycle = *c
	s.mu.Unlock()
	metrics.CycleID.Set(float64(c.ID))
	slog.Info("auction scheduler running", "cycle", c.ID, "period", s.period)
	return nil
}

// reclaimAbandonedListings returns RESOLVING listings to ACTIVE at
// startup. A crash between the persisted claim and close-out would
// otherwise strand the listing: DueListings only selects ACTIVE, so no
// tick would ever revisit it and its stack and pending escrow would stay
// frozen. The sweep is safe because this scheduler is the only process
// that claims listings and unit settlement compensates on failure, so a
// reclaimed listing simply re-resolves on the next tick.
func (s *Scheduler) reclaimAbandonedListings(ctx context.Context) error {
	stuck, err := s.store.ListingsByStatus(ctx, model.ListingResolving)
	if err != nil {
		return err
	}
	for _, l := range stuck {
		if err := s.store.TransitionListing(ctx, l.ID, model.ListingResolving, model.ListingActive); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return err
		}
		slog.Warn("reclaimed listing abandoned mid-resolution", "listing", l.ID)
	}
	return nil
}

// Tick is one cycle boundary: advance the durable cycle, then walk every
// due listing. The tick is the only place listings resolve; between
// ticks the book only accumulates. Resolution order across listings is
// arbitrary and carries no fairness guarantee.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	next := model.Cycle{ID: s.cycle.ID + 1, StartedAt: now, Period: s.period}
	s.mu.Unlock()

	// Persist the advance before resolving so a crash mid-tick replays
	// this tick's work under the same cycle ID instead of re-running it
	// under a stale one.
	if err := s.store.SaveCycle(ctx, next); err != nil {
		return err
	}
	s.mu.Lock()
	s.cycle = next
	s.mu.Unlock()
	metrics.CycleID.Set(float64(next.ID))

	due, err := s.store.DueListings(ctx, now)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	slog.Info("auction tick", "cycle", next.ID, "due_listings", len(due))

	for _, l := range due {
		if s.isQuarantined(l.ID) {
			continue
		}
		pending, err := s.store.PendingOrders(ctx, l.ID)
		if err != nil {
			slog.Error("pending order lookup failed", "listing", l.ID, "err", err)
			continue
		}

		if len(pending) == 0 {
			s.expireListing(ctx, l, next.ID, now)
			continue
		}

		if err := s.resolver.ResolveListing(ctx, l.ID, next.ID); err != nil {
			s.recordFailure(l.ID, err)
			continue
		}
		s.clearFailures(l.ID)
	}
	return nil
}

// expireListing retires a due listing nobody bid on and returns its
// reserved items to the seller. The guarded transition makes a replayed
// tick a no-op.
func (s *Scheduler) expireListing(ctx context.Context, l model.Listing, cycleID int64, now time.Time) {
	if err := s.store.TransitionListing(ctx, l.ID, model.ListingActive, model.ListingExpired); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			slog.Error("listing expiry failed", "listing", l.ID, "err", err)
		}
		return
	}
	if err := s.inventory.Release(ctx, l.ID); err != nil {
		slog.Error("reservation release failed on expiry", "listing", l.ID, "err", err)
	}
	metrics.ListingsExpired.Inc()
	s.publisher.Publish(events.Event{
		Type:      events.TypeListingExpired,
		ListingID: l.ID,
		ItemID:    l.ItemID,
		AccountID: l.SellerID,
		CycleID:   cycleID,
		At:        now,
	})
	slog.Info("listing expired", "listing", l.ID, "seller", l.SellerID)
}

// recordFailure counts a resolution failure; after maxRetries the listing
// is quarantined so a poisoned listing cannot stall every later tick.
// Quarantine is an operator alert, not a user state.
func (s *Scheduler) recordFailure(listingID string, cause error) {
	s.mu.Lock()
	s.retries[listingID]++
	n := s.retries[listingID]
	if n >= s.maxRetries {
		s.quarantine[listingID] = true
	}
	s.mu.Unlock()

	if n >= s.maxRetries {
		metrics.QuarantinedListings.Inc()
		slog.Error("listing quarantined for manual inspection",
			"listing", listingID,
			"attempts", n,
			"err", cause,
		)
		return
	}
	slog.Error("listing resolution failed, will retry next tick",
		"listing", listingID,
		"attempt", n,
		"err", cause,
	)
}

func (s *Scheduler) clearFailures(listingID string) {
	s.mu.Lock()
	delete(s.retries, listingID)
	s.mu.Unlock()
}

func (s *Scheduler) isQuarantined(listingID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quarantine[listingID]
}

// Status reports the current cycle and order book depth.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	c := s.cycle
	s.mu.Unlock()

	pending, err := s.store.CountPendingOrders(ctx)
	if err != nil {
		return Status{}, err
	}
	next := c.StartedAt.Add(s.period)
	remaining := time.Until(next)
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		CycleID:       c.ID,
		StartedAt:     c.StartedAt,
		NextTickAt:    next,
		TimeRemaining: remaining,
		PendingOrders: pending,
	}, nil
}
