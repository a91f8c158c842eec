package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wyrmgate/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	balances    map[string]*model.Balance
	items       map[string]int64 // accountID + "\x00" + itemID → qty
	stacks      map[string]*model.ItemStack
	listings    map[string]*model.Listing
	orders      map[string]*model.BuyOrder
	resolutions []model.ResolutionRecord
	cycle       *model.Cycle
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*model.Balance),
		items:    make(map[string]int64),
		stacks:   make(map[string]*model.ItemStack),
		listings: make(map[string]*model.Listing),
		orders:   make(map[string]*model.BuyOrder),
	}
}

func itemKey(accountID, itemID string) string { return accountID + "\x00" + itemID }

// --- Gold balances ---

func (s *MemoryStore) GetBalance(_ context.Context, accountID string) (model.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.balances[accountID]; ok {
		return *b, nil
	}
	return model.Balance{AccountID: accountID}, nil
}

func (s *MemoryStore) AdjustBalance(_ context.Context, accountID string, availableDelta, escrowedDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[accountID]
	if !ok {
		b = &model.Balance{AccountID: accountID}
		s.balances[accountID] = b
	}
	if b.Available+availableDelta < 0 || b.Escrowed+escrowedDelta < 0 {
		return ErrShortBalance
	}
	b.Available += availableDelta
	b.Escrowed += escrowedDelta
	return nil
}

// --- Item inventory ---

func (s *MemoryStore) ItemQuantity(_ context.Context, accountID, itemID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[itemKey(accountID, itemID)], nil
}

func (s *MemoryStore) AdjustItem(_ context.Context, accountID, itemID string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := itemKey(accountID, itemID)
	if s.items[key]+delta < 0 {
		return ErrShortBalance
	}
	s.items[key] += delta
	return nil
}

func (s *MemoryStore) CreateStack(_ context.Context, stack *model.ItemStack) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.stacks[stack.ListingID]; exists {
		return ErrConflict
	}
	copy := *stack
	s.stacks[stack.ListingID] = &copy
	return nil
}

func (s *MemoryStore) StackByListing(_ context.Context, listingID string) (*model.ItemStack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stacks[listingID]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *st
	return &copy, nil
}

func (s *MemoryStore) AdjustStack(_ context.Context, listingID string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stacks[listingID]
	if !ok {
		return ErrNotFound
	}
	if st.Quantity+delta < 0 {
		return ErrShortBalance
	}
	st.Quantity += delta
	return nil
}

func (s *MemoryStore) DeleteStack(_ context.Context, listingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.stacks[listingID]; !ok {
		return ErrNotFound
	}
	delete(s.stacks, listingID)
	return nil
}

// --- Listings ---

func (s *MemoryStore) CreateListing(_ context.Context, l *model.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.listings[l.ID]; exists {
		return ErrConflict
	}
	copy := *l
	s.listings[l.ID] = &copy
	return nil
}

func (s *MemoryStore) GetListing(_ context.Context, id string) (*model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *l
	return &copy, nil
}

func (s *MemoryStore) BrowseListings(_ context.Context, f ListingFilter) ([]model.Listing, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.Listing
	for _, l := range s.listings {
		if l.Status != model.ListingActive {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(l.ItemID), strings.ToLower(f.Search)) {
			continue
		}
		if f.ItemType != "" && l.ItemType != f.ItemType {
			continue
		}
		if f.Rarity != "" && l.Rarity != f.Rarity {
			continue
		}
		if f.MinPrice > 0 && l.UnitPrice < f.MinPrice {
			continue
		}
		if f.MaxPrice > 0 && l.UnitPrice > f.MaxPrice {
			continue
		}
		matched = append(matched, *l)
	}

	sortListings(matched, f.Sort)
	total := len(matched)

	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	start := (page - 1) * limit
	if start >= total {
		return []model.Listing{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func sortListings(ls []model.Listing, key string) {
	sort.SliceStable(ls, func(i, j int) bool {
		a, b := ls[i], ls[j]
		switch key {
		case "price_asc":
			if a.UnitPrice != b.UnitPrice {
				return a.UnitPrice < b.UnitPrice
			}
		case "price_desc":
			if a.UnitPrice != b.UnitPrice {
				return a.UnitPrice > b.UnitPrice
			}
		case "expiry":
			if !a.ExpiresAt.Equal(b.ExpiresAt) {
				return a.ExpiresAt.Before(b.ExpiresAt)
			}
		default: // newest first
			if !a.ListedAt.Equal(b.ListedAt) {
				return a.ListedAt.After(b.ListedAt)
			}
		}
		return a.ID < b.ID
	})
}

func (s *MemoryStore) ListingsBySeller(_ context.Context, sellerID string) ([]model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Listing
	for _, l := range s.listings {
		if l.SellerID == sellerID {
			result = append(result, *l)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ListedAt.After(result[j].ListedAt) })
	return result, nil
}

func (s *MemoryStore) ListingsByStatus(_ context.Context, status model.ListingStatus) ([]model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Listing
	for _, l := range s.listings {
		if l.Status == status {
			result = append(result, *l)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) TransitionListing(_ context.Context, id string, from, to model.ListingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return ErrNotFound
	}
	if l.Status != from {
		return ErrConflict
	}
	l.Status = to
	return nil
}

func (s *MemoryStore) SetListingQuantity(_ context.Context, id string, quantity int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return ErrNotFound
	}
	l.Quantity = quantity
	return nil
}

func (s *MemoryStore) DueListings(_ context.Context, now time.Time) ([]model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make(map[string]bool)
	for _, o := range s.orders {
		if o.Status == model.OrderPending {
			pending[o.ListingID] = true
		}
	}

	var due []model.Listing
	for _, l := range s.listings {
		if l.Status != model.ListingActive {
			continue
		}
		if !l.ExpiresAt.After(now) || pending[l.ID] {
			due = append(due, *l)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

// --- Buy orders ---

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.BuyOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return ErrConflict
	}
	copy := *o
	s.orders[o.ID] = &copy
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.BuyOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *o
	return &copy, nil
}

func (s *MemoryStore) TransitionOrder(_ context.Context, id string, from, to model.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return ErrConflict
	}
	o.Status = to
	return nil
}

func (s *MemoryStore) PendingOrders(_ context.Context, listingID string) ([]model.BuyOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.BuyOrder
	for _, o := range s.orders {
		if o.ListingID == listingID && o.Status == model.OrderPending {
			result = append(result, *o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].PlacedAt.Equal(result[j].PlacedAt) {
			return result[i].PlacedAt.Before(result[j].PlacedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryStore) OrdersByBuyer(_ context.Context, buyerID string) ([]model.BuyOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.BuyOrder
	for _, o := range s.orders {
		if o.BuyerID == buyerID {
			result = append(result, *o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PlacedAt.After(result[j].PlacedAt) })
	return result, nil
}

func (s *MemoryStore) CountPendingOrders(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, o := range s.orders {
		if o.Status == model.OrderPending {
			n++
		}
	}
	return n, nil
}

// --- Resolution records ---

func (s *MemoryStore) InsertResolution(_ context.Context, r *model.ResolutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resolutions = append(s.resolutions, *r)
	return nil
}

func (s *MemoryStore) ResolutionsByItem(_ context.Context, itemID string, limit int) ([]model.ResolutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ResolutionRecord
	for i := len(s.resolutions) - 1; i >= 0; i-- {
		if s.resolutions[i].ItemID == itemID {
			result = append(result, s.resolutions[i])
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (s *MemoryStore) RecentResolutions(_ context.Context, limit int) ([]model.ResolutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ResolutionRecord
	for i := len(s.resolutions) - 1; i >= 0; i-- {
		result = append(result, s.resolutions[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) ResolutionsSince(_ context.Context, since time.Time) ([]model.ResolutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ResolutionRecord
	for _, r := range s.resolutions {
		if !r.SoldAt.Before(since) {
			result = append(result, r)
		}
	}
	return result, nil
}

// --- Auction cycle ---

func (s *MemoryStore) LoadCycle(_ context.Context) (*model.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cycle == nil {
		return nil, ErrNotFound
	}
	copy := *s.cycle
	return &copy, nil
}

func (s *MemoryStore) SaveCycle(_ context.Context, c model.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycle = &c
	return nil
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)
