package market

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wyrmgate/market-engine/internal/auction"
	"github.com/wyrmgate/market-engine/internal/identity"
	"github.com/wyrmgate/market-engine/internal/inventory"
	"github.com/wyrmgate/market-engine/internal/item"
	"github.com/wyrmgate/market-engine/internal/ledger"
	"github.com/wyrmgate/market-engine/internal/model"
	"github.com/wyrmgate/market-engine/internal/store"
)

// CycleReporter supplies the cycle-status endpoint. The auction
// scheduler implements it.
type CycleReporter interface {
	Status(ctx context.Context) (auction.Status, error)
}

// Service is the HTTP facade over Market. Every error from the layers
// below surfaces to the caller with a precise reason; nothing is
// swallowed or softened.
type Service struct {
	market *Market
	cycles CycleReporter
}

// NewService creates the facade.
func NewService(m *Market, cycles CycleReporter) *Service {
	return &Service{market: m, cycles: cycles}
}

// Routes mounts the market API onto a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/market/browse", s.BrowseListings)
	r.Post("/market/list", s.ListItem)
	r.Delete("/market/listings/{listingID}", s.CancelListing)
	r.Post("/market/buy", s.PlaceOrder)
	r.Delete("/market/orders/{orderID}", s.CancelOrder)
	r.Get("/market/my-listings", s.MyListings)
	r.Get("/market/my-orders", s.MyOrders)
	r.Get("/market/cycle-status", s.CycleStatus)
	r.Get("/market/price-history", s.PriceHistory)
	r.Get("/market/results", s.Results)
	r.Get("/market/trends", s.Trends)
}

// --- Request/response types ---

// ListItemRequest is the JSON body for POST /market/list.
type ListItemRequest struct {
	ItemID    string `json:"item_id"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int64  `json:"quantity"`
}

// BuyRequest is the JSON body for POST /market/buy.
type BuyRequest struct {
	ListingID string `json:"listing_id"`
	BidPrice  int64  `json:"bid_price"`
}

// BrowseResponse is the paginated browse result.
type BrowseResponse struct {
	Listings []model.Listing `json:"listings"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	Limit    int             `json:"limit"`
}

// --- Handlers ---

// ListItem handles POST /api/v1/market/list.
func (s *Service) ListItem(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.FromRequest(r)
	if err != nil {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	var req ListItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ItemID == "" {
		writeError(w, "item_id is required", http.StatusBadRequest)
		return
	}
	if req.UnitPrice <= 0 {
		writeError(w, "unit_price must be positive", http.StatusBadRequest)
		return
	}
	if req.Quantity <= 0 {
		writeError(w, "quantity must be positive", http.StatusBadRequest)
		return
	}

	listing, err := s.market.ListItem(r.Context(), caller, req.ItemID, req.UnitPrice, req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

// CancelListing handles DELETE /api/v1/market/listings/{listingID}.
func (s *Service) CancelListing(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.FromRequest(r)
	if err != nil {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	listingID := chi.URLParam(r, "listingID")
	if err := s.market.CancelListing(r.Context(), listingID, caller); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// PlaceOrder handles POST /api/v1/market/buy.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.FromRequest(r)
	if err != nil {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ListingID == "" {
		writeError(w, "listing_id is required", http.StatusBadRequest)
		return
	}
	if req.BidPrice <= 0 {
		writeError(w, "bid_price must be positive", http.StatusBadRequest)
		return
	}

	order, err := s.market.PlaceOrder(r.Context(), caller, req.ListingID, req.BidPrice)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// CancelOrder handles DELETE /api/v1/market/orders/{orderID}.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.FromRequest(r)
	if err != nil {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	orderID := chi.URLParam(r, "orderID")
	if err := s.market.CancelOrder(r.Context(), orderID, caller); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// BrowseListings handles GET /api/v1/market/browse.
func (s *Service) BrowseListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ListingFilter{
		Search:   q.Get("search"),
		ItemType: q.Get("type"),
		Rarity:   q.Get("rarity"),
		MinPrice: parseInt64(q.Get("min_price")),
		MaxPrice: parseInt64(q.Get("max_price")),
		Sort:     q.Get("sort"),
		Page:     int(parseInt64(q.Get("page"))),
		Limit:    int(parseInt64(q.Get("limit"))),
	}
	if f.ItemType != "" && !item.ValidType(f.ItemType) {
		writeError(w, "unknown item type: "+f.ItemType, http.StatusBadRequest)
		return
	}
	if f.Rarity != "" && !item.ValidRarity(f.Rarity) {
		writeError(w, "unknown rarity: "+f.Rarity, http.StatusBadRequest)
		return
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 200 {
		f.Limit = 50
	}

	listings, total, err := s.market.Browse(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if listings == nil {
		listings = []model.Listing{}
	}
	writeJSON(w, http.StatusOK, BrowseResponse{
		Listings: listings,
		Total:    total,
		Page:     f.Page,
		Limit:    f.Limit,
	})
}

// MyListings handles GET /api/v1/market/my-listings.
func (s *Service) MyListings(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.FromRequest(r)
	if err != nil {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	listings, err := s.market.MyListings(r.Context(), caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if listings == nil {
		listings = []model.Listing{}
	}
	writeJSON(w, http.StatusOK, listings)
}

// MyOrders handles GET /api/v1/market/my-orders.
func (s *Service) MyOrders(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.FromRequest(r)
	if err != nil {
		writeError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	orders, err := s.market.MyOrders(r.Context(), caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if orders == nil {
		orders = []model.BuyOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// CycleStatus handles GET /api/v1/market/cycle-status.
func (s *Service) CycleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.cycles.Status(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cycle_id":          status.CycleID,
		"started_at":        status.StartedAt,
		"next_tick_at":      status.NextTickAt,
		"time_remaining_ms": status.TimeRemaining.Milliseconds(),
		"pending_orders":    status.PendingOrders,
	})
}

// PriceHistory handles GET /api/v1/market/price-history?item_id=...
func (s *Service) PriceHistory(w http.ResponseWriter, r *http.Request) {
	itemID := r.URL.Query().Get("item_id")
	if itemID == "" {
		writeError(w, "item_id is required", http.StatusBadRequest)
		return
	}
	limit := int(parseInt64(r.URL.Query().Get("limit")))
	if limit < 1 || limit > 500 {
		limit = 100
	}
	records, err := s.market.PriceHistory(r.Context(), itemID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []model.ResolutionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Results handles GET /api/v1/market/results.
func (s *Service) Results(w http.ResponseWriter, r *http.Request) {
	limit := int(parseInt64(r.URL.Query().Get("limit")))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	records, err := s.market.RecentResults(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []model.ResolutionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Trends handles GET /api/v1/market/trends.
func (s *Service) Trends(w http.ResponseWriter, r *http.Request) {
	trends, err := s.market.Trends(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if trends == nil {
		trends = []ItemTrend{}
	}
	writeJSON(w, http.StatusOK, trends)
}

// --- Helpers ---

// writeDomainError maps engine errors onto HTTP statuses. User-input
// failures come back 4xx with the sentinel's message; an invariant
// violation is logged loudly and reported as a bare 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvariantViolation):
		slog.Error("ledger invariant violated", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	case errors.Is(err, ErrNotOwner):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, item.ErrInvalidRef),
		errors.Is(err, item.ErrInvalidType),
		errors.Is(err, item.ErrInvalidRarity):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrBidTooLow),
		errors.Is(err, ErrSelfTrade),
		errors.Is(err, ErrInvalidListing),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, inventory.ErrInsufficientItems):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
