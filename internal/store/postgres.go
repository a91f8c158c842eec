package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wyrmgate/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Gold and quantities are BIGINT; guarded updates rely on CHECK-style
// predicates in the UPDATE itself so every adjustment is a single atomic
// statement.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the engine's tables when missing, so a fresh
// database needs no out-of-band migration step.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS balances (
	account_id TEXT PRIMARY KEY,
	available  BIGINT NOT NULL DEFAULT 0 CHECK (available >= 0),
	escrowed   BIGINT NOT NULL DEFAULT 0 CHECK (escrowed >= 0)
);
CREATE TABLE IF NOT EXISTS items (
	account_id TEXT NOT NULL,
	item_id    TEXT NOT NULL,
	quantity   BIGINT NOT NULL DEFAULT 0 CHECK (quantity >= 0),
	PRIMARY KEY (account_id, item_id)
);
CREATE TABLE IF NOT EXISTS stacks (
	listing_id TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	item_id    TEXT NOT NULL,
	quantity   BIGINT NOT NULL CHECK (quantity >= 0)
);
CREATE TABLE IF NOT EXISTS listings (
	id         TEXT PRIMARY KEY,
	seller_id  TEXT NOT NULL,
	item_id    TEXT NOT NULL,
	item_type  TEXT NOT NULL,
	rarity     TEXT NOT NULL,
	unit_price BIGINT NOT NULL CHECK (unit_price > 0),
	quantity   BIGINT NOT NULL CHECK (quantity >= 0),
	status     TEXT NOT NULL,
	listed_at  TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_listings_status ON listings (status, expires_at);
CREATE INDEX IF NOT EXISTS idx_listings_seller ON listings (seller_id);
CREATE TABLE IF NOT EXISTS orders (
	id         TEXT PRIMARY KEY,
	listing_id TEXT NOT NULL REFERENCES listings (id),
	buyer_id   TEXT NOT NULL,
	bid_price  BIGINT NOT NULL CHECK (bid_price > 0),
	status     TEXT NOT NULL,
	placed_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_listing ON orders (listing_id, status);
CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders (buyer_id);
CREATE TABLE IF NOT EXISTS resolutions (
	id               TEXT PRIMARY KEY,
	listing_id       TEXT NOT NULL,
	item_id          TEXT NOT NULL,
	cycle_id         BIGINT NOT NULL,
	winning_order_id TEXT NOT NULL DEFAULT '',
	sale_price       BIGINT NOT NULL,
	fee              BIGINT NOT NULL,
	quantity         BIGINT NOT NULL,
	rolls            JSONB NOT NULL DEFAULT '[]',
	sold_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_resolutions_item ON resolutions (item_id, sold_at DESC);
CREATE INDEX IF NOT EXISTS idx_resolutions_time ON resolutions (sold_at DESC);
CREATE TABLE IF NOT EXISTS auction_cycle (
	singleton  BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
	cycle_id   BIGINT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL
);`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// --- Gold balances ---

func (s *PostgresStore) GetBalance(ctx context.Context, accountID string) (model.Balance, error) {
	b := model.Balance{AccountID: accountID}
	err := s.pool.QueryRow(ctx,
		`SELECT available, escrowed FROM balances WHERE account_id = $1`, accountID).
		Scan(&b.Available, &b.Escrowed)
	if errors.Is(err, pgx.ErrNoRows) {
		return b, nil
	}
	if err != nil {
		return b, fmt.Errorf("get balance %s: %w", accountID, err)
	}
	return b, nil
}

func (s *PostgresStore) AdjustBalance(ctx context.Context, accountID string, availableDelta, escrowedDelta int64) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO balances (account_id) VALUES ($1) ON CONFLICT DO NOTHING`, accountID); err != nil {
		return fmt.Errorf("ensure balance %s: %w", accountID, err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE balances
		 SET available = available + $2, escrowed = escrowed + $3
		 WHERE account_id = $1
		   AND available + $2 >= 0
		   AND escrowed + $3 >= 0`,
		accountID, availableDelta, escrowedDelta)
	if err != nil {
		return fmt.Errorf("adjust balance %s: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrShortBalance
	}
	return nil
}

// --- Item inventory ---

func (s *PostgresStore) ItemQuantity(ctx context.Context, accountID, itemID string) (int64, error) {
	var qty int64
	err := s.pool.QueryRow(ctx,
		`SELECT quantity FROM items WHERE account_id = $1 AND item_id = $2`, accountID, itemID).
		Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("item quantity %s/%s: %w", accountID, itemID, err)
	}
	return qty, nil
}

func (s *PostgresStore) AdjustItem(ctx context.Context, accountID, itemID string, delta int64) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO items (account_id, item_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		accountID, itemID); err != nil {
		return fmt.Errorf("ensure item row %s/%s: %w", accountID, itemID, err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET quantity = quantity + $3
		 WHERE account_id = $1 AND item_id = $2 AND quantity + $3 >= 0`,
		accountID, itemID, delta)
	if err != nil {
		return fmt.Errorf("adjust item %s/%s: %w", accountID, itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrShortBalance
	}
	return nil
}

func (s *PostgresStore) CreateStack(ctx context.Context, stack *model.ItemStack) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO stacks (listing_id, owner_id, item_id, quantity)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		stack.ListingID, stack.OwnerID, stack.ItemID, stack.Quantity)
	if err != nil {
		return fmt.Errorf("create stack %s: %w", stack.ListingID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) StackByListing(ctx context.Context, listingID string) (*model.ItemStack, error) {
	st := model.ItemStack{ListingID: listingID}
	err := s.pool.QueryRow(ctx,
		`SELECT owner_id, item_id, quantity FROM stacks WHERE listing_id = $1`, listingID).
		Scan(&st.OwnerID, &st.ItemID, &st.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stack %s: %w", listingID, err)
	}
	return &st, nil
}

func (s *PostgresStore) AdjustStack(ctx context.Context, listingID string, delta int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE stacks SET quantity = quantity + $2
		 WHERE listing_id = $1 AND quantity + $2 >= 0`,
		listingID, delta)
	if err != nil {
		return fmt.Errorf("adjust stack %s: %w", listingID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM stacks WHERE listing_id = $1)`, listingID).Scan(&exists); err != nil {
			return fmt.Errorf("adjust stack %s: %w", listingID, err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrShortBalance
	}
	return nil
}

func (s *PostgresStore) DeleteStack(ctx context.Context, listingID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stacks WHERE listing_id = $1`, listingID)
	if err != nil {
		return fmt.Errorf("delete stack %s: %w", listingID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Listings ---

const listingColumns = `id, seller_id, item_id, item_type, rarity, unit_price, quantity, status, listed_at, expires_at`

func (s *PostgresStore) CreateListing(ctx context.Context, l *model.Listing) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO listings (`+listingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.SellerID, l.ItemID, l.ItemType, l.Rarity,
		l.UnitPrice, l.Quantity, string(l.Status), l.ListedAt, l.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create listing %s: %w", l.ID, err)
	}
	return nil
}

func scanListing(row pgx.Row) (*model.Listing, error) {
	var l model.Listing
	var status string
	if err := row.Scan(&l.ID, &l.SellerID, &l.ItemID, &l.ItemType, &l.Rarity,
		&l.UnitPrice, &l.Quantity, &status, &l.ListedAt, &l.ExpiresAt); err != nil {
		return nil, err
	}
	l.Status = model.ListingStatus(status)
	return &l, nil
}

func (s *PostgresStore) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	l, err := scanListing(s.pool.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get listing %s: %w", id, err)
	}
	return l, nil
}

func (s *PostgresStore) BrowseListings(ctx context.Context, f ListingFilter) ([]model.Listing, int, error) {
	where := `WHERE status = 'ACTIVE'`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Search != "" {
		where += ` AND item_id ILIKE ` + arg("%"+f.Search+"%")
	}
	if f.ItemType != "" {
		where += ` AND item_type = ` + arg(f.ItemType)
	}
	if f.Rarity != "" {
		where += ` AND rarity = ` + arg(f.Rarity)
	}
	if f.MinPrice > 0 {
		where += ` AND unit_price >= ` + arg(f.MinPrice)
	}
	if f.MaxPrice > 0 {
		where += ` AND unit_price <= ` + arg(f.MaxPrice)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM listings `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count listings: %w", err)
	}

	order := `ORDER BY listed_at DESC, id`
	switch f.Sort {
	case "price_asc":
		order = `ORDER BY unit_price ASC, id`
	case "price_desc":
		order = `ORDER BY unit_price DESC, id`
	case "expiry":
		order = `ORDER BY expires_at ASC, id`
	}

	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM listings %s %s LIMIT %d OFFSET %d`,
		listingColumns, where, order, limit, (page-1)*limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("browse listings: %w", err)
	}
	defer rows.Close()

	listings, err := collectListings(rows)
	if err != nil {
		return nil, 0, err
	}
	return listings, total, nil
}

func collectListings(rows pgx.Rows) ([]model.Listing, error) {
	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) ListingsBySeller(ctx context.Context, sellerID string) ([]model.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE seller_id = $1 ORDER BY listed_at DESC, id`,
		sellerID)
	if err != nil {
		return nil, fmt.Errorf("listings by seller %s: %w", sellerID, err)
	}
	defer rows.Close()
	return collectListings(rows)
}

func (s *PostgresStore) ListingsByStatus(ctx context.Context, status model.ListingStatus) ([]model.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE status = $1 ORDER BY id`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("listings by status %s: %w", status, err)
	}
	defer rows.Close()
	return collectListings(rows)
}

func (s *PostgresStore) TransitionListing(ctx context.Context, id string, from, to model.ListingStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("transition listing %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM listings WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("transition listing %s: %w", id, err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) SetListingQuantity(ctx context.Context, id string, quantity int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings SET quantity = $2 WHERE id = $1`, id, quantity)
	if err != nil {
		return fmt.Errorf("set listing quantity %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DueListings(ctx context.Context, now time.Time) ([]model.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingColumns+` FROM listings l
		 WHERE l.status = 'ACTIVE'
		   AND (l.expires_at <= $1
		        OR EXISTS (SELECT 1 FROM orders o
		                   WHERE o.listing_id = l.id AND o.status = 'PENDING'))
		 ORDER BY l.id`, now)
	if err != nil {
		return nil, fmt.Errorf("due listings: %w", err)
	}
	defer rows.Close()
	return collectListings(rows)
}

// --- Buy orders ---

const orderColumns = `id, listing_id, buyer_id, bid_price, status, placed_at`

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.BuyOrder) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (`+orderColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.ListingID, o.BuyerID, o.BidPrice, string(o.Status), o.PlacedAt)
	if err != nil {
		return fmt.Errorf("create order %s: %w", o.ID, err)
	}
	return nil
}

func scanOrder(row pgx.Row) (*model.BuyOrder, error) {
	var o model.BuyOrder
	var status string
	if err := row.Scan(&o.ID, &o.ListingID, &o.BuyerID, &o.BidPrice, &status, &o.PlacedAt); err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	return &o, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.BuyOrder, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (s *PostgresStore) TransitionOrder(ctx context.Context, id string, from, to model.OrderStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("transition order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("transition order %s: %w", id, err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func collectOrders(rows pgx.Rows) ([]model.BuyOrder, error) {
	var orders []model.BuyOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) PendingOrders(ctx context.Context, listingID string) ([]model.BuyOrder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE listing_id = $1 AND status = 'PENDING'
		 ORDER BY placed_at, id`, listingID)
	if err != nil {
		return nil, fmt.Errorf("pending orders %s: %w", listingID, err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *PostgresStore) OrdersByBuyer(ctx context.Context, buyerID string) ([]model.BuyOrder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE buyer_id = $1 ORDER BY placed_at DESC, id`,
		buyerID)
	if err != nil {
		return nil, fmt.Errorf("orders by buyer %s: %w", buyerID, err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *PostgresStore) CountPendingOrders(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE status = 'PENDING'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending orders: %w", err)
	}
	return n, nil
}

// --- Resolution records ---

const resolutionColumns = `id, listing_id, item_id, cycle_id, winning_order_id, sale_price, fee, quantity, rolls, sold_at`

func (s *PostgresStore) InsertResolution(ctx context.Context, r *model.ResolutionRecord) error {
	rolls, err := json.Marshal(r.Rolls)
	if err != nil {
		return fmt.Errorf("marshal rolls for %s: %w", r.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO resolutions (`+resolutionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.ListingID, r.ItemID, r.CycleID, r.WinningOrderID,
		r.SalePrice, r.Fee, r.Quantity, rolls, r.SoldAt)
	if err != nil {
		return fmt.Errorf("insert resolution %s: %w", r.ID, err)
	}
	return nil
}

func collectResolutions(rows pgx.Rows) ([]model.ResolutionRecord, error) {
	var records []model.ResolutionRecord
	for rows.Next() {
		var r model.ResolutionRecord
		var rolls []byte
		if err := rows.Scan(&r.ID, &r.ListingID, &r.ItemID, &r.CycleID, &r.WinningOrderID,
			&r.SalePrice, &r.Fee, &r.Quantity, &rolls, &r.SoldAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rolls, &r.Rolls); err != nil {
			return nil, fmt.Errorf("unmarshal rolls for %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) ResolutionsByItem(ctx context.Context, itemID string, limit int) ([]model.ResolutionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resolutionColumns+` FROM resolutions
		 WHERE item_id = $1 ORDER BY sold_at DESC, id LIMIT $2`, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("resolutions by item %s: %w", itemID, err)
	}
	defer rows.Close()
	return collectResolutions(rows)
}

func (s *PostgresStore) RecentResolutions(ctx context.Context, limit int) ([]model.ResolutionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resolutionColumns+` FROM resolutions ORDER BY sold_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent resolutions: %w", err)
	}
	defer rows.Close()
	return collectResolutions(rows)
}

func (s *PostgresStore) ResolutionsSince(ctx context.Context, since time.Time) ([]model.ResolutionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resolutionColumns+` FROM resolutions WHERE sold_at >= $1 ORDER BY sold_at, id`, since)
	if err != nil {
		return nil, fmt.Errorf("resolutions since %s: %w", since, err)
	}
	defer rows.Close()
	return collectResolutions(rows)
}

// --- Auction cycle ---

func (s *PostgresStore) LoadCycle(ctx context.Context) (*model.Cycle, error) {
	var c model.Cycle
	err := s.pool.QueryRow(ctx,
		`SELECT cycle_id, started_at FROM auction_cycle WHERE singleton`).
		Scan(&c.ID, &c.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load cycle: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) SaveCycle(ctx context.Context, c model.Cycle) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auction_cycle (singleton, cycle_id, started_at)
		 VALUES (TRUE, $1, $2)
		 ON CONFLICT (singleton) DO UPDATE SET cycle_id = $1, started_at = $2`,
		c.ID, c.StartedAt)
	if err != nil {
		return fmt.Errorf("save cycle: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)
