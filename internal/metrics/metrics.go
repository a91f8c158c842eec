// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ListingsCreated counts listings created.
	ListingsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wyrmgate_listings_created_total",
		Help: "Total sell listings created",
	})

	// ListingsCancelled counts listings cancelled by their seller.
	ListingsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wyrmgate_listings_cancelled_total",
		Help: "Total sell listings cancelled",
	})

	// ListingsExpired counts listings expired with no orders.
	ListingsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wyrmgate_listings_expired_total",
		Help: "Total sell listings expired unsold",
	})

	// OrdersPlaced counts buy orders accepted into the book.
	OrdersPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wyrmgate_orders_placed_total",
		Help: "Total buy orders placed",
	})

	// OrdersRejected counts rejected order placements by reason.
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wyrmgate_orders_rejected_total",
		Help: "Buy orders rejected at placement",
	}, []string{"reason"})

	// OrdersRefunded counts escrow refunds (cancels and losing orders).
	OrdersRefunded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wyrmgate_orders_refunded_total",
		Help: "Buy orders refunded in full",
	})

	// ListingsResolved counts listings the resolver settled, by outcome.
	ListingsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wyrmgate_listings_resolved_total",
		Help: "Listings resolved at cycle boundaries",
	}, []string{"outcome"})

	// GoldSettled tracks gold paid to sellers (net of fees).
	GoldSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wyrmgate_gold_settled_total",
		Help: "Gold credited to sellers from settled sales",
	})

	// FeesCollected tracks market fees credited to the treasury.
	FeesCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wyrmgate_fees_collected_total",
		Help: "Gold collected as market fees",
	})

	// ResolveLatency is the per-listing resolution duration.
	ResolveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wyrmgate_resolve_latency_seconds",
		Help:    "Per-listing resolution latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// QuarantinedListings counts listings parked for manual inspection
	// after repeated resolution failures.
	QuarantinedListings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wyrmgate_quarantined_listings_total",
		Help: "Listings quarantined after repeated resolution failures",
	})

	// CycleID exposes the current auction cycle sequence number.
	CycleID = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wyrmgate_auction_cycle_id",
		Help: "Current auction cycle ID",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wyrmgate_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wyrmgate_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wyrmgate_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the route surface is small and
		// bounded, so cardinality stays manageable.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
