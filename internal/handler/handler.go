package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oakmart/storefront/internal/metrics"
	"github.com/oakmart/storefront/internal/middleware"
	"github.com/oakmart/storefront/internal/service"
)

type Deps struct {
	OrderService  *service.OrderService
	CouponService *service.CouponService
	Metrics       *metrics.Metrics
	HealthCheck   func(r *http.Request) error
}

type Handler struct {
	orders  *service.OrderService
	coupons *service.CouponService
	metrics *metrics.Metrics
	health  func(r *http.Request) error
}

func New(deps Deps) *Handler {
	return &Handler{
		orders:  deps.OrderService,
		coupons: deps.CouponService,
		metrics: deps.Metrics,
		health:  deps.HealthCheck,
	}
}

// Router builds the HTTP surface of the service.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover)
	r.Use(middleware.Logging)
	if h.metrics != nil {
		r.Use(h.requestMetrics)
	}

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.PlaceOrder)
		r.Get("/{orderNumber}", h.GetOrder)
	})

	r.Route("/coupons", func(r chi.Router) {
		r.Post("/validate", h.ValidateCoupon)
		r.Post("/redeem", h.RedeemCoupon)
		r.Post("/revert", h.RevertCoupon)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/coupons", h.CreateCoupon)
	})

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (h *Handler) requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		h.metrics.Requests.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
		h.metrics.LatencyMS.WithLabelValues(pattern).Observe(float64(time.Since(start).Milliseconds()))
	})
}
