package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	market *service.Market
	log    *zap.Logger
}

func NewHandler(market *service.Market, log *zap.Logger) *Handler {
	return &Handler{market: market, log: log}
}

type tradeRequest struct {
	Trader   string          `json:"trader"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

type wishRequest struct {
	Trader   string          `json:"trader"`
	Name     string          `json:"name"`
	MaxPrice decimal.Decimal `json:"max_price"`
	Quantity int64           `json:"quantity"`
}

type traderRequest struct {
	Trader string `json:"trader"`
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) SellHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/sell"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req tradeRequest
	if !h.decodeTrade(w, r, endpoint, &req) {
		return
	}

	if err := h.market.Sell(r.Context(), req.Trader, req.Name, req.Price, req.Quantity); err != nil {
		h.respondServiceError(w, "POST", endpoint, err)
		return
	}
	h.respond(w, "POST", endpoint, http.StatusOK, map[string]string{"status": "listed"})
}

func (h *Handler) BuyHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/buy"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req tradeRequest
	if !h.decodeTrade(w, r, endpoint, &req) {
		return
	}

	if err := h.market.Buy(r.Context(), req.Trader, req.Name, req.Price, req.Quantity); err != nil {
		h.respondServiceError(w, "POST", endpoint, err)
		return
	}
	h.respond(w, "POST", endpoint, http.StatusOK, map[string]string{"status": "bought"})
}

func (h *Handler) WishHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/wish"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req wishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, "POST", endpoint, http.StatusBadRequest, errBody("malformed JSON body"))
		return
	}
	if msg := validateTrade(req.Trader, req.Name, req.MaxPrice, req.Quantity); msg != "" {
		h.respond(w, "POST", endpoint, http.StatusUnprocessableEntity, errBody(msg))
		return
	}

	if err := h.market.PlaceWish(r.Context(), req.Trader, req.Name, req.MaxPrice, req.Quantity); err != nil {
		h.respondServiceError(w, "POST", endpoint, err)
		return
	}
	h.respond(w, "POST", endpoint, http.StatusCreated, map[string]string{"status": "wish placed"})
}

func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/logout"
	var req traderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Trader == "" {
		h.respond(w, "POST", endpoint, http.StatusBadRequest, errBody("trader is required"))
		return
	}
	if err := h.market.Logout(r.Context(), req.Trader); err != nil {
		h.respondServiceError(w, "POST", endpoint, err)
		return
	}
	h.respond(w, "POST", endpoint, http.StatusOK, map[string]string{"status": "logged out"})
}

func (h *Handler) UnregisterHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/unregister"
	var req traderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Trader == "" {
		h.respond(w, "POST", endpoint, http.StatusBadRequest, errBody("trader is required"))
		return
	}
	if err := h.market.Unregister(r.Context(), req.Trader); err != nil {
		h.respondServiceError(w, "POST", endpoint, err)
		return
	}
	h.respond(w, "POST", endpoint, http.StatusOK, map[string]string{"status": "unregistered"})
}

func (h *Handler) ListItemsHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/items"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	listings, err := h.market.ListAll(r.Context())
	if err != nil {
		h.respondServiceError(w, "GET", endpoint, err)
		return
	}
	if listings == nil {
		listings = []domain.Listing{}
	}
	h.respond(w, "GET", endpoint, http.StatusOK, listings)
}

func (h *Handler) GetStatsHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/traders/{id}/stats"
	trader := mux.Vars(r)["id"]

	stats, err := h.market.GetStats(r.Context(), trader)
	if err != nil {
		h.respondServiceError(w, "GET", endpoint, err)
		return
	}
	h.respond(w, "GET", endpoint, http.StatusOK, stats)
}

func (h *Handler) decodeTrade(w http.ResponseWriter, r *http.Request, endpoint string, req *tradeRequest) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		h.respond(w, "POST", endpoint, http.StatusBadRequest, errBody("malformed JSON body"))
		return false
	}
	if msg := validateTrade(req.Trader, req.Name, req.Price, req.Quantity); msg != "" {
		h.respond(w, "POST", endpoint, http.StatusUnprocessableEntity, errBody(msg))
		return false
	}
	return true
}

func validateTrade(trader, name string, price decimal.Decimal, quantity int64) string {
	if trader == "" {
		return "trader is required"
	}
	if name == "" {
		return "item name is required"
	}
	if price.IsNegative() {
		return "price must be non-negative"
	}
	if quantity <= 0 {
		return "positive quantity required"
	}
	return ""
}

// statusFor maps service errors to HTTP statuses. Business rejections are
// 4xx so callers can tell "your request was invalid" from "the system is
// unavailable".
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotLoggedIn),
		errors.Is(err, domain.ErrWrongPassword):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotRegistered),
		errors.Is(err, domain.ErrItemNotListed),
		errors.Is(err, domain.ErrNoAccount):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyRegistered),
		errors.Is(err, domain.ErrAlreadyLoggedIn),
		errors.Is(err, domain.ErrListingOwnershipConflict),
		errors.Is(err, domain.ErrDuplicateWish),
		errors.Is(err, domain.ErrWishAlreadyClaimed),
		errors.Is(err, domain.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPasswordTooShort),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case domain.IsRejection(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *Handler) respondServiceError(w http.ResponseWriter, method, endpoint string, err error) {
	code := statusFor(err)
	if code == http.StatusServiceUnavailable {
		h.log.Error("request failed", zap.String("endpoint", endpoint), zap.Error(err))
		h.respond(w, method, endpoint, code, errBody("system unavailable"))
		return
	}
	h.respond(w, method, endpoint, code, errBody(err.Error()))
}

func (h *Handler) respond(w http.ResponseWriter, method, endpoint string, code int, payload interface{}) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, payload)
}

func errBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
