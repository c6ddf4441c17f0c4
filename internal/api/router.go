package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the REST surface, the websocket session endpoint and the
// operational endpoints onto one router.
func NewRouter(h *Handler, ws *WSHandler, perSecond float64, burst int) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthHandler)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(RateLimitMiddleware(perSecond, burst))
	apiV1.HandleFunc("/ws", ws.Handler())
	apiV1.HandleFunc("/sell", h.SellHandler).Methods("POST")
	apiV1.HandleFunc("/buy", h.BuyHandler).Methods("POST")
	apiV1.HandleFunc("/wish", h.WishHandler).Methods("POST")
	apiV1.HandleFunc("/logout", h.LogoutHandler).Methods("POST")
	apiV1.HandleFunc("/unregister", h.UnregisterHandler).Methods("POST")
	apiV1.HandleFunc("/items", h.ListItemsHandler).Methods("GET")
	apiV1.HandleFunc("/traders/{id}/stats", h.GetStatsHandler).Methods("GET")
	return r
}
