package routers

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cr0ssing/iota-local-gtta/handlers"
)

// RegisterRoutes sets up all the HTTP routes of the service
func RegisterRoutes(r *mux.Router, h *handlers.Handler, gatherer prometheus.Gatherer) {

	// Selects a trunk and branch from the local tangle replica
	r.HandleFunc("/tips", h.GetTips).Methods("GET")
	r.HandleFunc("/gtta", h.GetTips).Methods("GET")

	// Replica size and the last milestone checkpoint
	r.HandleFunc("/status", h.Status).Methods("GET")

	r.HandleFunc("/health", h.Health).Methods("GET")

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
}
