package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter builds the API router. /health is always open; every other route
// sits behind the API key when one is configured.
func NewRouter(h *Handlers) *mux.Router {
	app := h.App
	r := mux.NewRouter()
	r.Use(RequestID)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	if app.APIKey != "" {
		api.Use(RequireAPIKey(app.APIKey, app.Codec, app.Log))
	}

	var selection http.Handler = http.HandlerFunc(h.TestEndpoints)
	if app.Metrics != nil {
		selection = app.Metrics.Instrument(selection)
	}
	api.Handle("/test-endpoints", selection).Methods(http.MethodPost)
	api.HandleFunc("/history", h.History).Methods(http.MethodGet)
	api.HandleFunc("/history/stats", h.HistoryStats).Methods(http.MethodGet)
	api.HandleFunc("/history/{id}", h.HistoryEntry).Methods(http.MethodGet)

	if app.MetricsOnAPI && app.Metrics != nil {
		api.Handle("/metrics", app.Metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

// NewMetricsRouter builds the router for the standalone metrics listener.
func NewMetricsRouter(h *Handlers) *mux.Router {
	app := h.App
	r := mux.NewRouter()
	if app.APIKey != "" {
		r.Use(RequireAPIKey(app.APIKey, app.Codec, app.Log))
	}
	r.Handle("/metrics", app.Metrics.Handler()).Methods(http.MethodGet)
	return r
}
