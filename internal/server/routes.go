package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes returns the HTTP handler with every application route.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws/{user_id}", s.WebSocketHandler).Methods(http.MethodGet)
	r.HandleFunc("/online", s.OnlineHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}
