package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// parseUserID extracts the positive user id from the route variables.
func parseUserID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["user_id"]
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUserID, raw)
	}
	return userID, nil
}

// WebSocketHandler upgrades GET /ws/{user_id} and attaches the connection
// to the hub as that user's live connection.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Info("WebSocket upgrade failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	client := NewClient(conn, s.hub, s.dispatcher, userID, r.RemoteAddr, s.cfg, s.logger)
	s.hub.Attach(client)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "relaychat server is running!")
}

type onlineResponse struct {
	Users []int64 `json:"users"`
}

// OnlineHandler lists the users with a live connection.
func (s *Server) OnlineHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(onlineResponse{Users: s.hub.ListConnected()}); err != nil {
		s.logger.Warn("Error writing online users", zap.Error(err))
	}
}
