// internal/handlers/rooms.go
package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// createRoomRequest is the body for private room creation. Zero budget means
// the server default.
type createRoomRequest struct {
	BudgetMs int64 `json:"budgetMs,omitempty"`
}

type createRoomResponse struct {
	RoomCode string `json:"roomCode"`
	BudgetMs int64  `json:"budgetMs"`
}

// CreateRoomHandler makes an empty private room. Anyone may create one; the
// reservation check happens when a color is claimed over the websocket.
func CreateRoomHandler(srv *SessionServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}

		var req createRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			http.Error(w, "bad room request payload", http.StatusBadRequest)
			return
		}

		budget := srv.DefaultBudget
		if req.BudgetMs > 0 {
			budget = time.Duration(req.BudgetMs) * time.Millisecond
		}

		sess, err := srv.Registry.Create(budget)
		if err != nil {
			http.Error(w, "could not create room", http.StatusInternalServerError)
			return
		}
		srv.attachBroadcast(sess)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(createRoomResponse{
			RoomCode: sess.Code,
			BudgetMs: budget.Milliseconds(),
		})
	}
}

// RoomInfoHandler reports the public snapshot of a room, for lobby pages
// that want to show state before opening a socket.
func RoomInfoHandler(srv *SessionServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}
		sess, err := srv.Registry.Get(code)
		if err != nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sess.SnapshotFor())
	}
}

// HealthHandler is the liveness probe.
func HealthHandler(srv *SessionServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "ok",
			"sessions": srv.Registry.Count(),
			"finished": srv.Registry.Finished(),
		})
	}
}
