// internal/handlers/room.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/statroom/statroom/internal/engine"
	"github.com/statroom/statroom/internal/room"
)

// RoomAPI is the request/response collaborator channel for rooms, used by
// clients to create and validate a room code before opening the socket.
// Mutations go through the engine so they share the per-room serialization
// with the live protocol.
type RoomAPI struct {
	Engine *engine.Engine
	Log    *logrus.Logger
}

// CreateRoomHandler handles POST /api/rooms with body {"roomCode": ...}.
// Creating a code that already exists is a 409.
func (api *RoomAPI) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RoomCode string `json:"roomCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	err := api.Engine.CreateRoom(r.Context(), req.RoomCode)
	switch {
	case errors.Is(err, room.ErrMissingField):
		writeJSONError(w, http.StatusBadRequest, "Room code required")
	case errors.Is(err, room.ErrRoomExists):
		writeJSONError(w, http.StatusConflict, "Room already exists")
	case err != nil:
		api.Log.Errorf("create room: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to create room")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"code": req.RoomCode})
	}
}

// RoomHandler handles the /api/rooms/ subtree:
//
//	GET  /api/rooms/{code}       room snapshot
//	POST /api/rooms/{code}/join  pre-socket join with name + color
func (api *RoomAPI) RoomHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.Split(rest, "/")
	if len(parts) < 1 || parts[0] == "" {
		writeJSONError(w, http.StatusBadRequest, "missing room code")
		return
	}
	code := parts[0]

	switch {
	case r.Method == http.MethodGet && len(parts) == 1:
		api.fetchRoom(w, r, code)
	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "join":
		api.joinRoom(w, r, code)
	default:
		writeJSONError(w, http.StatusNotFound, "not found")
	}
}

func (api *RoomAPI) fetchRoom(w http.ResponseWriter, r *http.Request, code string) {
	snapshot, err := api.Engine.FetchRoom(r.Context(), code)
	if errors.Is(err, room.ErrRoomNotFound) {
		writeJSONError(w, http.StatusNotFound, "Room not found")
		return
	}
	if err != nil {
		api.Log.Errorf("fetch room %s: %v", code, err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to fetch room")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

func (api *RoomAPI) joinRoom(w http.ResponseWriter, r *http.Request, code string) {
	var req struct {
		PlayerName string `json:"playerName"`
		Color      string `json:"color"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	snapshot, userID, err := api.Engine.AddRoomPlayer(r.Context(), code, req.PlayerName, req.Color)
	switch {
	case errors.Is(err, room.ErrMissingField):
		writeJSONError(w, http.StatusBadRequest, "Player name and color required")
	case errors.Is(err, room.ErrRoomNotFound):
		writeJSONError(w, http.StatusNotFound, "Room not found")
	case err != nil:
		api.Log.Errorf("join room %s: %v", code, err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to join room")
	default:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"userId": userID,
			"room":   snapshot,
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"msg": msg})
}
