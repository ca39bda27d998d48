package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/store"
)

// Handler contains shared dependencies for the HTTP endpoints that sit
// beside the WebSocket gateway.
type Handler struct {
	data  store.DataStore
	chats store.ChatStore
}

// NewHandler creates a new Handler with the given stores.
func NewHandler(data store.DataStore, chats store.ChatStore) *Handler {
	return &Handler{data: data, chats: chats}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
