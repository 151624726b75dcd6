package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"murmur/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Handler struct {
	store    MessageStore
	hub      *Hub
	upgrader websocket.Upgrader
}

func New(st MessageStore, hub *Hub, allowedOrigin string) *Handler {
	return &Handler{store: st, hub: hub, upgrader: makeUpgrader(allowedOrigin)}
}

// Routes returns the chat API and the WebSocket endpoint.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/ws", h.WebSocket)
	r.Route("/api", func(r chi.Router) {
		r.Get("/channels", h.ListChannels)
		r.Post("/channels", h.CreateChannel)
		r.Patch("/channels/{id}", h.UpdateChannel)
		r.Get("/channels/{id}/messages", h.GetMessages)
		r.Get("/messages", h.SearchMessages)
		r.Get("/messages/{id}", h.GetMessage)
		r.Get("/presence", h.ListPresence)
	})
	return r
}

// makeUpgrader builds a WebSocket upgrader that validates the Origin header.
// allowedOrigin is e.g. "https://chat.example.com". If empty, only
// same-host origins (matching the request Host header) are permitted.
func makeUpgrader(allowedOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Non-browser clients send no Origin.
				return true
			}
			if allowedOrigin != "" {
				return origin == allowedOrigin
			}
			return origin == "http://"+r.Host || origin == "https://"+r.Host
		},
	}
}

// --- Response helpers ---

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func ok(w http.ResponseWriter, data interface{}) {
	respond(w, http.StatusOK, data)
}

func created(w http.ResponseWriter, data interface{}) {
	respond(w, http.StatusCreated, data)
}

func errResp(w http.ResponseWriter, status int, msg string) {
	respond(w, status, map[string]string{"error": msg})
}

// storeErr writes the status matching a store error.
func storeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		errResp(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		errResp(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrConflict):
		errResp(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("store request failed")
		errResp(w, http.StatusInternalServerError, "internal error")
	}
}

// --- WebSocket handler ---

func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client, attached := h.hub.attach(conn)
	if !attached {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ListPresence returns the users currently online.
func (h *Handler) ListPresence(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]interface{}{"users": h.hub.Online()})
}
