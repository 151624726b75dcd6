package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"murmur/internal/models"
	"murmur/internal/protocol"
)

func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	channels := h.store.ListChannels(r.Context())
	if channels == nil {
		channels = []models.Channel{}
	}
	ok(w, channels)
}

func (h *Handler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	var req models.CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp(w, http.StatusBadRequest, "invalid request")
		return
	}

	var channel models.Channel
	err := h.hub.commit(r.Context(), func() (protocol.Event, error) {
		var err error
		channel, err = h.store.CreateChannel(r.Context(), req)
		return protocol.ChannelCreated{Channel: channel}, err
	})
	if err != nil {
		storeErr(w, r, err)
		return
	}
	created(w, channel)
}

// UpdateChannel renames or moves a channel. Every client gets the full
// reordered list, since a move shifts its neighbours.
func (h *Handler) UpdateChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req models.UpdateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp(w, http.StatusBadRequest, "invalid request")
		return
	}

	var channel models.Channel
	err := h.hub.commit(r.Context(), func() (protocol.Event, error) {
		var err error
		channel, err = h.store.RenameOrReorderChannel(r.Context(), id, req)
		if err != nil {
			return nil, err
		}
		return protocol.ChannelsUpdated{Channels: h.store.ListChannels(r.Context())}, nil
	})
	if err != nil {
		storeErr(w, r, err)
		return
	}
	ok(w, channel)
}
