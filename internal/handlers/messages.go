package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"murmur/internal/pagination"
	"murmur/internal/store"
)

// pageRequest reads limit, before, after and around from the query string.
// Cursors are RFC 3339 timestamps; around is a message id.
func pageRequest(q url.Values) (pagination.Request, error) {
	var req pagination.Request
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			return req, fmt.Errorf("%w: invalid limit %q", store.ErrValidation, l)
		}
		req.Limit = n
	}
	for key, dst := range map[string]**time.Time{"before": &req.Before, "after": &req.After} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return req, fmt.Errorf("%w: invalid %s cursor %q", store.ErrValidation, key, v)
		}
		*dst = &t
	}
	req.Around = q.Get("around")
	return req, nil
}

// GetMessages pages one channel's history. With q set it searches that
// channel instead.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	h.listOrSearch(w, r, chi.URLParam(r, "id"))
}

// SearchMessages serves /api/messages?channel_id=...&q=... . The channel id
// "all" searches every channel.
func (h *Handler) SearchMessages(w http.ResponseWriter, r *http.Request) {
	h.listOrSearch(w, r, r.URL.Query().Get("channel_id"))
}

func (h *Handler) listOrSearch(w http.ResponseWriter, r *http.Request, channelID string) {
	query := r.URL.Query()
	req, err := pageRequest(query)
	if err != nil {
		storeErr(w, r, err)
		return
	}

	var page pagination.Page
	if q := query.Get("q"); q != "" || channelID == store.AllChannels {
		page, err = h.store.Search(r.Context(), store.SearchRequest{ChannelID: channelID, Query: q, Page: req})
	} else {
		page, err = h.store.ListMessages(r.Context(), channelID, req)
	}
	if err != nil {
		storeErr(w, r, err)
		return
	}
	ok(w, page)
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.store.GetMessage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		storeErr(w, r, err)
		return
	}
	ok(w, msg)
}
