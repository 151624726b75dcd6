package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"murmur/internal/mocks"
	"murmur/internal/models"
	"murmur/internal/pagination"
	"murmur/internal/protocol"
	"murmur/internal/store"
)

func setupRouter(st *mocks.MessageStoreMock) (http.Handler, *Hub) {
	hub := newTestHub(st, nil)
	return New(st, hub, "").Routes(), hub
}

func serve(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListChannelsNeverNull(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	router, _ := setupRouter(st)
	st.On("ListChannels", mock.Anything).Return(nil).Once()

	rec := serve(router, http.MethodGet, "/api/channels", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	st.AssertExpectations(t)
}

func TestCreateChannelBroadcasts(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	router, hub := setupRouter(st)
	ch := models.Channel{ID: "c1", Name: "random", Order: 1}
	st.On("CreateChannel", mock.Anything, models.CreateChannelRequest{Name: "random"}).Return(ch, nil).Once()

	rec := serve(router, http.MethodPost, "/api/channels", `{"name":"random"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	_, env := queued(t, hub)
	assert.Equal(t, protocol.EventChannelCreated, env.Type)
	st.AssertExpectations(t)
}

func TestCreateChannelConflict(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	router, hub := setupRouter(st)
	st.On("CreateChannel", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("channel %q: %w", "general", store.ErrConflict)).Once()

	rec := serve(router, http.MethodPost, "/api/channels", `{"name":"general"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Len(t, hub.broadcast, 0)
}

func TestCreateChannelBadBody(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	router, _ := setupRouter(st)

	rec := serve(router, http.MethodPost, "/api/channels", `{"name":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	st.AssertNotCalled(t, "CreateChannel", mock.Anything, mock.Anything)
}

func TestUpdateChannelBroadcastsFullList(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	router, hub := setupRouter(st)
	order := 0
	moved := models.Channel{ID: "c2", Name: "b", Order: 0}
	st.On("RenameOrReorderChannel", mock.Anything, "c2", models.UpdateChannelRequest{Order: &order}).Return(moved, nil).Once()
	st.On("ListChannels", mock.Anything).Return([]models.Channel{moved, {ID: "general", Name: "general", Order: 1}}).Once()

	rec := serve(router, http.MethodPatch, "/api/channels/c2", `{"order":0}`)

	require.Equal(t, http.StatusOK, rec.Code)
	_, env := queued(t, hub)
	require.Equal(t, protocol.EventChannelsUpdated, env.Type)
	var data protocol.ChannelsUpdated
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Len(t, data.Channels, 2)
	st.AssertExpectations(t)
}

func TestUpdateChannelNotFound(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	router, hub := setupRouter(st)
	st.On("RenameOrReorderChannel", mock.Anything, "nope", mock.Anything).
		Return(nil, fmt.Errorf("channel nope: %w", store.ErrNotFound)).Once()

	rec := serve(router, http.MethodPatch, "/api/channels/nope", `{"name":"x"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, hub.broadcast, 0)
}

func TestGetMessagesParsesCursor(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	router, _ := setupRouter(st)
	before := time.Date(2024, 5, 1, 12, 0, 0, 500, time.UTC)
	st.On("ListMessages", mock.Anything, "general", mock.MatchedBy(func(req pagination.Request) bool {
		return req.Limit == 10 && req.Before != nil && req.Before.Equal(before) && req.After == nil
	})).Return(pagination.Page{Messages: []models.Message{}, HasMoreBefore: true}, nil).Once()

	rec := serve(router, http.MethodGet, "/api/channels/general/messages?limit=10&before="+before.Format(time.RFC3339Nano), "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[],"has_more_before":true,"has_more_after":false}`, rec.Body.String())
	st.AssertExpectations(t)
}

func TestGetMessagesRejectsBadCursor(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	router, _ := setupRouter(st)

	rec := serve(router, http.MethodGet, "/api/channels/general/messages?before=yesterday", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	st.AssertNotCalled(t, "ListMessages", mock.Anything, mock.Anything, mock.Anything)
}

func TestSearchAllChannels(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	router, _ := setupRouter(st)
	st.On("Search", mock.Anything, store.SearchRequest{ChannelID: store.AllChannels, Query: "deploy"}).
		Return(pagination.Page{Messages: []models.Message{{ID: "m1"}}}, nil).Once()

	rec := serve(router, http.MethodGet, "/api/messages?channel_id=all&q=deploy", "")

	require.Equal(t, http.StatusOK, rec.Code)
	st.AssertExpectations(t)
}

func TestGetMessageNotFound(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	router, _ := setupRouter(st)
	st.On("GetMessage", mock.Anything, "ghost").Return(nil, fmt.Errorf("message ghost: %w", store.ErrNotFound)).Once()

	rec := serve(router, http.MethodGet, "/api/messages/ghost", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rec.Body.String())
}

func TestStoreErrorHidesPersistenceCause(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	router, _ := setupRouter(st)
	st.On("GetMessage", mock.Anything, "m1").Return(nil, fmt.Errorf("%w: disk on fire", store.ErrPersistence)).Once()

	rec := serve(router, http.MethodGet, "/api/messages/m1", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk")
}
