package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"murmur/internal/models"
	"murmur/internal/pagination"
	"murmur/internal/store"
)

type MessageStoreMock struct {
	mock.Mock
}

func (m *MessageStoreMock) message(args mock.Arguments) (models.Message, error) {
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageStoreMock) page(args mock.Arguments) (pagination.Page, error) {
	var p pagination.Page
	if val := args.Get(0); val != nil {
		p = val.(pagination.Page)
	}
	return p, args.Error(1)
}

func (m *MessageStoreMock) channel(args mock.Arguments) (models.Channel, error) {
	var ch models.Channel
	if val := args.Get(0); val != nil {
		ch = val.(models.Channel)
	}
	return ch, args.Error(1)
}

func (m *MessageStoreMock) CreateMessage(ctx context.Context, draft models.MessageDraft) (models.Message, error) {
	return m.message(m.Called(ctx, draft))
}

func (m *MessageStoreMock) EditMessage(ctx context.Context, id string, req models.EditRequest) (models.Message, error) {
	return m.message(m.Called(ctx, id, req))
}

func (m *MessageStoreMock) DeleteMessage(ctx context.Context, id string) (models.Message, error) {
	return m.message(m.Called(ctx, id))
}

func (m *MessageStoreMock) TogglePin(ctx context.Context, id string) (models.Message, error) {
	return m.message(m.Called(ctx, id))
}

func (m *MessageStoreMock) ToggleReaction(ctx context.Context, id, emoji, userID string) (models.Message, error) {
	return m.message(m.Called(ctx, id, emoji, userID))
}

func (m *MessageStoreMock) RemoveHiddenPreview(ctx context.Context, id, url string) (models.Message, error) {
	return m.message(m.Called(ctx, id, url))
}

func (m *MessageStoreMock) GetMessage(ctx context.Context, id string) (models.Message, error) {
	return m.message(m.Called(ctx, id))
}

func (m *MessageStoreMock) ListMessages(ctx context.Context, channelID string, req pagination.Request) (pagination.Page, error) {
	return m.page(m.Called(ctx, channelID, req))
}

func (m *MessageStoreMock) Search(ctx context.Context, q store.SearchRequest) (pagination.Page, error) {
	return m.page(m.Called(ctx, q))
}

func (m *MessageStoreMock) ListChannels(ctx context.Context) []models.Channel {
	args := m.Called(ctx)
	var list []models.Channel
	if val := args.Get(0); val != nil {
		list = val.([]models.Channel)
	}
	return list
}

func (m *MessageStoreMock) CreateChannel(ctx context.Context, req models.CreateChannelRequest) (models.Channel, error) {
	return m.channel(m.Called(ctx, req))
}

func (m *MessageStoreMock) RenameOrReorderChannel(ctx context.Context, id string, req models.UpdateChannelRequest) (models.Channel, error) {
	return m.channel(m.Called(ctx, id, req))
}
