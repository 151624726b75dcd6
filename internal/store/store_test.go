package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murmur/internal/db"
	"murmur/internal/models"
	"murmur/internal/pagination"
)

func newTestStore(t *testing.T) (*Store, *db.Memory) {
	t.Helper()
	mem := db.NewMemory()
	s, err := Open(context.Background(), mem, Options{})
	require.NoError(t, err)
	return s, mem
}

func send(t *testing.T, s *Store, channelID, content string) models.Message {
	t.Helper()
	msg, err := s.CreateMessage(context.Background(), models.MessageDraft{
		ChannelID: channelID,
		UserID:    "u1",
		Username:  "alice",
		Content:   content,
	})
	require.NoError(t, err)
	return msg
}

func pageIDs(p pagination.Page) []string {
	out := make([]string, 0, len(p.Messages))
	for _, m := range p.Messages {
		out = append(out, m.ID)
	}
	return out
}

func TestOpenSeedsFallbackChannel(t *testing.T) {
	s, _ := newTestStore(t)
	channels := s.ListChannels(context.Background())
	require.Len(t, channels, 1)
	assert.Equal(t, DefaultFallbackChannel, channels[0].ID)
	assert.Equal(t, 0, channels[0].Order)
}

func TestCreateMessageDefaults(t *testing.T) {
	s, _ := newTestStore(t)
	msg := send(t, s, "", "  hi  ")

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, DefaultFallbackChannel, msg.ChannelID)
	assert.Equal(t, models.TypeText, msg.Type)
	assert.Equal(t, "hi", msg.Content)
	assert.False(t, msg.Edited)
	assert.False(t, msg.Deleted)
	assert.False(t, msg.Pinned)
	assert.Nil(t, msg.PinnedAt)
	assert.Empty(t, msg.Reactions)
	assert.Empty(t, msg.HiddenPreviews)
}

func TestCreateMessageValidation(t *testing.T) {
	s, mem := newTestStore(t)
	ctx := context.Background()
	writes := mem.Writes()

	_, err := s.CreateMessage(ctx, models.MessageDraft{Content: "no user"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.CreateMessage(ctx, models.MessageDraft{UserID: "u1", Content: "x", Type: "gif"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.CreateMessage(ctx, models.MessageDraft{UserID: "u1", Content: "x", ChannelID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, writes, mem.Writes())
}

func TestTimestampsIncreaseWithFrozenClock(t *testing.T) {
	frozen := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s, err := Open(context.Background(), db.NewMemory(), Options{Now: func() time.Time { return frozen }})
	require.NoError(t, err)

	var prev time.Time
	for i := 0; i < 5; i++ {
		msg := send(t, s, "", fmt.Sprintf("m%d", i))
		if i > 0 {
			assert.True(t, msg.Timestamp.After(prev))
		}
		prev = msg.Timestamp
	}
}

func TestOrderingUnderConcurrentSenders(t *testing.T) {
	s, _ := newTestStore(t)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_, err := s.CreateMessage(context.Background(), models.MessageDraft{UserID: fmt.Sprintf("u%d", w), Content: "x"})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	page, err := s.ListMessages(context.Background(), "", pagination.Request{Limit: pagination.MaxLimit})
	require.NoError(t, err)
	require.Len(t, page.Messages, pagination.MaxLimit)
	for i := 1; i < len(page.Messages); i++ {
		assert.True(t, page.Messages[i-1].Timestamp.Before(page.Messages[i].Timestamp))
		assert.Less(t, page.Messages[i-1].Seq, page.Messages[i].Seq)
	}
}

func TestLatestAndBeforeScenario(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m1 := send(t, s, "general", "m1")
	m2 := send(t, s, "general", "m2")
	m3 := send(t, s, "general", "m3")

	page, err := s.ListMessages(ctx, "general", pagination.Request{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{m2.ID, m3.ID}, pageIDs(page))

	before := m3.Timestamp
	page, err = s.ListMessages(ctx, "general", pagination.Request{Limit: 2, Before: &before})
	require.NoError(t, err)
	assert.Equal(t, []string{m1.ID, m2.ID}, pageIDs(page))
}

func TestListMessagesUnknownChannel(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.ListMessages(context.Background(), "missing", pagination.Request{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPinTwice(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m1 := send(t, s, "", "m1")

	pinned, err := s.TogglePin(ctx, m1.ID)
	require.NoError(t, err)
	assert.True(t, pinned.Pinned)
	assert.NotNil(t, pinned.PinnedAt)

	unpinned, err := s.TogglePin(ctx, m1.ID)
	require.NoError(t, err)
	assert.False(t, unpinned.Pinned)
	assert.Nil(t, unpinned.PinnedAt)
}

func TestConcurrentPinTogglesNeverBothPin(t *testing.T) {
	s, _ := newTestStore(t)
	m1 := send(t, s, "", "m1")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TogglePin(context.Background(), m1.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetMessage(context.Background(), m1.ID)
	require.NoError(t, err)
	assert.False(t, got.Pinned)
}

func TestDeleteTombstoneAndIdempotence(t *testing.T) {
	s, mem := newTestStore(t)
	ctx := context.Background()
	m2, err := s.CreateMessage(ctx, models.MessageDraft{UserID: "u1", Content: "pic", Type: models.TypeImage, FileName: "a.png"})
	require.NoError(t, err)
	_, err = s.ToggleReaction(ctx, m2.ID, "🔥", "u2")
	require.NoError(t, err)
	_, err = s.TogglePin(ctx, m2.ID)
	require.NoError(t, err)

	once, err := s.DeleteMessage(ctx, m2.ID)
	require.NoError(t, err)
	writes := mem.Writes()
	twice, err := s.DeleteMessage(ctx, m2.ID)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, writes, mem.Writes())

	got, err := s.GetMessage(ctx, m2.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, models.DeletedContent, got.Content)
	assert.Equal(t, models.TypeText, got.Type)
	assert.False(t, got.Pinned)
	assert.Nil(t, got.PinnedAt)
	assert.Equal(t, []string{"u2"}, got.Reactions["🔥"])
}

func TestMutationsOnTombstoneAreRejected(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m := send(t, s, "", "m")
	_, err := s.DeleteMessage(ctx, m.ID)
	require.NoError(t, err)

	_, err = s.TogglePin(ctx, m.ID)
	assert.ErrorIs(t, err, ErrDeleted)
	_, err = s.EditMessage(ctx, m.ID, models.EditRequest{Content: "back"})
	assert.ErrorIs(t, err, ErrDeleted)
	_, err = s.ToggleReaction(ctx, m.ID, "👍", "u1")
	assert.ErrorIs(t, err, ErrDeleted)
}

func TestReactionToggleIsInvolution(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m := send(t, s, "", "m")
	_, err := s.ToggleReaction(ctx, m.ID, "👍", "u9")
	require.NoError(t, err)
	before, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)

	_, err = s.ToggleReaction(ctx, m.ID, "👍", "u1")
	require.NoError(t, err)
	after, err := s.ToggleReaction(ctx, m.ID, "👍", "u1")
	require.NoError(t, err)

	assert.Equal(t, before.Reactions, after.Reactions)

	cleared, err := s.ToggleReaction(ctx, m.ID, "👍", "u9")
	require.NoError(t, err)
	_, present := cleared.Reactions["👍"]
	assert.False(t, present, "empty emoji set must be pruned")
}

func TestConcurrentReactionsAreNotLost(t *testing.T) {
	s, _ := newTestStore(t)
	m := send(t, s, "", "m")

	const users = 50
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.ToggleReaction(context.Background(), m.ID, "🎉", fmt.Sprintf("user-%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.GetMessage(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Len(t, got.Reactions["🎉"], users)
}

func TestEditPreservesProtectedFields(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m := send(t, s, "", "original")
	_, err := s.ToggleReaction(ctx, m.ID, "👍", "u1")
	require.NoError(t, err)
	pinned, err := s.TogglePin(ctx, m.ID)
	require.NoError(t, err)

	edited, err := s.EditMessage(ctx, m.ID, models.EditRequest{Content: "changed"})
	require.NoError(t, err)

	assert.True(t, edited.Edited)
	assert.Equal(t, "changed", edited.Content)
	assert.Equal(t, models.TypeText, edited.Type)
	assert.True(t, edited.Pinned)
	require.NotNil(t, edited.PinnedAt)
	assert.True(t, pinned.PinnedAt.Equal(*edited.PinnedAt))
	assert.Equal(t, map[string][]string{"👍": {"u1"}}, edited.Reactions)
	assert.Equal(t, m.ChannelID, edited.ChannelID)

	again, err := s.EditMessage(ctx, m.ID, models.EditRequest{Content: "changed"})
	require.NoError(t, err)
	assert.Equal(t, edited, again)
}

func TestRemoveHiddenPreviewIsSetLike(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	m := send(t, s, "", "see https://example.com")

	_, err := s.RemoveHiddenPreview(ctx, m.ID, "https://example.com")
	require.NoError(t, err)
	got, err := s.RemoveHiddenPreview(ctx, m.ID, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com"}, got.HiddenPreviews)
	assert.Equal(t, "see https://example.com", got.Content)
}

func TestUnknownMessageIsNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.EditMessage(ctx, "ghost", models.EditRequest{Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.DeleteMessage(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.TogglePin(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ToggleReaction(ctx, "ghost", "👍", "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.RemoveHiddenPreview(ctx, "ghost", "https://x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPersistenceFailureLeavesMemoryUntouched(t *testing.T) {
	s, mem := newTestStore(t)
	ctx := context.Background()
	m := send(t, s, "", "m")
	boom := errors.New("disk on fire")

	mem.FailNext(boom)
	_, err := s.ToggleReaction(ctx, m.ID, "👍", "u1")
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, boom)

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Reactions)

	mem.FailNext(boom)
	_, err = s.CreateMessage(ctx, models.MessageDraft{UserID: "u1", Content: "lost"})
	assert.ErrorIs(t, err, ErrPersistence)
	page, err := s.ListMessages(ctx, "", pagination.Request{})
	require.NoError(t, err)
	assert.Len(t, page.Messages, 1)

	mem.FailNext(boom)
	_, err = s.CreateChannel(ctx, models.CreateChannelRequest{Name: "random"})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Len(t, s.ListChannels(ctx), 1)
}

func TestCreateChannelConflict(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	random, err := s.CreateChannel(ctx, models.CreateChannelRequest{Name: "random", Description: "chatter"})
	require.NoError(t, err)
	assert.Equal(t, 1, random.Order)

	_, err = s.CreateChannel(ctx, models.CreateChannelRequest{Name: "RANDOM"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.CreateChannel(ctx, models.CreateChannelRequest{Name: "   "})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRenameConflictAndReorderStaysDense(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	a, err := s.CreateChannel(ctx, models.CreateChannelRequest{Name: "a"})
	require.NoError(t, err)
	b, err := s.CreateChannel(ctx, models.CreateChannelRequest{Name: "b"})
	require.NoError(t, err)

	taken := "General"
	_, err = s.RenameOrReorderChannel(ctx, a.ID, models.UpdateChannelRequest{Name: &taken})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.RenameOrReorderChannel(ctx, "missing", models.UpdateChannelRequest{Name: &taken})
	assert.ErrorIs(t, err, ErrNotFound)

	first := 0
	moved, err := s.RenameOrReorderChannel(ctx, b.ID, models.UpdateChannelRequest{Order: &first})
	require.NoError(t, err)
	assert.Equal(t, 0, moved.Order)

	far := 99
	renamed := "alpha"
	_, err = s.RenameOrReorderChannel(ctx, DefaultFallbackChannel, models.UpdateChannelRequest{Order: &far, Name: &renamed})
	require.NoError(t, err)

	channels := s.ListChannels(ctx)
	require.Len(t, channels, 3)
	names := make([]string, 0, 3)
	for i, c := range channels {
		assert.Equal(t, i, c.Order)
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"b", "a", "alpha"}, names)
}

func TestSearch(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	random, err := s.CreateChannel(ctx, models.CreateChannelRequest{Name: "random"})
	require.NoError(t, err)

	hello := send(t, s, "", "Hello world")
	_, err = s.CreateMessage(ctx, models.MessageDraft{ChannelID: random.ID, UserID: "u2", Username: "HelloKitty", Content: "meow"})
	require.NoError(t, err)
	gone := send(t, s, "", "hello again")
	_, err = s.DeleteMessage(ctx, gone.ID)
	require.NoError(t, err)

	page, err := s.Search(ctx, SearchRequest{ChannelID: AllChannels, Query: "HELLO"})
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, hello.ID, page.Messages[0].ID)
	assert.Equal(t, random.ID, page.Messages[1].ChannelID)

	page, err = s.Search(ctx, SearchRequest{ChannelID: "", Query: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{hello.ID}, pageIDs(page))

	page, err = s.Search(ctx, SearchRequest{ChannelID: AllChannels, Query: "hello", Page: pagination.Request{Limit: 1}})
	require.NoError(t, err)
	assert.Len(t, page.Messages, 1)
	assert.True(t, page.HasMoreBefore)
}

func TestStateSurvivesRestartOnSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "murmur.db")

	p, err := db.InitSQLite(path)
	require.NoError(t, err)
	s, err := Open(ctx, p, Options{})
	require.NoError(t, err)
	m1 := send(t, s, "", "first")
	m2 := send(t, s, "", "second")
	_, err = s.ToggleReaction(ctx, m1.ID, "👍", "u1")
	require.NoError(t, err)
	_, err = s.CreateChannel(ctx, models.CreateChannelRequest{Name: "random"})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	p, err = db.InitSQLite(path)
	require.NoError(t, err)
	defer p.Close()
	s, err = Open(ctx, p, Options{})
	require.NoError(t, err)

	page, err := s.ListMessages(ctx, "", pagination.Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{m1.ID, m2.ID}, pageIDs(page))
	assert.Equal(t, []string{"u1"}, page.Messages[0].Reactions["👍"])
	assert.Len(t, s.ListChannels(ctx), 2)

	m3 := send(t, s, "", "third")
	assert.Greater(t, m3.Seq, m2.Seq)
	assert.True(t, m3.Timestamp.After(m2.Timestamp))
}
