package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"murmur/internal/metrics"
	"murmur/internal/models"
)

// CreateMessage appends a new message to its channel. The timestamp is taken
// from the store clock and is strictly increasing within a channel.
func (s *Store) CreateMessage(ctx context.Context, draft models.MessageDraft) (msg models.Message, err error) {
	defer s.observe("create", time.Now(), &err)

	draft.Content = strings.TrimSpace(draft.Content)
	draft.ChannelID = strings.TrimSpace(draft.ChannelID)
	if err := s.validate.Struct(draft); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	channelID := s.channelOrFallback(draft.ChannelID)
	if _, ok := s.channels[channelID]; !ok {
		return models.Message{}, fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}

	msgs := s.byChannel[channelID]
	ts := s.now().UTC()
	if n := len(msgs); n > 0 && !ts.After(msgs[n-1].Timestamp) {
		ts = msgs[n-1].Timestamp.Add(time.Nanosecond)
	}

	msg = models.Message{
		ID:             s.newID(),
		Seq:            s.seq + 1,
		ChannelID:      channelID,
		UserID:         draft.UserID,
		Username:       draft.Username,
		Timestamp:      ts,
		Type:           lo.Ternary(draft.Type == "", models.TypeText, draft.Type),
		Content:        draft.Content,
		FileName:       draft.FileName,
		ReplyTo:        draft.ReplyTo,
		Reactions:      map[string][]string{},
		HiddenPreviews: []string{},
	}
	if err := s.p.SaveMessage(ctx, msg); err != nil {
		return models.Message{}, s.persistFailed("create", msg.ID, err)
	}

	s.seq = msg.Seq
	s.index[msg.ID] = msgRef{channel: channelID, pos: len(msgs)}
	s.byChannel[channelID] = append(msgs, msg)
	metrics.SetStoreMessages(len(s.index))
	return msg.Clone(), nil
}

// mutateMessage applies fn to a clone of message id. When fn reports a change
// the clone is persisted and then replaces the stored record.
func (s *Store) mutateMessage(ctx context.Context, op, id string, fn func(m *models.Message) (bool, error)) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.index[id]
	if !ok {
		return models.Message{}, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	updated := s.byChannel[ref.channel][ref.pos].Clone()

	changed, err := fn(&updated)
	if err != nil {
		return models.Message{}, fmt.Errorf("message %s: %w", id, err)
	}
	if !changed {
		return updated, nil
	}
	if err := s.p.SaveMessage(ctx, updated); err != nil {
		return models.Message{}, s.persistFailed(op, id, err)
	}
	s.byChannel[ref.channel][ref.pos] = updated
	return updated.Clone(), nil
}

// EditMessage replaces content, and type and file name when given. Reactions,
// pin state and channel are kept.
func (s *Store) EditMessage(ctx context.Context, id string, req models.EditRequest) (msg models.Message, err error) {
	defer s.observe("edit", time.Now(), &err)

	req.Content = strings.TrimSpace(req.Content)
	if err := s.validate.Struct(req); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	return s.mutateMessage(ctx, "edit", id, func(m *models.Message) (bool, error) {
		if m.Deleted {
			return false, ErrDeleted
		}
		typ := lo.Ternary(req.Type == "", m.Type, req.Type)
		fileName := m.FileName
		if req.FileName != nil {
			fileName = *req.FileName
		}
		if m.Edited && m.Content == req.Content && m.Type == typ && m.FileName == fileName {
			return false, nil
		}
		m.Content = req.Content
		m.Type = typ
		m.FileName = fileName
		m.Edited = true
		return true, nil
	})
}

// DeleteMessage turns the message into a tombstone. Deleting a tombstone
// returns it unchanged.
func (s *Store) DeleteMessage(ctx context.Context, id string) (msg models.Message, err error) {
	defer s.observe("delete", time.Now(), &err)

	return s.mutateMessage(ctx, "delete", id, func(m *models.Message) (bool, error) {
		if m.Deleted {
			return false, nil
		}
		m.Deleted = true
		m.Content = models.DeletedContent
		m.Type = models.TypeText
		m.FileName = ""
		m.Pinned = false
		m.PinnedAt = nil
		return true, nil
	})
}

func (s *Store) TogglePin(ctx context.Context, id string) (msg models.Message, err error) {
	defer s.observe("pin", time.Now(), &err)

	return s.mutateMessage(ctx, "pin", id, func(m *models.Message) (bool, error) {
		if m.Deleted {
			return false, ErrDeleted
		}
		m.Pinned = !m.Pinned
		if m.Pinned {
			t := s.now().UTC()
			m.PinnedAt = &t
		} else {
			m.PinnedAt = nil
		}
		return true, nil
	})
}

// ToggleReaction adds userID to the emoji's set, or removes it if present.
// Emptied sets are dropped.
func (s *Store) ToggleReaction(ctx context.Context, id, emoji, userID string) (msg models.Message, err error) {
	defer s.observe("reaction", time.Now(), &err)

	emoji = strings.TrimSpace(emoji)
	if emoji == "" || userID == "" {
		return models.Message{}, fmt.Errorf("%w: emoji and user id are required", ErrValidation)
	}

	return s.mutateMessage(ctx, "reaction", id, func(m *models.Message) (bool, error) {
		if m.Deleted {
			return false, ErrDeleted
		}
		users := m.Reactions[emoji]
		if lo.Contains(users, userID) {
			users = lo.Without(users, userID)
		} else {
			users = append(users, userID)
		}
		if len(users) == 0 {
			delete(m.Reactions, emoji)
		} else {
			m.Reactions[emoji] = users
		}
		return true, nil
	})
}

// RemoveHiddenPreview hides the link preview for url on this message.
func (s *Store) RemoveHiddenPreview(ctx context.Context, id, url string) (msg models.Message, err error) {
	defer s.observe("remove_preview", time.Now(), &err)

	url = strings.TrimSpace(url)
	if url == "" {
		return models.Message{}, fmt.Errorf("%w: url is required", ErrValidation)
	}

	return s.mutateMessage(ctx, "remove_preview", id, func(m *models.Message) (bool, error) {
		if m.Deleted {
			return false, ErrDeleted
		}
		if lo.Contains(m.HiddenPreviews, url) {
			return false, nil
		}
		m.HiddenPreviews = append(m.HiddenPreviews, url)
		return true, nil
	})
}

func (s *Store) GetMessage(ctx context.Context, id string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.index[id]
	if !ok {
		return models.Message{}, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return s.byChannel[ref.channel][ref.pos].Clone(), nil
}
