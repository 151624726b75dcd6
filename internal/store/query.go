package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"murmur/internal/models"
	"murmur/internal/pagination"
)

// AllChannels scopes a search to every channel.
const AllChannels = "all"

type SearchRequest struct {
	ChannelID string
	Query     string
	Page      pagination.Request
}

// ListMessages pages through one channel, tombstones included.
func (s *Store) ListMessages(ctx context.Context, channelID string, req pagination.Request) (pagination.Page, error) {
	req, err := req.Normalize()
	if err != nil {
		return pagination.Page{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	channelID = s.channelOrFallback(channelID)
	if _, ok := s.channels[channelID]; !ok {
		return pagination.Page{}, fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	return detach(pagination.Paginate(s.byChannel[channelID], req)), nil
}

// Search matches query case-insensitively against content and username,
// then applies the usual cursor logic to the matches. Deleted messages never
// match. A channel id of AllChannels searches everything.
func (s *Store) Search(ctx context.Context, q SearchRequest) (pagination.Page, error) {
	req, err := q.Page.Normalize()
	if err != nil {
		return pagination.Page{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	needle := strings.ToLower(strings.TrimSpace(q.Query))
	match := func(m models.Message, _ int) bool {
		if m.Deleted {
			return false
		}
		return needle == "" ||
			strings.Contains(strings.ToLower(m.Content), needle) ||
			strings.Contains(strings.ToLower(m.Username), needle)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var pool []models.Message
	if q.ChannelID == AllChannels {
		for _, msgs := range s.byChannel {
			pool = append(pool, lo.Filter(msgs, match)...)
		}
		sort.Slice(pool, func(i, j int) bool { return pool[i].Before(pool[j]) })
	} else {
		channelID := s.channelOrFallback(q.ChannelID)
		if _, ok := s.channels[channelID]; !ok {
			return pagination.Page{}, fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
		}
		pool = lo.Filter(s.byChannel[channelID], match)
	}
	return detach(pagination.Paginate(pool, req)), nil
}

// detach deep-copies a page so callers never share records with the store.
func detach(p pagination.Page) pagination.Page {
	p.Messages = lo.Map(p.Messages, func(m models.Message, _ int) models.Message { return m.Clone() })
	return p
}
