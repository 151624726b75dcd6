package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"murmur/internal/models"
)

func (s *Store) nameTaken(name, exceptID string) bool {
	for id, c := range s.channels {
		if id != exceptID && strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// ListChannels returns all channels sorted by order.
func (s *Store) ListChannels(ctx context.Context) []models.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderedChannels()
}

// CreateChannel adds a channel at the end of the order. Names are unique
// ignoring case.
func (s *Store) CreateChannel(ctx context.Context, req models.CreateChannelRequest) (ch models.Channel, err error) {
	defer s.observe("create_channel", time.Now(), &err)

	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if err := s.validate.Struct(req); err != nil {
		return models.Channel{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nameTaken(req.Name, "") {
		return models.Channel{}, fmt.Errorf("channel name %q: %w", req.Name, ErrConflict)
	}
	ch = models.Channel{
		ID:          s.newID(),
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   s.now().UTC(),
		Order:       len(s.channels),
	}
	if err := s.p.SaveChannels(ctx, ch); err != nil {
		return models.Channel{}, s.persistFailed("create_channel", ch.ID, err)
	}
	s.channels[ch.ID] = ch
	return ch, nil
}

// RenameOrReorderChannel renames a channel and/or moves it to position
// req.Order, clamped to the channel count. Every channel whose order shifts
// is written in the same batch, so orders stay dense.
func (s *Store) RenameOrReorderChannel(ctx context.Context, id string, req models.UpdateChannelRequest) (ch models.Channel, err error) {
	defer s.observe("update_channel", time.Now(), &err)

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		req.Name = &name
	}
	if err := s.validate.Struct(req); err != nil {
		return models.Channel{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.channels[id]
	if !ok {
		return models.Channel{}, fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	if req.Name != nil && s.nameTaken(*req.Name, id) {
		return models.Channel{}, fmt.Errorf("channel name %q: %w", *req.Name, ErrConflict)
	}

	updated := current
	if req.Name != nil {
		updated.Name = *req.Name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}

	var changed []models.Channel
	if req.Order != nil {
		ordered := make([]models.Channel, 0, len(s.channels))
		for _, c := range s.orderedChannels() {
			if c.ID != id {
				ordered = append(ordered, c)
			}
		}
		pos := min(max(*req.Order, 0), len(ordered))
		ordered = append(ordered[:pos], append([]models.Channel{updated}, ordered[pos:]...)...)
		changed = s.densify(ordered)
		updated = ordered[pos]
	}
	if updated != current && !containsChannel(changed, id) {
		changed = append(changed, updated)
	}
	if len(changed) == 0 {
		return current, nil
	}

	if err := s.p.SaveChannels(ctx, changed...); err != nil {
		return models.Channel{}, s.persistFailed("update_channel", id, err)
	}
	for _, c := range changed {
		s.channels[c.ID] = c
	}
	return updated, nil
}

func containsChannel(channels []models.Channel, id string) bool {
	for _, c := range channels {
		if c.ID == id {
			return true
		}
	}
	return false
}
