// Package store is the authoritative model of channels and messages. It is
// the only writer to the persistence layer.
//
// Every mutation holds the write lock for its whole read-modify-write cycle,
// durable write included: the record is cloned, the clone is changed and
// persisted, and only then swapped into memory. A failed write leaves memory
// untouched.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"murmur/internal/db"
	"murmur/internal/metrics"
	"murmur/internal/models"
)

const DefaultFallbackChannel = "general"

var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrDeleted     = errors.New("message is deleted")
	ErrConflict    = errors.New("conflict")
	ErrPersistence = errors.New("persistence failed")
)

// Reason maps an error returned by the store to a short label for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDeleted):
		return "deleted"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	}
	return "error"
}

type Options struct {
	// FallbackChannel receives messages that name no channel. It is created
	// on first open if missing.
	FallbackChannel string
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type msgRef struct {
	channel string
	pos     int
}

type Store struct {
	mu        sync.RWMutex
	p         db.Persister
	fallback  string
	now       func() time.Time
	validate  *validator.Validate
	log       zerolog.Logger
	channels  map[string]models.Channel
	byChannel map[string][]models.Message
	index     map[string]msgRef
	seq       int64
}

// Open loads the persisted state into memory.
func Open(ctx context.Context, p db.Persister, opts Options) (*Store, error) {
	s := &Store{
		p:         p,
		fallback:  opts.FallbackChannel,
		now:       opts.Now,
		validate:  validator.New(),
		log:       log.With().Str("component", "store").Logger(),
		channels:  make(map[string]models.Channel),
		byChannel: make(map[string][]models.Message),
		index:     make(map[string]msgRef),
	}
	if s.fallback == "" {
		s.fallback = DefaultFallbackChannel
	}
	if s.now == nil {
		s.now = time.Now
	}

	snap, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	for _, c := range snap.Channels {
		s.channels[c.ID] = c
	}
	for _, m := range snap.Messages {
		msgs := s.byChannel[m.ChannelID]
		s.index[m.ID] = msgRef{channel: m.ChannelID, pos: len(msgs)}
		s.byChannel[m.ChannelID] = append(msgs, m)
		if m.Seq > s.seq {
			s.seq = m.Seq
		}
	}

	var pending []models.Channel
	if _, ok := s.channels[s.fallback]; !ok {
		if s.nameTaken(s.fallback, "") {
			s.log.Warn().Str("channel", s.fallback).Msg("fallback channel name is used by another channel, not seeding it")
		} else {
			c := models.Channel{ID: s.fallback, Name: s.fallback, CreatedAt: s.now().UTC(), Order: len(s.channels)}
			s.channels[c.ID] = c
			pending = append(pending, c)
		}
	}
	for _, c := range s.densify(s.orderedChannels()) {
		s.channels[c.ID] = c
		pending = append(pending, c)
	}
	if len(pending) > 0 {
		if err := p.SaveChannels(ctx, pending...); err != nil {
			return nil, fmt.Errorf("%w: seed channels: %w", ErrPersistence, err)
		}
	}

	metrics.SetStoreMessages(len(s.index))
	s.log.Info().Int("channels", len(s.channels)).Int("messages", len(s.index)).Msg("store loaded")
	return s, nil
}

// channelOrFallback is the single place an empty channel id is defaulted.
func (s *Store) channelOrFallback(id string) string {
	if id == "" {
		return s.fallback
	}
	return id
}

func (s *Store) orderedChannels() []models.Channel {
	out := make([]models.Channel, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// densify renumbers ordered to 0..n-1 in place and returns the channels
// whose order changed. It does not touch s.channels.
func (s *Store) densify(ordered []models.Channel) []models.Channel {
	var changed []models.Channel
	for i := range ordered {
		if ordered[i].Order != i {
			ordered[i].Order = i
			changed = append(changed, ordered[i])
		}
	}
	return changed
}

func (s *Store) observe(op string, start time.Time, err *error) {
	metrics.ObserveMutation(op, Reason(*err), time.Since(start))
}

func (s *Store) persistFailed(op, id string, err error) error {
	s.log.Error().Err(err).Str("op", op).Str("id", id).Msg("durable write failed, mutation discarded")
	return fmt.Errorf("%w: %s %s: %w", ErrPersistence, op, id, err)
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// Checkpoint asks the persister to compact or flush. It does not take the
// store lock.
func (s *Store) Checkpoint(ctx context.Context) error {
	return s.p.Checkpoint(ctx)
}

type Stats struct {
	Channels int `json:"channels"`
	Messages int `json:"messages"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Channels: len(s.channels), Messages: len(s.index)}
}
