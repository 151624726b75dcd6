package db

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"murmur/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendPebble   = "pebble"
	BackendMemory   = "memory"
)

var ErrUnknownBackend = errors.New("unknown storage backend")

// Snapshot is the full persisted state. Messages are ordered by seq.
type Snapshot struct {
	Channels []models.Channel
	Messages []models.Message
}

// Persister is the durable side of the message store. Every write must be
// durable when it returns; the store holds its lock across the call.
type Persister interface {
	Load(ctx context.Context) (Snapshot, error)
	SaveMessage(ctx context.Context, msg models.Message) error
	// SaveChannels writes all channels atomically.
	SaveChannels(ctx context.Context, channels ...models.Channel) error
	Checkpoint(ctx context.Context) error
	Close() error
}

type Options struct {
	Backend string
	Path    string // sqlite file or pebble directory
	DSN     string // postgres connection string
}

// Open returns the persister selected by opts.Backend.
func Open(opts Options) (Persister, error) {
	switch opts.Backend {
	case "", BackendSQLite:
		return InitSQLite(opts.Path)
	case BackendPostgres:
		return InitPostgres(opts.DSN)
	case BackendPebble:
		return OpenPebble(opts.Path)
	case BackendMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
}
