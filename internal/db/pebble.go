package db

import (
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"

	"murmur/internal/models"
)

// Key layout:
//
//	c/<channel id>  -> channel JSON
//	m/<seq %020d>   -> message JSON
//
// Fixed-width seq keys make an iteration over m/ return messages in insertion order.
const (
	channelPrefix = "c/"
	messagePrefix = "m/"
)

// PebbleStore persists channels and messages in a pebble LSM.
type PebbleStore struct {
	db *pebble.DB
}

func OpenPebble(dir string) (*PebbleStore, error) {
	pdb, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	return &PebbleStore{db: pdb}, nil
}

func channelKey(id string) []byte { return []byte(channelPrefix + id) }

func messageKey(seq int64) []byte { return []byte(fmt.Sprintf("%s%020d", messagePrefix, seq)) }

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p string) []byte {
	end := []byte(p)
	end[len(end)-1]++
	return end
}

func (p *PebbleStore) scan(prefix string, fn func(val []byte) error) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			iter.Close()
			return err
		}
	}
	return iter.Close()
}

func (p *PebbleStore) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := p.scan(channelPrefix, func(val []byte) error {
		var c models.Channel
		if err := json.Unmarshal(val, &c); err != nil {
			return err
		}
		snap.Channels = append(snap.Channels, c)
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("load channels: %w", err)
	}

	err = p.scan(messagePrefix, func(val []byte) error {
		var m models.Message
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		if m.Reactions == nil {
			m.Reactions = map[string][]string{}
		}
		if m.HiddenPreviews == nil {
			m.HiddenPreviews = []string{}
		}
		snap.Messages = append(snap.Messages, m)
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("load messages: %w", err)
	}
	return snap, nil
}

func (p *PebbleStore) SaveMessage(ctx context.Context, msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.db.Set(messageKey(msg.Seq), data, pebble.Sync)
}

func (p *PebbleStore) SaveChannels(ctx context.Context, channels ...models.Channel) error {
	batch := p.db.NewBatch()
	defer batch.Close()
	for _, c := range channels {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if err := batch.Set(channelKey(c.ID), data, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (p *PebbleStore) Checkpoint(ctx context.Context) error {
	return p.db.Flush()
}

func (p *PebbleStore) Close() error {
	return p.db.Close()
}
