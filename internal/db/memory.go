package db

import (
	"context"
	"sort"
	"sync"

	"murmur/internal/models"
)

// Memory keeps everything in process. It backs tests and ephemeral runs, and
// can be told to fail its next write.
type Memory struct {
	mu       sync.Mutex
	channels map[string]models.Channel
	messages map[string]models.Message
	failNext error
	writes   int
}

func NewMemory() *Memory {
	return &Memory{
		channels: make(map[string]models.Channel),
		messages: make(map[string]models.Message),
	}
}

// FailNext makes the next SaveMessage or SaveChannels call return err
// without writing anything.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

// Writes reports how many write calls have succeeded.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *Memory) Load(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var snap Snapshot
	for _, c := range m.channels {
		snap.Channels = append(snap.Channels, c)
	}
	for _, msg := range m.messages {
		snap.Messages = append(snap.Messages, msg.Clone())
	}
	sort.Slice(snap.Channels, func(i, j int) bool { return snap.Channels[i].Order < snap.Channels[j].Order })
	sort.Slice(snap.Messages, func(i, j int) bool { return snap.Messages[i].Seq < snap.Messages[j].Seq })
	return snap, nil
}

func (m *Memory) SaveMessage(ctx context.Context, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.messages[msg.ID] = msg.Clone()
	m.writes++
	return nil
}

func (m *Memory) SaveChannels(ctx context.Context, channels ...models.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	for _, c := range channels {
		m.channels[c.ID] = c
	}
	m.writes++
	return nil
}

func (m *Memory) Checkpoint(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
