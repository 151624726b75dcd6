// Package presence tracks which user, if any, is bound to each live
// connection. Nothing here is persisted.
package presence

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"murmur/internal/models"
)

// State is the lifecycle position of a connection.
type State int

const (
	Unknown State = iota
	Anonymous
	Identified
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Identified:
		return "identified"
	}
	return "closed"
}

type binding struct {
	user  *models.User
	stamp uint64
}

type Registry struct {
	mu    sync.RWMutex
	conns map[string]binding
	clock uint64
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]binding)}
}

// Add registers an anonymous connection.
func (r *Registry) Add(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		r.conns[connID] = binding{}
	}
}

// Bind attaches user to connID, replacing any earlier binding. It reports
// false if the connection is not registered.
func (r *Registry) Bind(connID string, user models.User) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		return false
	}
	r.clock++
	r.conns[connID] = binding{user: &user, stamp: r.clock}
	return true
}

// Remove forgets connID and reports whether it had been identified.
func (r *Registry) Remove(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.conns[connID]
	if !ok {
		return false
	}
	delete(r.conns, connID)
	return b.user != nil
}

func (r *Registry) State(connID string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.conns[connID]
	switch {
	case !ok:
		return Unknown
	case b.user == nil:
		return Anonymous
	}
	return Identified
}

// Connections returns the number of registered connections.
func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Online returns every bound user once, however many connections it holds.
// When a user is bound on several connections the latest binding wins.
func (r *Registry) Online() []models.User {
	r.mu.RLock()
	bound := make([]binding, 0, len(r.conns))
	for _, b := range r.conns {
		if b.user != nil {
			bound = append(bound, b)
		}
	}
	r.mu.RUnlock()

	sort.Slice(bound, func(i, j int) bool { return bound[i].stamp > bound[j].stamp })
	users := lo.UniqBy(
		lo.Map(bound, func(b binding, _ int) models.User { return *b.user }),
		func(u models.User) string { return u.ID },
	)
	sort.Slice(users, func(i, j int) bool {
		if users[i].Username != users[j].Username {
			return users[i].Username < users[j].Username
		}
		return users[i].ID < users[j].ID
	})
	return users
}
