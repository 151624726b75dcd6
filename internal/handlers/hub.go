package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"murmur/internal/metrics"
	"murmur/internal/models"
	"murmur/internal/pagination"
	"murmur/internal/presence"
	"murmur/internal/protocol"
	"murmur/internal/rabbitmq"
	"murmur/internal/store"
	"murmur/internal/telemetry"
)

// MessageStore is the part of *store.Store the hub and HTTP handlers use.
type MessageStore interface {
	CreateMessage(ctx context.Context, draft models.MessageDraft) (models.Message, error)
	EditMessage(ctx context.Context, id string, req models.EditRequest) (models.Message, error)
	DeleteMessage(ctx context.Context, id string) (models.Message, error)
	TogglePin(ctx context.Context, id string) (models.Message, error)
	ToggleReaction(ctx context.Context, id, emoji, userID string) (models.Message, error)
	RemoveHiddenPreview(ctx context.Context, id, url string) (models.Message, error)
	GetMessage(ctx context.Context, id string) (models.Message, error)
	ListMessages(ctx context.Context, channelID string, req pagination.Request) (pagination.Page, error)
	Search(ctx context.Context, q store.SearchRequest) (pagination.Page, error)
	ListChannels(ctx context.Context) []models.Channel
	CreateChannel(ctx context.Context, req models.CreateChannelRequest) (models.Channel, error)
	RenameOrReorderChannel(ctx context.Context, id string, req models.UpdateChannelRequest) (models.Channel, error)
}

type HubOptions struct {
	SendBuffer    int
	MaxFrameBytes int64
	ActionRate    rate.Limit
	ActionBurst   int
	Publisher     rabbitmq.Publisher
}

func (o *HubOptions) defaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 64 * 1024
	}
	if o.ActionRate <= 0 {
		o.ActionRate = rate.Inf
	}
	if o.ActionBurst <= 0 {
		o.ActionBurst = 1
	}
	if o.Publisher == nil {
		o.Publisher = rabbitmq.NoopPublisher{}
	}
}

// frame is an encoded event queued for fanout. except, when set, is skipped.
type frame struct {
	data   []byte
	except *Client
}

// Hub owns every live connection. Its Run loop is the only goroutine that
// writes to a client's send channel.
type Hub struct {
	store    MessageStore
	presence *presence.Registry
	opts     HubOptions
	log      zerolog.Logger

	clients    map[*Client]bool
	broadcast  chan frame
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	closed     bool

	// pumps counts running read and write pumps.
	pumps sync.WaitGroup

	// commitMu spans a state change and the enqueue of its event, so the
	// broadcast queue sees events in commit order.
	commitMu sync.Mutex
}

func NewHub(st MessageStore, opts HubOptions) *Hub {
	opts.defaults()
	return &Hub{
		store:      st,
		presence:   presence.NewRegistry(),
		opts:       opts,
		log:        log.With().Str("component", "hub").Logger(),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan frame, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case f := <-h.broadcast:
			h.mu.RLock()
			var dead []*Client
			for client := range h.clients {
				if client == f.except {
					continue
				}
				select {
				case client.send <- f.data:
				default:
					dead = append(dead, client)
				}
			}
			h.mu.RUnlock()
			if len(dead) > 0 {
				h.mu.Lock()
				for _, client := range dead {
					if _, ok := h.clients[client]; ok {
						close(client.send)
						delete(h.clients, client)
						metrics.IncWSEviction()
						h.log.Warn().Str("conn", client.id).Msg("send buffer full, evicting client")
					}
				}
				h.mu.Unlock()
			}

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Shutdown stops Run, which closes every client's send channel and so every
// connection, then waits for the pumps to exit. No action is dispatched once
// it returns nil.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.stopOnce.Do(func() { close(h.done) })

	drained := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) stopping() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Online returns the deduplicated set of identified users.
func (h *Hub) Online() []models.User {
	return h.presence.Online()
}

// Broadcast queues e for every connection.
func (h *Hub) Broadcast(e protocol.Event) {
	h.enqueue(e, nil)
}

// BroadcastExcept queues e for every connection but except.
func (h *Hub) BroadcastExcept(e protocol.Event, except *Client) {
	h.enqueue(e, except)
}

func (h *Hub) enqueue(e protocol.Event, except *Client) {
	data, err := protocol.Encode(e)
	if err != nil {
		h.log.Error().Err(err).Str("event", e.EventType()).Msg("ws marshal error")
		return
	}
	metrics.IncWSEvent("out", e.EventType())
	select {
	case h.broadcast <- frame{data: data, except: except}:
	case <-h.done:
	}
}

// commit runs a state change and, if it succeeds, broadcasts its event
// before any later commit can. Failed changes broadcast nothing.
func (h *Hub) commit(ctx context.Context, change func() (protocol.Event, error)) error {
	h.commitMu.Lock()
	e, err := change()
	if err == nil {
		h.Broadcast(e)
	}
	h.commitMu.Unlock()

	if err == nil {
		h.mirror(ctx, e)
	}
	return err
}

func (h *Hub) mirror(ctx context.Context, e protocol.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := h.opts.Publisher.Publish(ctx, "chat."+e.EventType(), e); err != nil {
		h.log.Warn().Err(err).Str("event", e.EventType()).Msg("event mirror failed")
	}
}

// updateMessage commits a store operation that yields a full message record.
func (h *Hub) updateMessage(ctx context.Context, op func() (models.Message, error)) error {
	return h.commit(ctx, func() (protocol.Event, error) {
		msg, err := op()
		return protocol.MessageUpdated{Message: msg}, err
	})
}

// attach registers a freshly upgraded connection as anonymous. On success the
// caller must start both pumps.
func (h *Hub) attach(conn *websocket.Conn) (*Client, bool) {
	c := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, h.opts.SendBuffer),
		id:      uuid.NewString(),
		limiter: rate.NewLimiter(h.opts.ActionRate, h.opts.ActionBurst),
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, false
	}
	h.pumps.Add(2)
	h.mu.Unlock()

	h.presence.Add(c.id)
	select {
	case h.register <- c:
		metrics.IncWSActive(presence.Anonymous.String())
		h.log.Debug().Str("conn", c.id).Msg("connection opened")
		return c, true
	case <-h.done:
		h.presence.Remove(c.id)
		h.pumps.Add(-2)
		return nil, false
	}
}

// detach removes a closed connection. Losing an identified connection
// changes presence, which is broadcast.
func (h *Hub) detach(c *Client) {
	state := h.presence.State(c.id)

	h.commitMu.Lock()
	if h.presence.Remove(c.id) {
		h.Broadcast(protocol.Presence{Users: h.presence.Online()})
	}
	h.commitMu.Unlock()

	metrics.DecWSActive(state.String())
	h.log.Debug().Str("conn", c.id).Str("state", state.String()).Msg("connection closed")
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) identify(ctx context.Context, c *Client, user models.User) error {
	user.ID = strings.TrimSpace(user.ID)
	if user.ID == "" {
		return fmt.Errorf("%w: user id is required", store.ErrValidation)
	}
	wasAnonymous := h.presence.State(c.id) == presence.Anonymous
	err := h.commit(ctx, func() (protocol.Event, error) {
		if !h.presence.Bind(c.id, user) {
			return nil, fmt.Errorf("connection %s: %w", c.id, store.ErrNotFound)
		}
		return protocol.Presence{Users: h.presence.Online()}, nil
	})
	if err == nil && wasAnonymous {
		metrics.DecWSActive(presence.Anonymous.String())
		metrics.IncWSActive(presence.Identified.String())
	}
	return err
}

// dispatch applies one inbound action. Every failure is dropped: logged and
// counted, never broadcast and never reported to the sender.
func (h *Hub) dispatch(ctx context.Context, c *Client, a protocol.Action) {
	ctx, span := telemetry.Tracer().Start(ctx, "ws."+a.ActionType())
	defer span.End()
	metrics.IncWSEvent("in", a.ActionType())

	var err error
	switch act := a.(type) {
	case protocol.Join:
		err = h.identify(ctx, c, act.User)
	case protocol.UpdateIdentity:
		err = h.identify(ctx, c, act.User)
	case protocol.Typing:
		h.BroadcastExcept(act, c)
	case protocol.NewMessage:
		err = h.commit(ctx, func() (protocol.Event, error) {
			msg, err := h.store.CreateMessage(ctx, act.MessageDraft)
			return protocol.MessageCreated{Message: msg}, err
		})
	case protocol.Edit:
		err = h.updateMessage(ctx, func() (models.Message, error) {
			return h.store.EditMessage(ctx, act.ID, act.EditRequest)
		})
	case protocol.Delete:
		err = h.updateMessage(ctx, func() (models.Message, error) {
			return h.store.DeleteMessage(ctx, act.ID)
		})
	case protocol.Pin:
		err = h.updateMessage(ctx, func() (models.Message, error) {
			return h.store.TogglePin(ctx, act.ID)
		})
	case protocol.Reaction:
		err = h.updateMessage(ctx, func() (models.Message, error) {
			return h.store.ToggleReaction(ctx, act.ID, act.Emoji, act.UserID)
		})
	case protocol.RemovePreview:
		err = h.updateMessage(ctx, func() (models.Message, error) {
			return h.store.RemoveHiddenPreview(ctx, act.ID, act.URL)
		})
	default:
		err = fmt.Errorf("%w: %T", protocol.ErrUnknownAction, a)
	}

	if err != nil {
		span.RecordError(err)
		h.drop(c, a.ActionType(), store.Reason(err), err)
	}
}

func (h *Hub) drop(c *Client, action, reason string, err error) {
	metrics.IncWSDropped(action, reason)

	var ev *zerolog.Event
	switch reason {
	case "not_found", "deleted", "rate_limited":
		ev = h.log.Debug()
	case "persistence":
		ev = h.log.Error()
	default:
		ev = h.log.Warn()
	}
	ev.Err(err).Str("conn", c.id).Str("action", action).Str("reason", reason).Msg("action dropped")
}
