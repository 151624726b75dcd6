// Package protocol defines the websocket wire format: a closed set of
// inbound actions and outbound events, each carried in a {type, data}
// envelope.
package protocol

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"murmur/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrMalformed     = errors.New("malformed frame")
	ErrUnknownAction = errors.New("unknown action")
)

const (
	ActionJoin           = "join"
	ActionUpdateIdentity = "updateIdentity"
	ActionTyping         = "typing"
	ActionMessage        = "message"
	ActionEdit           = "edit"
	ActionDelete         = "delete"
	ActionPin            = "pin"
	ActionReaction       = "reaction"
	ActionRemovePreview  = "removePreview"
)

const (
	EventMessageCreated  = "messageCreated"
	EventMessageUpdated  = "messageUpdated"
	EventPresence        = "presence"
	EventTyping          = "typing"
	EventChannelCreated  = "channelCreated"
	EventChannelsUpdated = "channelsUpdated"
)

// Action is a client-to-server request. The set of implementations is closed.
type Action interface {
	ActionType() string
	isAction()
}

// Event is a server-to-client notification. The set of implementations is closed.
type Event interface {
	EventType() string
	isEvent()
}

type Join struct {
	User models.User `json:"user"`
}

type UpdateIdentity struct {
	User models.User `json:"user"`
}

// Typing is relayed verbatim, so it is both an action and an event.
type Typing struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	IsTyping  bool   `json:"is_typing"`
	ChannelID string `json:"channel_id,omitempty"`
}

type NewMessage struct {
	models.MessageDraft
}

type Edit struct {
	ID string `json:"id"`
	models.EditRequest
}

type Delete struct {
	ID string `json:"id"`
}

type Pin struct {
	ID string `json:"id"`
}

type Reaction struct {
	ID     string `json:"id"`
	Emoji  string `json:"emoji"`
	UserID string `json:"user_id"`
}

type RemovePreview struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (Join) ActionType() string           { return ActionJoin }
func (UpdateIdentity) ActionType() string { return ActionUpdateIdentity }
func (Typing) ActionType() string         { return ActionTyping }
func (NewMessage) ActionType() string     { return ActionMessage }
func (Edit) ActionType() string           { return ActionEdit }
func (Delete) ActionType() string         { return ActionDelete }
func (Pin) ActionType() string            { return ActionPin }
func (Reaction) ActionType() string       { return ActionReaction }
func (RemovePreview) ActionType() string  { return ActionRemovePreview }

func (Join) isAction()           {}
func (UpdateIdentity) isAction() {}
func (Typing) isAction()         {}
func (NewMessage) isAction()     {}
func (Edit) isAction()           {}
func (Delete) isAction()         {}
func (Pin) isAction()            {}
func (Reaction) isAction()       {}
func (RemovePreview) isAction()  {}

type MessageCreated struct {
	Message models.Message `json:"message"`
}

type MessageUpdated struct {
	Message models.Message `json:"message"`
}

type Presence struct {
	Users []models.User `json:"users"`
}

type ChannelCreated struct {
	Channel models.Channel `json:"channel"`
}

type ChannelsUpdated struct {
	Channels []models.Channel `json:"channels"`
}

func (MessageCreated) EventType() string  { return EventMessageCreated }
func (MessageUpdated) EventType() string  { return EventMessageUpdated }
func (Presence) EventType() string        { return EventPresence }
func (Typing) EventType() string          { return EventTyping }
func (ChannelCreated) EventType() string  { return EventChannelCreated }
func (ChannelsUpdated) EventType() string { return EventChannelsUpdated }

func (MessageCreated) isEvent()  {}
func (MessageUpdated) isEvent()  {}
func (Presence) isEvent()        {}
func (Typing) isEvent()          {}
func (ChannelCreated) isEvent()  {}
func (ChannelsUpdated) isEvent() {}

type inbound struct {
	Type string              `json:"type"`
	Data jsoniter.RawMessage `json:"data"`
}

type outbound struct {
	Type string `json:"type"`
	Data Event  `json:"data"`
}

// Decode parses one inbound frame.
func Decode(frame []byte) (Action, error) {
	var env inbound
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %q has no data", ErrMalformed, env.Type)
	}

	switch env.Type {
	case ActionJoin:
		return decode[Join](env)
	case ActionUpdateIdentity:
		return decode[UpdateIdentity](env)
	case ActionTyping:
		return decode[Typing](env)
	case ActionMessage:
		return decode[NewMessage](env)
	case ActionEdit:
		return decode[Edit](env)
	case ActionDelete:
		return decode[Delete](env)
	case ActionPin:
		return decode[Pin](env)
	case ActionReaction:
		return decode[Reaction](env)
	case ActionRemovePreview:
		return decode[RemovePreview](env)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Type)
}

func decode[T Action](env inbound) (Action, error) {
	var a T
	if err := json.Unmarshal(env.Data, &a); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return a, nil
}

// Encode wraps an event in its envelope.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(outbound{Type: e.EventType(), Data: e})
}
