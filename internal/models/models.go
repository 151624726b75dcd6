package models

import (
	"time"
)

// MessageType is the content kind of a message.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeVideo MessageType = "video"
	TypeAudio MessageType = "audio"
	TypeFile  MessageType = "file"
)

// DeletedContent replaces the content of a soft-deleted message.
const DeletedContent = "Message deleted"

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeAudio, TypeFile:
		return true
	}
	return false
}

type Channel struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	Order       int       `json:"order"`
}

type Message struct {
	ID             string              `json:"id"`
	Seq            int64               `json:"seq"`
	ChannelID      string              `json:"channel_id"`
	UserID         string              `json:"user_id"`
	Username       string              `json:"username"`
	Timestamp      time.Time           `json:"timestamp"`
	Type           MessageType         `json:"type"`
	Content        string              `json:"content"`
	FileName       string              `json:"file_name,omitempty"`
	ReplyTo        string              `json:"reply_to,omitempty"`
	Edited         bool                `json:"edited"`
	Deleted        bool                `json:"deleted"`
	Pinned         bool                `json:"pinned"`
	PinnedAt       *time.Time          `json:"pinned_at,omitempty"`
	Reactions      map[string][]string `json:"reactions"`
	HiddenPreviews []string            `json:"hidden_previews"`
}

// Clone returns a deep copy. Stored records are never mutated in place, so
// every mutation starts from a clone.
func (m Message) Clone() Message {
	out := m
	if m.PinnedAt != nil {
		t := *m.PinnedAt
		out.PinnedAt = &t
	}
	out.Reactions = make(map[string][]string, len(m.Reactions))
	for emoji, users := range m.Reactions {
		out.Reactions[emoji] = append([]string(nil), users...)
	}
	out.HiddenPreviews = append([]string{}, m.HiddenPreviews...)
	return out
}

// Before reports whether m sorts before o in (timestamp, seq) order.
func (m Message) Before(o Message) bool {
	if m.Timestamp.Equal(o.Timestamp) {
		return m.Seq < o.Seq
	}
	return m.Timestamp.Before(o.Timestamp)
}

// User is the presence view of a connected client. It is not persisted.
type User struct {
	ID            string `json:"id" validate:"required"`
	Username      string `json:"username"`
	Avatar        string `json:"avatar,omitempty"`
	StatusMessage string `json:"status_message,omitempty"`
	IsMobile      bool   `json:"is_mobile"`
}

// MessageDraft is the client-supplied part of a new message.
type MessageDraft struct {
	ChannelID string      `json:"channel_id"`
	UserID    string      `json:"user_id" validate:"required"`
	Username  string      `json:"username"`
	Type      MessageType `json:"type" validate:"omitempty,oneof=text image video audio file"`
	Content   string      `json:"content" validate:"required,max=4000"`
	FileName  string      `json:"file_name,omitempty"`
	ReplyTo   string      `json:"reply_to,omitempty"`
}

type EditRequest struct {
	Content  string      `json:"content" validate:"required,max=4000"`
	Type     MessageType `json:"type,omitempty" validate:"omitempty,oneof=text image video audio file"`
	FileName *string     `json:"file_name,omitempty"`
}

type CreateChannelRequest struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=512"`
}

// UpdateChannelRequest renames and/or moves a channel. Nil fields are left alone.
type UpdateChannelRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=64"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=512"`
	Order       *int    `json:"order,omitempty" validate:"omitempty,min=0"`
}
