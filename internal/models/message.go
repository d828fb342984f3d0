package models

import (
	"errors"
	"strings"
	"time"
)

// SenderRole identifies who authored a message.
type SenderRole string

const (
	SenderVisitor SenderRole = "visitor"
	SenderAdmin   SenderRole = "admin"
	SenderBot     SenderRole = "bot"
)

// Valid reports whether r is a known sender role.
func (r SenderRole) Valid() bool {
	switch r {
	case SenderVisitor, SenderAdmin, SenderBot:
		return true
	}
	return false
}

// MessageType is the primary payload kind of a message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVoice MessageType = "voice"
	MessageFile  MessageType = "file"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVoice, MessageFile:
		return true
	}
	return false
}

var (
	ErrEmptyText       = errors.New("text message requires a body")
	ErrMissingFile     = errors.New("attachment message requires a file url")
	ErrMissingDuration = errors.New("voice message requires a duration")
	ErrUnknownType     = errors.New("unknown message type")
	ErrUnknownSender   = errors.New("unknown sender")
	ErrClientIDTooLong = errors.New("clientId must be at most 64 characters")
)

// MaxClientIDLength matches the client_id and visitor_id column widths.
const MaxClientIDLength = 64

// ChatMessage is a single entry in a session. Pending and Failed are never
// persisted; they only exist on client copies.
type ChatMessage struct {
	ID           string      `db:"id" json:"id"`
	SessionID    string      `db:"session_id" json:"sessionId"`
	ClientID     *string     `db:"client_id" json:"clientId,omitempty"`
	Sender       SenderRole  `db:"sender" json:"sender"`
	Type         MessageType `db:"message_type" json:"messageType"`
	Content      string      `db:"content" json:"message"`
	FileURL      *string     `db:"file_url" json:"fileUrl,omitempty"`
	FileName     *string     `db:"file_name" json:"fileName,omitempty"`
	FileDuration *int        `db:"file_duration" json:"fileDuration,omitempty"`
	Read         bool        `db:"is_read" json:"read"`
	CreatedAt    time.Time   `db:"created_at" json:"createdAt"`

	Pending bool `db:"-" json:"-"`
	Failed  bool `db:"-" json:"-"`
}

// Validate enforces the per-type payload rules.
func (m ChatMessage) Validate() error {
	if !m.Sender.Valid() {
		return ErrUnknownSender
	}
	if m.ClientID != nil && len(*m.ClientID) > MaxClientIDLength {
		return ErrClientIDTooLong
	}
	switch m.Type {
	case MessageText:
		if strings.TrimSpace(m.Content) == "" {
			return ErrEmptyText
		}
	case MessageImage, MessageFile:
		if m.FileURL == nil || *m.FileURL == "" {
			return ErrMissingFile
		}
	case MessageVoice:
		if m.FileURL == nil || *m.FileURL == "" {
			return ErrMissingFile
		}
		if m.FileDuration == nil || *m.FileDuration <= 0 {
			return ErrMissingDuration
		}
	default:
		return ErrUnknownType
	}
	return nil
}
