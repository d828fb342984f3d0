package models

import "time"

// SessionStatus tracks whether a conversation is still open for replies.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	return s == SessionActive || s == SessionClosed
}

// ChatSession is a conversation between one visitor and the support team.
type ChatSession struct {
	ID           string        `db:"id" json:"id"`
	VisitorID    string        `db:"visitor_id" json:"visitorId,omitempty"`
	VisitorName  *string       `db:"visitor_name" json:"visitorName,omitempty"`
	VisitorPhone *string       `db:"visitor_phone" json:"visitorPhone,omitempty"`
	Status       SessionStatus `db:"status" json:"status"`
	CreatedAt    time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updatedAt"`
	Messages     []ChatMessage `db:"-" json:"messages"`
}

// UnreadCount returns the number of visitor messages not yet marked read.
func (s ChatSession) UnreadCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.Sender == SenderVisitor && !m.Read {
			n++
		}
	}
	return n
}

// LastMessage returns the newest message of the session, if any.
func (s ChatSession) LastMessage() (ChatMessage, bool) {
	if len(s.Messages) == 0 {
		return ChatMessage{}, false
	}
	last := s.Messages[0]
	for _, m := range s.Messages[1:] {
		if !m.CreatedAt.Before(last.CreatedAt) {
			last = m
		}
	}
	return last, true
}

// ContactUpdate carries the partial visitor details accepted by PATCH /chat/:id.
type ContactUpdate struct {
	VisitorName  *string        `json:"visitorName,omitempty"`
	VisitorPhone *string        `json:"visitorPhone,omitempty"`
	Status       *SessionStatus `json:"status,omitempty"`
}

// Empty reports whether the update carries no field at all.
func (u ContactUpdate) Empty() bool {
	return u.VisitorName == nil && u.VisitorPhone == nil && u.Status == nil
}
