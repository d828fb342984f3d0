// Package chatstate keeps a client's view of a conversation: server-confirmed
// messages merged from polls plus optimistic entries awaiting confirmation.
package chatstate

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"support-chat/internal/models"
)

const tempPrefix = "tmp_"

// NewTempID returns a client correlation id for an optimistic message.
func NewTempID() string {
	return tempPrefix + uuid.NewString()
}

// IsTemp reports whether id was issued by NewTempID.
func IsTemp(id string) bool {
	return strings.HasPrefix(id, tempPrefix)
}

type entry struct {
	msg models.ChatMessage
	seq uint64
}

// Collection is a set of messages keyed by id. It is not safe for concurrent
// use; owners guard it with their own lock.
type Collection struct {
	byID map[string]*entry
	seq  uint64
}

func New() *Collection {
	return &Collection{byID: make(map[string]*entry)}
}

// Add inserts msg unless its id is already known.
func (c *Collection) Add(msg models.ChatMessage) bool {
	if msg.ID == "" {
		return false
	}
	if _, ok := c.byID[msg.ID]; ok {
		return false
	}
	c.seq++
	c.byID[msg.ID] = &entry{msg: msg, seq: c.seq}
	return true
}

// Merge adds every unseen message and returns the ones that were new. A
// server message whose clientId matches a pending optimistic entry replaces
// that entry instead of duplicating it.
func (c *Collection) Merge(msgs []models.ChatMessage) []models.ChatMessage {
	var added []models.ChatMessage
	for _, msg := range msgs {
		if msg.ID == "" {
			continue
		}
		if _, ok := c.byID[msg.ID]; ok {
			continue
		}
		if msg.ClientID != nil {
			if e, ok := c.byID[*msg.ClientID]; ok && IsTemp(*msg.ClientID) {
				delete(c.byID, *msg.ClientID)
				e.msg = msg
				c.byID[msg.ID] = e
				continue
			}
		}
		c.Add(msg)
		added = append(added, msg)
	}
	return added
}

// Reconcile replaces the optimistic entry tempID with the confirmed record.
// When confirmed has no id the optimistic copy is kept and marked delivered.
// It returns the message now representing the send.
func (c *Collection) Reconcile(tempID string, confirmed models.ChatMessage) models.ChatMessage {
	e, ok := c.byID[tempID]
	if !ok {
		// a poll already swapped it in
		if existing, found := c.byID[confirmed.ID]; found {
			return existing.msg
		}
		if confirmed.ID != "" {
			c.Add(confirmed)
		}
		return confirmed
	}

	if confirmed.ID == "" {
		e.msg.Pending = false
		e.msg.Failed = false
		return e.msg
	}

	delete(c.byID, tempID)
	if _, dup := c.byID[confirmed.ID]; dup {
		return c.byID[confirmed.ID].msg
	}
	e.msg = confirmed
	c.byID[confirmed.ID] = e
	return confirmed
}

// MarkFailed flags the entry as failed and no longer pending.
func (c *Collection) MarkFailed(id string) bool {
	e, ok := c.byID[id]
	if !ok {
		return false
	}
	e.msg.Pending = false
	e.msg.Failed = true
	return true
}

// MarkPending flags a failed entry as in flight again.
func (c *Collection) MarkPending(id string) bool {
	e, ok := c.byID[id]
	if !ok {
		return false
	}
	e.msg.Pending = true
	e.msg.Failed = false
	return true
}

// Update applies fn to the stored copy of id.
func (c *Collection) Update(id string, fn func(*models.ChatMessage)) bool {
	e, ok := c.byID[id]
	if !ok {
		return false
	}
	fn(&e.msg)
	return true
}

func (c *Collection) Remove(id string) bool {
	if _, ok := c.byID[id]; !ok {
		return false
	}
	delete(c.byID, id)
	return true
}

func (c *Collection) Get(id string) (models.ChatMessage, bool) {
	e, ok := c.byID[id]
	if !ok {
		return models.ChatMessage{}, false
	}
	return e.msg, true
}

func (c *Collection) Len() int {
	return len(c.byID)
}

// Reset drops every message.
func (c *Collection) Reset() {
	c.byID = make(map[string]*entry)
}

// Messages returns a copy ordered by creation time, ties broken by insertion order.
func (c *Collection) Messages() []models.ChatMessage {
	entries := make([]*entry, 0, len(c.byID))
	for _, e := range c.byID {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
			return a.msg.CreatedAt.Before(b.msg.CreatedAt)
		}
		return a.seq < b.seq
	})

	out := make([]models.ChatMessage, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out
}
