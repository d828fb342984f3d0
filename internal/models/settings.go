package models

import "time"

// DefaultChatTimeout is the number of silent seconds before the WhatsApp fallback shows.
const DefaultChatTimeout = 60

// ChatSettings is the slice of site settings the chat clients consume.
type ChatSettings struct {
	WhatsAppNumber string    `db:"whatsapp_number" json:"whatsappNumber"`
	ChatTimeout    int       `db:"chat_timeout" json:"chatTimeout"`
	ChatEnabled    bool      `db:"chat_enabled" json:"chatEnabled"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// TimeoutSeconds returns the configured timeout or the default when unset.
func (s ChatSettings) TimeoutSeconds() int {
	if s.ChatTimeout <= 0 {
		return DefaultChatTimeout
	}
	return s.ChatTimeout
}
