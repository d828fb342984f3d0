package repositories

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"

	"support-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error)
	ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
	ListMessagesForSessions(ctx context.Context, sessionIDs []string) (map[string][]models.ChatMessage, error)
	MarkRead(ctx context.Context, sessionID string, sender models.SenderRole) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, session_id, client_id, sender, message_type, content, file_url, file_name, file_duration, is_read, created_at`

// CreateMessage stores a message and returns the persisted row.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	var stored models.ChatMessage
	err := r.db.GetContext(ctx, &stored, `INSERT INTO chat_messages
            (id, session_id, client_id, sender, message_type, content, file_url, file_name, file_duration)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING `+messageColumns,
		ulid.Make().String(), msg.SessionID, msg.ClientID, msg.Sender, msg.Type, msg.Content, msg.FileURL, msg.FileName, msg.FileDuration)
	return stored, err
}

// ListMessages returns the full message list of a session, oldest first.
func (r *MessageRepo) ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	msgs := []models.ChatMessage{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM chat_messages WHERE session_id=$1 ORDER BY created_at ASC, id ASC`, sessionID)
	return msgs, err
}

// ListMessagesForSessions loads the messages of many sessions in one query.
func (r *MessageRepo) ListMessagesForSessions(ctx context.Context, sessionIDs []string) (map[string][]models.ChatMessage, error) {
	result := make(map[string][]models.ChatMessage, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`SELECT `+messageColumns+` FROM chat_messages WHERE session_id IN (?) ORDER BY created_at ASC, id ASC`, sessionIDs)
	if err != nil {
		return nil, err
	}
	var msgs []models.ChatMessage
	if err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, m := range msgs {
		result[m.SessionID] = append(result[m.SessionID], m)
	}
	return result, nil
}

// MarkRead flags every unread message of the given sender as read.
func (r *MessageRepo) MarkRead(ctx context.Context, sessionID string, sender models.SenderRole) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_messages SET is_read = TRUE WHERE session_id=$1 AND sender=$2 AND is_read = FALSE`, sessionID, sender)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
