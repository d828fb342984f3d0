package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"

	"support-chat/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

// StatusAll disables status filtering in ListSessions.
const StatusAll = "all"

// SessionRepository abstracts chat session persistence.
type SessionRepository interface {
	CreateSession(ctx context.Context, visitorID string) (models.ChatSession, error)
	GetSession(ctx context.Context, sessionID string) (models.ChatSession, error)
	ListSessions(ctx context.Context, status string) ([]models.ChatSession, error)
	UpdateContact(ctx context.Context, sessionID string, update models.ContactUpdate) (models.ChatSession, error)
	TouchSession(ctx context.Context, sessionID string) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// SessionRepo is a sqlx implementation of SessionRepository.
type SessionRepo struct {
	db       *sqlx.DB
	messages MessageRepository
}

// NewSessionRepo constructs a SessionRepo. Messages are loaded through messages.
func NewSessionRepo(db *sqlx.DB, messages MessageRepository) *SessionRepo {
	return &SessionRepo{db: db, messages: messages}
}

const sessionColumns = `id, visitor_id, visitor_name, visitor_phone, status, created_at, updated_at`

// CreateSession opens a new active session for the visitor.
func (r *SessionRepo) CreateSession(ctx context.Context, visitorID string) (models.ChatSession, error) {
	var session models.ChatSession
	err := r.db.GetContext(ctx, &session,
		`INSERT INTO chat_sessions (id, visitor_id, status) VALUES ($1, $2, $3) RETURNING `+sessionColumns,
		ulid.Make().String(), visitorID, models.SessionActive)
	if err != nil {
		return models.ChatSession{}, fmt.Errorf("insert session: %w", err)
	}
	session.Messages = []models.ChatMessage{}
	return session, nil
}

// GetSession fetches a session together with its ordered messages.
func (r *SessionRepo) GetSession(ctx context.Context, sessionID string) (models.ChatSession, error) {
	var session models.ChatSession
	err := r.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id=$1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatSession{}, ErrSessionNotFound
	}
	if err != nil {
		return models.ChatSession{}, err
	}

	msgs, err := r.messages.ListMessages(ctx, sessionID)
	if err != nil {
		return models.ChatSession{}, err
	}
	session.Messages = msgs
	return session, nil
}

// ListSessions returns sessions with nested messages, most recently updated first.
func (r *SessionRepo) ListSessions(ctx context.Context, status string) ([]models.ChatSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions`
	args := []any{}
	if status != "" && status != StatusAll {
		query += ` WHERE status=$1`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC`

	sessions := []models.ChatSession{}
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return sessions, nil
	}

	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	bySession, err := r.messages.ListMessagesForSessions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		msgs := bySession[sessions[i].ID]
		if msgs == nil {
			msgs = []models.ChatMessage{}
		}
		sessions[i].Messages = msgs
	}
	return sessions, nil
}

// UpdateContact applies the non-nil fields of update.
func (r *SessionRepo) UpdateContact(ctx context.Context, sessionID string, update models.ContactUpdate) (models.ChatSession, error) {
	var session models.ChatSession
	err := r.db.GetContext(ctx, &session, `UPDATE chat_sessions SET
            visitor_name = COALESCE($2, visitor_name),
            visitor_phone = COALESCE($3, visitor_phone),
            status = COALESCE($4, status),
            updated_at = NOW()
        WHERE id=$1 RETURNING `+sessionColumns,
		sessionID, update.VisitorName, update.VisitorPhone, nullableStatus(update.Status))
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatSession{}, ErrSessionNotFound
	}
	if err != nil {
		return models.ChatSession{}, err
	}

	msgs, err := r.messages.ListMessages(ctx, sessionID)
	if err != nil {
		return models.ChatSession{}, err
	}
	session.Messages = msgs
	return session, nil
}

// TouchSession bumps updated_at so the session sorts first in listings.
func (r *SessionRepo) TouchSession(ctx context.Context, sessionID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_sessions SET updated_at = NOW() WHERE id=$1`, sessionID)
	if err != nil {
		return err
	}
	return expectRows(res, ErrSessionNotFound)
}

// DeleteSession removes the session; messages cascade.
func (r *SessionRepo) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id=$1`, sessionID)
	if err != nil {
		return err
	}
	return expectRows(res, ErrSessionNotFound)
}

func nullableStatus(s *models.SessionStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func expectRows(res sql.Result, notFound error) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return notFound
	}
	return nil
}
