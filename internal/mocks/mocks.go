package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"support-chat/internal/models"
	"support-chat/internal/repositories"
	"support-chat/internal/storage"
)

type SessionRepositoryMock struct {
	mock.Mock
}

func (m *SessionRepositoryMock) CreateSession(ctx context.Context, visitorID string) (models.ChatSession, error) {
	args := m.Called(ctx, visitorID)
	var session models.ChatSession
	if val := args.Get(0); val != nil {
		session = val.(models.ChatSession)
	}
	return session, args.Error(1)
}

func (m *SessionRepositoryMock) GetSession(ctx context.Context, sessionID string) (models.ChatSession, error) {
	args := m.Called(ctx, sessionID)
	var session models.ChatSession
	if val := args.Get(0); val != nil {
		session = val.(models.ChatSession)
	}
	return session, args.Error(1)
}

func (m *SessionRepositoryMock) ListSessions(ctx context.Context, status string) ([]models.ChatSession, error) {
	args := m.Called(ctx, status)
	var list []models.ChatSession
	if val := args.Get(0); val != nil {
		list = val.([]models.ChatSession)
	}
	return list, args.Error(1)
}

func (m *SessionRepositoryMock) UpdateContact(ctx context.Context, sessionID string, update models.ContactUpdate) (models.ChatSession, error) {
	args := m.Called(ctx, sessionID, update)
	var session models.ChatSession
	if val := args.Get(0); val != nil {
		session = val.(models.ChatSession)
	}
	return session, args.Error(1)
}

func (m *SessionRepositoryMock) TouchSession(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *SessionRepositoryMock) DeleteSession(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	args := m.Called(ctx, msg)
	var stored models.ChatMessage
	if val := args.Get(0); val != nil {
		stored = val.(models.ChatMessage)
	}
	return stored, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	args := m.Called(ctx, sessionID)
	var msgs []models.ChatMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.ChatMessage)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessagesForSessions(ctx context.Context, sessionIDs []string) (map[string][]models.ChatMessage, error) {
	args := m.Called(ctx, sessionIDs)
	var msgs map[string][]models.ChatMessage
	if val := args.Get(0); val != nil {
		msgs = val.(map[string][]models.ChatMessage)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, sessionID string, sender models.SenderRole) (int64, error) {
	args := m.Called(ctx, sessionID, sender)
	return args.Get(0).(int64), args.Error(1)
}

type SettingsRepositoryMock struct {
	mock.Mock
}

func (m *SettingsRepositoryMock) GetSettings(ctx context.Context) (models.ChatSettings, error) {
	args := m.Called(ctx)
	var settings models.ChatSettings
	if val := args.Get(0); val != nil {
		settings = val.(models.ChatSettings)
	}
	return settings, args.Error(1)
}

func (m *SettingsRepositoryMock) UpdateSettings(ctx context.Context, settings models.ChatSettings) (models.ChatSettings, error) {
	args := m.Called(ctx, settings)
	var stored models.ChatSettings
	if val := args.Get(0); val != nil {
		stored = val.(models.ChatSettings)
	}
	return stored, args.Error(1)
}

type StorageMock struct {
	mock.Mock
}

func (m *StorageMock) Put(ctx context.Context, obj storage.Object) (string, error) {
	args := m.Called(ctx, obj)
	return args.String(0), args.Error(1)
}

var (
	_ repositories.SessionRepository  = (*SessionRepositoryMock)(nil)
	_ repositories.MessageRepository  = (*MessageRepositoryMock)(nil)
	_ repositories.SettingsRepository = (*SettingsRepositoryMock)(nil)
	_ storage.Storage                 = (*StorageMock)(nil)
)
