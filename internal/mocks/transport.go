package mocks

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"support-chat/internal/chatapi"
	"support-chat/internal/models"
)

// FakeTransport is an in-memory chat server for client tests.
type FakeTransport struct {
	mu       sync.Mutex
	sessions map[string]*models.ChatSession
	seq      int
	last     time.Time

	SendErr     error
	GetErr      error
	ListErr     error
	UploadErr   error
	ContactErr  error
	OmitMessage bool
	// SendGate, when set, blocks SendMessage until a value is received.
	SendGate chan struct{}
	// ListGate, when set, blocks ListSessions until a value is received.
	ListGate chan struct{}

	Sent     []chatapi.SendRequest
	Uploads  []string
	Contacts []models.ContactUpdate
	Reads    []string
	Deleted  []string
	calls    map[string]int
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		sessions: make(map[string]*models.ChatSession),
		calls:    make(map[string]int),
	}
}

// Calls returns how many times method was invoked.
func (f *FakeTransport) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// SentRequests returns a copy of every SendMessage request received.
func (f *FakeTransport) SentRequests() []chatapi.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chatapi.SendRequest(nil), f.Sent...)
}

func (f *FakeTransport) nextLocked(prefix string) (string, time.Time) {
	f.seq++
	// strictly increasing so ordering by timestamp is deterministic
	at := time.Now()
	if !at.After(f.last) {
		at = f.last.Add(time.Microsecond)
	}
	f.last = at
	return fmt.Sprintf("%s%03d", prefix, f.seq), at
}

// AddSession seeds a session and returns its id.
func (f *FakeTransport) AddSession(visitorID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, at := f.nextLocked("s")
	f.sessions[id] = &models.ChatSession{ID: id, VisitorID: visitorID, Status: models.SessionActive, CreatedAt: at, UpdatedAt: at}
	return id
}

// AddMessage appends a stored message as if another client had sent it.
func (f *FakeTransport) AddMessage(sessionID string, sender models.SenderRole, text string) models.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, at := f.nextLocked("m")
	msg := models.ChatMessage{ID: id, SessionID: sessionID, Sender: sender, Type: models.MessageText, Content: text, CreatedAt: at}
	if s, ok := f.sessions[sessionID]; ok {
		s.Messages = append(s.Messages, msg)
		s.UpdatedAt = at
	}
	return msg
}

// RemoveSession deletes a session without recording a client call.
func (f *FakeTransport) RemoveSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
}

// Session returns a copy of the stored session.
func (f *FakeTransport) Session(sessionID string) (models.ChatSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return models.ChatSession{}, false
	}
	return copySession(s), true
}

func (f *FakeTransport) ListSessions(ctx context.Context, status string) ([]models.ChatSession, error) {
	f.mu.Lock()
	f.calls["ListSessions"]++
	gate := f.ListGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]models.ChatSession, 0, len(f.sessions))
	for _, s := range f.sessions {
		if status != "" && status != "all" && string(s.Status) != status {
			continue
		}
		out = append(out, copySession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *FakeTransport) GetSession(ctx context.Context, sessionID string) (models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetSession"]++
	if f.GetErr != nil {
		return models.ChatSession{}, f.GetErr
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return models.ChatSession{}, chatapi.ErrSessionNotFound
	}
	return copySession(s), nil
}

func (f *FakeTransport) SendMessage(ctx context.Context, req chatapi.SendRequest) (chatapi.SendResult, error) {
	f.mu.Lock()
	f.calls["SendMessage"]++
	gate := f.SendGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return chatapi.SendResult{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, req)
	if f.SendErr != nil {
		return chatapi.SendResult{}, f.SendErr
	}

	sessionID := req.SessionID
	if sessionID == "" {
		id, at := f.nextLocked("s")
		f.sessions[id] = &models.ChatSession{ID: id, VisitorID: req.VisitorID, Status: models.SessionActive, CreatedAt: at, UpdatedAt: at}
		sessionID = id
	}
	session, ok := f.sessions[sessionID]
	if !ok {
		return chatapi.SendResult{}, chatapi.ErrSessionNotFound
	}

	id, at := f.nextLocked("m")
	msg := models.ChatMessage{
		ID:           id,
		SessionID:    sessionID,
		Sender:       req.Sender,
		Type:         req.Type,
		Content:      req.Message,
		FileURL:      req.FileURL,
		FileName:     req.FileName,
		FileDuration: req.FileDuration,
		CreatedAt:    at,
	}
	if req.ClientID != "" {
		clientID := req.ClientID
		msg.ClientID = &clientID
	}
	session.Messages = append(session.Messages, msg)
	session.UpdatedAt = at

	result := chatapi.SendResult{Session: *session}
	result.Session.Messages = nil
	if !f.OmitMessage {
		result.Message = msg
	}
	return result, nil
}

func (f *FakeTransport) UpdateContact(ctx context.Context, sessionID string, update models.ContactUpdate) (models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["UpdateContact"]++
	if f.ContactErr != nil {
		return models.ChatSession{}, f.ContactErr
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return models.ChatSession{}, chatapi.ErrSessionNotFound
	}
	f.Contacts = append(f.Contacts, update)
	if update.VisitorName != nil {
		s.VisitorName = update.VisitorName
	}
	if update.VisitorPhone != nil {
		s.VisitorPhone = update.VisitorPhone
	}
	if update.Status != nil {
		s.Status = *update.Status
	}
	return copySession(s), nil
}

func (f *FakeTransport) MarkRead(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["MarkRead"]++
	f.Reads = append(f.Reads, sessionID)
	if s, ok := f.sessions[sessionID]; ok {
		for i := range s.Messages {
			if s.Messages[i].Sender == models.SenderVisitor {
				s.Messages[i].Read = true
			}
		}
	}
	return nil
}

func (f *FakeTransport) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DeleteSession"]++
	if _, ok := f.sessions[sessionID]; !ok {
		return chatapi.ErrSessionNotFound
	}
	delete(f.sessions, sessionID)
	f.Deleted = append(f.Deleted, sessionID)
	return nil
}

func (f *FakeTransport) Upload(ctx context.Context, kind models.MessageType, fileName string, content io.Reader) (chatapi.UploadResult, error) {
	if _, err := io.Copy(io.Discard, content); err != nil {
		return chatapi.UploadResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Upload"]++
	if f.UploadErr != nil {
		return chatapi.UploadResult{}, f.UploadErr
	}
	f.Uploads = append(f.Uploads, fileName)
	return chatapi.UploadResult{URL: "/uploads/" + string(kind) + "/" + fileName, FileName: fileName}, nil
}

func (f *FakeTransport) GetSettings(ctx context.Context) (models.ChatSettings, error) {
	return models.ChatSettings{ChatTimeout: models.DefaultChatTimeout, ChatEnabled: true}, nil
}

func copySession(s *models.ChatSession) models.ChatSession {
	out := *s
	out.Messages = append([]models.ChatMessage(nil), s.Messages...)
	return out
}
