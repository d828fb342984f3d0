// Package chatapi is a typed client for the chat transport endpoints.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"support-chat/internal/models"
)

var ErrSessionNotFound = errors.New("chat session not found")

// APIError is a non-successful response carrying the server's error text.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat api: status %d", e.Status)
	}
	return e.Message
}

// Client talks to a chat transport server over HTTP.
type Client struct {
	baseURL    string
	adminToken string
	http       *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithAdminToken authenticates every request as the operator.
func WithAdminToken(token string) Option {
	return func(c *Client) { c.adminToken = token }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendRequest is the body of POST /chat.
type SendRequest struct {
	SessionID    string             `json:"sessionId,omitempty"`
	VisitorID    string             `json:"visitorId,omitempty"`
	Message      string             `json:"message"`
	Sender       models.SenderRole  `json:"sender"`
	Type         models.MessageType `json:"messageType"`
	FileURL      *string            `json:"fileUrl,omitempty"`
	FileName     *string            `json:"fileName,omitempty"`
	FileDuration *int               `json:"fileDuration,omitempty"`
	ClientID     string             `json:"clientId,omitempty"`
}

// SendResult is the confirmed session and message. Message.ID is empty when
// the server omitted the stored record.
type SendResult struct {
	Session models.ChatSession
	Message models.ChatMessage
}

type UploadResult struct {
	URL      string
	FileName string
}

type envelope struct {
	Success  bool                 `json:"success"`
	Error    string               `json:"error"`
	Session  *models.ChatSession  `json:"session"`
	Sessions []models.ChatSession `json:"sessions"`
	Message  *models.ChatMessage  `json:"message"`
	Settings *models.ChatSettings `json:"settings"`
	URL      string               `json:"url"`
	FileName string               `json:"fileName"`
}

func (c *Client) ListSessions(ctx context.Context, status string) ([]models.ChatSession, error) {
	path := "/chat"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var resp envelope
	if err := c.do(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// GetSession returns ErrSessionNotFound when the server no longer knows the id.
func (c *Client) GetSession(ctx context.Context, sessionID string) (models.ChatSession, error) {
	var resp envelope
	err := c.do(ctx, http.MethodGet, "/chat/"+url.PathEscape(sessionID), nil, "", &resp)
	if err != nil {
		return models.ChatSession{}, err
	}
	if resp.Session == nil {
		return models.ChatSession{}, &APIError{Status: http.StatusOK, Message: "response missing session"}
	}
	return *resp.Session, nil
}

func (c *Client) SendMessage(ctx context.Context, req SendRequest) (SendResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("encode message: %w", err)
	}
	var resp envelope
	if err := c.do(ctx, http.MethodPost, "/chat", bytes.NewReader(body), "application/json", &resp); err != nil {
		return SendResult{}, err
	}

	var result SendResult
	if resp.Session != nil {
		result.Session = *resp.Session
	}
	if resp.Message != nil {
		result.Message = *resp.Message
	}
	return result, nil
}

func (c *Client) UpdateContact(ctx context.Context, sessionID string, update models.ContactUpdate) (models.ChatSession, error) {
	body, err := json.Marshal(update)
	if err != nil {
		return models.ChatSession{}, fmt.Errorf("encode contact: %w", err)
	}
	var resp envelope
	if err := c.do(ctx, http.MethodPatch, "/chat/"+url.PathEscape(sessionID), bytes.NewReader(body), "application/json", &resp); err != nil {
		return models.ChatSession{}, err
	}
	if resp.Session == nil {
		return models.ChatSession{}, nil
	}
	return *resp.Session, nil
}

func (c *Client) MarkRead(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/chat/"+url.PathEscape(sessionID)+"/read", nil, "", nil)
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/chat/"+url.PathEscape(sessionID), nil, "", nil)
}

// Upload posts a multipart form with the file and its category.
func (c *Client) Upload(ctx context.Context, kind models.MessageType, fileName string, content io.Reader) (UploadResult, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	if err := w.WriteField("type", string(kind)); err != nil {
		return UploadResult{}, err
	}
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return UploadResult{}, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return UploadResult{}, fmt.Errorf("read upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return UploadResult{}, err
	}

	var resp envelope
	if err := c.do(ctx, http.MethodPost, "/upload", buf, w.FormDataContentType(), &resp); err != nil {
		return UploadResult{}, err
	}
	if resp.FileName == "" {
		resp.FileName = fileName
	}
	return UploadResult{URL: resp.URL, FileName: resp.FileName}, nil
}

func (c *Client) GetSettings(ctx context.Context) (models.ChatSettings, error) {
	var resp envelope
	if err := c.do(ctx, http.MethodGet, "/settings/chat", nil, "", &resp); err != nil {
		return models.ChatSettings{}, err
	}
	if resp.Settings == nil {
		return models.ChatSettings{ChatTimeout: models.DefaultChatTimeout, ChatEnabled: true}, nil
	}
	return *resp.Settings, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out *envelope) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	c.logger.Debug("chat api call", "method", method, "path", path, "status", res.StatusCode)

	if res.StatusCode == http.StatusNoContent {
		return nil
	}

	var resp envelope
	decodeErr := json.NewDecoder(res.Body).Decode(&resp)

	if res.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/chat/") {
		return ErrSessionNotFound
	}
	if res.StatusCode >= 300 || (decodeErr == nil && !resp.Success) {
		msg := resp.Error
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		return &APIError{Status: res.StatusCode, Message: msg}
	}
	if decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", method, path, decodeErr)
	}
	if out != nil {
		*out = resp
	}
	return nil
}
