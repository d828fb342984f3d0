// Package console implements the operator side of the support chat: the
// session list, the selected conversation and replies with attachments.
package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"support-chat/internal/chatapi"
	"support-chat/internal/chatstate"
	"support-chat/internal/media"
	"support-chat/internal/models"
	"support-chat/internal/poller"
)

var (
	ErrNoSession      = errors.New("no session selected")
	ErrUnknownSession = errors.New("unknown session")
	ErrSendInFlight   = errors.New("a reply is already being sent")
	ErrBusy           = errors.New("another send or upload is in progress")
	ErrUnknownMessage = errors.New("unknown message")
	ErrInvalidFilter  = errors.New("status filter must be all, active or closed")
)

const (
	DefaultPollInterval = 5 * time.Second

	FilterAll    = "all"
	FilterActive = string(models.SessionActive)
	FilterClosed = string(models.SessionClosed)
)

const (
	bannerReplyFailed  = "Failed to send reply. Please try again."
	bannerUploadFailed = "Upload failed. Please try again."
)

// Transport is the part of the chat API the operator uses.
type Transport interface {
	ListSessions(ctx context.Context, status string) ([]models.ChatSession, error)
	SendMessage(ctx context.Context, req chatapi.SendRequest) (chatapi.SendResult, error)
	UpdateContact(ctx context.Context, sessionID string, update models.ContactUpdate) (models.ChatSession, error)
	Upload(ctx context.Context, kind models.MessageType, fileName string, content io.Reader) (chatapi.UploadResult, error)
	MarkRead(ctx context.Context, sessionID string) error
	DeleteSession(ctx context.Context, sessionID string) error
}

type Options struct {
	Transport Transport
	Recorder  media.AudioRecorder
	Player    media.AudioPlayer
	Logger    *slog.Logger

	PollInterval time.Duration
	Filter       string
	Now          func() time.Time

	// OnChange runs after every visible state change, outside the console lock.
	OnChange func()
	// OnScroll runs when the selected conversation gained or lost messages.
	OnScroll func()
}

// Draft is an outgoing operator reply.
type Draft struct {
	Text         string
	Type         models.MessageType
	FileURL      string
	FileName     string
	FileDuration int
}

// SessionSummary is one row of the session list.
type SessionSummary struct {
	Session models.ChatSession
	Unread  int
	Last    *models.ChatMessage
}

type View struct {
	Sessions         []SessionSummary
	Selected         *models.ChatSession
	Filter           string
	Loading          bool
	Sending          bool
	Uploading        bool
	Recording        bool
	RecordingSeconds int
	Banner           string
	PlayingID        string
}

// Console is one operator client. All methods are safe for concurrent use.
type Console struct {
	transport Transport
	logger    *slog.Logger
	now       func() time.Time
	onChange  func()
	onScroll  func()

	poller    *poller.Poller
	recording *media.Recording
	playback  *media.Playback

	mu         sync.Mutex
	filter     string
	sessions   []models.ChatSession
	selectedID string
	selected   *chatstate.Collection
	loading    bool
	sending    bool
	uploading  bool
	banner     string
}

func New(opts Options) *Console {
	c := &Console{
		transport: opts.Transport,
		logger:    opts.Logger,
		now:       opts.Now,
		onChange:  opts.OnChange,
		onScroll:  opts.OnScroll,
		filter:    opts.Filter,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.filter == "" {
		c.filter = FilterAll
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	c.poller = poller.New(interval, c.poll)
	c.recording = media.NewRecording(opts.Recorder, func(int) { c.changed() })
	c.playback = media.NewPlayback(opts.Player, c.changed)
	return c
}

// Start loads the session list and begins polling. ctx bounds the poll loop.
func (c *Console) Start(ctx context.Context) error {
	err := c.fetch(ctx, true)
	c.poller.Start(ctx)
	return err
}

// Refresh reloads the session list, showing the loading indicator.
func (c *Console) Refresh(ctx context.Context) error {
	return c.fetch(ctx, true)
}

// SetVisible pauses polling while the console is hidden.
func (c *Console) SetVisible(visible bool) {
	c.poller.SetVisible(visible)
}

// SetFilter switches the status filter and reloads.
func (c *Console) SetFilter(ctx context.Context, filter string) error {
	switch filter {
	case FilterAll, FilterActive, FilterClosed:
	default:
		return ErrInvalidFilter
	}
	c.mu.Lock()
	c.filter = filter
	c.mu.Unlock()
	return c.fetch(ctx, true)
}

func (c *Console) poll(ctx context.Context) {
	if err := c.fetch(ctx, false); err != nil {
		c.logger.Debug("console poll failed", "error", err)
	}
}

func (c *Console) fetch(ctx context.Context, manual bool) error {
	c.mu.Lock()
	filter := c.filter
	if manual {
		c.loading = true
	}
	c.mu.Unlock()
	if manual {
		c.changed()
	}

	sessions, err := c.transport.ListSessions(ctx, filter)

	c.mu.Lock()
	if manual {
		c.loading = false
	}
	if err != nil {
		if manual {
			c.banner = "Failed to load chats."
		}
		c.mu.Unlock()
		if manual {
			c.changed()
		}
		return fmt.Errorf("list sessions: %w", err)
	}
	if filter != c.filter {
		// a newer filter is being loaded
		c.mu.Unlock()
		return nil
	}
	c.sessions = sessions
	scroll := c.syncSelectedLocked()
	markID := ""
	if s, ok := c.findLocked(c.selectedID); ok && s.UnreadCount() > 0 {
		markID = s.ID
		c.markReadLocked(s.ID)
	}
	c.mu.Unlock()

	c.changed()
	if scroll {
		c.scrolled()
	}
	if markID != "" {
		c.markRead(ctx, markID)
	}
	return nil
}

// syncSelectedLocked merges the selected session's messages from the latest
// snapshot and reports whether its message count changed.
func (c *Console) syncSelectedLocked() bool {
	if c.selectedID == "" || c.selected == nil {
		return false
	}
	s, ok := c.findLocked(c.selectedID)
	if !ok {
		return false
	}
	before := c.selected.Len()
	c.selected.Merge(s.Messages)
	return c.selected.Len() != before
}

func (c *Console) findLocked(id string) (models.ChatSession, bool) {
	if id == "" {
		return models.ChatSession{}, false
	}
	for _, s := range c.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return models.ChatSession{}, false
}

func (c *Console) markReadLocked(id string) {
	for i := range c.sessions {
		if c.sessions[i].ID != id {
			continue
		}
		// Copy first; earlier View snapshots share the old slice.
		msgs := append([]models.ChatMessage(nil), c.sessions[i].Messages...)
		for j := range msgs {
			if msgs[j].Sender == models.SenderVisitor {
				msgs[j].Read = true
			}
		}
		c.sessions[i].Messages = msgs
	}
}

func (c *Console) markRead(ctx context.Context, id string) {
	if err := c.transport.MarkRead(ctx, id); err != nil {
		c.logger.Debug("mark read failed", "session_id", id, "error", err)
	}
}

// Select opens a conversation and marks its visitor messages read.
func (c *Console) Select(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	s, ok := c.findLocked(sessionID)
	if !ok {
		c.mu.Unlock()
		return ErrUnknownSession
	}
	c.selectedID = sessionID
	c.selected = chatstate.New()
	c.selected.Merge(s.Messages)
	unread := s.UnreadCount()
	c.markReadLocked(sessionID)
	c.mu.Unlock()

	c.changed()
	c.scrolled()
	if unread > 0 {
		c.markRead(ctx, sessionID)
	}
	return nil
}

// Reply sends an operator message to the selected session. On failure the
// optimistic entry is dropped and a banner is shown. It is refused with ErrBusy
// while an upload or recording runs.
func (c *Console) Reply(ctx context.Context, draft Draft) (models.ChatMessage, error) {
	if draft.Type == "" {
		draft.Type = models.MessageText
	}
	if strings.TrimSpace(draft.Text) == "" && draft.FileURL == "" {
		return models.ChatMessage{}, nil
	}

	c.mu.Lock()
	if c.selectedID == "" {
		c.mu.Unlock()
		return models.ChatMessage{}, ErrNoSession
	}
	if c.sending {
		c.mu.Unlock()
		return models.ChatMessage{}, ErrSendInFlight
	}
	if c.uploading || c.recording.Active() {
		c.mu.Unlock()
		return models.ChatMessage{}, ErrBusy
	}
	p := c.enqueueLocked(draft)
	c.mu.Unlock()
	c.changed()
	c.scrolled()

	return c.complete(ctx, p)
}

type pendingReply struct {
	col    *chatstate.Collection
	tempID string
	req    chatapi.SendRequest
}

// enqueueLocked adds the optimistic entry to the selected conversation and
// takes the send slot.
func (c *Console) enqueueLocked(draft Draft) pendingReply {
	p := pendingReply{col: c.selected, tempID: chatstate.NewTempID()}
	p.col.Add(c.optimistic(c.selectedID, p.tempID, draft))
	c.sending = true
	c.banner = ""

	p.req = chatapi.SendRequest{
		SessionID: c.selectedID,
		Message:   draft.Text,
		Sender:    models.SenderAdmin,
		Type:      draft.Type,
		ClientID:  p.tempID,
	}
	if draft.FileURL != "" {
		p.req.FileURL = &draft.FileURL
	}
	if draft.FileName != "" {
		p.req.FileName = &draft.FileName
	}
	if draft.FileDuration > 0 {
		p.req.FileDuration = &draft.FileDuration
	}
	return p
}

func (c *Console) complete(ctx context.Context, p pendingReply) (models.ChatMessage, error) {
	res, err := c.transport.SendMessage(ctx, p.req)

	c.mu.Lock()
	c.sending = false
	if err != nil {
		p.col.Remove(p.tempID)
		c.banner = bannerReplyFailed
		c.mu.Unlock()
		c.changed()
		c.scrolled()
		return models.ChatMessage{}, fmt.Errorf("send reply: %w", err)
	}
	stored := p.col.Reconcile(p.tempID, res.Message)
	c.mu.Unlock()
	c.changed()
	return stored, nil
}

func (c *Console) optimistic(sessionID, tempID string, d Draft) models.ChatMessage {
	msg := models.ChatMessage{
		ID:        tempID,
		SessionID: sessionID,
		ClientID:  &tempID,
		Sender:    models.SenderAdmin,
		Type:      d.Type,
		Content:   d.Text,
		Read:      true,
		CreatedAt: c.now(),
		Pending:   true,
	}
	if d.FileURL != "" {
		msg.FileURL = &d.FileURL
	}
	if d.FileName != "" {
		msg.FileName = &d.FileName
	}
	if d.FileDuration > 0 {
		msg.FileDuration = &d.FileDuration
	}
	return msg
}

// UploadAttachment uploads a file and replies with it.
func (c *Console) UploadAttachment(ctx context.Context, kind models.MessageType, fileName string, content io.Reader) (models.ChatMessage, error) {
	if kind != models.MessageImage {
		kind = models.MessageFile
	}
	return c.uploadAndReply(ctx, kind, fileName, content, func(res chatapi.UploadResult) Draft {
		return Draft{Type: kind, FileURL: res.URL, FileName: res.FileName}
	})
}

// uploadAndReply keeps the send slot from the upload through the reply.
func (c *Console) uploadAndReply(ctx context.Context, kind models.MessageType, fileName string, content io.Reader, draft func(chatapi.UploadResult) Draft) (models.ChatMessage, error) {
	c.mu.Lock()
	if c.selectedID == "" {
		c.mu.Unlock()
		return models.ChatMessage{}, ErrNoSession
	}
	if c.sending || c.uploading || c.recording.Active() {
		c.mu.Unlock()
		return models.ChatMessage{}, ErrBusy
	}
	c.uploading = true
	c.banner = ""
	c.mu.Unlock()
	c.changed()

	res, err := c.transport.Upload(ctx, kind, fileName, content)

	c.mu.Lock()
	c.uploading = false
	if err != nil {
		var apiErr *chatapi.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			c.banner = apiErr.Message
		} else {
			c.banner = bannerUploadFailed
		}
		c.mu.Unlock()
		c.changed()
		return models.ChatMessage{}, fmt.Errorf("upload %s: %w", kind, err)
	}
	if c.selectedID == "" || c.selected == nil {
		c.banner = bannerReplyFailed
		c.mu.Unlock()
		c.changed()
		return models.ChatMessage{}, ErrNoSession
	}
	p := c.enqueueLocked(draft(res))
	c.mu.Unlock()
	c.changed()
	c.scrolled()

	return c.complete(ctx, p)
}

// StartRecording begins a voice reply.
func (c *Console) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.selectedID == "" {
		c.mu.Unlock()
		return ErrNoSession
	}
	if c.sending || c.uploading {
		c.mu.Unlock()
		return ErrBusy
	}
	err := c.recording.Start(ctx)
	switch {
	case err == nil:
		c.banner = ""
	case errors.Is(err, media.ErrMicrophone):
		c.banner = "Could not access the microphone."
	}
	c.mu.Unlock()
	c.changed()
	return err
}

// StopRecording uploads the voice note and replies with it.
func (c *Console) StopRecording(ctx context.Context) (models.ChatMessage, error) {
	clip, err := c.recording.Stop()
	if err != nil {
		return models.ChatMessage{}, err
	}
	return c.uploadAndReply(ctx, models.MessageVoice, clip.FileName, bytes.NewReader(clip.Data), func(res chatapi.UploadResult) Draft {
		return Draft{Type: models.MessageVoice, FileURL: res.URL, FileName: res.FileName, FileDuration: clip.Duration}
	})
}

func (c *Console) CancelRecording() {
	c.recording.Cancel()
	c.changed()
}

// TogglePlayback plays or pauses a voice note of the selected session.
func (c *Console) TogglePlayback(ctx context.Context, messageID string) error {
	c.mu.Lock()
	var (
		msg models.ChatMessage
		ok  bool
	)
	if c.selected != nil {
		msg, ok = c.selected.Get(messageID)
	}
	c.mu.Unlock()
	if !ok || msg.FileURL == nil {
		return ErrUnknownMessage
	}
	err := c.playback.Toggle(ctx, messageID, *msg.FileURL)
	c.changed()
	return err
}

// SetStatus closes or reopens a session.
func (c *Console) SetStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	updated, err := c.transport.UpdateContact(ctx, sessionID, models.ContactUpdate{Status: &status})
	if err != nil {
		c.setBanner("Could not update the chat status.")
		return fmt.Errorf("set status: %w", err)
	}

	c.mu.Lock()
	for i := range c.sessions {
		if c.sessions[i].ID == sessionID {
			c.sessions[i].Status = updated.Status
		}
	}
	c.mu.Unlock()
	c.changed()
	return nil
}

// Delete removes a session permanently.
func (c *Console) Delete(ctx context.Context, sessionID string) error {
	if err := c.transport.DeleteSession(ctx, sessionID); err != nil {
		c.setBanner("Could not delete the chat.")
		return fmt.Errorf("delete session: %w", err)
	}

	c.mu.Lock()
	kept := c.sessions[:0]
	for _, s := range c.sessions {
		if s.ID != sessionID {
			kept = append(kept, s)
		}
	}
	c.sessions = kept
	if c.selectedID == sessionID {
		c.selectedID = ""
		c.selected = nil
	}
	c.mu.Unlock()
	c.changed()
	return nil
}

func (c *Console) DismissBanner() {
	c.setBanner("")
}

func (c *Console) setBanner(text string) {
	c.mu.Lock()
	c.banner = text
	c.mu.Unlock()
	c.changed()
}

// Close stops polling, recording and playback.
func (c *Console) Close() {
	c.poller.Stop()
	c.recording.Cancel()
	c.playback.Stop()
}

func (c *Console) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		Sessions:         make([]SessionSummary, 0, len(c.sessions)),
		Filter:           c.filter,
		Loading:          c.loading,
		Sending:          c.sending,
		Uploading:        c.uploading,
		Recording:        c.recording.Active(),
		RecordingSeconds: c.recording.Seconds(),
		Banner:           c.banner,
		PlayingID:        c.playback.Current(),
	}
	for _, s := range c.sessions {
		s.Messages = append([]models.ChatMessage(nil), s.Messages...)
		row := SessionSummary{Session: s, Unread: s.UnreadCount()}
		if last, ok := s.LastMessage(); ok {
			row.Last = &last
		}
		v.Sessions = append(v.Sessions, row)
	}
	if s, ok := c.findLocked(c.selectedID); ok && c.selected != nil {
		s.Messages = c.selected.Messages()
		v.Selected = &s
	}
	return v
}

func (c *Console) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

func (c *Console) scrolled() {
	if c.onScroll != nil {
		c.onScroll()
	}
}
