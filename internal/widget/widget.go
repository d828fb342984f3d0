// Package widget implements the visitor side of the support chat: a local
// session with optimistic sends, a visibility-aware poll loop, attachments and
// voice notes, and a timed fallback to WhatsApp when nobody answers.
package widget

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

	"github.com/google/uuid"

	"support-chat/internal/chatapi"
	"support-chat/internal/chatstate"
	"support-chat/internal/localstore"
	"support-chat/internal/media"
	"support-chat/internal/models"
	"support-chat/internal/poller"
	"support-chat/internal/whatsapp"
)

var (
	ErrDisabled       = errors.New("chat is disabled")
	ErrSendInFlight   = errors.New("a message is already being sent")
	ErrBusy           = errors.New("another send or upload is in progress")
	ErrNoSession      = errors.New("no chat session yet")
	ErrUnknownMessage = errors.New("unknown message")
)

// State is the coarse lifecycle of the widget.
type State string

const (
	StateClosed           State = "closed"
	StateNoSession        State = "open/no-session"
	StateActive           State = "open/session-active"
	StateAwaitingFallback State = "awaiting-fallback"
	StateFallbackShown    State = "fallback-shown"
)

const (
	DefaultPollInterval = 3 * time.Second

	welcomeID   = "welcome"
	welcomeText = "Hi there! How can we help you today? Send us a message and our team will reply shortly."
	defaultLead = "Hello, I would like some help."

	bannerSendFailed     = "Failed to send message. Please try again."
	bannerMicrophone     = "Could not access the microphone. Please check your browser permissions."
	bannerUploadFailed   = "Upload failed. Please try again."
	bannerCallbackFailed = "Could not send your details. Please try again."
	bannerEmptyRecording = "Nothing was recorded. Please try again."
)

// Transport is the part of the chat API the visitor uses.
type Transport interface {
	GetSession(ctx context.Context, sessionID string) (models.ChatSession, error)
	SendMessage(ctx context.Context, req chatapi.SendRequest) (chatapi.SendResult, error)
	UpdateContact(ctx context.Context, sessionID string, update models.ContactUpdate) (models.ChatSession, error)
	Upload(ctx context.Context, kind models.MessageType, fileName string, content io.Reader) (chatapi.UploadResult, error)
}

type Options struct {
	Transport Transport
	Store     localstore.Store
	Settings  models.ChatSettings
	Recorder  media.AudioRecorder
	Player    media.AudioPlayer
	Notifier  media.Notifier
	Logger    *slog.Logger

	PollInterval time.Duration
	// FallbackDelay overrides Settings.ChatTimeout.
	FallbackDelay time.Duration
	Now           func() time.Time

	// OnChange runs after every visible state change, outside the widget lock.
	OnChange func()
	// OnFallback runs each time the WhatsApp fallback is revealed.
	OnFallback func(link string)
}

// Draft is an outgoing visitor message.
type Draft struct {
	Text         string
	Type         models.MessageType
	FileURL      string
	FileName     string
	FileDuration int
}

func (d Draft) blank() bool {
	return strings.TrimSpace(d.Text) == "" && d.FileURL == ""
}

// View is a snapshot for rendering.
type View struct {
	State             State
	SessionID         string
	Messages          []models.ChatMessage
	Banner            string
	Sending           bool
	Uploading         bool
	Recording         bool
	RecordingSeconds  int
	FallbackVisible   bool
	WhatsAppLink      string
	CallbackSubmitted bool
	PlayingID         string
}

// Widget is one visitor chat client. All methods are safe for concurrent use.
type Widget struct {
	transport  Transport
	store      localstore.Store
	settings   models.ChatSettings
	notifier   media.Notifier
	logger     *slog.Logger
	now        func() time.Time
	delay      time.Duration
	onChange   func()
	onFallback func(string)

	poller    *poller.Poller
	recording *media.Recording
	playback  *media.Playback

	mu                sync.Mutex
	ctx               context.Context
	open              bool
	tornDown          bool
	sessionID         string
	visitorID         string
	messages          *chatstate.Collection
	drafts            map[string]Draft
	sending           bool
	uploading         bool
	banner            string
	fallbackTimer     *time.Timer
	fallbackGen       int
	fallbackArmed     bool
	fallbackShown     bool
	callbackSubmitted bool
}

// New builds the widget and restores a persisted session. A stored session
// the server no longer knows is discarded. ctx bounds background polling.
func New(ctx context.Context, opts Options) (*Widget, error) {
	w := &Widget{
		transport:  opts.Transport,
		store:      opts.Store,
		settings:   opts.Settings,
		notifier:   opts.Notifier,
		logger:     opts.Logger,
		now:        opts.Now,
		delay:      opts.FallbackDelay,
		onChange:   opts.OnChange,
		onFallback: opts.OnFallback,
		ctx:        ctx,
		messages:   chatstate.New(),
		drafts:     make(map[string]Draft),
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.delay <= 0 {
		w.delay = time.Duration(w.settings.TimeoutSeconds()) * time.Second
	}
	if w.store == nil {
		w.store = localstore.NewMemory()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	w.poller = poller.New(interval, w.poll)
	w.recording = media.NewRecording(opts.Recorder, func(int) { w.changed() })
	w.playback = media.NewPlayback(opts.Player, w.changed)

	if !w.settings.ChatEnabled {
		return w, nil
	}

	visitorID, err := localstore.VisitorID(w.store, w.now())
	if err != nil {
		return nil, err
	}
	w.visitorID = visitorID

	stored, ok, err := w.store.Get(localstore.KeySessionID)
	if err != nil {
		return nil, fmt.Errorf("read session id: %w", err)
	}
	if ok && stored != "" {
		w.restore(ctx, stored)
	}
	return w, nil
}

func (w *Widget) restore(ctx context.Context, sessionID string) {
	session, err := w.transport.GetSession(ctx, sessionID)
	switch {
	case errors.Is(err, chatapi.ErrSessionNotFound):
		w.logger.Debug("stored chat session is gone, starting fresh", "session_id", sessionID)
		if err := w.store.Delete(localstore.KeySessionID); err != nil {
			w.logger.Warn("clear stored session failed", "error", err)
		}
	case err != nil:
		// keep the id; the poll loop will catch up once the server answers
		w.logger.Debug("restore chat session failed", "session_id", sessionID, "error", err)
		w.sessionID = sessionID
	default:
		w.sessionID = session.ID
		w.messages.Merge(session.Messages)
	}
}

// VisitorID returns the persisted visitor identity.
func (w *Widget) VisitorID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visitorID
}

// Open shows the chat. The first open without a session adds a local welcome.
func (w *Widget) Open() error {
	w.mu.Lock()
	if !w.settings.ChatEnabled {
		w.mu.Unlock()
		return ErrDisabled
	}
	if w.open || w.tornDown {
		w.mu.Unlock()
		return nil
	}
	w.open = true
	if w.sessionID == "" && w.messages.Len() == 0 {
		w.messages.Add(models.ChatMessage{
			ID:        welcomeID,
			Sender:    models.SenderBot,
			Type:      models.MessageText,
			Content:   welcomeText,
			Read:      true,
			CreatedAt: w.now(),
		})
	}
	hasSession := w.sessionID != ""
	w.mu.Unlock()

	if hasSession {
		w.poller.Start(w.ctx)
	}
	w.changed()
	return nil
}

// Close hides the chat and stops polling.
func (w *Widget) Close() {
	w.mu.Lock()
	w.open = false
	w.mu.Unlock()
	w.poller.Stop()
	w.changed()
}

// SetVisible pauses polling while the page is hidden.
func (w *Widget) SetVisible(visible bool) {
	w.poller.SetVisible(visible)
}

// Send posts a visitor message. A blank draft without attachment is ignored.
// The message appears immediately as pending; on failure it stays in the list
// marked failed until Resend. Send is refused with ErrBusy while an upload or
// recording runs.
func (w *Widget) Send(ctx context.Context, draft Draft) (models.ChatMessage, error) {
	if draft.Type == "" {
		draft.Type = models.MessageText
	}
	if draft.blank() {
		return models.ChatMessage{}, nil
	}

	w.mu.Lock()
	if !w.settings.ChatEnabled {
		w.mu.Unlock()
		return models.ChatMessage{}, ErrDisabled
	}
	if w.sending {
		w.mu.Unlock()
		return models.ChatMessage{}, ErrSendInFlight
	}
	if w.uploading || w.recording.Active() {
		w.mu.Unlock()
		return models.ChatMessage{}, ErrBusy
	}
	tempID, req := w.enqueueLocked(draft)
	w.mu.Unlock()
	w.changed()

	return w.complete(ctx, tempID, req)
}

// enqueueLocked adds the optimistic entry and takes the send slot.
func (w *Widget) enqueueLocked(draft Draft) (string, chatapi.SendRequest) {
	tempID := chatstate.NewTempID()
	w.messages.Add(w.optimistic(tempID, draft))
	w.drafts[tempID] = draft
	return tempID, w.beginSendLocked(tempID, draft)
}

// Resend retries a failed message.
func (w *Widget) Resend(ctx context.Context, tempID string) (models.ChatMessage, error) {
	w.mu.Lock()
	if !w.settings.ChatEnabled {
		w.mu.Unlock()
		return models.ChatMessage{}, ErrDisabled
	}
	if w.sending {
		w.mu.Unlock()
		return models.ChatMessage{}, ErrSendInFlight
	}
	if w.uploading || w.recording.Active() {
		w.mu.Unlock()
		return models.ChatMessage{}, ErrBusy
	}
	msg, ok := w.messages.Get(tempID)
	draft, known := w.drafts[tempID]
	if !ok || !known || !msg.Failed {
		w.mu.Unlock()
		return models.ChatMessage{}, ErrUnknownMessage
	}
	w.messages.MarkPending(tempID)
	req := w.beginSendLocked(tempID, draft)
	w.mu.Unlock()
	w.changed()

	return w.complete(ctx, tempID, req)
}

func (w *Widget) optimistic(tempID string, d Draft) models.ChatMessage {
	msg := models.ChatMessage{
		ID:        tempID,
		SessionID: w.sessionID,
		ClientID:  &tempID,
		Sender:    models.SenderVisitor,
		Type:      d.Type,
		Content:   d.Text,
		CreatedAt: w.now(),
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

func (w *Widget) beginSendLocked(tempID string, d Draft) chatapi.SendRequest {
	w.sending = true
	w.banner = ""
	w.restartFallbackLocked()

	req := chatapi.SendRequest{
		SessionID: w.sessionID,
		VisitorID: w.visitorID,
		Message:   d.Text,
		Sender:    models.SenderVisitor,
		Type:      d.Type,
		ClientID:  tempID,
	}
	if d.FileURL != "" {
		req.FileURL = &d.FileURL
	}
	if d.FileName != "" {
		req.FileName = &d.FileName
	}
	if d.FileDuration > 0 {
		req.FileDuration = &d.FileDuration
	}
	return req
}

func (w *Widget) complete(ctx context.Context, tempID string, req chatapi.SendRequest) (models.ChatMessage, error) {
	res, err := w.transport.SendMessage(ctx, req)

	w.mu.Lock()
	w.sending = false
	if err != nil {
		w.messages.MarkFailed(tempID)
		w.banner = bannerSendFailed
		w.mu.Unlock()
		w.changed()
		return models.ChatMessage{}, fmt.Errorf("send message: %w", err)
	}

	startPolling := false
	if w.sessionID == "" && res.Session.ID != "" {
		w.sessionID = res.Session.ID
		if err := w.store.Set(localstore.KeySessionID, res.Session.ID); err != nil {
			w.logger.Warn("persist session id failed", "error", err)
		}
		startPolling = w.open && !w.tornDown
	}

	confirmed := res.Message
	if confirmed.ID != "" && confirmed.CreatedAt.IsZero() {
		if pending, ok := w.messages.Get(tempID); ok {
			confirmed.CreatedAt = pending.CreatedAt
		}
	}
	stored := w.messages.Reconcile(tempID, confirmed)
	delete(w.drafts, tempID)
	w.mu.Unlock()

	if startPolling {
		w.poller.Start(w.ctx)
	}
	w.changed()
	return stored, nil
}

func (w *Widget) poll(ctx context.Context) {
	w.mu.Lock()
	if !w.open || w.sessionID == "" || w.tornDown {
		w.mu.Unlock()
		return
	}
	sessionID := w.sessionID
	w.mu.Unlock()

	session, err := w.transport.GetSession(ctx, sessionID)
	if err != nil {
		w.logger.Debug("chat poll failed", "session_id", sessionID, "error", err)
		return
	}

	w.mu.Lock()
	if w.sessionID != sessionID || w.tornDown {
		w.mu.Unlock()
		return
	}
	added := w.messages.Merge(session.Messages)
	adminReplied := false
	for _, m := range added {
		if m.Sender == models.SenderAdmin {
			adminReplied = true
			break
		}
	}
	if adminReplied {
		w.stopFallbackLocked()
		w.fallbackShown = false
	}
	w.mu.Unlock()

	if adminReplied && w.notifier != nil {
		w.notifier.Notify()
	}
	if len(added) > 0 {
		w.changed()
	}
}

func (w *Widget) restartFallbackLocked() {
	w.stopFallbackLocked()
	w.fallbackArmed = true
	gen := w.fallbackGen
	w.fallbackTimer = time.AfterFunc(w.delay, func() { w.fireFallback(gen) })
}

func (w *Widget) stopFallbackLocked() {
	w.fallbackGen++
	w.fallbackArmed = false
	if w.fallbackTimer != nil {
		w.fallbackTimer.Stop()
		w.fallbackTimer = nil
	}
}

func (w *Widget) fireFallback(gen int) {
	w.mu.Lock()
	if gen != w.fallbackGen || w.tornDown {
		w.mu.Unlock()
		return
	}
	w.fallbackArmed = false
	w.fallbackShown = true
	w.fallbackTimer = nil
	link := w.whatsAppLinkLocked()
	w.mu.Unlock()

	if w.onFallback != nil {
		w.onFallback(link)
	}
	w.changed()
}

func (w *Widget) whatsAppLinkLocked() string {
	lead := defaultLead
	msgs := w.messages.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == models.SenderVisitor && strings.TrimSpace(msgs[i].Content) != "" {
			lead = msgs[i].Content
			break
		}
	}
	return whatsapp.Link(w.settings.WhatsAppNumber, lead)
}

// WhatsAppLink returns the deep link prefilled with the last visitor message.
func (w *Widget) WhatsAppLink() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.whatsAppLinkLocked()
}

// SubmitCallback sends the visitor's name and phone so the team can call back.
// Blank fields are ignored.
func (w *Widget) SubmitCallback(ctx context.Context, name, phone string) error {
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	if name == "" || phone == "" {
		return nil
	}

	w.mu.Lock()
	if !w.settings.ChatEnabled {
		w.mu.Unlock()
		return ErrDisabled
	}
	sessionID := w.sessionID
	w.mu.Unlock()
	if sessionID == "" {
		return ErrNoSession
	}

	_, err := w.transport.UpdateContact(ctx, sessionID, models.ContactUpdate{VisitorName: &name, VisitorPhone: &phone})

	w.mu.Lock()
	if err != nil {
		w.banner = bannerCallbackFailed
		w.mu.Unlock()
		w.changed()
		return fmt.Errorf("submit callback: %w", err)
	}
	w.callbackSubmitted = true
	w.messages.Add(models.ChatMessage{
		ID:        "local_" + uuid.NewString(),
		SessionID: sessionID,
		Sender:    models.SenderBot,
		Type:      models.MessageText,
		Content:   fmt.Sprintf("Thanks %s! We will call you back at %s shortly.", name, phone),
		Read:      true,
		CreatedAt: w.now(),
	})
	w.mu.Unlock()
	w.changed()
	return nil
}

// UploadFile uploads an attachment and sends it as an image or file message.
func (w *Widget) UploadFile(ctx context.Context, kind models.MessageType, fileName string, content io.Reader) (models.ChatMessage, error) {
	if kind != models.MessageImage {
		kind = models.MessageFile
	}
	return w.uploadAndSend(ctx, kind, fileName, content, func(res chatapi.UploadResult) Draft {
		return Draft{Type: kind, FileURL: res.URL, FileName: res.FileName}
	})
}

// uploadAndSend stores content and posts the message built from the result.
// The upload hands the send slot straight to the message, so no other send
// can start in between.
func (w *Widget) uploadAndSend(ctx context.Context, kind models.MessageType, fileName string, content io.Reader, draft func(chatapi.UploadResult) Draft) (models.ChatMessage, error) {
	w.mu.Lock()
	if !w.settings.ChatEnabled {
		w.mu.Unlock()
		return models.ChatMessage{}, ErrDisabled
	}
	if w.sending || w.uploading || w.recording.Active() {
		w.mu.Unlock()
		return models.ChatMessage{}, ErrBusy
	}
	w.uploading = true
	w.banner = ""
	w.mu.Unlock()
	w.changed()

	res, err := w.transport.Upload(ctx, kind, fileName, content)

	w.mu.Lock()
	w.uploading = false
	if err != nil {
		w.banner = uploadBanner(err)
		w.mu.Unlock()
		w.changed()
		return models.ChatMessage{}, fmt.Errorf("upload %s: %w", kind, err)
	}
	if !w.settings.ChatEnabled {
		w.banner = bannerSendFailed
		w.mu.Unlock()
		w.changed()
		return models.ChatMessage{}, ErrDisabled
	}
	tempID, req := w.enqueueLocked(draft(res))
	w.mu.Unlock()
	w.changed()

	return w.complete(ctx, tempID, req)
}

func uploadBanner(err error) string {
	var apiErr *chatapi.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return bannerUploadFailed
}

// StartRecording begins a voice note. It is refused while a send or upload runs.
func (w *Widget) StartRecording(ctx context.Context) error {
	w.mu.Lock()
	if !w.settings.ChatEnabled {
		w.mu.Unlock()
		return ErrDisabled
	}
	if w.sending || w.uploading {
		w.mu.Unlock()
		return ErrBusy
	}

	err := w.recording.Start(ctx)
	switch {
	case err == nil:
		w.banner = ""
	case errors.Is(err, media.ErrMicrophone):
		w.banner = bannerMicrophone
	}
	w.mu.Unlock()
	w.changed()
	return err
}

// StopRecording uploads the captured note and sends it as a voice message.
func (w *Widget) StopRecording(ctx context.Context) (models.ChatMessage, error) {
	clip, err := w.recording.Stop()
	if err != nil {
		if errors.Is(err, media.ErrEmptyRecording) {
			w.setBanner(bannerEmptyRecording)
		}
		return models.ChatMessage{}, err
	}

	return w.uploadAndSend(ctx, models.MessageVoice, clip.FileName, bytes.NewReader(clip.Data), func(res chatapi.UploadResult) Draft {
		return Draft{Type: models.MessageVoice, FileURL: res.URL, FileName: res.FileName, FileDuration: clip.Duration}
	})
}

// CancelRecording discards the current voice note.
func (w *Widget) CancelRecording() {
	w.recording.Cancel()
	w.changed()
}

// TogglePlayback plays or pauses the voice note with the given message id.
func (w *Widget) TogglePlayback(ctx context.Context, messageID string) error {
	w.mu.Lock()
	msg, ok := w.messages.Get(messageID)
	w.mu.Unlock()
	if !ok || msg.FileURL == nil {
		return ErrUnknownMessage
	}
	err := w.playback.Toggle(ctx, messageID, *msg.FileURL)
	w.changed()
	return err
}

// DismissBanner clears the error banner.
func (w *Widget) DismissBanner() {
	w.setBanner("")
}

func (w *Widget) setBanner(text string) {
	w.mu.Lock()
	w.banner = text
	w.mu.Unlock()
	w.changed()
}

// Teardown stops every timer, loop and device. The widget is inert afterwards.
func (w *Widget) Teardown() {
	w.mu.Lock()
	w.tornDown = true
	w.open = false
	w.stopFallbackLocked()
	w.mu.Unlock()

	w.poller.Stop()
	w.recording.Cancel()
	w.playback.Stop()
}

// View returns a snapshot of the widget for rendering.
func (w *Widget) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.settings.ChatEnabled {
		return View{State: StateClosed}
	}

	v := View{
		State:             w.stateLocked(),
		SessionID:         w.sessionID,
		Messages:          w.messages.Messages(),
		Banner:            w.banner,
		Sending:           w.sending,
		Uploading:         w.uploading,
		Recording:         w.recording.Active(),
		RecordingSeconds:  w.recording.Seconds(),
		FallbackVisible:   w.fallbackShown,
		CallbackSubmitted: w.callbackSubmitted,
		PlayingID:         w.playback.Current(),
	}
	if w.fallbackShown {
		v.WhatsAppLink = w.whatsAppLinkLocked()
	}
	return v
}

func (w *Widget) stateLocked() State {
	switch {
	case !w.open:
		return StateClosed
	case w.fallbackShown:
		return StateFallbackShown
	case w.fallbackArmed:
		return StateAwaitingFallback
	case w.sessionID != "":
		return StateActive
	default:
		return StateNoSession
	}
}

func (w *Widget) changed() {
	if w.onChange != nil {
		w.onChange()
	}
}
