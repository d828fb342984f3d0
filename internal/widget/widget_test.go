package widget

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat/internal/chatapi"
	"support-chat/internal/localstore"
	"support-chat/internal/media"
	"support-chat/internal/mocks"
	"support-chat/internal/models"
)

var _ Transport = (*chatapi.Client)(nil)
var _ Transport = (*mocks.FakeTransport)(nil)

type harness struct {
	w         *Widget
	transport *mocks.FakeTransport
	store     localstore.Store
	recorder  *mocks.RecorderFake
	player    *mocks.PlayerFake
	notified  atomic.Int32
	fallbacks atomic.Int32

	mu        sync.Mutex
	lastLinks []string
}

func settings() models.ChatSettings {
	return models.ChatSettings{WhatsAppNumber: "08012345678", ChatTimeout: 60, ChatEnabled: true}
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		transport: mocks.NewFakeTransport(),
		store:     localstore.NewMemory(),
		recorder:  &mocks.RecorderFake{},
		player:    &mocks.PlayerFake{},
	}
	opts := Options{
		Transport:     h.transport,
		Store:         h.store,
		Settings:      settings(),
		Recorder:      h.recorder,
		Player:        h.player,
		Notifier:      media.NotifierFunc(func() { h.notified.Add(1) }),
		PollInterval:  15 * time.Millisecond,
		FallbackDelay: time.Hour,
		OnFallback: func(link string) {
			h.fallbacks.Add(1)
			h.mu.Lock()
			h.lastLinks = append(h.lastLinks, link)
			h.mu.Unlock()
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	w, err := New(t.Context(), opts)
	require.NoError(t, err)
	t.Cleanup(w.Teardown)
	h.w = w
	return h
}

func storedSession(t *testing.T, s localstore.Store) string {
	t.Helper()
	v, _, err := s.Get(localstore.KeySessionID)
	require.NoError(t, err)
	return v
}

func TestOpenWithoutSessionShowsWelcome(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.w.Open())
	require.NoError(t, h.w.Open())

	v := h.w.View()
	assert.Equal(t, StateNoSession, v.State)
	require.Len(t, v.Messages, 1)
	assert.Equal(t, models.SenderBot, v.Messages[0].Sender)
	assert.Empty(t, storedSession(t, h.store))
	assert.Zero(t, h.transport.Calls("SendMessage"))
}

func TestSendCreatesSessionAndReconciles(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.w.Open())

	msg, err := h.w.Send(t.Context(), Draft{Text: "Hello"})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Pending)
	sessionID := storedSession(t, h.store)
	assert.NotEmpty(t, sessionID)

	v := h.w.View()
	assert.Equal(t, sessionID, v.SessionID)
	require.Len(t, v.Messages, 2)
	assert.Equal(t, "Hello", v.Messages[1].Content)
	assert.Equal(t, msg.ID, v.Messages[1].ID)
	for _, m := range v.Messages {
		assert.False(t, m.Pending)
	}

	sent := h.transport.SentRequests()
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0].SessionID)
	assert.Equal(t, h.w.VisitorID(), sent[0].VisitorID)
	assert.True(t, strings.HasPrefix(sent[0].ClientID, "tmp_"))
}

func TestPendingEntryVisibleWhileSending(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, nil)
	h.transport.SendGate = gate
	require.NoError(t, h.w.Open())

	done := make(chan error, 1)
	go func() {
		_, err := h.w.Send(context.Background(), Draft{Text: "Hello"})
		done <- err
	}()

	require.Eventually(t, func() bool { return h.w.View().Sending }, time.Second, 5*time.Millisecond)
	v := h.w.View()
	require.Len(t, v.Messages, 2)
	assert.True(t, v.Messages[1].Pending)

	_, err := h.w.Send(t.Context(), Draft{Text: "second"})
	require.ErrorIs(t, err, ErrSendInFlight)
	require.ErrorIs(t, h.w.StartRecording(t.Context()), ErrBusy)

	close(gate)
	require.NoError(t, <-done)
	assert.False(t, h.w.View().Sending)
	assert.Len(t, h.w.View().Messages, 2)
}

func TestEmptySendIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.w.Open())

	msg, err := h.w.Send(t.Context(), Draft{Text: "   \n"})
	require.NoError(t, err)
	assert.Empty(t, msg.ID)
	assert.Len(t, h.w.View().Messages, 1)
	assert.Zero(t, h.transport.Calls("SendMessage"))
}

func TestSendFailureMarksFailedAndResend(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.SendErr = errors.New("network down")
	require.NoError(t, h.w.Open())

	_, err := h.w.Send(t.Context(), Draft{Text: "Hello"})
	require.Error(t, err)

	v := h.w.View()
	require.Len(t, v.Messages, 2)
	failed := v.Messages[1]
	assert.True(t, failed.Failed)
	assert.False(t, failed.Pending)
	assert.NotEmpty(t, v.Banner)
	assert.Empty(t, storedSession(t, h.store))
	assert.Equal(t, 1, h.transport.Calls("SendMessage"))

	h.transport.SendErr = nil
	msg, err := h.w.Resend(t.Context(), failed.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", msg.Content)

	v = h.w.View()
	require.Len(t, v.Messages, 2)
	assert.Equal(t, msg.ID, v.Messages[1].ID)
	assert.False(t, v.Messages[1].Failed)
	assert.Empty(t, v.Banner)

	_, err = h.w.Resend(t.Context(), msg.ID)
	require.ErrorIs(t, err, ErrUnknownMessage)
}

func TestServerOmittingMessageKeepsOptimisticCopy(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.OmitMessage = true
	require.NoError(t, h.w.Open())

	msg, err := h.w.Send(t.Context(), Draft{Text: "Hello"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg.ID, "tmp_"))
	assert.False(t, msg.Pending)
	assert.NotEmpty(t, storedSession(t, h.store))
}

func TestPollMergesAdminReplyAndCancelsFallback(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.FallbackDelay = 300 * time.Millisecond })
	require.NoError(t, h.w.Open())

	_, err := h.w.Send(t.Context(), Draft{Text: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingFallback, h.w.View().State)

	sessionID := storedSession(t, h.store)
	h.transport.AddMessage(sessionID, models.SenderAdmin, "Hi, how can we help?")

	require.Eventually(t, func() bool { return len(h.w.View().Messages) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateActive, h.w.View().State)
	assert.Equal(t, int32(1), h.notified.Load())

	time.Sleep(400 * time.Millisecond)
	assert.Zero(t, h.fallbacks.Load())
	assert.False(t, h.w.View().FallbackVisible)
	assert.Equal(t, int32(1), h.notified.Load())
	assert.Len(t, h.w.View().Messages, 3)
}

func TestFallbackFiresOncePerSilenceWindow(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.FallbackDelay = 60 * time.Millisecond })
	require.NoError(t, h.w.Open())

	_, err := h.w.Send(t.Context(), Draft{Text: "first"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = h.w.Send(t.Context(), Draft{Text: "where is my order?"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.fallbacks.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), h.fallbacks.Load())

	v := h.w.View()
	assert.Equal(t, StateFallbackShown, v.State)
	assert.True(t, v.FallbackVisible)
	assert.Equal(t, "https://wa.me/2348012345678?text=where%20is%20my%20order%3F", v.WhatsAppLink)

	_, err = h.w.Send(t.Context(), Draft{Text: "hello?"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.fallbacks.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestAdminReplyHidesShownFallback(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.FallbackDelay = 20 * time.Millisecond })
	require.NoError(t, h.w.Open())

	_, err := h.w.Send(t.Context(), Draft{Text: "Hello"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.w.View().FallbackVisible }, time.Second, 5*time.Millisecond)

	h.transport.AddMessage(storedSession(t, h.store), models.SenderAdmin, "Sorry for the wait")
	require.Eventually(t, func() bool { return h.w.View().State == StateActive }, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.w.View().WhatsAppLink)
}

func TestTeardownCancelsFallbackAndPolling(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.FallbackDelay = 30 * time.Millisecond })
	require.NoError(t, h.w.Open())
	_, err := h.w.Send(t.Context(), Draft{Text: "Hello"})
	require.NoError(t, err)

	h.w.Teardown()
	polls := h.transport.Calls("GetSession")
	time.Sleep(100 * time.Millisecond)

	assert.Zero(t, h.fallbacks.Load())
	assert.LessOrEqual(t, h.transport.Calls("GetSession"), polls+1)
	assert.Equal(t, StateClosed, h.w.View().State)
}

func TestPollingSuspendedWhileClosedOrHidden(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.w.Open())
	_, err := h.w.Send(t.Context(), Draft{Text: "Hello"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.transport.Calls("GetSession") >= 2 }, time.Second, 5*time.Millisecond)

	h.w.SetVisible(false)
	time.Sleep(30 * time.Millisecond)
	hidden := h.transport.Calls("GetSession")
	time.Sleep(60 * time.Millisecond)
	assert.LessOrEqual(t, h.transport.Calls("GetSession"), hidden+1)

	h.w.SetVisible(true)
	require.Eventually(t, func() bool { return h.transport.Calls("GetSession") > hidden+1 }, time.Second, 5*time.Millisecond)

	h.w.Close()
	time.Sleep(30 * time.Millisecond)
	closed := h.transport.Calls("GetSession")
	time.Sleep(60 * time.Millisecond)
	assert.LessOrEqual(t, h.transport.Calls("GetSession"), closed+1)
}

func TestStaleStoredSessionIsCleared(t *testing.T) {
	store := localstore.NewMemory()
	require.NoError(t, store.Set(localstore.KeySessionID, "gone"))

	h := newHarness(t, func(o *Options) { o.Store = store })
	h.store = store

	assert.Empty(t, storedSession(t, store))
	require.NoError(t, h.w.Open())
	v := h.w.View()
	assert.Equal(t, StateNoSession, v.State)
	assert.Len(t, v.Messages, 1)
}

func TestStoredSessionIsRestored(t *testing.T) {
	transport := mocks.NewFakeTransport()
	sessionID := transport.AddSession("v_1")
	transport.AddMessage(sessionID, models.SenderVisitor, "earlier question")
	transport.AddMessage(sessionID, models.SenderAdmin, "earlier answer")
	store := localstore.NewMemory()
	require.NoError(t, store.Set(localstore.KeySessionID, sessionID))

	h := newHarness(t, func(o *Options) {
		o.Transport = transport
		o.Store = store
	})
	require.NoError(t, h.w.Open())

	v := h.w.View()
	assert.Equal(t, StateActive, v.State)
	require.Len(t, v.Messages, 2)
	assert.Equal(t, "earlier question", v.Messages[0].Content)
	assert.Zero(t, h.notified.Load())
}

func TestUploadFailureShowsServerText(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.UploadErr = &chatapi.APIError{Status: 413, Message: "File too large"}
	require.NoError(t, h.w.Open())
	before := h.w.View().Messages

	_, err := h.w.UploadFile(t.Context(), models.MessageImage, "huge.png", strings.NewReader("data"))
	require.Error(t, err)

	v := h.w.View()
	assert.Equal(t, "File too large", v.Banner)
	assert.Equal(t, before, v.Messages)
	assert.Zero(t, h.transport.Calls("SendMessage"))
	assert.False(t, v.Uploading)
}

func TestUploadFileSendsAttachment(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.w.Open())

	msg, err := h.w.UploadFile(t.Context(), models.MessageImage, "cat.png", strings.NewReader("png"))
	require.NoError(t, err)

	assert.Equal(t, models.MessageImage, msg.Type)
	require.NotNil(t, msg.FileURL)
	assert.Equal(t, "/uploads/image/cat.png", *msg.FileURL)
	sent := h.transport.SentRequests()
	require.Len(t, sent, 1)
	assert.Equal(t, "cat.png", *sent[0].FileName)
}

func TestTextSendRefusedWhileUploadRuns(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, nil)
	h.transport.SendGate = gate
	require.NoError(t, h.w.Open())

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := h.w.UploadFile(context.Background(), models.MessageFile, "notes.pdf", pr)
		done <- err
	}()
	require.Eventually(t, func() bool { return h.w.View().Uploading }, time.Second, 5*time.Millisecond)

	_, err := h.w.Send(t.Context(), Draft{Text: "are you there?"})
	require.ErrorIs(t, err, ErrBusy)

	_, err = pw.Write([]byte("pdf"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	// The attachment send holds the slot as soon as the upload ends.
	require.Eventually(t, func() bool { return h.transport.Calls("SendMessage") == 1 }, time.Second, 5*time.Millisecond)
	v := h.w.View()
	assert.False(t, v.Uploading)
	assert.True(t, v.Sending)
	_, err = h.w.Send(t.Context(), Draft{Text: "are you there?"})
	require.ErrorIs(t, err, ErrSendInFlight)

	gate <- struct{}{}
	require.NoError(t, <-done)

	sent := h.transport.SentRequests()
	require.Len(t, sent, 1)
	assert.Equal(t, models.MessageFile, sent[0].Type)
	assert.Equal(t, []string{"notes.pdf"}, h.transport.Uploads)
	assert.Empty(t, h.w.View().Banner)
}

func TestAttachmentSendFailureShowsBanner(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.SendErr = errors.New("offline")
	require.NoError(t, h.w.Open())

	_, err := h.w.UploadFile(t.Context(), models.MessageImage, "cat.png", strings.NewReader("png"))
	require.Error(t, err)

	v := h.w.View()
	assert.NotEmpty(t, v.Banner)
	assert.False(t, v.Sending)
	require.NotEmpty(t, v.Messages)
	last := v.Messages[len(v.Messages)-1]
	assert.True(t, last.Failed)
	assert.Equal(t, models.MessageImage, last.Type)
	assert.Equal(t, []string{"cat.png"}, h.transport.Uploads)

	h.transport.SendErr = nil
	msg, err := h.w.Resend(t.Context(), last.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageImage, msg.Type)
	assert.Empty(t, h.w.View().Banner)
}

func TestVoiceNoteFlow(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.w.Open())

	require.NoError(t, h.w.StartRecording(t.Context()))
	require.ErrorIs(t, h.w.StartRecording(t.Context()), media.ErrAlreadyRecording)
	assert.True(t, h.w.View().Recording)

	_, err := h.w.UploadFile(t.Context(), models.MessageFile, "a.pdf", strings.NewReader("pdf"))
	require.ErrorIs(t, err, ErrBusy)
	_, err = h.w.Send(t.Context(), Draft{Text: "hold on"})
	require.ErrorIs(t, err, ErrBusy)

	h.recorder.Emit([]byte("opus-data"))
	msg, err := h.w.StopRecording(t.Context())
	require.NoError(t, err)

	assert.Equal(t, models.MessageVoice, msg.Type)
	require.NotNil(t, msg.FileDuration)
	assert.GreaterOrEqual(t, *msg.FileDuration, 1)
	assert.False(t, h.w.View().Recording)
	require.Len(t, h.transport.Uploads, 1)
	assert.True(t, strings.HasPrefix(h.transport.Uploads[0], "voice-"))
}

func TestVoiceUploadFailureSendsNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.UploadErr = errors.New("connection reset")
	require.NoError(t, h.w.Open())

	require.NoError(t, h.w.StartRecording(t.Context()))
	h.recorder.Emit([]byte("opus-data"))
	_, err := h.w.StopRecording(t.Context())
	require.Error(t, err)

	assert.Zero(t, h.transport.Calls("SendMessage"))
	assert.NotEmpty(t, h.w.View().Banner)
}

func TestMicrophoneDenied(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Recorder = &mocks.RecorderFake{StartErr: errors.New("NotAllowedError")}
	})
	require.NoError(t, h.w.Open())

	err := h.w.StartRecording(t.Context())
	require.ErrorIs(t, err, media.ErrMicrophone)

	v := h.w.View()
	assert.False(t, v.Recording)
	assert.NotEmpty(t, v.Banner)
	assert.Len(t, v.Messages, 1)
}

func TestCallbackForm(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.w.Open())

	require.ErrorIs(t, h.w.SubmitCallback(t.Context(), "Ann", "0801"), ErrNoSession)

	_, err := h.w.Send(t.Context(), Draft{Text: "Hello"})
	require.NoError(t, err)

	require.NoError(t, h.w.SubmitCallback(t.Context(), "  ", "0801"))
	assert.Zero(t, h.transport.Calls("UpdateContact"))

	require.NoError(t, h.w.SubmitCallback(t.Context(), "Ann", "08012345678"))
	session, ok := h.transport.Session(storedSession(t, h.store))
	require.True(t, ok)
	assert.Equal(t, "Ann", *session.VisitorName)
	assert.Equal(t, "08012345678", *session.VisitorPhone)

	v := h.w.View()
	assert.True(t, v.CallbackSubmitted)
	last := v.Messages[len(v.Messages)-1]
	assert.Equal(t, models.SenderBot, last.Sender)
	assert.Contains(t, last.Content, "Ann")
}

func TestTogglePlaybackSingleChannel(t *testing.T) {
	transport := mocks.NewFakeTransport()
	sessionID := transport.AddSession("v_1")
	store := localstore.NewMemory()
	require.NoError(t, store.Set(localstore.KeySessionID, sessionID))
	h := newHarness(t, func(o *Options) {
		o.Transport = transport
		o.Store = store
	})

	_, err := h.w.Send(t.Context(), Draft{Type: models.MessageVoice, FileURL: "/u/a.webm", FileDuration: 2})
	require.NoError(t, err)
	_, err = h.w.Send(t.Context(), Draft{Type: models.MessageVoice, FileURL: "/u/b.webm", FileDuration: 3})
	require.NoError(t, err)
	msgs := h.w.View().Messages
	require.Len(t, msgs, 2)

	require.NoError(t, h.w.TogglePlayback(t.Context(), msgs[0].ID))
	require.NoError(t, h.w.TogglePlayback(t.Context(), msgs[1].ID))
	playing, pauses := h.player.State()
	assert.Equal(t, "/u/b.webm", playing)
	assert.Equal(t, 1, pauses)
	assert.Equal(t, msgs[1].ID, h.w.View().PlayingID)

	h.player.Finish()
	assert.Empty(t, h.w.View().PlayingID)
	require.ErrorIs(t, h.w.TogglePlayback(t.Context(), "nope"), ErrUnknownMessage)
}

func TestDisabledWidgetIgnoresEverything(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Settings = models.ChatSettings{ChatEnabled: false}
	})

	require.ErrorIs(t, h.w.Open(), ErrDisabled)
	_, err := h.w.Send(t.Context(), Draft{Text: "Hello"})
	require.ErrorIs(t, err, ErrDisabled)
	require.ErrorIs(t, h.w.StartRecording(t.Context()), ErrDisabled)

	v := h.w.View()
	assert.Equal(t, StateClosed, v.State)
	assert.Empty(t, v.Messages)
	assert.Zero(t, h.transport.Calls("SendMessage"))
	assert.Zero(t, h.transport.Calls("GetSession"))
}
