package console

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat/internal/chatapi"
	"support-chat/internal/media"
	"support-chat/internal/mocks"
	"support-chat/internal/models"
)

var _ Transport = (*chatapi.Client)(nil)
var _ Transport = (*mocks.FakeTransport)(nil)

type harness struct {
	c         *Console
	transport *mocks.FakeTransport
	recorder  *mocks.RecorderFake
	player    *mocks.PlayerFake
	scrolls   atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		transport: mocks.NewFakeTransport(),
		recorder:  &mocks.RecorderFake{},
		player:    &mocks.PlayerFake{},
	}
	h.c = New(Options{
		Transport:    h.transport,
		Recorder:     h.recorder,
		Player:       h.player,
		PollInterval: time.Hour,
		OnScroll:     func() { h.scrolls.Add(1) },
	})
	t.Cleanup(h.c.Close)
	return h
}

func (h *harness) seed(visitor string, texts ...string) string {
	id := h.transport.AddSession(visitor)
	for _, text := range texts {
		h.transport.AddMessage(id, models.SenderVisitor, text)
	}
	return id
}

func TestStartLoadsSessionsWithUnreadCounts(t *testing.T) {
	h := newHarness(t)
	first := h.seed("v1", "hello", "anyone?")
	second := h.seed("v2")

	require.NoError(t, h.c.Start(t.Context()))

	v := h.c.View()
	assert.False(t, v.Loading)
	assert.Equal(t, FilterAll, v.Filter)
	require.Len(t, v.Sessions, 2)
	assert.Equal(t, second, v.Sessions[0].Session.ID)
	assert.Nil(t, v.Sessions[0].Last)
	assert.Equal(t, first, v.Sessions[1].Session.ID)
	assert.Equal(t, 2, v.Sessions[1].Unread)
	require.NotNil(t, v.Sessions[1].Last)
	assert.Equal(t, "anyone?", v.Sessions[1].Last.Content)
}

func TestManualRefreshShowsLoadingButPollingDoesNot(t *testing.T) {
	h := newHarness(t)
	h.seed("v1", "hi")
	gate := make(chan struct{})
	h.transport.ListGate = gate

	done := make(chan error, 1)
	go func() { done <- h.c.Refresh(t.Context()) }()
	require.Eventually(t, func() bool { return h.c.View().Loading }, time.Second, time.Millisecond)
	gate <- struct{}{}
	require.NoError(t, <-done)
	assert.False(t, h.c.View().Loading)

	polled := make(chan struct{})
	go func() {
		h.c.poll(t.Context())
		close(polled)
	}()
	require.Eventually(t, func() bool { return h.transport.Calls("ListSessions") == 2 }, time.Second, time.Millisecond)
	assert.False(t, h.c.View().Loading)
	gate <- struct{}{}
	<-polled
	assert.Len(t, h.c.View().Sessions, 1)
}

func TestRefreshFailureSetsBanner(t *testing.T) {
	h := newHarness(t)
	h.transport.ListErr = errors.New("boom")

	require.Error(t, h.c.Refresh(t.Context()))
	v := h.c.View()
	assert.False(t, v.Loading)
	assert.NotEmpty(t, v.Banner)
}

func TestFilterByStatus(t *testing.T) {
	h := newHarness(t)
	open := h.seed("v1")
	closed := h.seed("v2")
	status := models.SessionClosed
	_, err := h.transport.UpdateContact(t.Context(), closed, models.ContactUpdate{Status: &status})
	require.NoError(t, err)

	require.NoError(t, h.c.Start(t.Context()))
	assert.Len(t, h.c.View().Sessions, 2)

	require.NoError(t, h.c.SetFilter(t.Context(), FilterClosed))
	v := h.c.View()
	require.Len(t, v.Sessions, 1)
	assert.Equal(t, closed, v.Sessions[0].Session.ID)

	require.NoError(t, h.c.SetFilter(t.Context(), FilterActive))
	v = h.c.View()
	require.Len(t, v.Sessions, 1)
	assert.Equal(t, open, v.Sessions[0].Session.ID)

	require.ErrorIs(t, h.c.SetFilter(t.Context(), "archived"), ErrInvalidFilter)
	assert.Equal(t, FilterActive, h.c.View().Filter)
}

func TestSelectMarksVisitorMessagesRead(t *testing.T) {
	h := newHarness(t)
	id := h.seed("v1", "hello")
	require.NoError(t, h.c.Start(t.Context()))

	require.NoError(t, h.c.Select(t.Context(), id))

	v := h.c.View()
	require.NotNil(t, v.Selected)
	assert.Equal(t, id, v.Selected.ID)
	require.Len(t, v.Selected.Messages, 1)
	assert.Equal(t, 0, v.Sessions[0].Unread)
	assert.Equal(t, []string{id}, h.transport.Reads)
	assert.EqualValues(t, 1, h.scrolls.Load())

	require.ErrorIs(t, h.c.Select(t.Context(), "missing"), ErrUnknownSession)
}

func TestSelectLeavesEarlierViewUntouched(t *testing.T) {
	h := newHarness(t)
	id := h.seed("v1", "hello")
	require.NoError(t, h.c.Start(t.Context()))

	before := h.c.View()
	require.Len(t, before.Sessions, 1)
	require.Len(t, before.Sessions[0].Session.Messages, 1)

	require.NoError(t, h.c.Select(t.Context(), id))

	assert.False(t, before.Sessions[0].Session.Messages[0].Read)
	assert.Equal(t, 1, before.Sessions[0].Unread)
	assert.True(t, h.c.View().Sessions[0].Session.Messages[0].Read)
}

func TestSelectWithoutUnreadSkipsMarkRead(t *testing.T) {
	h := newHarness(t)
	id := h.seed("v1")
	require.NoError(t, h.c.Start(t.Context()))

	require.NoError(t, h.c.Select(t.Context(), id))
	assert.Zero(t, h.transport.Calls("MarkRead"))
}

func TestPollRefreshesSelectedSessionAndScrollsOnNewMessages(t *testing.T) {
	h := newHarness(t)
	id := h.seed("v1", "hello")
	require.NoError(t, h.c.Start(t.Context()))
	require.NoError(t, h.c.Select(t.Context(), id))
	require.EqualValues(t, 1, h.scrolls.Load())

	h.c.poll(t.Context())
	assert.EqualValues(t, 1, h.scrolls.Load(), "unchanged snapshot must not scroll")

	h.transport.AddMessage(id, models.SenderVisitor, "still there?")
	h.c.poll(t.Context())

	v := h.c.View()
	require.Len(t, v.Selected.Messages, 2)
	assert.Equal(t, "still there?", v.Selected.Messages[1].Content)
	assert.EqualValues(t, 2, h.scrolls.Load())
	assert.Equal(t, 0, v.Sessions[0].Unread)
	assert.Equal(t, 2, h.transport.Calls("MarkRead"))
}

func TestReplyReconcilesOptimisticEntry(t *testing.T) {
	h := newHarness(t)
	id := h.seed("v1", "hello")
	require.NoError(t, h.c.Start(t.Context()))
	require.NoError(t, h.c.Select(t.Context(), id))

	gate := make(chan struct{})
	h.transport.SendGate = gate
	done := make(chan error, 1)
	go func() {
		_, err := h.c.Reply(t.Context(), Draft{Text: "On it"})
		done <- err
	}()

	require.Eventually(t, func() bool { return h.c.View().Sending }, time.Second, time.Millisecond)
	v := h.c.View()
	require.Len(t, v.Selected.Messages, 2)
	assert.True(t, v.Selected.Messages[1].Pending)
	_, err := h.c.Reply(t.Context(), Draft{Text: "again"})
	require.ErrorIs(t, err, ErrSendInFlight)

	close(gate)
	require.NoError(t, <-done)

	v = h.c.View()
	require.Len(t, v.Selected.Messages, 2)
	reply := v.Selected.Messages[1]
	assert.False(t, reply.Pending)
	assert.Equal(t, models.SenderAdmin, reply.Sender)
	assert.Equal(t, "On it", reply.Content)

	sent := h.transport.SentRequests()
	require.Len(t, sent, 1)
	assert.Equal(t, id, sent[0].SessionID)
	assert.Equal(t, models.SenderAdmin, sent[0].Sender)

	h.c.poll(t.Context())
	assert.Len(t, h.c.View().Selected.Messages, 2)
}

func TestReplyFailureDropsOptimisticEntry(t *testing.T) {
	h := newHarness(t)
	id := h.seed("v1", "hello")
	require.NoError(t, h.c.Start(t.Context()))
	require.NoError(t, h.c.Select(t.Context(), id))
	h.transport.SendErr = errors.New("offline")

	_, err := h.c.Reply(t.Context(), Draft{Text: "On it"})
	require.Error(t, err)

	v := h.c.View()
	require.Len(t, v.Selected.Messages, 1)
	assert.Equal(t, "hello", v.Selected.Messages[0].Content)
	assert.NotEmpty(t, v.Banner)
	assert.False(t, v.Sending)

	h.c.DismissBanner()
	assert.Empty(t, h.c.View().Banner)
}

func TestReplyRequiresSelectionAndText(t *testing.T) {
	h := newHarness(t)
	id := h.seed("v1")
	require.NoError(t, h.c.Start(t.Context()))

	_, err := h.c.Reply(t.Context(), Draft{Text: "hi"})
	require.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, h.c.Select(t.Context(), id))
	msg, err := h.c.Reply(t.Context(), Draft{Text: "   "})
	require.NoError(t, err)
	assert.Empty(t, msg.ID)
	assert.Zero(t, h.transport.Calls("SendMessage"))
}

func TestUploadAttachmentReplies(t *testing.T) {
	h := newHarness(t)
	id := h.seed("v1", "need the invoice")
	require.NoError(t, h.c.Start(t.Context()))
	require.NoError(t, h.c.Select(t.Context(), id))

	msg, err := h.c.UploadAttachment(t.Context(), models.MessageFile, "invoice.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)

	assert.Equal(t, models.MessageFile, msg.Type)
	require.NotNil(t, msg.FileURL)
	assert.Equal(t, "/uploads/file/invoice.pdf", *msg.FileURL)
	assert.Equal(t, []string{"invoice.pdf"}, h.transport.Uploads)
}

func TestUploadFailureShowsServerMessage(t *testing.T) {
	h := newHarness(t)
	id := h.seed("v1")
	require.NoError(t, h.c.Start(t.Context()))
	require.NoError(t, h.c.Select(t.Context(), id))
	h.transport.UploadErr = &chatapi.APIError{Status: 413, Message: "file too large (max 10 MB)"}

	_, err := h.c.UploadAttachment(t.Context(), models.MessageImage, "big.png", strings.NewReader("png"))
	require.Error(t, err)

	v := h.c.View()
	assert.Equal(t, "file too large (max 10 MB)", v.Banner)
	assert.False(t, v.Uploading)
	assert.Zero(t, h.transport.Calls("SendMessage"))
}

func TestReplyRefusedWhileUploadRuns(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t)
	id := h.seed("v1", "send the form please")
	require.NoError(t, h.c.Start(t.Context()))
	require.NoError(t, h.c.Select(t.Context(), id))
	h.transport.SendGate = gate

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := h.c.UploadAttachment(context.Background(), models.MessageFile, "form.pdf", pr)
		done <- err
	}()
	require.Eventually(t, func() bool { return h.c.View().Uploading }, time.Second, 5*time.Millisecond)

	_, err := h.c.Reply(t.Context(), Draft{Text: "one moment"})
	require.ErrorIs(t, err, ErrBusy)

	_, err = pw.Write([]byte("%PDF"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	require.Eventually(t, func() bool { return h.transport.Calls("SendMessage") == 1 }, time.Second, 5*time.Millisecond)
	v := h.c.View()
	assert.False(t, v.Uploading)
	assert.True(t, v.Sending)
	_, err = h.c.Reply(t.Context(), Draft{Text: "one moment"})
	require.ErrorIs(t, err, ErrSendInFlight)

	gate <- struct{}{}
	require.NoError(t, <-done)

	sent := h.transport.SentRequests()
	require.Len(t, sent, 1)
	assert.Equal(t, models.MessageFile, sent[0].Type)
	assert.Equal(t, id, sent[0].SessionID)
	assert.Empty(t, h.c.View().Banner)
}

func TestAttachmentReplyFailureShowsBanner(t *testing.T) {
	h := newHarness(t)
	id := h.seed("v1", "hello")
	require.NoError(t, h.c.Start(t.Context()))
	require.NoError(t, h.c.Select(t.Context(), id))
	h.transport.SendErr = errors.New("offline")

	_, err := h.c.UploadAttachment(t.Context(), models.MessageImage, "map.png", strings.NewReader("png"))
	require.Error(t, err)

	v := h.c.View()
	assert.Equal(t, bannerReplyFailed, v.Banner)
	assert.False(t, v.Sending)
	assert.False(t, v.Uploading)
	require.Len(t, v.Selected.Messages, 1)
	assert.Equal(t, []string{"map.png"}, h.transport.Uploads)
}

func TestVoiceReply(t *testing.T) {
	h := newHarness(t)
	id := h.seed("v1", "can you call me?")
	require.NoError(t, h.c.Start(t.Context()))

	require.ErrorIs(t, h.c.StartRecording(t.Context()), ErrNoSession)
	require.NoError(t, h.c.Select(t.Context(), id))
	require.NoError(t, h.c.StartRecording(t.Context()))
	assert.True(t, h.c.View().Recording)
	_, err := h.c.Reply(t.Context(), Draft{Text: "hold on"})
	require.ErrorIs(t, err, ErrBusy)

	h.recorder.Emit([]byte("opus"))
	msg, err := h.c.StopRecording(t.Context())
	require.NoError(t, err)

	assert.Equal(t, models.MessageVoice, msg.Type)
	assert.Equal(t, models.SenderAdmin, msg.Sender)
	require.NotNil(t, msg.FileDuration)
	assert.GreaterOrEqual(t, *msg.FileDuration, 1)
	assert.False(t, h.c.View().Recording)
}

func TestMicrophoneDeniedSetsBanner(t *testing.T) {
	h := newHarness(t)
	id := h.seed("v1")
	require.NoError(t, h.c.Start(t.Context()))
	require.NoError(t, h.c.Select(t.Context(), id))
	h.recorder.StartErr = errors.New("permission denied")

	require.ErrorIs(t, h.c.StartRecording(t.Context()), media.ErrMicrophone)
	assert.NotEmpty(t, h.c.View().Banner)
}

func TestTogglePlayback(t *testing.T) {
	h := newHarness(t)
	id := h.seed("v1")
	require.NoError(t, h.c.Start(t.Context()))
	require.NoError(t, h.c.Select(t.Context(), id))

	msg, err := h.c.Reply(t.Context(), Draft{Type: models.MessageVoice, FileURL: "/uploads/voice/a.webm", FileDuration: 2})
	require.NoError(t, err)

	require.NoError(t, h.c.TogglePlayback(t.Context(), msg.ID))
	assert.Equal(t, msg.ID, h.c.View().PlayingID)
	require.NoError(t, h.c.TogglePlayback(t.Context(), msg.ID))
	assert.Empty(t, h.c.View().PlayingID)

	require.ErrorIs(t, h.c.TogglePlayback(t.Context(), "nope"), ErrUnknownMessage)
}

func TestSetStatusClosesSession(t *testing.T) {
	h := newHarness(t)
	id := h.seed("v1")
	require.NoError(t, h.c.Start(t.Context()))

	require.NoError(t, h.c.SetStatus(t.Context(), id, models.SessionClosed))
	assert.Equal(t, models.SessionClosed, h.c.View().Sessions[0].Session.Status)

	h.transport.ContactErr = errors.New("down")
	require.Error(t, h.c.SetStatus(t.Context(), id, models.SessionActive))
	assert.NotEmpty(t, h.c.View().Banner)
}

func TestDeleteClearsSelection(t *testing.T) {
	h := newHarness(t)
	keep := h.seed("v1")
	gone := h.seed("v2", "bye")
	require.NoError(t, h.c.Start(t.Context()))
	require.NoError(t, h.c.Select(t.Context(), gone))

	require.NoError(t, h.c.Delete(t.Context(), gone))

	v := h.c.View()
	assert.Nil(t, v.Selected)
	require.Len(t, v.Sessions, 1)
	assert.Equal(t, keep, v.Sessions[0].Session.ID)

	require.Error(t, h.c.Delete(t.Context(), gone))
	assert.NotEmpty(t, h.c.View().Banner)
}

func TestPollingStopsWhileHidden(t *testing.T) {
	h := newHarness(t)
	h.c = New(Options{Transport: h.transport, PollInterval: 10 * time.Millisecond})
	t.Cleanup(h.c.Close)

	require.NoError(t, h.c.Start(t.Context()))
	require.Eventually(t, func() bool { return h.transport.Calls("ListSessions") >= 3 }, time.Second, time.Millisecond)

	h.c.SetVisible(false)
	h.c.poller.Wait()
	calls := h.transport.Calls("ListSessions")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, h.transport.Calls("ListSessions"))

	h.c.SetVisible(true)
	require.Eventually(t, func() bool { return h.transport.Calls("ListSessions") > calls }, time.Second, time.Millisecond)
}
