package termui

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat/internal/models"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func TestPrinterWritesEachMessageOnce(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	at := time.Date(2026, 10, 16, 9, 30, 0, 0, time.Local)

	hello := models.ChatMessage{ID: "m1", Sender: models.SenderVisitor, Type: models.MessageText, Content: "hello", CreatedAt: at}
	pending := models.ChatMessage{ID: "tmp_1", Sender: models.SenderVisitor, Type: models.MessageText, Content: "wait", CreatedAt: at, Pending: true}

	p.Messages([]models.ChatMessage{hello, pending})
	p.Messages([]models.ChatMessage{hello})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{"[09:30] visitor: hello"}, lines)
}

func TestPrinterMarksFailedMessages(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	failed := models.ChatMessage{ID: "tmp_1", Sender: models.SenderVisitor, Type: models.MessageText, Content: "hi", Failed: true}

	p.Messages([]models.ChatMessage{failed})
	p.Messages([]models.ChatMessage{failed})

	assert.Equal(t, 1, strings.Count(buf.String(), "/resend tmp_1"))
}

func TestPrinterBannerOnlyOnChange(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Banner("Upload failed")
	p.Banner("Upload failed")
	p.Banner("")
	p.Banner("Upload failed")

	assert.Equal(t, "! Upload failed\n! Upload failed\n", buf.String())
}

func TestFormatVoiceMessage(t *testing.T) {
	m := models.ChatMessage{
		ID:           "m9",
		Sender:       models.SenderAdmin,
		Type:         models.MessageVoice,
		FileURL:      strPtr("/uploads/voice/a.webm"),
		FileName:     strPtr("a.webm"),
		FileDuration: intPtr(75),
		CreatedAt:    time.Date(2026, 10, 16, 14, 2, 0, 0, time.Local),
	}

	assert.Equal(t, "[14:02] admin: [voice a.webm 1:15 /uploads/voice/a.webm] (/play m9)", FormatMessage(m))
}

func TestSessionLine(t *testing.T) {
	s := models.ChatSession{
		ID:           "s1",
		VisitorID:    "v_1",
		VisitorName:  strPtr("Ada"),
		VisitorPhone: strPtr("08012345678"),
		Status:       models.SessionActive,
		UpdatedAt:    time.Now(),
	}

	line := SessionLine(s, 2)
	assert.Contains(t, line, "Ada")
	assert.Contains(t, line, "tel 08012345678")
	assert.True(t, strings.HasSuffix(line, "(2 unread)"))
	assert.Equal(t, "0:07", FormatDuration(7))
}

func TestUploadKindSniffsContent(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "photo.bin")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0o600))
	txt := filepath.Join(dir, "notes.png")
	require.NoError(t, os.WriteFile(txt, []byte("just text"), 0o600))

	assert.Equal(t, models.MessageImage, UploadKind(png))
	assert.Equal(t, models.MessageFile, UploadKind(txt))
	assert.Equal(t, models.MessageFile, UploadKind(filepath.Join(dir, "missing")))
}

func TestReadLines(t *testing.T) {
	out := make(chan string)
	go ReadLines(strings.NewReader("hi\n/quit\n"), out)

	var got []string
	for line := range out {
		got = append(got, line)
	}
	assert.Equal(t, []string{"hi", "/quit"}, got)
}
