// Package termui renders chat transcripts for the terminal clients.
package termui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"support-chat/internal/models"
)

// Printer appends messages to a line-oriented transcript, writing each
// confirmed message once.
type Printer struct {
	w io.Writer

	mu     sync.Mutex
	seen   map[string]bool
	failed map[string]bool
	banner string
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, seen: make(map[string]bool), failed: make(map[string]bool)}
}

// Messages prints every message not printed before. Pending entries are
// skipped until confirmed; failed entries are printed once with a marker.
func (p *Printer) Messages(msgs []models.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		switch {
		case m.Pending:
			continue
		case m.Failed:
			if p.failed[m.ID] {
				continue
			}
			p.failed[m.ID] = true
		default:
			if p.seen[m.ID] {
				continue
			}
			p.seen[m.ID] = true
		}
		fmt.Fprintln(p.w, FormatMessage(m))
	}
}

// Banner prints text when it differs from the last banner.
func (p *Printer) Banner(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if text == p.banner {
		return
	}
	p.banner = text
	if text != "" {
		fmt.Fprintf(p.w, "! %s\n", text)
	}
}

// Linef writes a free-form status line.
func (p *Printer) Linef(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Reset forgets what was printed, for switching conversations.
func (p *Printer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = make(map[string]bool)
	p.failed = make(map[string]bool)
}

// FormatMessage renders one transcript line, e.g.
// "[14:02] admin: see attached [file invoice.pdf /uploads/file/..]".
func FormatMessage(m models.ChatMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", m.CreatedAt.Local().Format("15:04"), m.Sender)
	if m.Failed {
		fmt.Fprintf(&b, " (failed, /resend %s)", m.ID)
	}
	b.WriteString(":")
	if m.Content != "" {
		b.WriteString(" " + m.Content)
	}
	if m.Type != models.MessageText && m.FileURL != nil {
		b.WriteString(" [" + string(m.Type))
		if m.FileName != nil && *m.FileName != "" {
			b.WriteString(" " + *m.FileName)
		}
		if m.FileDuration != nil {
			b.WriteString(" " + FormatDuration(*m.FileDuration))
		}
		b.WriteString(" " + *m.FileURL + "]")
		if m.Type == models.MessageVoice {
			fmt.Fprintf(&b, " (/play %s)", m.ID)
		}
	}
	return b.String()
}

// FormatDuration renders seconds as m:ss.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// SessionLine renders one row of the operator session list.
func SessionLine(s models.ChatSession, unread int) string {
	name := s.VisitorID
	if s.VisitorName != nil && *s.VisitorName != "" {
		name = *s.VisitorName
	}
	line := fmt.Sprintf("%s  %-24s %-6s %s", s.ID, name, s.Status, humanize.Time(s.UpdatedAt))
	if s.VisitorPhone != nil && *s.VisitorPhone != "" {
		line += "  tel " + *s.VisitorPhone
	}
	if unread > 0 {
		line += fmt.Sprintf("  (%d unread)", unread)
	}
	return line
}
