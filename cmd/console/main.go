package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"support-chat/internal/chatapi"
	"support-chat/internal/config"
	"support-chat/internal/console"
	"support-chat/internal/media"
	"support-chat/internal/models"
	"support-chat/internal/termui"
)

var rootCmd = &cobra.Command{
	Use:   "console",
	Short: "Terminal operator console for the support chat",
	Long: `console lists visitor chats and lets an operator reply. Plain lines are
sent to the open chat; commands start with a slash (type /help).`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.Flags()
	flags.String("server", envOr("CHAT_SERVER_URL", "http://localhost:8083"), "chat server base URL")
	flags.String("token", os.Getenv("ADMIN_TOKEN"), "admin bearer token (prompted when empty)")
	flags.String("filter", console.FilterAll, "initial status filter (all, active, closed)")
	flags.String("mic-file", "", "audio file streamed as the microphone input")
	flags.String("player", "ffplay -nodisp -autoexit -loglevel quiet", "command used to play voice notes")
	flags.StringP("log-level", "l", envOr("LOG_LEVEL", "warn"), "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	server, _ := flags.GetString("server")
	token, _ := flags.GetString("token")
	filter, _ := flags.GetString("filter")
	micFile, _ := flags.GetString("mic-file")
	playerCmd, _ := flags.GetString("player")
	level, _ := flags.GetString("log-level")

	switch filter {
	case console.FilterAll, console.FilterActive, console.FilterClosed:
	default:
		return console.ErrInvalidFilter
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLevel(level)}))
	interactive := term.IsTerminal(int(os.Stdin.Fd()))

	if token == "" {
		if !interactive {
			return errors.New("admin token required (--token or ADMIN_TOKEN)")
		}
		fmt.Print("Admin token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		token = strings.TrimSpace(string(raw))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var recorder media.AudioRecorder
	if micFile != "" {
		recorder = &media.FileRecorder{Path: micFile}
	}
	fields := strings.Fields(playerCmd)
	player := &media.ExecPlayer{BaseURL: server}
	if len(fields) > 0 {
		player.Command, player.Args = fields[0], fields[1:]
	}

	refresh := make(chan struct{}, 1)
	signalRefresh := func() {
		select {
		case refresh <- struct{}{}:
		default:
		}
	}
	c := console.New(console.Options{
		Transport: chatapi.New(server, chatapi.WithAdminToken(token), chatapi.WithLogger(logger)),
		Recorder:  recorder,
		Player:    player,
		Logger:    logger,
		Filter:    filter,
		OnChange:  signalRefresh,
		OnScroll:  signalRefresh,
	})
	defer c.Close()

	ui := newScreen(termui.NewPrinter(os.Stdout))
	if err := c.Start(ctx); err != nil {
		var apiErr *chatapi.APIError
		if errors.As(err, &apiErr) && (apiErr.Status == 401 || apiErr.Status == 403) {
			return fmt.Errorf("server rejected the admin token: %w", err)
		}
		logger.Warn("initial load failed", "error", err)
	}
	ui.list(c.View())

	lines := make(chan string)
	go termui.ReadLines(os.Stdin, lines)

	prompt := func() {
		if interactive {
			fmt.Print("> ")
		}
	}
	prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh:
			ui.render(c.View())
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handle(ctx, c, ui, strings.TrimSpace(line))
			if err != nil {
				logger.Debug("command failed", "error", err)
				ui.out.Linef("error: %v", err)
			}
			if quit {
				return nil
			}
			ui.render(c.View())
			prompt()
		}
	}
}

// screen tracks what has been printed so polls only add new lines.
type screen struct {
	out      *termui.Printer
	selected string
	unread   map[string]int
}

func newScreen(out *termui.Printer) *screen {
	return &screen{out: out, unread: make(map[string]int)}
}

func (s *screen) list(v console.View) {
	if len(v.Sessions) == 0 {
		s.out.Linef("no %s chats", v.Filter)
		return
	}
	for i, row := range v.Sessions {
		s.out.Linef("%2d. %s", i+1, termui.SessionLine(row.Session, row.Unread))
	}
}

func (s *screen) render(v console.View) {
	for _, row := range v.Sessions {
		id := row.Session.ID
		if row.Unread > s.unread[id] && id != s.selected {
			s.out.Linef("* new message in %s (%d unread)", id, row.Unread)
		}
		s.unread[id] = row.Unread
	}

	if v.Selected == nil {
		s.selected = ""
	} else {
		if v.Selected.ID != s.selected {
			s.selected = v.Selected.ID
			s.out.Reset()
			s.out.Linef("--- %s", termui.SessionLine(*v.Selected, 0))
		}
		s.out.Messages(v.Selected.Messages)
	}
	s.out.Banner(v.Banner)
}

func handle(ctx context.Context, c *console.Console, ui *screen, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := c.Reply(ctx, console.Draft{Text: line})
		return false, err
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		ui.out.Linef("%s", helpText)
	case "/list":
		ui.list(c.View())
	case "/refresh":
		if err := c.Refresh(ctx); err != nil {
			return false, err
		}
		ui.list(c.View())
	case "/filter":
		if err := c.SetFilter(ctx, arg); err != nil {
			return false, err
		}
		ui.list(c.View())
	case "/open":
		id, err := resolveSession(c.View(), arg)
		if err != nil {
			return false, err
		}
		return false, c.Select(ctx, id)
	case "/upload":
		if arg == "" {
			return false, errors.New("usage: /upload <path>")
		}
		f, err := os.Open(arg)
		if err != nil {
			return false, err
		}
		defer f.Close()
		_, err = c.UploadAttachment(ctx, termui.UploadKind(arg), filepath.Base(arg), f)
		return false, err
	case "/record":
		if err := c.StartRecording(ctx); err != nil {
			return false, err
		}
		ui.out.Linef("recording, /stop to send or /cancel to discard")
	case "/stop":
		_, err := c.StopRecording(ctx)
		return false, err
	case "/cancel":
		c.CancelRecording()
	case "/play":
		return false, c.TogglePlayback(ctx, arg)
	case "/close", "/reopen":
		id, err := targetSession(c.View(), arg)
		if err != nil {
			return false, err
		}
		status := models.SessionClosed
		if name == "/reopen" {
			status = models.SessionActive
		}
		return false, c.SetStatus(ctx, id, status)
	case "/delete":
		id, err := targetSession(c.View(), arg)
		if err != nil {
			return false, err
		}
		return false, c.Delete(ctx, id)
	case "/hide":
		c.SetVisible(false)
	case "/show":
		c.SetVisible(true)
	case "/dismiss":
		c.DismissBanner()
	default:
		return false, fmt.Errorf("unknown command %s, try /help", name)
	}
	return false, nil
}

const helpText = `commands:
  <text>                       reply to the open chat
  /list, /refresh              show or reload chats
  /filter <all|active|closed>  filter chats by status
  /open <number or id>         open a chat and mark it read
  /upload <path>               send an image or file
  /record, /stop, /cancel      record and send a voice note
  /play <message id>           play or pause a voice note
  /close [id], /reopen [id]    change chat status
  /delete [id]                 delete a chat
  /hide, /show, /dismiss, /quit`

// resolveSession accepts a 1-based list position or a session id.
func resolveSession(v console.View, arg string) (string, error) {
	if arg == "" {
		return "", errors.New("usage: /open <number or id>")
	}
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(v.Sessions) {
			return "", fmt.Errorf("no chat number %d", n)
		}
		return v.Sessions[n-1].Session.ID, nil
	}
	return arg, nil
}

// targetSession defaults to the open chat when arg is empty.
func targetSession(v console.View, arg string) (string, error) {
	if arg != "" {
		return resolveSession(v, arg)
	}
	if v.Selected == nil {
		return "", console.ErrNoSession
	}
	return v.Selected.ID, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
