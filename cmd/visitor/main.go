package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"support-chat/internal/chatapi"
	"support-chat/internal/config"
	"support-chat/internal/localstore"
	"support-chat/internal/media"
	"support-chat/internal/models"
	"support-chat/internal/termui"
	"support-chat/internal/widget"
)

var rootCmd = &cobra.Command{
	Use:   "visitor",
	Short: "Terminal visitor client for the support chat",
	Long: `visitor opens the support chat widget in the terminal. Plain lines are
sent as messages; commands start with a slash (type /help).`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.Flags()
	flags.String("server", envOr("CHAT_SERVER_URL", "http://localhost:8083"), "chat server base URL")
	flags.String("state-dir", defaultStateDir(), "directory holding the persisted session and visitor id")
	flags.String("mic-file", "", "audio file streamed as the microphone input")
	flags.String("player", "ffplay -nodisp -autoexit -loglevel quiet", "command used to play voice notes")
	flags.Bool("bell", false, "ring the terminal bell instead of playing the notification tone")
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
	stateDir, _ := flags.GetString("state-dir")
	micFile, _ := flags.GetString("mic-file")
	playerCmd, _ := flags.GetString("player")
	bell, _ := flags.GetBool("bell")
	level, _ := flags.GetString("log-level")

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLevel(level)}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := chatapi.New(server, chatapi.WithLogger(logger))
	settings, err := client.GetSettings(ctx)
	if err != nil {
		logger.Warn("could not load chat settings, using defaults", "error", err)
		settings = models.ChatSettings{ChatTimeout: models.DefaultChatTimeout, ChatEnabled: true}
	}

	store, err := localstore.OpenPebble(stateDir)
	if err != nil {
		return err
	}
	defer store.Close()

	player := newPlayer(playerCmd, server)
	var notifier media.Notifier = media.BellNotifier{W: os.Stdout}
	if !bell && player.Command != "" {
		notifier = &media.ToneNotifier{Play: func(wav []byte) error { return playFile(ctx, player, wav) }}
	}
	var recorder media.AudioRecorder
	if micFile != "" {
		recorder = &media.FileRecorder{Path: micFile}
	}

	out := termui.NewPrinter(os.Stdout)
	refresh := make(chan struct{}, 1)
	w, err := widget.New(ctx, widget.Options{
		Transport: client,
		Store:     store,
		Settings:  settings,
		Recorder:  recorder,
		Player:    player,
		Notifier:  notifier,
		Logger:    logger,
		OnChange: func() {
			select {
			case refresh <- struct{}{}:
			default:
			}
		},
		OnFallback: func(link string) {
			out.Linef("No reply yet? Continue on WhatsApp: %s", link)
			out.Linef("Or leave your details with /callback <name> | <phone>")
		},
	})
	if err != nil {
		return err
	}
	defer w.Teardown()

	if err := w.Open(); errors.Is(err, widget.ErrDisabled) {
		fmt.Println("Live chat is currently unavailable.")
		return nil
	} else if err != nil {
		return err
	}
	render := func() {
		v := w.View()
		out.Messages(v.Messages)
		out.Banner(v.Banner)
	}
	render()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
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
			render()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handle(ctx, w, out, strings.TrimSpace(line))
			if err != nil {
				logger.Debug("command failed", "error", err)
				out.Linef("error: %v", err)
			}
			if quit {
				return nil
			}
			render()
			prompt()
		}
	}
}

func handle(ctx context.Context, w *widget.Widget, out *termui.Printer, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		_, err := w.Send(ctx, widget.Draft{Text: line})
		return false, err
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		out.Linef("%s", helpText)
	case "/open":
		return false, w.Open()
	case "/close":
		w.Close()
	case "/hide":
		w.SetVisible(false)
	case "/show":
		w.SetVisible(true)
	case "/resend":
		_, err := w.Resend(ctx, arg)
		return false, err
	case "/upload":
		return false, uploadFile(ctx, arg, w.UploadFile)
	case "/record":
		if err := w.StartRecording(ctx); err != nil {
			return false, err
		}
		out.Linef("recording, /stop to send or /cancel to discard")
	case "/stop":
		_, err := w.StopRecording(ctx)
		return false, err
	case "/cancel":
		w.CancelRecording()
	case "/play":
		return false, w.TogglePlayback(ctx, arg)
	case "/callback":
		who, phone, ok := strings.Cut(arg, "|")
		if !ok {
			return false, errors.New("usage: /callback <name> | <phone>")
		}
		return false, w.SubmitCallback(ctx, strings.TrimSpace(who), strings.TrimSpace(phone))
	case "/whatsapp":
		out.Linef("%s", w.WhatsAppLink())
	case "/dismiss":
		w.DismissBanner()
	default:
		return false, fmt.Errorf("unknown command %s, try /help", name)
	}
	return false, nil
}

const helpText = `commands:
  <text>                     send a message
  /upload <path>             send an image or file
  /record, /stop, /cancel    record and send a voice note
  /play <message id>         play or pause a voice note
  /resend <message id>       retry a failed message
  /callback <name> | <phone> ask for a call back
  /whatsapp                  print the WhatsApp link
  /open, /close, /hide, /show, /dismiss, /quit`

type uploadFunc func(ctx context.Context, kind models.MessageType, fileName string, content io.Reader) (models.ChatMessage, error)

func uploadFile(ctx context.Context, path string, upload uploadFunc) error {
	if path == "" {
		return errors.New("usage: /upload <path>")
	}
	kind := termui.UploadKind(path)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = upload(ctx, kind, filepath.Base(path), f)
	return err
}

func newPlayer(command, server string) *media.ExecPlayer {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return &media.ExecPlayer{BaseURL: server}
	}
	return &media.ExecPlayer{Command: fields[0], Args: fields[1:], BaseURL: server}
}

// playFile writes the chime to a temp file and plays it to completion.
func playFile(ctx context.Context, player *media.ExecPlayer, wav []byte) error {
	f, err := os.CreateTemp("", "support-chat-*.wav")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(wav); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	args := append(append([]string{}, player.Args...), f.Name())
	return exec.CommandContext(ctx, player.Command, args...).Run()
}

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".support-chat"
	}
	return filepath.Join(dir, "support-chat", "visitor")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
