package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// FileRecorder stands in for a microphone by streaming a pre-recorded file.
type FileRecorder struct {
	Path      string
	ChunkSize int

	mu   sync.Mutex
	stop chan struct{}
}

func (f *FileRecorder) Start(ctx context.Context) (<-chan []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop != nil {
		return nil, ErrAlreadyRecording
	}

	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	size := f.ChunkSize
	if size <= 0 {
		size = 4096
	}

	stop := make(chan struct{})
	f.stop = stop
	out := make(chan []byte)
	go func() {
		defer close(out)
		defer file.Close()
		buf := make([]byte, size)
		for {
			n, err := file.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case out <- chunk:
				case <-stop:
					return
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				break
			}
		}
		// hold the stream open like a live input until stopped
		select {
		case <-stop:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (f *FileRecorder) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop == nil {
		return ErrNotRecording
	}
	close(f.stop)
	f.stop = nil
	return nil
}

// ExecPlayer plays sources through an external command such as
// "ffplay -nodisp -autoexit -loglevel quiet". Relative URLs are resolved
// against BaseURL.
type ExecPlayer struct {
	Command string
	Args    []string
	BaseURL string

	mu      sync.Mutex
	cmd     *exec.Cmd
	gen     int
	onEnded func()
}

func (p *ExecPlayer) OnEnded(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnded = fn
}

func (p *ExecPlayer) Play(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Command == "" {
		return errors.New("no audio player configured")
	}
	p.killLocked()

	if strings.HasPrefix(url, "/") && p.BaseURL != "" {
		url = strings.TrimRight(p.BaseURL, "/") + url
	}
	args := append(append([]string{}, p.Args...), url)
	cmd := exec.CommandContext(ctx, p.Command, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}
	p.gen++
	gen := p.gen
	p.cmd = cmd

	go func() {
		_ = cmd.Wait()
		p.mu.Lock()
		current := p.gen == gen
		if current {
			p.cmd = nil
		}
		fn := p.onEnded
		p.mu.Unlock()
		if current && fn != nil {
			fn()
		}
	}()
	return nil
}

func (p *ExecPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killLocked()
	return nil
}

func (p *ExecPlayer) killLocked() {
	if p.cmd == nil {
		return
	}
	p.gen++
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	p.cmd = nil
}
