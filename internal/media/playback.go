package media

import (
	"context"
	"sync"
)

// Playback routes every voice note through one player so that starting a
// note stops whichever one is playing.
type Playback struct {
	player AudioPlayer
	onStop func()

	mu      sync.Mutex
	current string
}

// NewPlayback wires itself to player's end notifications. onStop, if set, runs
// when a note ends on its own.
func NewPlayback(player AudioPlayer, onStop func()) *Playback {
	p := &Playback{player: player, onStop: onStop}
	if player != nil {
		player.OnEnded(p.ended)
	}
	return p
}

// Toggle pauses id if it is playing, otherwise stops the current note and plays url.
func (p *Playback) Toggle(ctx context.Context, id, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.player == nil {
		return nil
	}

	if p.current == id {
		p.current = ""
		return p.player.Pause()
	}
	if p.current != "" {
		_ = p.player.Pause()
		p.current = ""
	}
	if err := p.player.Play(ctx, url); err != nil {
		return err
	}
	p.current = id
	return nil
}

// Current returns the id being played, or "".
func (p *Playback) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Stop halts playback.
func (p *Playback) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == "" || p.player == nil {
		return
	}
	_ = p.player.Pause()
	p.current = ""
}

func (p *Playback) ended() {
	p.mu.Lock()
	p.current = ""
	p.mu.Unlock()
	if p.onStop != nil {
		p.onStop()
	}
}
