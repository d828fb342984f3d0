package mocks

import (
	"context"
	"errors"
	"sync"
)

// RecorderFake emits the chunks pushed with Emit until Stop.
type RecorderFake struct {
	mu       sync.Mutex
	StartErr error
	out      chan []byte
	Starts   int
}

func (r *RecorderFake) Start(ctx context.Context) (<-chan []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Starts++
	if r.StartErr != nil {
		return nil, r.StartErr
	}
	if r.out != nil {
		return nil, errors.New("recorder busy")
	}
	r.out = make(chan []byte, 64)
	return r.out, nil
}

// Emit queues a chunk on the active stream.
func (r *RecorderFake) Emit(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out != nil {
		r.out <- chunk
	}
}

func (r *RecorderFake) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out == nil {
		return errors.New("recorder idle")
	}
	close(r.out)
	r.out = nil
	return nil
}

// PlayerFake records play/pause calls; Finish simulates a note ending.
type PlayerFake struct {
	mu      sync.Mutex
	PlayErr error
	Playing string
	Played  []string
	Pauses  int
	ended   func()
}

func (p *PlayerFake) Play(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PlayErr != nil {
		return p.PlayErr
	}
	p.Playing = url
	p.Played = append(p.Played, url)
	return nil
}

func (p *PlayerFake) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Pauses++
	p.Playing = ""
	return nil
}

func (p *PlayerFake) OnEnded(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ended = fn
}

// Finish ends the current note as the device would.
func (p *PlayerFake) Finish() {
	p.mu.Lock()
	p.Playing = ""
	fn := p.ended
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// State returns the current source and the number of pauses.
func (p *PlayerFake) State() (string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Playing, p.Pauses
}
