// Package poller runs a periodic task that pauses while the client is hidden.
package poller

import (
	"context"
	"sync"
	"time"
)

// Poller calls tick every interval while it is enabled and visible. Stopping
// never interrupts a tick that is already running.
type Poller struct {
	interval time.Duration
	tick     func(context.Context)

	mu      sync.Mutex
	ctx     context.Context
	enabled bool
	visible bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func New(interval time.Duration, tick func(context.Context)) *Poller {
	return &Poller{interval: interval, tick: tick, visible: true}
}

// Start enables polling. ctx is handed to every tick; cancelling it ends the loop.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctx = ctx
	p.enabled = true
	p.ensureLoop(false)
}

// Stop disables polling until the next Start.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = false
	p.haltLoop()
}

// SetVisible suspends the loop while hidden. Becoming visible again ticks
// immediately so the view catches up.
func (p *Poller) SetVisible(visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.visible == visible {
		return
	}
	p.visible = visible
	if visible {
		p.ensureLoop(true)
	} else {
		p.haltLoop()
	}
}

// Active reports whether the loop is currently scheduled.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

// Wait blocks until the loop goroutine and any in-flight tick have returned.
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) ensureLoop(immediate bool) {
	if !p.enabled || !p.visible || p.stop != nil {
		return
	}
	stop := make(chan struct{})
	p.stop = stop
	p.wg.Add(1)
	go p.run(p.ctx, stop, immediate)
}

func (p *Poller) haltLoop() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	p.stop = nil
}

func (p *Poller) run(ctx context.Context, stop chan struct{}, immediate bool) {
	defer p.wg.Done()

	if immediate {
		p.tick(ctx)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			p.mu.Lock()
			if p.stop == stop {
				p.stop = nil
			}
			p.mu.Unlock()
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			p.tick(ctx)
		}
	}
}
