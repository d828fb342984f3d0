package media

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"
)

// Clip is a finished voice note ready for upload.
type Clip struct {
	Data     []byte
	Duration int
	FileName string
}

// Recording accumulates chunks from an AudioRecorder and counts elapsed
// seconds. Only one capture may run at a time.
type Recording struct {
	recorder AudioRecorder
	onTick   func(seconds int)
	// Ext is appended to generated clip names.
	Ext  string
	tick time.Duration
	now  func() time.Time

	mu       sync.Mutex
	active   bool
	chunks   [][]byte
	seconds  int
	stopTick chan struct{}
	drained  chan struct{}
}

// NewRecording builds a session around recorder. onTick may be nil.
func NewRecording(recorder AudioRecorder, onTick func(seconds int)) *Recording {
	return &Recording{
		recorder: recorder,
		onTick:   onTick,
		Ext:      ".webm",
		tick:     time.Second,
		now:      time.Now,
	}
}

// Start acquires the recorder. Failures to acquire are wrapped in ErrMicrophone.
func (r *Recording) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return ErrAlreadyRecording
	}
	if r.recorder == nil {
		return ErrMicrophone
	}

	stream, err := r.recorder.Start(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMicrophone, err)
	}

	r.active = true
	r.chunks = nil
	r.seconds = 0
	r.stopTick = make(chan struct{})
	r.drained = make(chan struct{})

	go r.collect(stream, r.drained)
	go r.count(r.stopTick)
	return nil
}

// Active reports whether a capture is running.
func (r *Recording) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Seconds returns the elapsed whole seconds of the current capture.
func (r *Recording) Seconds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seconds
}

// Stop releases the recorder and assembles the captured chunks.
func (r *Recording) Stop() (Clip, error) {
	drained, err := r.finish()
	if err != nil {
		return Clip{}, err
	}
	stopErr := r.recorder.Stop()
	r.wait(drained)

	r.mu.Lock()
	data := bytes.Join(r.chunks, nil)
	seconds := r.seconds
	r.chunks = nil
	r.mu.Unlock()

	if stopErr != nil {
		return Clip{}, fmt.Errorf("stop recorder: %w", stopErr)
	}
	if len(data) == 0 {
		return Clip{}, ErrEmptyRecording
	}
	if seconds < 1 {
		seconds = 1
	}
	return Clip{
		Data:     data,
		Duration: seconds,
		FileName: fmt.Sprintf("voice-%d%s", r.now().UnixMilli(), r.Ext),
	}, nil
}

// Cancel discards the current capture, if any.
func (r *Recording) Cancel() {
	drained, err := r.finish()
	if err != nil {
		return
	}
	_ = r.recorder.Stop()
	r.wait(drained)

	r.mu.Lock()
	r.chunks = nil
	r.mu.Unlock()
}

func (r *Recording) finish() (chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil, ErrNotRecording
	}
	r.active = false
	close(r.stopTick)
	return r.drained, nil
}

func (r *Recording) wait(drained chan struct{}) {
	select {
	case <-drained:
	case <-time.After(5 * time.Second):
	}
}

func (r *Recording) collect(stream <-chan []byte, drained chan struct{}) {
	defer close(drained)
	for chunk := range stream {
		if len(chunk) == 0 {
			continue
		}
		buf := make([]byte, len(chunk))
		copy(buf, chunk)
		r.mu.Lock()
		r.chunks = append(r.chunks, buf)
		r.mu.Unlock()
	}
}

func (r *Recording) count(stop chan struct{}) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			if !r.active {
				r.mu.Unlock()
				return
			}
			r.seconds++
			seconds := r.seconds
			r.mu.Unlock()
			if r.onTick != nil {
				r.onTick(seconds)
			}
		}
	}
}
