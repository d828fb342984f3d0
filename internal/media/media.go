// Package media holds the audio ports used by the chat clients and the
// client-side pieces built on them: a recording session, a single-channel
// playback coordinator and the synthesised notification tone.
package media

import (
	"context"
	"errors"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
	ErrEmptyRecording   = errors.New("recording captured no audio")
	ErrMicrophone       = errors.New("microphone unavailable")
)

// AudioRecorder captures encoded audio. Start returns a stream of chunks that
// is closed after Stop has flushed the last one.
type AudioRecorder interface {
	Start(ctx context.Context) (<-chan []byte, error)
	Stop() error
}

// AudioPlayer plays one source at a time. The OnEnded callback fires when
// playback finishes or fails on its own, never from inside Play or Pause.
type AudioPlayer interface {
	Play(ctx context.Context, url string) error
	Pause() error
	OnEnded(fn func())
}

// Notifier signals an incoming operator message.
type Notifier interface {
	Notify()
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func()

func (f NotifierFunc) Notify() { f() }
