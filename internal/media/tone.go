package media

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"
)

const toneSampleRate = 22050

// Tone renders a sine wave as signed 16-bit mono PCM with an exponential
// decay so the note does not click when it ends.
func Tone(freq float64, d time.Duration, sampleRate int, volume float64) []int16 {
	n := int(d.Seconds() * float64(sampleRate))
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-4 * float64(i) / float64(n))
		samples[i] = int16(volume * envelope * math.MaxInt16 * math.Sin(2*math.Pi*freq*t))
	}
	return samples
}

// EncodeWAV wraps PCM samples in a RIFF/WAVE container.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	dataLen := len(samples) * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	_ = binary.Write(buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

// NotificationTone is the short two-note chime played on operator replies.
func NotificationTone() []byte {
	first := Tone(880, 120*time.Millisecond, toneSampleRate, 0.3)
	second := Tone(660, 160*time.Millisecond, toneSampleRate, 0.3)
	return EncodeWAV(append(first, second...), toneSampleRate)
}

// ToneNotifier hands the rendered chime to Play on every notification.
type ToneNotifier struct {
	Play func(wav []byte) error

	once sync.Once
	wav  []byte
}

func (n *ToneNotifier) Notify() {
	if n.Play == nil {
		return
	}
	n.once.Do(func() { n.wav = NotificationTone() })
	if err := n.Play(n.wav); err != nil {
		slog.Debug("notification tone failed", "error", err)
	}
}

// BellNotifier rings the terminal bell.
type BellNotifier struct {
	W io.Writer
}

func (b BellNotifier) Notify() {
	_, _ = io.WriteString(b.W, "\a")
}
