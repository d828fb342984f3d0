// Package localstore persists the small amount of client state that must
// survive restarts: the current session id and the visitor identity.
package localstore

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"
)

const (
	KeySessionID = "chatSessionId"
	KeyVisitorID = "chatVisitorId"
)

// Store is a string key/value store.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

// Memory is a Store that forgets everything on exit.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Close() error { return nil }

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewVisitorID formats "v_{unixMillis}_{random9}".
func NewVisitorID(now time.Time) string {
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return "v_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + string(suffix)
}

// VisitorID returns the stored visitor identity, creating and persisting one
// on first use.
func VisitorID(s Store, now time.Time) (string, error) {
	id, ok, err := s.Get(KeyVisitorID)
	if err != nil {
		return "", fmt.Errorf("read visitor id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}
	id = NewVisitorID(now)
	if err := s.Set(KeyVisitorID, id); err != nil {
		return "", fmt.Errorf("store visitor id: %w", err)
	}
	return id, nil
}
