package localstore

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mem, err := OpenPebbleInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"pebble": mem,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(KeySessionID)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(KeySessionID, "01JABC"))
			v, ok, err := s.Get(KeySessionID)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "01JABC", v)

			require.NoError(t, s.Delete(KeySessionID))
			_, ok, err = s.Get(KeySessionID)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestVisitorIDFormatAndStability(t *testing.T) {
	now := time.UnixMilli(1760600000123)
	pattern := regexp.MustCompile(`^v_1760600000123_[0-9a-z]{9}$`)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			id, err := VisitorID(s, now)
			require.NoError(t, err)
			assert.Regexp(t, pattern, id)

			again, err := VisitorID(s, now.Add(time.Hour))
			require.NoError(t, err)
			assert.Equal(t, id, again)
		})
	}
}

func TestPebbleSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	first, err := OpenPebble(dir)
	require.NoError(t, err)
	require.NoError(t, first.Set(KeyVisitorID, "v_1_abcdefghi"))
	require.NoError(t, first.Close())

	second, err := OpenPebble(dir)
	require.NoError(t, err)
	defer second.Close()
	v, ok, err := second.Get(KeyVisitorID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v_1_abcdefghi", v)
}
