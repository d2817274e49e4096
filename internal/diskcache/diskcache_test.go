// SPDX-License-Identifier: MIT

package diskcache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	c, err := New(t.TempDir(), time.Hour)
	require.NoError(t, err)

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	c.Set("tree_root", payload{Name: "root", Count: 3})

	var got payload
	require.True(t, c.Get("tree_root", &got))
	assert.Equal(t, payload{Name: "root", Count: 3}, got)
}

func TestCacheMissWhenAbsent(t *testing.T) {
	c, err := New(t.TempDir(), time.Hour)
	require.NoError(t, err)

	var got map[string]any
	assert.False(t, c.Get("nope", &got))
}

func TestCacheExpiry(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, time.Hour)
	require.NoError(t, err)

	c.Set("stats", map[string]int{"files": 1})

	// Backdate the entry past the TTL.
	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "stats.json"), stale, stale))

	var got map[string]int
	assert.False(t, c.Get("stats", &got))
}

func TestCacheSetRefreshesExpiredEntry(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, time.Hour)
	require.NoError(t, err)

	c.Set("files", []string{"a.mp3"})
	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "files.json"), stale, stale))

	c.Set("files", []string{"b.mp3"})

	var got []string
	require.True(t, c.Get("files", &got))
	assert.Equal(t, []string{"b.mp3"}, got)
}

func TestCacheCorruptEntryIsMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, time.Hour)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o640))

	var got map[string]any
	assert.False(t, c.Get("broken", &got))
}

func TestCacheDelete(t *testing.T) {
	c, err := New(t.TempDir(), time.Hour)
	require.NoError(t, err)

	c.Set("tree_music", 42)
	assert.True(t, c.Delete("tree_music"))
	assert.False(t, c.Delete("tree_music"))

	var got int
	assert.False(t, c.Get("tree_music", &got))
}

func TestCacheClearAll(t *testing.T) {
	c, err := New(t.TempDir(), time.Hour)
	require.NoError(t, err)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	assert.Equal(t, 3, c.ClearAll())
	assert.Equal(t, 0, c.ClearAll())
}

func TestSafeKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain key unchanged",
			input:    "tree_root",
			expected: "tree_root",
		},
		{
			name:     "slashes replaced",
			input:    "tree/music/ambient",
			expected: "tree_music_ambient",
		},
		{
			name:     "backslashes replaced",
			input:    `tree\music`,
			expected: "tree_music",
		},
		{
			name:     "dotdot collapsed",
			input:    "tree_..secret",
			expected: "tree_.secret",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SafeKey(tt.input))
		})
	}
}

func TestSafeKeyLongKeyTruncated(t *testing.T) {
	long := "tree_" + strings.Repeat("x", 300)
	safe := SafeKey(long)

	assert.LessOrEqual(t, len(safe), 160)
	assert.True(t, strings.HasPrefix(safe, long[:140]))

	// Deterministic and distinct from a near-identical key.
	assert.Equal(t, safe, SafeKey(long))
	assert.NotEqual(t, safe, SafeKey(long+"y"))
}

func TestSafeKeyDistinguishesSeparatorVariants(t *testing.T) {
	// Both map to the same slot on purpose: callers namespace keys themselves.
	assert.Equal(t, SafeKey("a/b"), SafeKey(`a\b`))
}
