// SPDX-License-Identifier: MIT

package rebuild

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wavebox/wavebox/internal/diskcache"
	"github.com/wavebox/wavebox/internal/library"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestBuilder(t *testing.T, interval time.Duration) (*Builder, *diskcache.Cache, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.mp3"), []byte("x"), 0o640))

	cache, err := diskcache.New(t.TempDir(), time.Hour)
	require.NoError(t, err)

	scanner := library.NewScanner(root, []string{".mp3"})
	return New(scanner, cache, interval), cache, root
}

func TestBuildPopulatesAllKeys(t *testing.T) {
	b, cache, _ := newTestBuilder(t, time.Minute)

	require.NoError(t, b.Build(context.Background(), true))

	var tree library.Node
	require.True(t, cache.Get(KeyTree, &tree))
	assert.Len(t, tree.Children, 1)

	var stats library.Stats
	require.True(t, cache.Get(KeyStats, &stats))
	assert.Equal(t, 1, stats.Files)
	assert.NotZero(t, stats.UpdatedAt)

	var files []string
	require.True(t, cache.Get(KeyFiles, &files))
	assert.Equal(t, []string{"a.mp3"}, files)

	assert.NotEmpty(t, b.LastHash())
}

func TestBuildSkipsWhenUnchanged(t *testing.T) {
	b, cache, _ := newTestBuilder(t, time.Minute)

	require.NoError(t, b.Build(context.Background(), true))

	// Clear the cache behind the builder's back: an unforced build must not
	// repopulate it because the digest is unchanged.
	cache.ClearAll()
	require.NoError(t, b.Build(context.Background(), false))

	var tree library.Node
	assert.False(t, cache.Get(KeyTree, &tree))

	// A forced build rebuilds regardless.
	require.NoError(t, b.Build(context.Background(), true))
	assert.True(t, cache.Get(KeyTree, &tree))
}

func TestBuildBlockingSharesOneBuild(t *testing.T) {
	b, cache, _ := newTestBuilder(t, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.BuildBlocking(context.Background()))
		}()
	}
	wg.Wait()

	var files []string
	assert.True(t, cache.Get(KeyFiles, &files))
}

func TestStartIsIdempotent(t *testing.T) {
	b, cache, _ := newTestBuilder(t, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	b.Start(ctx)

	require.Eventually(t, func() bool {
		var files []string
		return cache.Get(KeyFiles, &files)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	// goleak in TestMain verifies the watcher goroutine actually exits.
	time.Sleep(50 * time.Millisecond)
}

func TestWatchRebuildsOnChange(t *testing.T) {
	b, cache, root := newTestBuilder(t, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	require.Eventually(t, func() bool {
		var files []string
		return cache.Get(KeyFiles, &files) && len(files) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.mp3"), []byte("y"), 0o640))

	require.Eventually(t, func() bool {
		var files []string
		return cache.Get(KeyFiles, &files) && len(files) == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)
}

func TestNudgeTriggersRecheck(t *testing.T) {
	// Long ticker interval so only the nudge can trigger the rebuild.
	b, cache, root := newTestBuilder(t, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	require.Eventually(t, func() bool {
		var files []string
		return cache.Get(KeyFiles, &files)
	}, 5*time.Second, 10*time.Millisecond)

	// Writing inside a subdirectory is invisible to the non-recursive
	// fsnotify watch, so the nudge is what picks it up.
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "c.mp3"), []byte("z"), 0o640))
	b.Nudge()

	require.Eventually(t, func() bool {
		var files []string
		return cache.Get(KeyFiles, &files) && len(files) == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)
}

func TestNudgeNeverBlocks(t *testing.T) {
	b, _, _ := newTestBuilder(t, time.Hour)
	for i := 0; i < 10; i++ {
		b.Nudge()
	}
}
