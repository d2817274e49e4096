// SPDX-License-Identifier: MIT

// Package rebuild keeps the disk cache in step with the media root. A single
// watcher goroutine recomputes the directory digest on an interval and
// rebuilds the tree, stats and playable-list snapshots when it changes.
package rebuild

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/wavebox/wavebox/internal/diskcache"
	"github.com/wavebox/wavebox/internal/library"
	"github.com/wavebox/wavebox/internal/log"
)

// Cache keys produced by a build. api handlers read the same keys.
const (
	KeyTree  = "tree_root"
	KeyStats = "stats"
	KeyFiles = "files"
)

// Builder owns the last-known directory hash and the watcher lifecycle.
// It is constructed once at startup and injected into the API server;
// there is no package-level state.
type Builder struct {
	scanner  *library.Scanner
	cache    *diskcache.Cache
	interval time.Duration
	logger   zerolog.Logger

	startOnce sync.Once
	group     singleflight.Group
	nudge     chan struct{}

	mu       sync.Mutex
	lastHash string
}

// New creates a Builder rebuilding into cache on the given watch interval.
func New(scanner *library.Scanner, cache *diskcache.Cache, interval time.Duration) *Builder {
	return &Builder{
		scanner:  scanner,
		cache:    cache,
		interval: interval,
		logger:   log.WithComponent("rebuild"),
		nudge:    make(chan struct{}, 1),
	}
}

// Start launches the initial background build and the watcher loop. It is
// idempotent: calling it twice is a no-op, not an error. Both goroutines end
// when ctx is cancelled.
func (b *Builder) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		b.logger.Info().
			Str("event", "rebuild.start").
			Dur("interval", b.interval).
			Msg("launching background cache builder and watcher")
		go func() {
			if err := b.Build(ctx, false); err != nil {
				b.logger.Error().Err(err).
					Str("event", "rebuild.initial_failed").
					Msg("initial cache build failed")
			}
		}()
		go b.watch(ctx)
	})
}

// BuildBlocking forces a synchronous rebuild. Concurrent callers share one
// build via singleflight, so a cold-start stampede runs the scan only once.
func (b *Builder) BuildBlocking(ctx context.Context) error {
	_, err, _ := b.group.Do("build", func() (any, error) {
		return nil, b.Build(ctx, true)
	})
	return err
}

// Build recomputes the directory hash and, when forced or changed, rebuilds
// all cache entries. On failure the previous cache contents and hash remain,
// so the next watch cycle retries.
func (b *Builder) Build(ctx context.Context, force bool) error {
	start := time.Now()

	hash := b.scanner.DirHash()
	if !force && hash == b.LastHash() {
		b.logger.Debug().
			Str("event", "rebuild.unchanged").
			Msg("no changes detected, cache valid")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tree := b.scanner.Scan("")
	b.cache.Set(KeyTree, tree)

	stats := b.scanner.CollectStats()
	stats.UpdatedAt = time.Now().Unix()
	b.cache.Set(KeyStats, stats)

	files := b.scanner.Playables()
	b.cache.Set(KeyFiles, files)

	b.setLastHash(hash)

	b.logger.Info().
		Str("event", "rebuild.done").
		Int("top_level", len(tree.Children)).
		Int("files", stats.Files).
		Str("total", stats.HumanSize).
		Dur("elapsed", time.Since(start)).
		Msg("cache build complete")
	observeBuild(time.Since(start))
	return nil
}

// LastHash returns the digest of the last successful build.
func (b *Builder) LastHash() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastHash
}

func (b *Builder) setLastHash(h string) {
	b.mu.Lock()
	b.lastHash = h
	b.mu.Unlock()
}

// watch periodically compares the directory digest against the last build and
// rebuilds on change. An fsnotify watch on the media root nudges the loop
// ahead of the ticker; the poll remains authoritative because fsnotify does
// not recurse into subdirectories.
func (b *Builder) watch(ctx context.Context) {
	var events <-chan fsnotify.Event
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(b.scanner.Root()); err != nil {
			b.logger.Debug().Err(err).
				Str("event", "rebuild.fsnotify_unavailable").
				Msg("media root not watchable, falling back to polling only")
			_ = w.Close()
		} else {
			events = w.Events
			defer func() {
				if err := w.Close(); err != nil {
					b.logger.Debug().Err(err).Msg("failed to close fsnotify watcher")
				}
			}()
		}
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-b.nudge:
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
		}

		hash := b.scanner.DirHash()
		if hash == b.LastHash() {
			continue
		}
		b.logger.Info().
			Str("event", "rebuild.changed").
			Msg("media changed, rebuilding cache")
		if err := b.Build(ctx, true); err != nil {
			b.logger.Warn().Err(err).
				Str("event", "rebuild.failed").
				Msg("cache rebuild failed, will retry next cycle")
		}
	}
}

// Nudge asks the watcher to re-check the directory hash soon. Used by
// operator cache-maintenance endpoints after an eviction.
func (b *Builder) Nudge() {
	select {
	case b.nudge <- struct{}{}:
	default:
	}
}
