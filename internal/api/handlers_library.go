// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/wavebox/wavebox/internal/library"
	"github.com/wavebox/wavebox/internal/log"
	"github.com/wavebox/wavebox/internal/rebuild"
)

// handleTree serves the folder tree for a path, cache first. A miss rebuilds
// only the requested subtree; the full-tree snapshot is the rebuilder's job.
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	rel := strings.Trim(strings.TrimSpace(r.URL.Query().Get("path")), "/")
	logger := log.WithComponentFromContext(r.Context(), "api")

	key := rebuild.KeyTree
	if rel != "" {
		key = "tree_" + rel
	}

	var cached json.RawMessage
	if s.cache.Get(key, &cached) {
		recordCacheHit("tree")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(cached)
		return
	}
	recordCacheMiss("tree")

	if rel != "" && isPathTraversal(rel) {
		logger.Warn().
			Str("event", "tree.denied").
			Str("path", rel).
			Msg("blocked invalid tree path")
		writeJSON(w, http.StatusOK, library.InvalidNode(rel))
		return
	}

	node := s.scanner.Scan(rel)
	switch node.Name {
	case library.NameInvalid:
		logger.Warn().
			Str("event", "tree.denied").
			Str("path", rel).
			Msg("blocked invalid tree path")
		writeJSON(w, http.StatusOK, node)
		return
	case library.NameMissing:
		logger.Warn().
			Str("event", "tree.missing").
			Str("path", rel).
			Msg("nonexistent folder requested")
		writeJSON(w, http.StatusOK, node)
		return
	}

	s.cache.Set(key, node)
	writeJSON(w, http.StatusOK, node)
}

// handleStats serves the aggregate stats snapshot, blocking on a rebuild when
// the cache is cold.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var stats library.Stats
	if !s.cache.Get(rebuild.KeyStats, &stats) {
		recordCacheMiss("stats")
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Info().
			Str("event", "stats.cold").
			Msg("stats cache missing, building synchronously")
		if err := s.builder.BuildBlocking(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "cache unavailable")
			return
		}
		if !s.cache.Get(rebuild.KeyStats, &stats) {
			writeError(w, http.StatusServiceUnavailable, "cache unavailable")
			return
		}
	} else {
		recordCacheHit("stats")
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleRandom picks a uniformly random playable file.
func (s *Server) handleRandom(w http.ResponseWriter, r *http.Request) {
	var files []string
	if !s.cache.Get(rebuild.KeyFiles, &files) {
		recordCacheMiss("random")
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Info().
			Str("event", "random.cold").
			Msg("file list cache missing, building synchronously")
		if err := s.builder.BuildBlocking(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "cache unavailable")
			return
		}
		s.cache.Get(rebuild.KeyFiles, &files)
	} else {
		recordCacheHit("random")
	}
	if len(files) == 0 {
		writeError(w, http.StatusNotFound, "no files")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"path": files[rand.Intn(len(files))],
	})
}

// handleCacheStatus reports which snapshots are currently cached.
func (s *Server) handleCacheStatus(w http.ResponseWriter, _ *http.Request) {
	probe := func(key string) bool {
		var raw json.RawMessage
		return s.cache.Get(key, &raw)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"last_hash":    s.builder.LastHash(),
		"tree_cached":  probe(rebuild.KeyTree),
		"stats_cached": probe(rebuild.KeyStats),
		"files_cached": probe(rebuild.KeyFiles),
		"media_root":   absOrRaw(s.scanner.Root()),
		"cache_dir":    absOrRaw(s.cfg.CacheDir),
	})
}

func absOrRaw(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// handleCacheClear flushes every cache entry and nudges the watcher.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	n := s.cache.ClearAll()
	s.builder.Nudge()
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str("event", "cache.cleared").
		Int("removed", n).
		Msg("cache flushed")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "removed": n})
}

// handleCacheEvict removes a single cache key.
func (s *Server) handleCacheEvict(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Key) == "" {
		writeError(w, http.StatusBadRequest, "missing key")
		return
	}
	removed := s.cache.Delete(body.Key)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "removed": removed})
}
