// SPDX-License-Identifier: MIT

// Package diskcache is a key→JSON file store with mtime-based expiry.
//
// Failure policy: cache I/O never surfaces to callers. A failed read is a
// miss, a failed write is a no-op; both are logged and the caller recomputes.
package diskcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/wavebox/wavebox/internal/log"
)

// maxKeyLen bounds physical file names; longer keys are hash-truncated.
const maxKeyLen = 160

// Cache stores JSON payloads as individual files under a directory.
// Entry freshness is implicit via the backing file's modification time.
type Cache struct {
	dir    string
	ttl    time.Duration
	logger zerolog.Logger
}

// New creates the cache directory if needed and returns a Cache with the
// given entry TTL.
func New(dir string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &Cache{
		dir:    dir,
		ttl:    ttl,
		logger: log.WithComponent("diskcache"),
	}, nil
}

// SafeKey maps a logical key to a filesystem-safe slot. The mapping is
// deterministic: path separators and ".." sequences are replaced, and keys
// beyond maxKeyLen are truncated with a sha256 suffix to stay collision
// resistant.
func SafeKey(key string) string {
	key = strings.ReplaceAll(key, "/", "_")
	key = strings.ReplaceAll(key, "\\", "_")
	key = strings.ReplaceAll(key, "..", ".")
	if len(key) > maxKeyLen {
		sum := sha256.Sum256([]byte(key))
		key = key[:140] + "-" + hex.EncodeToString(sum[:])[:16]
	}
	return key
}

func (c *Cache) pathFor(key string) string {
	return filepath.Join(c.dir, SafeKey(key)+".json")
}

// Get unmarshals the entry for key into v. It returns false when the entry is
// absent, older than the TTL, or unreadable.
func (c *Cache) Get(key string, v any) bool {
	p := c.pathFor(key)
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	if time.Since(info.ModTime()) >= c.ttl {
		return false
	}
	data, err := os.ReadFile(p)
	if err != nil {
		c.logger.Warn().
			Str("event", "cache.read_failed").
			Str("key", key).
			Err(err).
			Msg("cache read failed, treating as miss")
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.logger.Warn().
			Str("event", "cache.decode_failed").
			Str("key", key).
			Err(err).
			Msg("cache entry corrupt, treating as miss")
		return false
	}
	return true
}

// Set overwrites the entry for key unconditionally. The write is a whole-file
// atomic replace so readers never observe a partial entry.
func (c *Cache) Set(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn().
			Str("event", "cache.encode_failed").
			Str("key", key).
			Err(err).
			Msg("cache encode failed, skipping write")
		return
	}
	if err := renameio.WriteFile(c.pathFor(key), data, 0o640); err != nil {
		c.logger.Warn().
			Str("event", "cache.write_failed").
			Str("key", key).
			Err(err).
			Msg("cache write failed")
	}
}

// Delete removes the entry for key and reports whether a file was removed.
func (c *Cache) Delete(key string) bool {
	if err := os.Remove(c.pathFor(key)); err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn().
				Str("event", "cache.delete_failed").
				Str("key", key).
				Err(err).
				Msg("cache delete failed")
		}
		return false
	}
	return true
}

// ClearAll removes every entry and returns the number of files deleted.
func (c *Cache) ClearAll() int {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return 0
	}
	n := 0
	for _, p := range matches {
		if err := os.Remove(p); err == nil {
			n++
		}
	}
	return n
}
