// SPDX-License-Identifier: MIT

package transcode

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/wavebox/wavebox/internal/log"
)

// ArtifactCache persists completed transcodes so repeat requests for the same
// transformation skip re-encoding. Audio bytes live as plain files under
// blobs/, the key→file index lives in a BadgerDB under index/. This cache is
// content addressed and entirely separate from the JSON metadata cache.
type ArtifactCache struct {
	db     *badger.DB
	blobs  string
	logger zerolog.Logger
}

type artifactEntry struct {
	File      string `json:"file"`
	Size      int64  `json:"size"`
	CreatedAt int64  `json:"created_at"`
}

// ArtifactKey derives the cache identity of one transformation. Any change to
// the source (mtime) or the transformation parameters yields a new key.
func ArtifactKey(src string, mtimeNano int64, spec Spec) string {
	fields := strings.Join([]string{
		src,
		strconv.FormatInt(mtimeNano, 10),
		spec.Codec,
		spec.Bitrate,
		strconv.Itoa(spec.SampleRate),
		strconv.FormatBool(spec.Normalize),
	}, "|")
	sum := sha256.Sum256([]byte(fields))
	return hex.EncodeToString(sum[:])
}

// OpenArtifactCache opens (or creates) the artifact cache under dir.
func OpenArtifactCache(dir string) (*ArtifactCache, error) {
	blobs := filepath.Join(dir, "blobs")
	if err := os.MkdirAll(blobs, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	opts := badger.DefaultOptions(filepath.Join(dir, "index")).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open artifact index: %w", err)
	}
	return &ArtifactCache{
		db:     db,
		blobs:  blobs,
		logger: log.WithComponent("transcode-cache"),
	}, nil
}

// Open returns a reader over the artifact for key, if present. A dangling
// index entry (blob deleted out of band) is dropped and reported as a miss.
func (c *ArtifactCache) Open(key string) (io.ReadCloser, bool) {
	var entry artifactEntry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, false
	}

	f, err := os.Open(filepath.Join(c.blobs, entry.File))
	if err != nil {
		c.logger.Debug().
			Str("event", "artifact.dangling").
			Str("file", entry.File).
			Msg("index entry without blob, evicting")
		_ = c.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(key))
		})
		return nil, false
	}
	return f, true
}

// pendingArtifact buffers a transcode result until Commit. Write errors mark
// it broken; a broken pending artifact is silently discarded.
type pendingArtifact struct {
	f      *os.File
	format string
	broken bool
	done   bool
}

func (p *pendingArtifact) Write(b []byte) {
	if p.broken {
		return
	}
	if _, err := p.f.Write(b); err != nil {
		p.broken = true
	}
}

// Discard removes the temp file unless the artifact was committed.
func (p *pendingArtifact) Discard() {
	if p.done {
		return
	}
	p.done = true
	name := p.f.Name()
	_ = p.f.Close()
	_ = os.Remove(name)
}

// NewPending creates a temp blob the stream tees into.
func (c *ArtifactCache) NewPending(format string) (*pendingArtifact, error) {
	f, err := os.CreateTemp(c.blobs, "pending-*."+format)
	if err != nil {
		return nil, err
	}
	return &pendingArtifact{f: f, format: format}, nil
}

// Commit finalizes a pending artifact under key: the temp blob is renamed to
// its content-addressed name and the index entry written.
func (c *ArtifactCache) Commit(key string, p *pendingArtifact) error {
	if p.broken || p.done {
		p.Discard()
		return fmt.Errorf("pending artifact unusable")
	}
	p.done = true

	info, err := p.f.Stat()
	if err != nil {
		_ = p.f.Close()
		return err
	}
	if err := p.f.Close(); err != nil {
		return err
	}

	file := key + "." + p.format
	final := filepath.Join(c.blobs, file)
	if err := os.Rename(p.f.Name(), final); err != nil {
		_ = os.Remove(p.f.Name())
		return fmt.Errorf("finalize blob: %w", err)
	}

	entry, err := json.Marshal(artifactEntry{
		File:      file,
		Size:      info.Size(),
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	if err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), entry)
	}); err != nil {
		return fmt.Errorf("index artifact: %w", err)
	}
	c.logger.Debug().
		Str("event", "artifact.stored").
		Str("file", file).
		Int64("size", info.Size()).
		Msg("transcode artifact persisted")
	return nil
}

// Close releases the index database.
func (c *ArtifactCache) Close() error {
	return c.db.Close()
}
