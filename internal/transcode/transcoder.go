// SPDX-License-Identifier: MIT

// Package transcode runs the external transcoder and streams its output.
//
// The subprocess's stdout is the producer and the HTTP response writer the
// consumer; backpressure comes from the pipe buffer. Cancellation of the
// request context kills the process, so a disconnecting client never leaves
// an orphan behind.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/wavebox/wavebox/internal/log"
)

// ChunkSize is the read granularity when relaying subprocess output.
const ChunkSize = 64 * 1024

// ErrUnavailable indicates the transcoder binary could not be started.
// Callers fall back to direct serving.
var ErrUnavailable = errors.New("transcoder unavailable")

// Transcoder wraps the external transcoder binary with a concurrency cap and
// an optional content-addressed artifact cache.
type Transcoder struct {
	bin    string
	sem    *semaphore.Weighted
	cache  *ArtifactCache
	logger zerolog.Logger
}

// New creates a Transcoder limited to maxConcurrent simultaneous processes.
// cache may be nil to disable artifact reuse.
func New(bin string, maxConcurrent int64, cache *ArtifactCache) *Transcoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Transcoder{
		bin:    bin,
		sem:    semaphore.NewWeighted(maxConcurrent),
		cache:  cache,
		logger: log.WithComponent("transcode"),
	}
}

// Available reports whether the transcoder binary can be resolved.
func (t *Transcoder) Available() bool {
	_, err := exec.LookPath(t.bin)
	return err == nil
}

// Stream transcodes src per spec and writes the output to w incrementally.
// The response begins before transcoding finishes. When the artifact cache
// holds a matching entry the subprocess is skipped entirely.
func (t *Transcoder) Stream(ctx context.Context, src string, spec Spec, w io.Writer) error {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer t.sem.Release(1)

	var key string
	if t.cache != nil {
		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("stat source: %w", err)
		}
		key = ArtifactKey(src, info.ModTime().UnixNano(), spec)
		if rc, ok := t.cache.Open(key); ok {
			defer func() {
				if err := rc.Close(); err != nil {
					t.logger.Debug().Err(err).Msg("failed to close cached artifact")
				}
			}()
			t.logger.Debug().
				Str("event", "transcode.cache_hit").
				Str("src", src).
				Msg("serving cached transcode artifact")
			return copyChunks(w, nil, rc)
		}
	}

	cmd := exec.CommandContext(ctx, t.bin, spec.args(src)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pipe stdout: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		t.logger.Warn().Err(err).
			Str("event", "transcode.start_failed").
			Str("bin", t.bin).
			Msg("transcoder failed to start")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var pending *pendingArtifact
	if t.cache != nil {
		if pa, err := t.cache.NewPending(spec.Format); err == nil {
			pending = pa
			defer pending.Discard()
		}
	}

	copyErr := copyChunks(w, pending, stdout)
	waitErr := cmd.Wait()

	if err := ctx.Err(); err != nil {
		// Client went away; CommandContext already killed the process.
		t.logger.Debug().
			Str("event", "transcode.cancelled").
			Str("src", src).
			Msg("stream cancelled, transcoder terminated")
		return err
	}
	if copyErr != nil {
		return copyErr
	}
	if waitErr != nil {
		return fmt.Errorf("transcoder exited: %w", waitErr)
	}

	if pending != nil && key != "" {
		if err := t.cache.Commit(key, pending); err != nil {
			t.logger.Debug().Err(err).
				Str("event", "transcode.cache_store_failed").
				Msg("failed to persist transcode artifact")
		}
	}
	return nil
}

// ConvertToMP3 converts src into an mp3 file at dst, batch style. Used by the
// recording intake workflow for webm/wav submissions.
func (t *Transcoder) ConvertToMP3(ctx context.Context, src, dst, bitrate string, sampleRate int) error {
	cmd := exec.CommandContext(ctx, t.bin,
		"-y",
		"-i", src,
		"-vn",
		"-ac", "2",
		"-ar", strconv.Itoa(sampleRate),
		"-b:a", bitrate,
		"-f", "mp3",
		dst,
	)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return fmt.Errorf("conversion failed: %w", err)
	}
	return nil
}

// Close releases the artifact cache, if any.
func (t *Transcoder) Close() error {
	if t.cache == nil {
		return nil
	}
	return t.cache.Close()
}

// copyChunks relays r to w in fixed-size reads, flushing after each chunk so
// the client hears audio while the producer is still running. tee receives a
// best-effort copy for the artifact cache; a tee failure stops the copy but
// never the stream.
func copyChunks(w io.Writer, tee *pendingArtifact, r io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, ChunkSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
			if tee != nil {
				tee.Write(buf[:n])
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
