// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wavebox/wavebox/internal/fsutil"
	"github.com/wavebox/wavebox/internal/log"
	"github.com/wavebox/wavebox/internal/transcode"
)

// resolveMedia validates a request path against the media root. It returns
// the absolute on-disk path, or an HTTP status describing the refusal:
// traversal → 403, nonexistent or disallowed target → 404.
func (s *Server) resolveMedia(r *http.Request) (string, int) {
	rel := strings.Trim(chi.URLParam(r, "*"), "/")
	logger := log.WithComponentFromContext(r.Context(), "api")

	if rel == "" || isPathTraversal(rel) {
		logger.Warn().
			Str("event", "media.denied").
			Str("path", rel).
			Str("reason", "path_escape").
			Msg("detected traversal sequence")
		recordFileDenied("path_escape")
		return "", http.StatusForbidden
	}

	abs, err := fsutil.ConfineRelPath(s.scanner.Root(), rel)
	if err != nil {
		if os.IsNotExist(err) {
			recordFileDenied("not_found")
			return "", http.StatusNotFound
		}
		logger.Warn().
			Str("event", "media.denied").
			Str("path", rel).
			Str("reason", "path_escape").
			Err(err).
			Msg("path escapes media root")
		recordFileDenied("path_escape")
		return "", http.StatusForbidden
	}

	if fsutil.IsRegularFile(abs) != nil || !s.scanner.Allowed(abs) {
		recordFileDenied("not_found")
		return "", http.StatusNotFound
	}
	return abs, http.StatusOK
}

// handleMedia serves a media file byte-for-byte with conditional-request
// support so clients can seek and resume.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	abs, status := s.resolveMedia(r)
	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	s.serveDirect(w, r, abs)
}

func (s *Server) serveDirect(w http.ResponseWriter, r *http.Request, abs string) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	f, err := os.Open(abs)
	if err != nil {
		logger.Error().Err(err).
			Str("event", "media.open_failed").
			Msg("could not open media file")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close media file")
		}
	}()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// Weak ETag from mtime and size; ServeContent handles Range and
	// If-Modified-Since on top.
	etag := fmt.Sprintf(`W/"%x-%x"`, info.ModTime().UnixNano(), info.Size())
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if ct := mime.TypeByExtension(filepath.Ext(info.Name())); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// handleStream serves a possibly-transcoded byte stream. mp3 sources without
// normalization go out untouched; everything else is piped through the
// transcoder. A missing transcoder silently degrades to direct serving.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	abs, status := s.resolveMedia(r)
	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api")

	normalize := r.URL.Query().Get("normalize") == "1"
	ext := strings.ToLower(filepath.Ext(abs))

	if ext == ".mp3" && !normalize {
		s.serveDirect(w, r, abs)
		return
	}

	if !s.tc.Available() {
		logger.Warn().
			Str("event", "stream.fallback").
			Str("reason", "transcoder_unavailable").
			Msg("transcoder unavailable, serving directly")
		recordTranscodeFallback()
		s.serveDirect(w, r, abs)
		return
	}

	spec := transcode.BuildSpec(ext, normalize, s.cfg.TranscodeBitrate, s.cfg.SampleRate)
	w.Header().Set("Content-Type", spec.Mime)
	w.Header().Set("X-Transcoded", "1")
	if normalize {
		w.Header().Set("X-Normalized", "1")
	}

	recordTranscodeStarted()
	if err := s.tc.Stream(r.Context(), abs, spec, w); err != nil {
		switch {
		case errors.Is(err, transcode.ErrUnavailable):
			// Nothing has been written yet, so the response can restart.
			w.Header().Del("X-Transcoded")
			w.Header().Del("X-Normalized")
			w.Header().Del("Content-Type")
			logger.Warn().
				Str("event", "stream.fallback").
				Str("reason", "start_failed").
				Msg("transcoder failed to start, serving directly")
			recordTranscodeFallback()
			s.serveDirect(w, r, abs)
		case r.Context().Err() != nil:
			logger.Debug().
				Str("event", "stream.client_gone").
				Msg("client disconnected mid-stream")
		default:
			logger.Error().Err(err).
				Str("event", "stream.failed").
				Msg("transcode stream failed")
		}
	}
}
