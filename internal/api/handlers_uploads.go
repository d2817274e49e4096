// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/wavebox/wavebox/internal/log"
	"github.com/wavebox/wavebox/internal/uploads"
)

// maxUploadBytes bounds a single recording submission.
const maxUploadBytes = 32 << 20

// handleUpload accepts a recorded audio file and stores it under the
// canonical target path, always as mp3.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	relpath := strings.TrimSpace(r.FormValue("path"))
	if err != nil || relpath == "" {
		recordUploadOutcome("bad_request")
		writeError(w, http.StatusBadRequest, "missing file or path")
		return
	}
	defer func() {
		_ = file.Close()
	}()

	user := strings.TrimSpace(r.FormValue("user"))
	if user == "" {
		user = "anonymous"
	}

	entry, err := s.uploads.Submit(r.Context(), relpath, header.Filename, file, user)
	if err != nil {
		switch {
		case errors.Is(err, uploads.ErrDuplicate):
			recordUploadOutcome("duplicate")
			writeConflict(w, "recording already exists")
		case errors.Is(err, uploads.ErrBadType):
			recordUploadOutcome("bad_type")
			writeError(w, http.StatusBadRequest, "unsupported file type")
		case errors.Is(err, uploads.ErrBadPath):
			recordUploadOutcome("bad_path")
			writeError(w, http.StatusBadRequest, "invalid path")
		case errors.Is(err, uploads.ErrConversion):
			recordUploadOutcome("conversion_failed")
			writeError(w, http.StatusInternalServerError, "conversion failed")
		default:
			recordUploadOutcome("error")
			logger := log.WithComponentFromContext(r.Context(), "api")
			logger.Error().Err(err).
				Str("event", "upload.failed").
				Msg("upload failed")
			writeError(w, http.StatusInternalServerError, "upload failed")
		}
		return
	}

	recordUploadOutcome("saved")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entry": entry})
}

// handleAccept flips a pending recording to accepted. Owner only.
func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeID(w, r)
	if !ok {
		return
	}
	entry, err := s.uploads.Accept(r.Context(), id)
	if err != nil {
		if errors.Is(err, uploads.ErrNotFound) || errors.Is(err, uploads.ErrFileGone) {
			writeNotFound(w)
			return
		}
		writeError(w, http.StatusInternalServerError, "accept failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entry": entry})
}

// handleReject deletes a recording and removes its log entry. Owner only.
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeID(w, r)
	if !ok {
		return
	}
	if err := s.uploads.Reject(r.Context(), id); err != nil {
		if errors.Is(err, uploads.ErrNotFound) {
			writeNotFound(w)
			return
		}
		writeError(w, http.StatusInternalServerError, "reject failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "removed": id})
}

// handleUploadsList returns the full upload log for review. Owner only.
func (s *Server) handleUploadsList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.uploads.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "upload log unreadable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "uploads": entries})
}

// handleExists reports whether a recorded version of a canonical line exists
// and where it stands in the intake lifecycle.
func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimSpace(r.URL.Query().Get("path"))
	if rel == "" {
		writeError(w, http.StatusBadRequest, "missing path")
		return
	}
	if isPathTraversal(rel) {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}

	status, target, err := s.uploads.StatusFor(r.Context(), rel)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"exists": status != uploads.StatusMissing,
		"status": status,
		"path":   target,
	})
}

func decodeID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.ID) == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return "", false
	}
	return body.ID, true
}
