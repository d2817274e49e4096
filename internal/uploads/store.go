// SPDX-License-Identifier: MIT

// Package uploads tracks community-submitted recordings through their
// pending→accepted lifecycle. Records live in a single append-only JSON log
// under the recordings root; the stored files mirror the canonical path
// hierarchy of the media tree and are always mp3.
package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wavebox/wavebox/internal/fsutil"
	"github.com/wavebox/wavebox/internal/log"
)

// LogName is the upload log file, kept directly under the recordings root.
const LogName = "_uploads.json"

// Status of a recording relative to the canonical path it fulfills.
type Status string

const (
	StatusMissing  Status = "missing"
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
)

// Record is one submitted recording. Rejection deletes the record outright,
// so the log only ever holds pending and accepted entries.
type Record struct {
	ID          string `json:"id"`
	User        string `json:"user"`
	Path        string `json:"path"`     // canonical line this recording fulfills
	SavedTo     string `json:"saved_to"` // relative to the recordings root, always .mp3
	Status      Status `json:"status"`
	SubmittedAt int64  `json:"submitted_at"`
	AcceptedAt  int64  `json:"accepted_at,omitempty"`
}

// Converter turns a non-mp3 submission into the canonical mp3 file.
// Implemented by the transcode package.
type Converter interface {
	ConvertToMP3(ctx context.Context, src, dst string) error
}

var (
	ErrBadPath    = errors.New("invalid recording path")
	ErrBadType    = errors.New("unsupported file type")
	ErrDuplicate  = errors.New("recording already exists")
	ErrNotFound   = errors.New("upload not found")
	ErrFileGone   = errors.New("stored recording missing")
	ErrConversion = errors.New("conversion failed")
)

// acceptedInputExts are the raw formats a submission may arrive in.
var acceptedInputExts = map[string]struct{}{
	".webm": {},
	".wav":  {},
	".mp3":  {},
}

// Store owns the recordings root and the upload log. The log's
// read-modify-write is serialized by mu; single-process deployment is
// assumed, the guarantee does not extend across processes.
type Store struct {
	root    string
	logPath string
	conv    Converter
	mu      sync.Mutex
	logger  zerolog.Logger
}

// NewStore creates the recordings root if needed and returns a Store.
func NewStore(root string, conv Converter) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create recordings root: %w", err)
	}
	return &Store{
		root:    root,
		logPath: filepath.Join(root, LogName),
		conv:    conv,
		logger:  log.WithComponent("uploads"),
	}, nil
}

// CanonicalTarget normalizes a requested path into the canonical stored form:
// lower-case, forward slashes, extension forced to .mp3. The result is
// relative to the recordings root.
func CanonicalTarget(requested string) (string, error) {
	rel := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(requested, "\\", "/")))
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return "", ErrBadPath
	}
	ext := filepath.Ext(rel)
	if ext != "" {
		rel = strings.TrimSuffix(rel, ext)
	}
	return rel + ".mp3", nil
}

// Submit stores a new recording for canonicalPath. srcName carries the
// uploaded file's original name (its extension selects the conversion), r its
// bytes. The temp input is always cleaned up, success or failure.
func (s *Store) Submit(ctx context.Context, canonicalPath, srcName string, r io.Reader, user string) (*Record, error) {
	target, err := CanonicalTarget(canonicalPath)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(srcName))
	if _, ok := acceptedInputExts[ext]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrBadType, ext)
	}

	savePath, err := fsutil.ConfineRelPath(s.root, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(savePath), 0o750); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}

	// Duplicate check, file placement and log append form one critical
	// section: two concurrent submissions to the same canonical path must
	// resolve to exactly one stored file and one record.
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(savePath); err == nil {
		return nil, ErrDuplicate
	}

	tempPath := filepath.Join(filepath.Dir(savePath), "__temp__"+uuid.NewString()+ext)
	if err := writeTemp(tempPath, r); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	defer func() {
		if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", tempPath).Msg("failed to remove temp upload")
		}
	}()

	if ext == ".mp3" {
		if err := os.Rename(tempPath, savePath); err != nil {
			return nil, fmt.Errorf("place recording: %w", err)
		}
	} else {
		if err := s.conv.ConvertToMP3(ctx, tempPath, savePath); err != nil {
			// A failed converter can leave a partial target behind; remove
			// it so the slot stays free for a retry.
			if rmErr := os.Remove(savePath); rmErr != nil && !os.IsNotExist(rmErr) {
				s.logger.Warn().Err(rmErr).
					Str("path", target).
					Msg("could not remove partial recording")
			}
			s.logger.Error().Err(err).
				Str("event", "upload.convert_failed").
				Str("path", target).
				Msg("conversion failed")
			return nil, fmt.Errorf("%w: %v", ErrConversion, err)
		}
	}

	rec := &Record{
		ID:          uuid.NewString(),
		User:        user,
		Path:        canonicalPath,
		SavedTo:     target,
		Status:      StatusPending,
		SubmittedAt: time.Now().Unix(),
	}

	records, err := s.loadLog()
	if err != nil {
		s.logger.Warn().Err(err).Msg("upload log unreadable, starting fresh")
		records = map[string]*Record{}
	}
	records[rec.ID] = rec
	if err := s.saveLog(records); err != nil {
		s.logger.Warn().Err(err).
			Str("event", "upload.log_write_failed").
			Msg("failed to write upload log")
	}

	s.logger.Info().
		Str("event", "upload.saved").
		Str("id", rec.ID).
		Str("path", target).
		Str("user", user).
		Msg("saved new recording")
	return rec, nil
}

// Accept marks the record as accepted and stamps the acceptance time. The
// stored file is neither moved nor renamed. Fails if the record is gone or
// its file no longer exists on disk.
func (s *Store) Accept(ctx context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadLog()
	if err != nil {
		return nil, err
	}
	rec, ok := records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fsutil.IsRegularFile(filepath.Join(s.root, filepath.FromSlash(rec.SavedTo))); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileGone, err)
	}

	rec.Status = StatusAccepted
	rec.AcceptedAt = time.Now().Unix()
	if err := s.saveLog(records); err != nil {
		return nil, err
	}

	logger := log.FromContext(ctx)
	logger.Info().
		Str("event", "upload.accepted").
		Str("id", id).
		Str("path", rec.SavedTo).
		Msg("recording accepted")
	return rec, nil
}

// Reject deletes the stored file (best effort) and removes the record from
// the log entirely. There is no tombstone and no audit trail.
func (s *Store) Reject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadLog()
	if err != nil {
		return err
	}
	rec, ok := records[id]
	if !ok {
		return ErrNotFound
	}

	p := filepath.Join(s.root, filepath.FromSlash(rec.SavedTo))
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		// Deletion failure is logged but never blocks removing the record.
		s.logger.Warn().Err(err).
			Str("event", "upload.reject_delete_failed").
			Str("path", rec.SavedTo).
			Msg("could not delete rejected recording")
	}

	delete(records, id)
	if err := s.saveLog(records); err != nil {
		return err
	}
	logger := log.FromContext(ctx)
	logger.Info().
		Str("event", "upload.rejected").
		Str("id", id).
		Str("path", rec.SavedTo).
		Msg("recording rejected and removed")
	return nil
}

// StatusFor reports whether a recording exists for the canonical path. Disk
// is authoritative for existence: a file present but unlogged counts as
// pending, because the log is advisory.
func (s *Store) StatusFor(ctx context.Context, requested string) (Status, string, error) {
	target, err := CanonicalTarget(requested)
	if err != nil {
		return StatusMissing, "", err
	}
	p, err := fsutil.ConfineRelPath(s.root, target)
	if err != nil {
		return StatusMissing, "", fmt.Errorf("%w: %v", ErrBadPath, err)
	}
	if fsutil.IsRegularFile(p) != nil {
		return StatusMissing, target, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadLog()
	if err != nil {
		return StatusPending, target, nil
	}
	for _, rec := range records {
		if rec.SavedTo == target {
			return rec.Status, target, nil
		}
	}
	return StatusPending, target, nil
}

// List returns all records, for the operator review surface.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadLog()
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) loadLog() (map[string]*Record, error) {
	data, err := os.ReadFile(s.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Record{}, nil
		}
		return nil, fmt.Errorf("read upload log: %w", err)
	}
	records := map[string]*Record{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode upload log: %w", err)
	}
	return records, nil
}

func (s *Store) saveLog(records map[string]*Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(s.logPath, data, 0o640); err != nil {
		return fmt.Errorf("write upload log: %w", err)
	}
	return nil
}

func writeTemp(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
