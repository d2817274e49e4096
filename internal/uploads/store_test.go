// SPDX-License-Identifier: MIT

package uploads

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConverter copies the source bytes to dst, standing in for the encoder.
// With err set it still writes a partial dst first, the way a crashed ffmpeg
// leaves truncated output behind.
type fakeConverter struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeConverter) ConvertToMP3(ctx context.Context, src, dst string) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		_ = os.WriteFile(dst, []byte("trunc"), 0o640)
		return f.err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o640)
}

func newTestStore(t *testing.T) (*Store, *fakeConverter, string) {
	t.Helper()
	root := t.TempDir()
	conv := &fakeConverter{}
	s, err := NewStore(root, conv)
	require.NoError(t, err)
	return s, conv, root
}

func TestCanonicalTarget(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
		wantErr  bool
	}{
		{name: "forces mp3 extension", in: "Animals/Dog.wav", expected: "animals/dog.mp3"},
		{name: "lowercases", in: "ANIMALS/DOG.MP3", expected: "animals/dog.mp3"},
		{name: "backslashes normalized", in: `animals\dog`, expected: "animals/dog.mp3"},
		{name: "no extension gets mp3", in: "animals/dog", expected: "animals/dog.mp3"},
		{name: "surrounding slashes trimmed", in: "/animals/dog/", expected: "animals/dog.mp3"},
		{name: "empty is rejected", in: "  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalTarget(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSubmitMP3StoredDirectly(t *testing.T) {
	s, conv, root := newTestStore(t)

	rec, err := s.Submit(context.Background(), "Animals/Dog", "take1.mp3", strings.NewReader("mp3bytes"), "alice")
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "alice", rec.User)
	assert.Equal(t, "animals/dog.mp3", rec.SavedTo)
	assert.Equal(t, StatusPending, rec.Status)
	assert.NotZero(t, rec.SubmittedAt)
	assert.Zero(t, rec.AcceptedAt)
	assert.Zero(t, conv.calls)

	data, err := os.ReadFile(filepath.Join(root, "animals", "dog.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "mp3bytes", string(data))
}

func TestSubmitWavIsConverted(t *testing.T) {
	s, conv, root := newTestStore(t)

	rec, err := s.Submit(context.Background(), "pad", "take.wav", strings.NewReader("pcm"), "bob")
	require.NoError(t, err)
	assert.Equal(t, "pad.mp3", rec.SavedTo)
	assert.Equal(t, 1, conv.calls)

	_, err = os.Stat(filepath.Join(root, "pad.mp3"))
	assert.NoError(t, err)
}

func TestSubmitCleansTempFiles(t *testing.T) {
	s, _, root := newTestStore(t)

	_, err := s.Submit(context.Background(), "pad", "take.webm", strings.NewReader("raw"), "bob")
	require.NoError(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "__temp__"), "leftover temp file %s", e.Name())
	}
}

func TestSubmitRejectsUnsupportedType(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, err := s.Submit(context.Background(), "pad", "take.flac", strings.NewReader("x"), "bob")
	assert.ErrorIs(t, err, ErrBadType)
}

func TestSubmitRejectsTraversal(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, err := s.Submit(context.Background(), "../outside/evil", "take.mp3", strings.NewReader("x"), "bob")
	assert.ErrorIs(t, err, ErrBadPath)
}

func TestSubmitDuplicate(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, err := s.Submit(context.Background(), "pad", "a.mp3", strings.NewReader("one"), "a")
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), "PAD.wav", "b.mp3", strings.NewReader("two"), "b")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestSubmitConversionFailureCleansUp(t *testing.T) {
	root := t.TempDir()
	conv := &fakeConverter{err: errors.New("encoder crashed")}
	s, err := NewStore(root, conv)
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), "pad", "take.wav", strings.NewReader("pcm"), "bob")
	assert.ErrorIs(t, err, ErrConversion)

	// Neither the partial target nor any temp file survives a failed
	// conversion.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, LogName, e.Name())
	}

	// The slot is free again for a retry.
	status, _, err := s.StatusFor(context.Background(), "pad")
	require.NoError(t, err)
	assert.Equal(t, StatusMissing, status)

	conv.err = nil
	_, err = s.Submit(context.Background(), "pad", "take.wav", strings.NewReader("pcm"), "bob")
	assert.NoError(t, err)
}

func TestConcurrentSubmitOneWinner(t *testing.T) {
	s, _, _ := newTestStore(t)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Submit(context.Background(), "race/slot", "take.mp3", strings.NewReader("bytes"), "u")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins, dups := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrDuplicate):
			dups++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, dups)

	recs, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestAcceptFlow(t *testing.T) {
	s, _, _ := newTestStore(t)

	rec, err := s.Submit(context.Background(), "pad", "a.mp3", strings.NewReader("x"), "alice")
	require.NoError(t, err)

	accepted, err := s.Accept(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, accepted.Status)
	assert.NotZero(t, accepted.AcceptedAt)

	status, target, err := s.StatusFor(context.Background(), "pad")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, status)
	assert.Equal(t, "pad.mp3", target)
}

func TestAcceptUnknownID(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.Accept(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAcceptFileGone(t *testing.T) {
	s, _, root := newTestStore(t)

	rec, err := s.Submit(context.Background(), "pad", "a.mp3", strings.NewReader("x"), "alice")
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, "pad.mp3")))

	_, err = s.Accept(context.Background(), rec.ID)
	assert.ErrorIs(t, err, ErrFileGone)
}

func TestRejectRemovesFileAndRecord(t *testing.T) {
	s, _, root := newTestStore(t)

	rec, err := s.Submit(context.Background(), "pad", "a.mp3", strings.NewReader("x"), "alice")
	require.NoError(t, err)

	require.NoError(t, s.Reject(context.Background(), rec.ID))

	_, err = os.Stat(filepath.Join(root, "pad.mp3"))
	assert.True(t, os.IsNotExist(err))

	recs, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)

	status, _, err := s.StatusFor(context.Background(), "pad")
	require.NoError(t, err)
	assert.Equal(t, StatusMissing, status)

	// The same slot accepts a fresh submission afterwards.
	_, err = s.Submit(context.Background(), "pad", "b.mp3", strings.NewReader("y"), "carol")
	assert.NoError(t, err)
}

func TestRejectUnknownID(t *testing.T) {
	s, _, _ := newTestStore(t)
	assert.ErrorIs(t, s.Reject(context.Background(), "nope"), ErrNotFound)
}

func TestStatusForUnloggedFileIsPending(t *testing.T) {
	s, _, root := newTestStore(t)

	// File placed out of band, no record in the log.
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.mp3"), []byte("x"), 0o640))

	status, target, err := s.StatusFor(context.Background(), "stray")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)
	assert.Equal(t, "stray.mp3", target)
}

func TestStatusForMissing(t *testing.T) {
	s, _, _ := newTestStore(t)

	status, target, err := s.StatusFor(context.Background(), "never/recorded")
	require.NoError(t, err)
	assert.Equal(t, StatusMissing, status)
	assert.Equal(t, "never/recorded.mp3", target)
}

func TestStatusForTraversal(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, _, err := s.StatusFor(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrBadPath)
}

func TestLogSurvivesReopen(t *testing.T) {
	root := t.TempDir()
	conv := &fakeConverter{}
	s, err := NewStore(root, conv)
	require.NoError(t, err)

	rec, err := s.Submit(context.Background(), "pad", "a.mp3", strings.NewReader("x"), "alice")
	require.NoError(t, err)

	s2, err := NewStore(root, conv)
	require.NoError(t, err)
	recs, err := s2.List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
}
