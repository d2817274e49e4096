// SPDX-License-Identifier: MIT

// Package library walks the media root and builds the folder/file tree,
// aggregate stats, flat playable list and the change-detection digest.
package library

import (
	"crypto/sha1"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/wavebox/wavebox/internal/fsutil"
	"github.com/wavebox/wavebox/internal/log"
)

// Scanner walks the media root and indexes allowed audio files.
// Scans are pure reads; the scanner holds no mutable state.
type Scanner struct {
	root   string
	exts   map[string]struct{}
	logger zerolog.Logger
}

// NewScanner creates a scanner over root with the given extension allow-list.
func NewScanner(root string, allowedExts []string) *Scanner {
	exts := make(map[string]struct{}, len(allowedExts))
	for _, e := range allowedExts {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &Scanner{
		root:   root,
		exts:   exts,
		logger: log.WithComponent("library"),
	}
}

// Root returns the media root the scanner operates on.
func (s *Scanner) Root() string { return s.root }

// Allowed reports whether the file name carries an allow-listed extension.
func (s *Scanner) Allowed(name string) bool {
	_, ok := s.exts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Scan builds the tree for root/rel. It never fails: traversal attempts yield
// the invalid sentinel and unresolvable paths the missing sentinel, so callers
// can hand the result straight to the API boundary.
func (s *Scanner) Scan(rel string) *Node {
	rel = strings.Trim(strings.TrimSpace(rel), "/")

	abs := s.root
	if rel != "" {
		confined, err := fsutil.ConfineRelPath(s.root, rel)
		if err != nil {
			s.logger.Warn().
				Str("event", "scan.denied").
				Str("path", rel).
				Err(err).
				Msg("blocked path outside media root")
			return InvalidNode(rel)
		}
		abs = confined
	}

	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return MissingNode(rel)
	}

	seen := make(map[string]struct{})
	return s.buildTree(abs, rel, seen)
}

// buildTree recursively lists one directory. The visited set of resolved
// paths guards against cycles introduced by bind mounts or hard links.
func (s *Scanner) buildTree(dir, rel string, seen map[string]struct{}) *Node {
	name := filepath.Base(dir)
	if rel == "" {
		name = filepath.Base(s.root)
	}
	node := &Node{Name: name, Path: rel, Type: KindDir, Children: []*Node{}}

	real := dir
	if rp, err := filepath.EvalSymlinks(dir); err == nil {
		real = rp
	}
	if _, dup := seen[real]; dup {
		s.logger.Warn().
			Str("event", "scan.cycle").
			Str("path", rel).
			Msg("skipping already-visited folder")
		return node
	}
	seen[real] = struct{}{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		// Unreadable directory: keep the node, children stay empty.
		s.logger.Warn().
			Str("event", "scan.read_error").
			Str("path", rel).
			Err(err).
			Msg("error reading folder")
		return node
	}

	// Subdirectories first, then files, each group case-insensitively by name.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if entry.Type()&fs.ModeSymlink != 0 {
			s.logger.Debug().
				Str("event", "scan.symlink").
				Str("path", rel+"/"+entry.Name()).
				Msg("skipping symlink")
			continue
		}

		childRel := entry.Name()
		if rel != "" {
			childRel = rel + "/" + entry.Name()
		}

		switch {
		case entry.IsDir():
			node.Children = append(node.Children, s.buildTree(filepath.Join(dir, entry.Name()), childRel, seen))
		case entry.Type().IsRegular() && s.Allowed(entry.Name()):
			var size int64
			if info, err := entry.Info(); err == nil {
				size = info.Size()
			}
			node.Children = append(node.Children, &Node{
				Name: entry.Name(),
				Path: childRel,
				Type: KindFile,
				Size: size,
			})
		}
	}
	return node
}

// CollectStats counts folders, allowed files and their total size.
func (s *Scanner) CollectStats() Stats {
	var st Stats
	_ = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != s.root {
				st.Folders++
			}
			return nil
		}
		if !s.Allowed(d.Name()) {
			return nil
		}
		st.Files++
		if info, err := d.Info(); err == nil {
			st.Bytes += info.Size()
		}
		return nil
	})
	st.HumanSize = HumanSize(st.Bytes)
	return st
}

// Playables returns every allowed file as a posix relative path.
func (s *Scanner) Playables() []string {
	out := []string{}
	_ = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !s.Allowed(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	return out
}

// DirHash digests every allowed file's name and mtime under the root.
// It only answers "has anything changed", nothing else depends on its shape.
func (s *Scanner) DirHash() string {
	h := sha1.New()
	_ = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !s.Allowed(d.Name()) {
			return nil
		}
		h.Write([]byte(d.Name()))
		if info, err := d.Info(); err == nil {
			h.Write([]byte(strconv.FormatInt(info.ModTime().UnixNano(), 10)))
		}
		return nil
	})
	return hex.EncodeToString(h.Sum(nil))
}
