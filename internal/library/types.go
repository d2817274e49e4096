// SPDX-License-Identifier: MIT

package library

import "fmt"

// Node kinds as emitted in JSON payloads.
const (
	KindDir  = "dir"
	KindFile = "file"
)

// Node is a directory or file under the media root. Trees are rebuilt
// wholesale on each scan and never mutated in place.
type Node struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"` // posix-style, relative to the media root
	Type     string  `json:"type"`
	Size     int64   `json:"size,omitempty"` // files only
	Children []*Node `json:"children"`       // directories only, never nil for dirs
}

// Stats aggregates the allowed contents of the media root.
type Stats struct {
	Folders   int    `json:"folders"`
	Files     int    `json:"files"`
	Bytes     int64  `json:"bytes"`
	HumanSize string `json:"human_size"`
	UpdatedAt int64  `json:"updated_at"`
}

// Sentinel node names for paths that cannot be scanned.
const (
	NameInvalid = "invalid"
	NameMissing = "missing"
)

// InvalidNode is the sentinel returned for paths that escape the media root.
func InvalidNode(rel string) *Node {
	return &Node{Name: NameInvalid, Path: rel, Type: KindDir, Children: []*Node{}}
}

// MissingNode is the sentinel returned for paths that do not resolve to a directory.
func MissingNode(rel string) *Node {
	return &Node{Name: NameMissing, Path: rel, Type: KindDir, Children: []*Node{}}
}

// HumanSize renders a byte count in the familiar 1024-based form.
func HumanSize(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	f := float64(n)
	i := 0
	for f >= 1024 && i < len(units)-1 {
		f /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", f, units[i])
}
