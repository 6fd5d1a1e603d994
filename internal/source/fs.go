package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxTrackedSize caps per-file size in a snapshot. Larger files (bundles,
// vendored blobs, media) are skipped entirely.
const maxTrackedSize = 1 << 20 // 1 MiB

// defaultSkipDirs are never descended into.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
	".codescribe":  true,
}

// FS is a local-filesystem Source rooted at Root. Paths in snapshots are
// slash-separated and relative to Root.
type FS struct {
	Root    string
	Exclude []string // additional relative path prefixes to skip
}

// NewFS returns a filesystem source for the given root directory.
func NewFS(root string, exclude []string) *FS {
	return &FS{Root: root, Exclude: exclude}
}

// FetchTree walks the root and returns one TreeEntry per tracked file,
// sorted by path. ref is recorded by callers but has no meaning for a
// local tree.
func (s *FS) FetchTree(ctx context.Context, ref string) ([]TreeEntry, error) {
	var out []TreeEntry
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, rerr := filepath.Rel(s.Root, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if defaultSkipDirs[d.Name()] || s.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.excluded(rel) {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}
		if info.Size() > maxTrackedSize {
			return nil
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return fmt.Errorf("read %s: %w", rel, rerr)
		}
		if isBinary(data) {
			return nil
		}
		out = append(out, TreeEntry{
			Path:        rel,
			Size:        info.Size(),
			ContentHash: HashContent(data),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk tree: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// FetchContent reads one file relative to the root.
func (s *FS) FetchContent(ctx context.Context, path string) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	data, err := os.ReadFile(filepath.Join(s.Root, filepath.FromSlash(path)))
	if err != nil {
		return "", fmt.Errorf("read content %s: %w", path, err)
	}
	return string(data), nil
}

func (s *FS) excluded(rel string) bool {
	for _, p := range s.Exclude {
		p = strings.TrimSuffix(filepath.ToSlash(p), "/")
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}
	return false
}

// HashContent returns the SHA-256 hex digest of data.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// isBinary reports whether data looks like a binary blob (NUL byte in the
// first 8000 bytes, same test git uses).
func isBinary(data []byte) bool {
	n := len(data)
	if n > 8000 {
		n = 8000
	}
	return bytes.IndexByte(data[:n], 0) >= 0
}

var _ Source = (*FS)(nil)
