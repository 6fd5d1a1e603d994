package source

import "context"

// TreeEntry is one file in a tree snapshot: path, size, and content hash.
// The hash is the single source of truth for change detection; mtime and
// ordering are never trusted.
type TreeEntry struct {
	Path        string
	Size        int64
	ContentHash string
}

// FileRecord is fetched file content. Ephemeral: never persisted.
type FileRecord struct {
	Path    string
	Content string
}

// Source fetches tree snapshots and file content. Implementations must
// return hashes that are stable and comparable across calls.
type Source interface {
	// FetchTree returns the snapshot of all tracked files at ref.
	FetchTree(ctx context.Context, ref string) ([]TreeEntry, error)
	// FetchContent returns the content of one file at the snapshot ref.
	FetchContent(ctx context.Context, path string) (string, error)
}
