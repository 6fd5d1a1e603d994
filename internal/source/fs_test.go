package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFetchTreeSortedAndHashed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b/server.js", "const x = 1\n")
	writeFile(t, root, "a/main.go", "package main\n")

	tree, err := NewFS(root, nil).FetchTree(context.Background(), "HEAD")
	if err != nil {
		t.Fatalf("FetchTree: %v", err)
	}
	if len(tree) != 2 {
		t.Fatalf("got %d entries, want 2", len(tree))
	}
	if tree[0].Path != "a/main.go" || tree[1].Path != "b/server.js" {
		t.Errorf("paths not sorted: %v, %v", tree[0].Path, tree[1].Path)
	}
	if tree[0].ContentHash != HashContent([]byte("package main\n")) {
		t.Errorf("hash mismatch for a/main.go")
	}
}

func TestFetchTreeStableHashes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.py", "import os\n")

	src := NewFS(root, nil)
	t1, err := src.FetchTree(context.Background(), "HEAD")
	if err != nil {
		t.Fatal(err)
	}
	t2, err := src.FetchTree(context.Background(), "HEAD")
	if err != nil {
		t.Fatal(err)
	}
	if t1[0].ContentHash != t2[0].ContentHash {
		t.Errorf("hash not stable across calls: %s vs %s", t1[0].ContentHash, t2[0].ContentHash)
	}
}

func TestFetchTreeSkipsDirsAndBinaries(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/ok.go", "package ok\n")
	writeFile(t, root, "node_modules/dep/index.js", "module.exports = {}\n")
	writeFile(t, root, ".git/HEAD", "ref: refs/heads/main\n")
	writeFile(t, root, "logo.png", "\x89PNG\x00\x00binary")
	writeFile(t, root, "secret/notes.txt", "n\n")

	tree, err := NewFS(root, []string{"secret"}).FetchTree(context.Background(), "HEAD")
	if err != nil {
		t.Fatalf("FetchTree: %v", err)
	}
	if len(tree) != 1 || tree[0].Path != "src/ok.go" {
		t.Errorf("unexpected entries: %+v", tree)
	}
}

func TestFetchContent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "api/routes.js", "app.get('/users')\n")

	got, err := NewFS(root, nil).FetchContent(context.Background(), "api/routes.js")
	if err != nil {
		t.Fatalf("FetchContent: %v", err)
	}
	if got != "app.get('/users')\n" {
		t.Errorf("content = %q", got)
	}
}
