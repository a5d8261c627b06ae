package content

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/BadgerOps/sysexport/internal/platform"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func newTestStore(t *testing.T, root string, exclude ...string) *FSStore {
	t.Helper()
	s, err := NewFSStore(root, exclude, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewFSStore() error: %v", err)
	}
	return s
}

func TestFSStoreWalk(t *testing.T) {
	root := writeTree(t, map[string]string{
		"public/b.prpt":        "b",
		"public/a.prpt":        "a",
		"public/sub/deep.txt":  "deep",
		"home/admin/notes.txt": "notes",
	})
	s := newTestStore(t, root)
	ctx := context.Background()

	top, err := s.Root(ctx)
	if err != nil {
		t.Fatalf("Root() error: %v", err)
	}
	if top.Path != "/" || !top.IsFolder() {
		t.Fatalf("Root() = %+v", top)
	}

	children, err := s.Children(ctx, top)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 || children[0].Path != "/home" || children[1].Path != "/public" {
		t.Fatalf("Children(/) = %+v", children)
	}

	public, err := s.Children(ctx, children[1])
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"/public/a.prpt", "/public/b.prpt", "/public/sub"}
	for i, n := range public {
		if n.Path != want[i] {
			t.Errorf("child %d = %s, want %s", i, n.Path, want[i])
		}
	}
	if public[0].IsFolder() || public[0].Size != 1 || !public[2].IsFolder() {
		t.Errorf("node kinds wrong: %+v", public)
	}

	rc, err := s.Open(ctx, public[0])
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "a" {
		t.Errorf("Open() content = %q", data)
	}
}

func TestFSStoreExclude(t *testing.T) {
	root := writeTree(t, map[string]string{
		"public/report.prpt":   "r",
		"public/.cache/x":      "x",
		"tmp/scratch.txt":      "s",
		"public/sub/.DS_Store": "junk",
	})
	s := newTestStore(t, root, "**/.cache", "tmp", "**/.DS_Store")
	ctx := context.Background()

	top, _ := s.Root(ctx)
	children, err := s.Children(ctx, top)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].Path != "/public" {
		t.Fatalf("Children(/) = %+v, want only /public", children)
	}
	public, _ := s.Children(ctx, children[0])
	for _, n := range public {
		if n.Name == ".cache" {
			t.Error(".cache not excluded")
		}
	}
	sub, _ := s.Children(ctx, platform.Node{Path: "/public/sub", Folder: true})
	if len(sub) != 0 {
		t.Errorf("Children(/public/sub) = %+v, want empty", sub)
	}
}

func TestFSStoreInvalidPattern(t *testing.T) {
	if _, err := NewFSStore(t.TempDir(), []string{"[unclosed"}, nil); err == nil {
		t.Error("NewFSStore() expected error for invalid pattern")
	}
}

func TestFSStoreMissingRoot(t *testing.T) {
	s := newTestStore(t, filepath.Join(t.TempDir(), "nope"))
	if _, err := s.Root(context.Background()); !errors.Is(err, platform.ErrNotFound) {
		t.Errorf("Root() error = %v, want ErrNotFound", err)
	}
}

func TestFSStoreRejectsEscape(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	ctx := context.Background()
	if _, err := s.Open(ctx, platform.Node{Path: "/../etc/passwd"}); err == nil {
		t.Error("Open() outside root expected error")
	}
	if _, err := s.Children(ctx, platform.Node{Path: "/../", Folder: true}); err == nil {
		t.Error("Children() outside root expected error")
	}
}

func TestFSStoreOpenMissing(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	_, err := s.Open(context.Background(), platform.Node{Path: "/gone.txt"})
	if !errors.Is(err, platform.ErrNotFound) {
		t.Errorf("Open() error = %v, want ErrNotFound", err)
	}
}
