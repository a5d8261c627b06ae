// Package content serves a directory on disk as the hierarchical content
// store of an export.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/BadgerOps/sysexport/internal/platform"
	"github.com/BadgerOps/sysexport/internal/safety"
)

// FSStore is a platform.ContentStore rooted at a directory.
type FSStore struct {
	root    string
	exclude []string
	logger  *slog.Logger
}

// NewFSStore returns a store over dir. Paths matching any exclude pattern
// (doublestar syntax, relative to dir) are hidden from listings.
func NewFSStore(dir string, exclude []string, logger *slog.Logger) (*FSStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, p := range exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	return &FSStore{root: dir, exclude: exclude, logger: logger}, nil
}

// diskPath maps a logical node path onto the filesystem, refusing anything
// that would leave the root.
func (s *FSStore) diskPath(logical string) (string, error) {
	return safety.JoinLogical(s.root, logical)
}

func (s *FSStore) excluded(rel string) bool {
	for _, p := range s.exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Root implements platform.ContentStore.
func (s *FSStore) Root(ctx context.Context) (platform.Node, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return platform.Node{}, fmt.Errorf("content root %s: %w", s.root, platform.ErrNotFound)
		}
		return platform.Node{}, fmt.Errorf("content root %s: %w", s.root, err)
	}
	if !info.IsDir() {
		return platform.Node{}, fmt.Errorf("content root %s is not a directory", s.root)
	}
	return platform.Node{Path: "/", Folder: true}, nil
}

// Children implements platform.ContentStore. Entries come back in name
// order; anything that is neither a regular file nor a directory is skipped.
func (s *FSStore) Children(ctx context.Context, folder platform.Node) ([]platform.Node, error) {
	dir, err := s.diskPath(folder.Path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", folder.Path, err)
	}

	var out []platform.Node
	for _, de := range entries {
		logical := path.Join(folder.Path, de.Name())
		if s.excluded(strings.TrimPrefix(logical, "/")) {
			s.logger.Debug("excluded from export", "path", logical)
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", logical, err)
		}
		switch {
		case info.IsDir():
			out = append(out, platform.Node{Path: logical, Name: de.Name(), Folder: true})
		case info.Mode().IsRegular():
			out = append(out, platform.Node{Path: logical, Name: de.Name(), Size: info.Size()})
		default:
			s.logger.Debug("skipping non-regular file", "path", logical, "mode", info.Mode().String())
		}
	}
	return out, nil
}

// Open implements platform.ContentStore.
func (s *FSStore) Open(ctx context.Context, file platform.Node) (io.ReadCloser, error) {
	p, err := s.diskPath(file.Path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", file.Path, platform.ErrNotFound)
		}
		return nil, err
	}
	return f, nil
}
