package export

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BadgerOps/sysexport/internal/archive"
	"github.com/BadgerOps/sysexport/internal/manifest"
	"github.com/BadgerOps/sysexport/internal/pathenc"
	"github.com/BadgerOps/sysexport/internal/platform"
)

// rootFolderHint returns the folder containing the requested path, keeping
// the trailing slash: "/public/report.prpt" gives "/public/".
func rootFolderHint(requestPath string) string {
	i := strings.LastIndex(requestPath, "/")
	if i < 0 {
		return "/"
	}
	return requestPath[:i+1]
}

type contentWalker struct {
	store  platform.ContentStore
	ectx   *Context
	root   platform.Node
	result *PhaseResult
}

// exportContent mirrors the content tree under root into the archive.
func (e *Exporter) exportContent(ctx context.Context, ectx *Context, root platform.Node) (PhaseResult, error) {
	r := PhaseResult{}
	if err := ectx.Manifest.SetRootFolder(rootFolderHint(e.opts.RequestPath)); err != nil {
		return r, err
	}

	w := &contentWalker{store: e.deps.Content, ectx: ectx, root: root, result: &r}
	if err := w.walk(ctx, root); err != nil {
		return r, err
	}
	return r, nil
}

// relPath is the node path relative to the export root, without a leading
// slash.
func (w *contentWalker) relPath(n platform.Node) string {
	rel := strings.TrimPrefix(n.Path, w.root.Path)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		rel = n.Name
	}
	return rel
}

// walk returns only fatal archive errors. Everything else is noted on the
// result and the walk moves on.
func (w *contentWalker) walk(ctx context.Context, n platform.Node) error {
	if !n.IsFolder() {
		return w.file(ctx, n)
	}

	log := w.ectx.Logger
	if n.Path != w.root.Path {
		name := pathenc.Encode(w.relPath(n)) + "/"
		if err := w.ectx.Archive.WriteDir(name); err != nil {
			if errors.Is(err, archive.ErrArchiveIO) {
				return err
			}
			log.Warn("failed to add folder to archive", "path", n.Path, "error", err)
			w.result.fail(fmt.Errorf("folder %s: %w", n.Path, err))
		} else {
			w.ectx.Manifest.Add(manifest.Entity{Path: n.Path, ArchivePath: name, Folder: true})
			w.result.Records++
		}
	}

	children, err := w.store.Children(ctx, n)
	if err != nil {
		log.Warn("failed to list folder, skipping subtree", "path", n.Path, "error", err)
		w.result.fail(fmt.Errorf("listing %s: %w", n.Path, err))
		return nil
	}
	for _, c := range children {
		if err := w.walk(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (w *contentWalker) file(ctx context.Context, n platform.Node) error {
	log := w.ectx.Logger
	name := pathenc.Encode(w.relPath(n))

	rc, err := w.store.Open(ctx, n)
	if err != nil {
		log.Warn("failed to open file, skipping", "path", n.Path, "error", err)
		w.result.fail(fmt.Errorf("opening %s: %w", n.Path, err))
		return nil
	}
	_, err = w.ectx.Archive.WriteFile(name, rc)
	if cerr := rc.Close(); cerr != nil {
		log.Debug("failed to close file stream", "path", n.Path, "error", cerr)
	}
	if err != nil {
		if errors.Is(err, archive.ErrArchiveIO) {
			return err
		}
		log.Warn("failed to add file to archive", "path", n.Path, "error", err)
		w.result.fail(fmt.Errorf("file %s: %w", n.Path, err))
		return nil
	}

	w.ectx.Manifest.Add(manifest.Entity{Path: n.Path, ArchivePath: name})
	w.result.Records++
	return nil
}
