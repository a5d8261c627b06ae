// Package export builds the full-system export archive: it runs every export
// phase against its collaborator in a fixed order and finishes the archive
// with the manifest entry.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/BadgerOps/sysexport/internal/archive"
	"github.com/BadgerOps/sysexport/internal/lockfile"
	"github.com/BadgerOps/sysexport/internal/manifest"
	"github.com/BadgerOps/sysexport/internal/platform"
)

// ErrSerialization marks a manifest that could not be rendered.
var ErrSerialization = errors.New("manifest serialization failed")

const tempPattern = "repoExport*.zip"

// Deps are the systems an export reads from. Content and Encoder are
// required; a nil collaborator skips its phase.
type Deps struct {
	Content     platform.ContentStore
	Datasources platform.DatasourceRegistry
	Metadata    platform.MetadataStore
	Scheduler   platform.Scheduler
	Directory   platform.Directory
	Encoder     manifest.Encoder
}

// Options configures an export run.
type Options struct {
	TempDir     string // "" uses os.TempDir
	RequestPath string // only used for the manifest root folder hint
	Tenant      string
	ExportBy    string
	Compression string

	// SingleRoleCompat records only the last role of each user, as older
	// exports did.
	SingleRoleCompat bool

	LockFile    string
	LockTimeout time.Duration
}

// Context is the state shared by the phases of one run.
type Context struct {
	Archive  *archive.Writer
	Manifest *manifest.Manifest
	Logger   *slog.Logger
}

type phaseFunc func(ctx context.Context, ectx *Context) (PhaseResult, error)

// Exporter runs full-system exports.
type Exporter struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New creates an Exporter.
func New(deps Deps, opts Options, logger *slog.Logger) (*Exporter, error) {
	if deps.Content == nil {
		return nil, fmt.Errorf("content store is required")
	}
	if deps.Encoder == nil {
		return nil, fmt.Errorf("manifest encoder is required")
	}
	if _, err := archive.ParseCompression(opts.Compression); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		deps:   deps,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// Export writes a complete archive to a new temporary file and returns it.
// Only a missing content root and archive write failures are returned as
// errors; in that case no file is left behind. Every other failure is logged
// and reported on the matching PhaseResult.
func (e *Exporter) Export(ctx context.Context) (*Result, error) {
	start := e.now()

	if e.opts.LockFile != "" {
		lock := lockfile.New(e.opts.LockFile)
		if err := lock.Acquire(ctx, e.opts.LockTimeout); err != nil {
			return nil, err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				e.logger.Warn("failed to release export lock", "error", err)
			}
		}()
	}

	f, err := os.CreateTemp(e.opts.TempDir, tempPattern)
	if err != nil {
		return nil, fmt.Errorf("creating export file: %w", err)
	}
	keep := false
	defer func() {
		if keep {
			return
		}
		_ = f.Close()
		if err := os.Remove(f.Name()); err != nil {
			e.logger.Warn("failed to remove export file", "path", f.Name(), "error", err)
		}
	}()

	aw, err := archive.NewWriter(f, archive.Options{Compression: e.opts.Compression, Modified: start, SpoolDir: e.opts.TempDir}, e.logger)
	if err != nil {
		return nil, err
	}

	id := e.newID()
	ectx := &Context{
		Archive: aw,
		Manifest: manifest.New(manifest.Info{
			ExportID:   id,
			ExportBy:   e.opts.ExportBy,
			ExportDate: start.UTC(),
		}),
		Logger: e.logger.With("export_id", id),
	}
	log := ectx.Logger
	log.Info("export starting", "path", f.Name(), "request_path", e.opts.RequestPath)

	root, err := e.deps.Content.Root(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving export root: %w", err)
	}

	phases := []struct {
		name string
		run  phaseFunc
	}{
		{PhaseContent, func(ctx context.Context, ectx *Context) (PhaseResult, error) {
			return e.exportContent(ctx, ectx, root)
		}},
		{PhaseDatasources, e.exportDatasources},
		{PhaseMondrian, e.exportMondrian},
		{PhaseMetadata, e.exportMetadata},
		{PhaseSchedules, e.exportSchedules},
		{PhaseUsersRoles, e.exportUsersAndRoles},
		{PhaseMetastore, e.exportMetastore},
	}

	res := &Result{ExportID: id, StartTime: start}
	for _, p := range phases {
		log.Debug("export phase starting", "phase", p.name)
		pr, err := p.run(ctx, ectx)
		if err != nil {
			log.Error("export aborted", "phase", p.name, "error", err)
			return nil, fmt.Errorf("%s phase: %w", p.name, err)
		}
		pr.Phase = p.name
		pr = pr.done()
		res.Phases = append(res.Phases, pr)

		attrs := []any{"phase", p.name, "status", pr.Status, "records", pr.Records}
		if pr.Status == StatusSuccess || pr.Status == StatusSkipped {
			log.Info("export phase finished", attrs...)
		} else {
			log.Warn("export phase finished", append(attrs, "failures", pr.Failures, "error", pr.Err)...)
		}
	}

	for _, name := range danglingReferences(ectx) {
		log.Error("manifest references missing archive entry", "entry", name)
	}

	err = aw.WriteManifest(func(w io.Writer) error {
		return ectx.Manifest.Serialize(w, e.deps.Encoder)
	})
	switch {
	case errors.Is(err, archive.ErrArchiveIO):
		return nil, err
	case err != nil:
		res.ManifestErr = fmt.Errorf("%w: %v", ErrSerialization, err)
		log.Error("error generating export manifest", "error", err)
	}

	res.Counts = ectx.Manifest.Counts()
	res.Entries = aw.Entries()
	ectx.Manifest = nil

	if err := aw.Close(); err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: closing export file: %v", archive.ErrArchiveIO, err)
	}
	if info, err := os.Stat(f.Name()); err == nil {
		res.Size = info.Size()
	}

	keep = true
	res.Path = f.Name()
	res.Duration = e.now().Sub(start)
	log.Info("export completed",
		"path", res.Path,
		"entries", len(res.Entries),
		"size", res.Size,
		"complete", res.Complete(),
		"duration", res.Duration,
	)
	return res, nil
}

// danglingReferences lists archive paths named by manifest records that were
// never written.
func danglingReferences(ectx *Context) []string {
	var missing []string
	for _, name := range ectx.Manifest.ArchivePaths() {
		if !ectx.Archive.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}
