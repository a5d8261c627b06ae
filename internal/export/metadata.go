package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/BadgerOps/sysexport/internal/archive"
	"github.com/BadgerOps/sysexport/internal/manifest"
	"github.com/BadgerOps/sysexport/internal/pathenc"
)

const metadataExt = ".xmi"

// metadataPath is the logical archive path of a model file.
func metadataPath(fileName string) string {
	p := MetadataPathInArchive + fileName
	if !strings.HasSuffix(p, metadataExt) {
		p += metadataExt
	}
	return p
}

// exportMetadata writes every metadata model file under MetadataPathInArchive.
func (e *Exporter) exportMetadata(ctx context.Context, ectx *Context) (PhaseResult, error) {
	r := PhaseResult{}
	if e.deps.Metadata == nil {
		r.Status = StatusSkipped
		return r, nil
	}

	ids, err := e.deps.Metadata.ListDomainIDs(ctx)
	if err != nil {
		ectx.Logger.Warn("failed to list metadata domains", "error", err)
		r.abort(fmt.Errorf("listing metadata domains: %w", err))
		return r, nil
	}
	sort.Strings(ids)

	for _, id := range ids {
		files, err := e.deps.Metadata.GetDomainFiles(ctx, id)
		if err != nil {
			ectx.Logger.Warn("failed to read metadata domain", "domain", id, "error", err)
			r.fail(fmt.Errorf("domain %s: %w", id, err))
			closeStreams(files)
			continue
		}
		if err := writeDomainFiles(ectx, id, files, &r); err != nil {
			return r, err
		}
	}
	return r, nil
}

// writeDomainFiles consumes and closes every stream in files, whatever
// happens. It returns only fatal archive errors.
func writeDomainFiles(ectx *Context, domainID string, files map[string]io.ReadCloser, r *PhaseResult) error {
	log := ectx.Logger
	defer closeStreams(files)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rc := files[name]
		delete(files, name)

		path := metadataPath(name)
		if rc == nil {
			log.Warn("metadata file has no content, skipping", "domain", domainID, "file", name)
			r.fail(fmt.Errorf("domain %s file %s: no content", domainID, name))
			continue
		}

		_, err := ectx.Archive.WriteFile(pathenc.Encode(path), rc)
		if cerr := rc.Close(); cerr != nil {
			log.Debug("failed to close metadata stream", "domain", domainID, "file", name, "error", cerr)
		}
		if err != nil {
			if errors.Is(err, archive.ErrArchiveIO) {
				return err
			}
			log.Warn("failed to add metadata file to archive", "domain", domainID, "file", name, "error", err)
			r.fail(fmt.Errorf("domain %s file %s: %w", domainID, name, err))
			continue
		}

		ectx.Manifest.Add(manifest.Metadata{DomainID: domainID, File: path})
		r.Records++
	}
	return nil
}

// closeStreams closes and forgets whatever is left in files.
func closeStreams(files map[string]io.ReadCloser) {
	for name, rc := range files {
		if rc != nil {
			_ = rc.Close()
		}
		delete(files, name)
	}
}
