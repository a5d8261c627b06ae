package export

import (
	"context"
	"fmt"

	"github.com/BadgerOps/sysexport/internal/manifest"
	"github.com/BadgerOps/sysexport/internal/platform"
)

// Archive areas for datasource content.
const (
	DatasourcesPathInArchive = "_datasources/"
	ConnectionsPathInArchive = DatasourcesPathInArchive + "connections/"
	MetadataPathInArchive    = DatasourcesPathInArchive + "metadata/"
	AnalysisPathInArchive    = DatasourcesPathInArchive + "analysis/"
)

// exportDatasources records every database connection in the manifest.
// Connections live only in the manifest; no archive entry is written.
func (e *Exporter) exportDatasources(ctx context.Context, ectx *Context) (PhaseResult, error) {
	r := PhaseResult{}
	if e.deps.Datasources == nil {
		r.Status = StatusSkipped
		return r, nil
	}

	defs, err := e.deps.Datasources.ListDatasources(ctx)
	if err != nil {
		ectx.Logger.Warn("failed to list datasources", "error", err)
		r.abort(fmt.Errorf("listing datasources: %w", err))
		return r, nil
	}

	for _, d := range defs {
		if d.Kind != platform.DatasourceKindDatabase {
			r.Excluded++
			continue
		}
		ectx.Manifest.Add(manifest.Datasource{
			Name:         d.Name,
			DatabaseType: d.DatabaseType,
			Access:       d.Access,
			Host:         d.Host,
			Port:         d.Port,
			DatabaseName: d.DatabaseName,
			Username:     d.Username,
			Password:     d.Password,
			Attributes:   d.Attributes,
		})
		r.Records++
	}
	return r, nil
}

// exportMondrian adds the OLAP schema placeholder. There is no schema source
// yet, so the record is always nil.
func (e *Exporter) exportMondrian(ctx context.Context, ectx *Context) (PhaseResult, error) {
	ectx.Manifest.Add((*manifest.Mondrian)(nil))
	return PhaseResult{Records: 1}, nil
}

// exportMetastore is an extension point; the metastore has nothing to
// capture yet.
func (e *Exporter) exportMetastore(ctx context.Context, ectx *Context) (PhaseResult, error) {
	ectx.Logger.Debug("metastore has no exportable content")
	return PhaseResult{}, nil
}
