package export

import (
	"errors"
	"time"

	"github.com/BadgerOps/sysexport/internal/archive"
	"github.com/BadgerOps/sysexport/internal/manifest"
)

// Phase names, in execution order.
const (
	PhaseContent     = "content"
	PhaseDatasources = "datasources"
	PhaseMondrian    = "mondrian"
	PhaseMetadata    = "metadata"
	PhaseSchedules   = "schedules"
	PhaseUsersRoles  = "users_roles"
	PhaseMetastore   = "metastore"
)

// Status is the outcome of one phase.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped" // no collaborator configured
)

// PhaseResult reports what one phase captured and what it lost.
type PhaseResult struct {
	Phase    string
	Status   Status
	Records  int // manifest records appended
	Excluded int // items left out on purpose
	Failures int // items lost to errors
	Err      error
}

// fail records a per-item failure.
func (r *PhaseResult) fail(err error) {
	r.Failures++
	r.Err = errors.Join(r.Err, err)
}

// abort records a collaborator failure that ended the phase, or part of it.
func (r *PhaseResult) abort(err error) {
	r.Err = errors.Join(r.Err, err)
}

func (r PhaseResult) done() PhaseResult {
	if r.Status != "" {
		return r
	}
	switch {
	case r.Err == nil && r.Failures == 0:
		r.Status = StatusSuccess
	case r.Records == 0:
		r.Status = StatusFailed
	default:
		r.Status = StatusPartial
	}
	return r
}

// Result describes a finished export. The caller owns the file at Path.
type Result struct {
	Path        string
	ExportID    string
	Size        int64
	Phases      []PhaseResult
	Entries     []archive.Entry
	Counts      map[manifest.Kind]int
	ManifestErr error
	StartTime   time.Time
	Duration    time.Duration
}

// Phase returns the result of the named phase.
func (r *Result) Phase(name string) (PhaseResult, bool) {
	for _, p := range r.Phases {
		if p.Phase == name {
			return p, true
		}
	}
	return PhaseResult{}, false
}

// Complete reports whether every phase succeeded and the manifest was written.
func (r *Result) Complete() bool {
	if r.ManifestErr != nil {
		return false
	}
	for _, p := range r.Phases {
		if p.Status != StatusSuccess {
			return false
		}
	}
	return true
}
