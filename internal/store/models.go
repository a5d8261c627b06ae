package store

import "time"

// DefaultTenant is used for users seeded or queried without a tenant.
const DefaultTenant = "default"

// ExportRun records one finished export.
type ExportRun struct {
	ID           int64
	ExportID     string
	Path         string
	Compression  string
	Status       string // "complete", "partial"
	Entries      int
	Size         int64
	SHA256       string
	Phases       []PhaseSummary
	ErrorMessage string
	StartTime    time.Time
	EndTime      time.Time
}

// PhaseSummary is the per-phase outcome stored with an ExportRun.
type PhaseSummary struct {
	Phase    string `json:"phase"`
	Status   string `json:"status"`
	Records  int    `json:"records"`
	Excluded int    `json:"excluded,omitempty"`
	Failures int    `json:"failures,omitempty"`
	Error    string `json:"error,omitempty"`
}
