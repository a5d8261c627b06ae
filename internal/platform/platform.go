// Package platform defines the contracts of the systems an export reads from:
// the content store, datasource registry, metadata-model store, job scheduler
// and user/role directory.
package platform

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when a requested node or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRegistryUnavailable is returned when the datasource registry cannot be read.
	ErrRegistryUnavailable = errors.New("datasource registry unavailable")
	// ErrSchedulerUnavailable is returned when the job scheduler cannot be read.
	ErrSchedulerUnavailable = errors.New("scheduler unavailable")
	// ErrInvalidArgument marks a single record that cannot be converted.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Node is one file or folder of the content store.
type Node struct {
	Path   string // absolute, slash separated, "/" for the top
	Name   string
	Folder bool
	Size   int64
}

// IsFolder reports whether the node has children rather than content.
func (n Node) IsFolder() bool {
	return n.Folder
}

// ContentStore is the hierarchical file/folder repository.
type ContentStore interface {
	Root(ctx context.Context) (Node, error)
	Children(ctx context.Context, folder Node) ([]Node, error)
	Open(ctx context.Context, file Node) (io.ReadCloser, error)
}

// DatasourceKindDatabase is the only connection kind captured by an export.
const DatasourceKindDatabase = "database"

// ConnectionDefinition describes one registered datasource.
type ConnectionDefinition struct {
	ID           string
	Name         string
	Kind         string
	DatabaseType string
	Access       string
	Host         string
	Port         string
	DatabaseName string
	Username     string
	Password     string
	Attributes   map[string]string
}

// DatasourceRegistry lists datasource connection definitions.
type DatasourceRegistry interface {
	ListDatasources(ctx context.Context) ([]ConnectionDefinition, error)
}

// MetadataStore holds metadata models keyed by domain id. Callers own the
// returned streams and must close every one of them.
type MetadataStore interface {
	ListDomainIDs(ctx context.Context) ([]string, error)
	GetDomainFiles(ctx context.Context, domainID string) (map[string]io.ReadCloser, error)
}

// Trigger types understood by the scheduler.
const (
	TriggerCron   = "cron"
	TriggerSimple = "simple"
)

// Trigger describes when a job fires.
type Trigger struct {
	Type           string
	CronExpression string
	RepeatInterval time.Duration
	RepeatCount    int
	StartTime      time.Time
	EndTime        time.Time
	TimeZone       string
}

// Job is one scheduled job.
type Job struct {
	ID         string
	Name       string
	UserName   string
	InputFile  string
	OutputFile string
	State      string
	Params     map[string]string
	Trigger    *Trigger
}

// JobFilter selects jobs; a nil filter selects all of them.
type JobFilter func(Job) bool

// Scheduler lists scheduled jobs.
type Scheduler interface {
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
}

// User is a directory account.
type User struct {
	Username string
	Enabled  bool
}

// Role is a directory role.
type Role struct {
	Name        string
	Description string
}

// Directory is the user/role directory.
type Directory interface {
	ListUsers(ctx context.Context, tenant string) ([]User, error)
	ListUserRoles(ctx context.Context, tenant, username string) ([]Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	GetRoleBindings(ctx context.Context) (map[string][]string, error)
}
