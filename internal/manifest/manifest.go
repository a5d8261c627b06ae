// Package manifest accumulates the records produced by an export run and
// renders them as the archive's manifest entry.
package manifest

import (
	"errors"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/BadgerOps/sysexport/internal/pathenc"
)

var (
	// ErrRootFolderSet is returned when the root folder marker is set twice.
	ErrRootFolderSet = errors.New("manifest root folder already set")
	// ErrAlreadySerialized is returned by a second Serialize call.
	ErrAlreadySerialized = errors.New("manifest already serialized")
)

// Kind identifies the phase a record belongs to. Kinds are ordered as the
// phases of an export.
type Kind int

const (
	KindEntity Kind = iota
	KindDatasource
	KindMondrian
	KindMetadata
	KindSchedule
	KindUser
	KindRole
)

var kindNames = [...]string{"entity", "datasource", "mondrian", "metadata", "schedule", "user", "role"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Record is one manifest record. The set of implementations is closed.
type Record interface {
	Kind() Kind
	record()
}

// Info is the manifest header.
type Info struct {
	RootFolder string
	ExportID   string
	ExportBy   string
	ExportDate time.Time
}

// Entity is one mirrored content node.
type Entity struct {
	Path        string
	ArchivePath string
	Folder      bool
}

// Datasource is a database connection definition.
type Datasource struct {
	Name         string
	DatabaseType string
	Access       string
	Host         string
	Port         string
	DatabaseName string
	Username     string
	Password     string
	Attributes   map[string]string
}

// Mondrian is an OLAP schema. A nil *Mondrian is a placeholder for a phase
// that had no schema source.
type Mondrian struct {
	CatalogName string
	File        string
}

// Metadata links a metadata domain to an exported model file.
type Metadata struct {
	DomainID string
	File     string
}

// CronTrigger fires on a cron expression.
type CronTrigger struct {
	Expression string
}

// SimpleTrigger fires RepeatCount times every RepeatInterval. A negative
// RepeatCount repeats forever.
type SimpleTrigger struct {
	RepeatInterval time.Duration
	RepeatCount    int
}

// Param is a job parameter.
type Param struct {
	Name  string
	Value string
}

// Schedule is a job schedule request. Exactly one of Cron and Simple is set.
type Schedule struct {
	JobName    string
	ActionUser string
	InputFile  string
	OutputFile string
	StartTime  time.Time
	EndTime    time.Time
	TimeZone   string
	Cron       *CronTrigger
	Simple     *SimpleTrigger
	Params     []Param
}

// User is a directory user and the roles granted to them.
type User struct {
	Username string
	Roles    []string
}

// Role is a directory role and its permission bindings.
type Role struct {
	Name        string
	Permissions []string
}

func (Entity) Kind() Kind     { return KindEntity }
func (Datasource) Kind() Kind { return KindDatasource }
func (*Mondrian) Kind() Kind  { return KindMondrian }
func (Metadata) Kind() Kind   { return KindMetadata }
func (Schedule) Kind() Kind   { return KindSchedule }
func (User) Kind() Kind       { return KindUser }
func (Role) Kind() Kind       { return KindRole }

func (Entity) record()     {}
func (Datasource) record() {}
func (*Mondrian) record()  {}
func (Metadata) record()   {}
func (Schedule) record()   {}
func (User) record()       {}
func (Role) record()       {}

// Encoder renders a manifest to a stream.
type Encoder interface {
	WriteXML(m *Manifest, w io.Writer) error
}

// Manifest is the append-only record set of one export run.
type Manifest struct {
	info       Info
	rootSet    bool
	serialized bool

	entities    []Entity
	datasources []Datasource
	mondrian    []*Mondrian
	metadata    []Metadata
	schedules   []Schedule
	users       []User
	roles       []Role
}

// New returns an empty manifest. info.RootFolder is ignored; use
// SetRootFolder.
func New(info Info) *Manifest {
	info.RootFolder = ""
	return &Manifest{info: info}
}

// SetRootFolder sets the content root marker. It may be called once.
func (m *Manifest) SetRootFolder(path string) error {
	if m.rootSet {
		return ErrRootFolderSet
	}
	m.info.RootFolder = path
	m.rootSet = true
	return nil
}

// Info returns the manifest header.
func (m *Manifest) Info() Info {
	return m.info
}

// Add appends r to its phase. The record is copied so later changes by the
// caller do not leak in.
func (m *Manifest) Add(r Record) {
	switch rec := r.(type) {
	case Entity:
		m.entities = append(m.entities, rec)
	case Datasource:
		m.datasources = append(m.datasources, rec.clone())
	case *Mondrian:
		m.mondrian = append(m.mondrian, rec.clone())
	case Metadata:
		m.metadata = append(m.metadata, rec)
	case Schedule:
		m.schedules = append(m.schedules, rec.clone())
	case User:
		m.users = append(m.users, rec.clone())
	case Role:
		m.roles = append(m.roles, rec.clone())
	}
}

func (d Datasource) clone() Datasource {
	d.Attributes = maps.Clone(d.Attributes)
	return d
}

func (mo *Mondrian) clone() *Mondrian {
	if mo == nil {
		return nil
	}
	c := *mo
	return &c
}

func (s Schedule) clone() Schedule {
	s.Params = slices.Clone(s.Params)
	if s.Cron != nil {
		c := *s.Cron
		s.Cron = &c
	}
	if s.Simple != nil {
		t := *s.Simple
		s.Simple = &t
	}
	return s
}

func (u User) clone() User {
	u.Roles = slices.Clone(u.Roles)
	return u
}

func (r Role) clone() Role {
	r.Permissions = slices.Clone(r.Permissions)
	return r
}

// cloneAll copies a phase's records so callers cannot reach stored state.
func cloneAll[T any](in []T, clone func(T) T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	for i, v := range in {
		out[i] = clone(v)
	}
	return out
}

func (m *Manifest) Entities() []Entity { return slices.Clone(m.entities) }

func (m *Manifest) Datasources() []Datasource { return cloneAll(m.datasources, Datasource.clone) }

func (m *Manifest) Mondrian() []*Mondrian { return cloneAll(m.mondrian, (*Mondrian).clone) }

func (m *Manifest) Metadata() []Metadata { return slices.Clone(m.metadata) }

func (m *Manifest) Schedules() []Schedule { return cloneAll(m.schedules, Schedule.clone) }

func (m *Manifest) Users() []User { return cloneAll(m.users, User.clone) }

func (m *Manifest) Roles() []Role { return cloneAll(m.roles, Role.clone) }

// Records returns a copy of every record, phase by phase, in insertion
// order within each phase.
func (m *Manifest) Records() []Record {
	out := make([]Record, 0, m.Len())
	for _, r := range m.entities {
		out = append(out, r)
	}
	for _, r := range m.datasources {
		out = append(out, r.clone())
	}
	for _, r := range m.mondrian {
		out = append(out, r.clone())
	}
	for _, r := range m.metadata {
		out = append(out, r)
	}
	for _, r := range m.schedules {
		out = append(out, r.clone())
	}
	for _, r := range m.users {
		out = append(out, r.clone())
	}
	for _, r := range m.roles {
		out = append(out, r.clone())
	}
	return out
}

// Len returns the number of records.
func (m *Manifest) Len() int {
	return len(m.entities) + len(m.datasources) + len(m.mondrian) + len(m.metadata) +
		len(m.schedules) + len(m.users) + len(m.roles)
}

// Counts returns the number of records per kind.
func (m *Manifest) Counts() map[Kind]int {
	return map[Kind]int{
		KindEntity:     len(m.entities),
		KindDatasource: len(m.datasources),
		KindMondrian:   len(m.mondrian),
		KindMetadata:   len(m.metadata),
		KindSchedule:   len(m.schedules),
		KindUser:       len(m.users),
		KindRole:       len(m.roles),
	}
}

// ArchivePaths returns every archive entry name referenced by a record.
// Metadata files are logical paths and are encoded here.
func (m *Manifest) ArchivePaths() []string {
	var out []string
	for _, e := range m.entities {
		out = append(out, e.ArchivePath)
	}
	for _, md := range m.metadata {
		out = append(out, pathenc.Encode(md.File))
	}
	return out
}

// Serialize renders the manifest with enc. Only the first call does any work.
func (m *Manifest) Serialize(w io.Writer, enc Encoder) error {
	if m.serialized {
		return ErrAlreadySerialized
	}
	m.serialized = true
	return enc.WriteXML(m, w)
}
