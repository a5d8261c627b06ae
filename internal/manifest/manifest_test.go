package manifest

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func sampleManifest(t *testing.T) *Manifest {
	t.Helper()
	m := New(Info{
		ExportID:   "3f1e0c7a-run",
		ExportBy:   "admin",
		ExportDate: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	})
	if err := m.SetRootFolder("/public/"); err != nil {
		t.Fatal(err)
	}

	// Added out of phase order on purpose.
	m.Add(Role{Name: "Administrator", Permissions: []string{"repository.read", "repository.create"}})
	m.Add(Entity{Path: "/public", ArchivePath: "public/", Folder: true})
	m.Add(Entity{Path: "/public/sales.prpt", ArchivePath: "public/sales.prpt"})
	m.Add(Datasource{
		Name:         "SampleData",
		DatabaseType: "POSTGRESQL",
		Access:       "NATIVE",
		Host:         "db.internal",
		Port:         "5432",
		DatabaseName: "sampledata",
		Username:     "report",
		Password:     "s3cret",
		Attributes:   map[string]string{"SUPPORTS_BOOLEAN_DATA_TYPE": "true", "PRESERVE_RESERVED_WORD_CASE": "false"},
	})
	m.Add((*Mondrian)(nil))
	m.Add(Metadata{DomainID: "sales", File: "_datasources/metadata/model.xmi"})
	m.Add(Schedule{
		JobName:    "nightly sales",
		ActionUser: "admin",
		InputFile:  "/public/sales.prpt",
		OutputFile: "/home/admin/sales.*",
		StartTime:  time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC),
		TimeZone:   "UTC",
		Cron:       &CronTrigger{Expression: "0 0 2 * * ?"},
		Params:     []Param{{Name: "region", Value: "EMEA & APAC"}},
	})
	m.Add(Schedule{
		JobName:   "hourly ping",
		InputFile: "/public/ping.xaction",
		Simple:    &SimpleTrigger{RepeatInterval: time.Hour, RepeatCount: -1},
	})
	m.Add(User{Username: "admin", Roles: []string{"Administrator", "Authenticated"}})
	m.Add(User{Username: "suzy"})
	m.Add(Role{Name: "Authenticated"})
	return m
}

func TestSetRootFolderOnce(t *testing.T) {
	m := New(Info{RootFolder: "/ignored/"})
	if m.Info().RootFolder != "" {
		t.Errorf("New() kept RootFolder %q", m.Info().RootFolder)
	}
	if err := m.SetRootFolder("/public/"); err != nil {
		t.Fatalf("SetRootFolder() error: %v", err)
	}
	if err := m.SetRootFolder("/other/"); !errors.Is(err, ErrRootFolderSet) {
		t.Errorf("second SetRootFolder() error = %v, want ErrRootFolderSet", err)
	}
	if got := m.Info().RootFolder; got != "/public/" {
		t.Errorf("RootFolder = %q, want /public/", got)
	}
}

func TestRecordsPhaseOrder(t *testing.T) {
	m := sampleManifest(t)

	records := m.Records()
	if len(records) != m.Len() {
		t.Fatalf("Records() = %d, Len() = %d", len(records), m.Len())
	}
	for i := 1; i < len(records); i++ {
		if records[i].Kind() < records[i-1].Kind() {
			t.Fatalf("record %d (%s) after %s", i, records[i].Kind(), records[i-1].Kind())
		}
	}

	roles := m.Roles()
	if roles[0].Name != "Administrator" || roles[1].Name != "Authenticated" {
		t.Errorf("roles out of insertion order: %+v", roles)
	}
}

func TestAddCopiesRecord(t *testing.T) {
	m := New(Info{})
	roles := []string{"Administrator"}
	m.Add(User{Username: "admin", Roles: roles})
	roles[0] = "Anonymous"

	if got := m.Users()[0].Roles[0]; got != "Administrator" {
		t.Errorf("stored role mutated to %q", got)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	m := sampleManifest(t)
	m.Add(&Mondrian{CatalogName: "SteelWheels", File: "_datasources/mondrian/SteelWheels.xml"})

	m.Users()[0].Roles[0] = "Anonymous"
	m.Roles()[0].Permissions[0] = "administer.security"
	m.Datasources()[0].Attributes["SUPPORTS_BOOLEAN_DATA_TYPE"] = "false"
	s := m.Schedules()
	s[0].Params[0].Value = "LATAM"
	s[0].Cron.Expression = "* * * * * ?"
	s[1].Simple.RepeatCount = 3
	m.Mondrian()[1].CatalogName = "Other"
	for _, r := range m.Records() {
		if u, ok := r.(User); ok && len(u.Roles) > 0 {
			u.Roles[0] = "Guest"
		}
	}

	if got := m.Users()[0].Roles[0]; got != "Administrator" {
		t.Errorf("user role mutated through accessor: %q", got)
	}
	if got := m.Roles()[0].Permissions[0]; got != "repository.read" {
		t.Errorf("role permission mutated through accessor: %q", got)
	}
	if got := m.Datasources()[0].Attributes["SUPPORTS_BOOLEAN_DATA_TYPE"]; got != "true" {
		t.Errorf("datasource attribute mutated through accessor: %q", got)
	}
	s = m.Schedules()
	if s[0].Params[0].Value != "EMEA & APAC" || s[0].Cron.Expression != "0 0 2 * * ?" {
		t.Errorf("cron schedule mutated through accessor: %+v", s[0])
	}
	if s[1].Simple.RepeatCount != -1 {
		t.Errorf("simple trigger mutated through accessor: %+v", s[1].Simple)
	}
	if got := m.Mondrian()[1].CatalogName; got != "SteelWheels" {
		t.Errorf("mondrian mutated through accessor: %q", got)
	}
}

func TestCountsAndArchivePaths(t *testing.T) {
	m := sampleManifest(t)

	counts := m.Counts()
	want := map[Kind]int{
		KindEntity: 2, KindDatasource: 1, KindMondrian: 1, KindMetadata: 1,
		KindSchedule: 2, KindUser: 2, KindRole: 2,
	}
	if !reflect.DeepEqual(counts, want) {
		t.Errorf("Counts() = %v, want %v", counts, want)
	}

	paths := m.ArchivePaths()
	wantPaths := []string{"public/", "public/sales.prpt", "_datasources/metadata/model.xmi"}
	if !reflect.DeepEqual(paths, wantPaths) {
		t.Errorf("ArchivePaths() = %v, want %v", paths, wantPaths)
	}
}

func TestSerializeOnce(t *testing.T) {
	m := sampleManifest(t)

	var buf bytes.Buffer
	if err := m.Serialize(&buf, XML{}); err != nil {
		t.Fatalf("Serialize() error: %v", err)
	}
	if err := m.Serialize(&buf, XML{}); !errors.Is(err, ErrAlreadySerialized) {
		t.Errorf("second Serialize() error = %v, want ErrAlreadySerialized", err)
	}
}

func TestXMLRoundTrip(t *testing.T) {
	m := sampleManifest(t)

	var buf bytes.Buffer
	if err := m.Serialize(&buf, XML{Indent: 2}); err != nil {
		t.Fatalf("Serialize() error: %v", err)
	}
	if !strings.HasPrefix(buf.String(), `<?xml version="1.0" encoding="UTF-8"?>`) {
		t.Errorf("missing xml declaration: %q", buf.String()[:40])
	}

	got, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if !reflect.DeepEqual(got.Info(), m.Info()) {
		t.Errorf("Info() = %+v, want %+v", got.Info(), m.Info())
	}
	if !reflect.DeepEqual(got.Records(), m.Records()) {
		t.Errorf("round trip records differ:\n got  %+v\n want %+v", got.Records(), m.Records())
	}
	if err := got.SetRootFolder("/again/"); !errors.Is(err, ErrRootFolderSet) {
		t.Errorf("parsed manifest should keep root folder set, got %v", err)
	}
}

func TestXMLRoundTripAwkwardStrings(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"control byte", "a\x01b"},
		{"carriage return", "a\rb"},
		{"crlf", "line1\r\nline2"},
		{"tab and newline", "a\tb\nc"},
		{"invalid utf8", "caf\xe9"},
		{"nul", "x\x00y"},
		{"spaces only", "   "},
		{"replacement char", "a\uFFFDb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(Info{ExportBy: tt.value})
			if err := m.SetRootFolder("/" + tt.value + "/"); err != nil {
				t.Fatal(err)
			}
			m.Add(Entity{Path: "/" + tt.value, ArchivePath: "public/encoded"})
			m.Add(Datasource{Name: tt.value, Password: tt.value, Attributes: map[string]string{tt.value: tt.value}})
			m.Add(Schedule{JobName: tt.value, Cron: &CronTrigger{Expression: tt.value}, Params: []Param{{Name: tt.value, Value: tt.value}}})
			m.Add(User{Username: tt.value, Roles: []string{tt.value}})
			m.Add(Role{Name: tt.value, Permissions: []string{tt.value}})

			var buf bytes.Buffer
			if err := m.Serialize(&buf, XML{Indent: 2}); err != nil {
				t.Fatalf("Serialize() error: %v", err)
			}
			got, err := Parse(&buf)
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if !reflect.DeepEqual(got.Info(), m.Info()) {
				t.Errorf("Info() = %+q, want %+q", got.Info(), m.Info())
			}
			if !reflect.DeepEqual(got.Records(), m.Records()) {
				t.Errorf("records differ:\n got  %+q\n want %+q", got.Records(), m.Records())
			}
		})
	}
}

func TestXMLPlainStringsStayReadable(t *testing.T) {
	m := New(Info{})
	m.Add(Entity{Path: "/public/Sales & Marketing/année.prpt", ArchivePath: "public/x"})
	var buf bytes.Buffer
	if err := m.Serialize(&buf, XML{}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "Encoding=") {
		t.Errorf("plain value was encoded: %s", buf.String())
	}
}

func TestXMLEmptyManifest(t *testing.T) {
	m := New(Info{})
	var buf bytes.Buffer
	if err := m.Serialize(&buf, XML{}); err != nil {
		t.Fatal(err)
	}
	got, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if got.Len() != 0 {
		t.Errorf("Len() = %d, want 0", got.Len())
	}
}

func TestParseRejectsForeignDocument(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"wrong root", `<other/>`},
		{"not xml", `{"json": true}`},
		{"bad time", `<ExportManifest><ExportManifestInformation rootFolder="/" exportDate="yesterday"/></ExportManifest>`},
		{"bad interval", `<ExportManifest><ExportManifestSchedule jobName="x"><simpleJobTrigger repeatInterval="soon"/></ExportManifestSchedule></ExportManifest>`},
		{"bad encoded attr", `<ExportManifest><ExportManifestEntity path="!!" pathEncoding="base64"/></ExportManifest>`},
		{"bad encoded text", `<ExportManifest><ExportManifestRole rolename="r"><permission encoding="base64">!!</permission></ExportManifestRole></ExportManifest>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.doc)); err == nil {
				t.Error("Parse() expected error")
			}
		})
	}
}
