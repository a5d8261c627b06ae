package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BadgerOps/sysexport/internal/archive"
	"github.com/BadgerOps/sysexport/internal/export"
)

// runCLI executes a fresh root command and returns everything it printed.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	closeStore()
	return buf.String(), err
}

const testFixture = `
datasources:
  - name: SampleData
    database_type: POSTGRESQL
    host: db.internal
    port: "5432"
  - name: Legacy
    kind: jndi
domains:
  sales:
    model.xmi: "<xmi/>"
jobs:
  - id: j1
    name: nightly
    user: admin
    input_file: /public/sales report.prpt
    output_file: /home/admin/out.*
    trigger:
      type: cron
      cron: "0 0 2 * * ?"
  - id: j2
    name: SystemVersionCheck
    input_file: /public/version.xaction
    trigger:
      type: simple
      repeat_interval: 24h
      repeat_count: -1
users:
  - username: admin
    roles: [Administrator, Authenticated]
roles:
  - name: Administrator
    permissions: [repository.read, repository.create]
  - name: Authenticated
`

// setupWorkspace writes a content tree, fixture and config under a temp dir.
func setupWorkspace(t *testing.T) (cfgFile, fixture, outDir string) {
	t.Helper()
	dir := t.TempDir()

	root := filepath.Join(dir, "repository")
	files := map[string]string{
		"public/sales report.prpt": "report",
		"public/a:b.txt":           "colon",
		"home/admin/notes.txt":     "notes",
	}
	for rel, content := range files {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	outDir = filepath.Join(dir, "exports")
	cfgFile = filepath.Join(dir, "sysexport.yaml")
	cfg := "server:\n  data_dir: " + filepath.Join(dir, "data") + "\n" +
		"content:\n  root: " + root + "\n" +
		"export:\n  output_dir: " + outDir + "\n  request_path: /public/sales report.prpt\n"
	if err := os.WriteFile(cfgFile, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	fixture = filepath.Join(dir, "fixture.yaml")
	if err := os.WriteFile(fixture, []byte(testFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgFile, fixture, outDir
}

func TestSeedExportInspectHistory(t *testing.T) {
	cfgFile, fixture, outDir := setupWorkspace(t)

	out, err := runCLI(t, "--config", cfgFile, "seed", fixture)
	if err != nil {
		t.Fatalf("seed failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Jobs: 2") || !strings.Contains(out, "Roles: 2") {
		t.Errorf("unexpected seed output:\n%s", out)
	}

	out, err = runCLI(t, "--config", cfgFile, "export", "--strict")
	if err != nil {
		t.Fatalf("export failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Export complete:") {
		t.Errorf("unexpected export output:\n%s", out)
	}

	archives, err := filepath.Glob(filepath.Join(outDir, "sysexport-*.zip"))
	if err != nil || len(archives) != 1 {
		t.Fatalf("expected one archive in %s, got %v (%v)", outDir, archives, err)
	}

	sum, err := os.ReadFile(archives[0] + ".sha256")
	if err != nil {
		t.Fatalf("missing checksum sidecar: %v", err)
	}
	hash, _, err := hashFile(archives[0])
	if err != nil {
		t.Fatal(err)
	}
	if want := hash + "  " + filepath.Base(archives[0]) + "\n"; string(sum) != want {
		t.Errorf("sidecar = %q, want %q", sum, want)
	}

	r, err := archive.Open(archives[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		"public/", "public/a%3Ab.txt", "public/sales report.prpt", "home/admin/notes.txt",
		"_datasources/metadata/model.xmi", archive.ManifestName,
	} {
		if !r.Has(name) {
			t.Errorf("archive missing %s", name)
		}
	}
	r.Close()

	out, err = runCLI(t, "--config", cfgFile, "inspect", archives[0])
	if err != nil {
		t.Fatalf("inspect failed: %v\n%s", err, out)
	}
	for _, want := range []string{
		"Root folder: /public/",
		fmt.Sprintf("%-12s %6d", "datasource", 1),
		fmt.Sprintf("%-12s %6d", "schedule", 1),
		fmt.Sprintf("%-12s %6d", "role", 2),
	} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "MISSING") {
		t.Errorf("inspect reported missing entries:\n%s", out)
	}

	out, err = runCLI(t, "--config", cfgFile, "history", "--verbose")
	if err != nil {
		t.Fatalf("history failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "complete") || !strings.Contains(out, archives[0]) {
		t.Errorf("history output missing run:\n%s", out)
	}
	if !strings.Contains(out, "schedules") {
		t.Errorf("history --verbose missing phases:\n%s", out)
	}
}

func TestHistoryEmpty(t *testing.T) {
	cfgFile, _, _ := setupWorkspace(t)
	out, err := runCLI(t, "--config", cfgFile, "history")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No exports recorded.") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestExportMissingContentRoot(t *testing.T) {
	cfgFile, _, outDir := setupWorkspace(t)
	data, _ := os.ReadFile(cfgFile)
	broken := strings.Replace(string(data), "repository", "nowhere", 1)
	if err := os.WriteFile(cfgFile, []byte(broken), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := runCLI(t, "--config", cfgFile, "export"); err == nil {
		t.Fatal("export expected to fail without a content root")
	}
	if entries, _ := os.ReadDir(outDir); len(entries) != 0 {
		t.Errorf("failed export left %d files in output dir", len(entries))
	}
}

func TestInspectRejectsArchiveWithoutManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bare.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := archive.NewWriter(f, archive.Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteFile("public/a.txt", strings.NewReader("a")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	out, err := runCLI(t, "inspect", "--list", path)
	if err == nil {
		t.Fatal("inspect expected to fail")
	}
	if !strings.Contains(out, "public/a.txt") {
		t.Errorf("--list output missing entry:\n%s", out)
	}
}

func TestConfigShow(t *testing.T) {
	cfgFile, _, _ := setupWorkspace(t)
	out, err := runCLI(t, "--config", cfgFile, "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "request_path: /public/sales report.prpt") {
		t.Errorf("config show output:\n%s", out)
	}
}

func TestArchiveName(t *testing.T) {
	res := &export.Result{
		ExportID:  "3f1e0c7a-1111-2222-3333-444455556666",
		StartTime: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	if got := archiveName(res); got != "sysexport-20260314-093000-3f1e0c7a.zip" {
		t.Errorf("archiveName() = %q", got)
	}
}

func TestExportRunRecord(t *testing.T) {
	res := &export.Result{
		ExportID:  "id",
		Path:      "/x.zip",
		StartTime: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Duration:  time.Second,
		Phases: []export.PhaseResult{
			{Phase: export.PhaseContent, Status: export.StatusSuccess, Records: 4},
			{Phase: export.PhaseSchedules, Status: export.StatusPartial, Records: 1, Failures: 1},
		},
	}
	run := exportRunRecord(res, "zstd")
	if run.Status != "partial" {
		t.Errorf("Status = %q, want partial", run.Status)
	}
	if len(run.Phases) != 2 || run.Phases[1].Failures != 1 {
		t.Errorf("Phases = %+v", run.Phases)
	}
	if !run.EndTime.Equal(res.StartTime.Add(time.Second)) {
		t.Errorf("EndTime = %v", run.EndTime)
	}
}
