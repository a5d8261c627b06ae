package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/sysexport/internal/content"
	"github.com/BadgerOps/sysexport/internal/export"
	"github.com/BadgerOps/sysexport/internal/manifest"
	"github.com/BadgerOps/sysexport/internal/store"
)

var (
	exportOutputDir   string
	exportRequestPath string
	exportCompression string
	exportTenant      string
	exportBy          string
	exportSingleRole  bool
	exportNoLock      bool
	exportStrict      bool
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a full-system export archive",
		Long: `Write a full-system export archive. The content tree, datasources, metadata
models, schedules, users and roles are captured in that order and described by
exportManifest.xml, the last entry of the archive.

Failures in a single phase are reported but do not stop the export; only a
missing content root or a failure writing the archive itself aborts it. Use
--strict to exit non-zero when any phase was incomplete.`,
		Example: `  sysexport export
  sysexport export --output-dir /mnt/exports --compression zstd
  sysexport export --tenant acme --single-role-compat`,
		RunE: exportRun,
	}

	cmd.Flags().StringVar(&exportOutputDir, "output-dir", "", "move the finished archive into this directory")
	cmd.Flags().StringVar(&exportRequestPath, "request-path", "", "requested path, used for the manifest root folder")
	cmd.Flags().StringVar(&exportCompression, "compression", "", "entry compression (deflate, store, zstd)")
	cmd.Flags().StringVar(&exportTenant, "tenant", "", "tenant whose users are exported")
	cmd.Flags().StringVar(&exportBy, "export-by", "", "name recorded as the exporting user (default: current user)")
	cmd.Flags().BoolVar(&exportSingleRole, "single-role-compat", false, "record only the last role of each user")
	cmd.Flags().BoolVar(&exportNoLock, "no-lock", false, "do not take the export lock")
	cmd.Flags().BoolVar(&exportStrict, "strict", false, "fail when any phase did not fully succeed")

	return cmd
}

// exportOptions merges config values with any flags that were set.
func exportOptions(cmd *cobra.Command) export.Options {
	ec := globalCfg.Export
	opts := export.Options{
		TempDir:          ec.TempDir,
		RequestPath:      ec.RequestPath,
		Tenant:           ec.Tenant,
		Compression:      ec.Compression,
		SingleRoleCompat: ec.SingleRoleCompat,
		LockFile:         globalCfg.LockPath(),
		LockTimeout:      ec.LockTimeout,
		ExportBy:         exportBy,
	}
	flags := cmd.Flags()
	if flags.Changed("request-path") {
		opts.RequestPath = exportRequestPath
	}
	if flags.Changed("compression") {
		opts.Compression = exportCompression
	}
	if flags.Changed("tenant") {
		opts.Tenant = exportTenant
	}
	if flags.Changed("single-role-compat") {
		opts.SingleRoleCompat = exportSingleRole
	}
	if exportNoLock {
		opts.LockFile = ""
	}
	if opts.ExportBy == "" {
		if u, err := user.Current(); err == nil {
			opts.ExportBy = u.Username
		}
	}
	return opts
}

func exportRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	opts := exportOptions(cmd)
	outputDir := globalCfg.Export.OutputDir
	if cmd.Flags().Changed("output-dir") {
		outputDir = exportOutputDir
	}
	if err := globalCfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	cs, err := content.NewFSStore(globalCfg.Content.Root, globalCfg.Content.Exclude, logger)
	if err != nil {
		return err
	}
	if opts.LockFile != "" {
		if err := os.MkdirAll(filepath.Dir(opts.LockFile), 0o755); err != nil {
			return fmt.Errorf("failed to create lock directory: %w", err)
		}
	}

	exp, err := export.New(export.Deps{
		Content:     cs,
		Datasources: globalStore,
		Metadata:    globalStore,
		Scheduler:   globalStore,
		Directory:   globalStore,
		Encoder:     manifest.XML{Indent: 2},
	}, opts, logger)
	if err != nil {
		return err
	}

	res, err := exp.Export(cmd.Context())
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	if outputDir != "" {
		dest := filepath.Join(outputDir, archiveName(res))
		if err := moveFile(res.Path, dest); err != nil {
			return fmt.Errorf("export written to %s but could not be moved: %w", res.Path, err)
		}
		res.Path = dest
	}

	run := exportRunRecord(res, opts.Compression)
	if hash, _, err := hashFile(res.Path); err != nil {
		logger.Warn("failed to hash export archive", "path", res.Path, "error", err)
	} else {
		run.SHA256 = hash
		if outputDir != "" {
			if err := writeChecksumSidecar(res.Path, hash); err != nil {
				logger.Warn("failed to write checksum", "error", err)
			}
		}
	}
	if err := globalStore.CreateExportRun(run); err != nil {
		logger.Warn("failed to record export run", "error", err)
	}

	out := cmd.OutOrStdout()
	printExportSummary(out, res, run.SHA256)

	if exportStrict && !res.Complete() {
		return fmt.Errorf("export %s is incomplete", res.ExportID)
	}
	return nil
}

// archiveName is the file name used when an export is moved out of the temp dir.
func archiveName(res *export.Result) string {
	id := res.ExportID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("sysexport-%s-%s.zip", res.StartTime.UTC().Format("20060102-150405"), id)
}

func exportRunRecord(res *export.Result, compression string) *store.ExportRun {
	run := &store.ExportRun{
		ExportID:    res.ExportID,
		Path:        res.Path,
		Compression: compression,
		Status:      "complete",
		Entries:     len(res.Entries),
		Size:        res.Size,
		StartTime:   res.StartTime,
		EndTime:     res.StartTime.Add(res.Duration),
	}
	if !res.Complete() {
		run.Status = "partial"
	}
	if res.ManifestErr != nil {
		run.ErrorMessage = res.ManifestErr.Error()
	}
	for _, p := range res.Phases {
		ps := store.PhaseSummary{
			Phase:    p.Phase,
			Status:   string(p.Status),
			Records:  p.Records,
			Excluded: p.Excluded,
			Failures: p.Failures,
		}
		if p.Err != nil {
			ps.Error = p.Err.Error()
		}
		run.Phases = append(run.Phases, ps)
	}
	return run
}

func printExportSummary(w io.Writer, res *export.Result, sha string) {
	fmt.Fprintf(w, "Export complete:\n")
	fmt.Fprintf(w, "  ID: %s\n", res.ExportID)
	fmt.Fprintf(w, "  Archive: %s\n", res.Path)
	fmt.Fprintf(w, "  Entries: %d\n", len(res.Entries))
	fmt.Fprintf(w, "  Size: %s\n", humanize.Bytes(uint64(res.Size)))
	if sha != "" {
		fmt.Fprintf(w, "  SHA256: %s\n", sha)
	}
	fmt.Fprintf(w, "  Duration: %s\n", res.Duration.Round(time.Millisecond))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-12s %-8s %8s %8s\n", "PHASE", "STATUS", "RECORDS", "FAILED")
	for _, p := range res.Phases {
		fmt.Fprintf(w, "  %-12s %-8s %8d %8d\n", p.Phase, p.Status, p.Records, p.Failures)
	}
	if res.ManifestErr != nil {
		fmt.Fprintf(w, "\n  WARNING: manifest not written: %v\n", res.ManifestErr)
	}
	if !res.Complete() {
		fmt.Fprintf(w, "\nExport finished with warnings; see the log for details.\n")
	}
}

// moveFile renames src to dst, copying across filesystems when needed.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
