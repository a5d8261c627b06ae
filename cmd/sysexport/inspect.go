package main

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/sysexport/internal/archive"
	"github.com/BadgerOps/sysexport/internal/manifest"
)

var inspectList bool

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect ARCHIVE",
		Short: "Describe an export archive and check its manifest",
		Long: `Read an export archive, parse its exportManifest.xml and report the export
header and record counts. Every entry referenced by the manifest is checked
against the archive; missing entries make the command fail.`,
		Example: `  sysexport inspect /mnt/exports/sysexport-20260314-093000-3f1e0c7a.zip
  sysexport inspect --list export.zip`,
		Args: cobra.ExactArgs(1),
		RunE: inspectRun,
	}

	cmd.Flags().BoolVar(&inspectList, "list", false, "list every archive entry")

	return cmd
}

func inspectRun(cmd *cobra.Command, args []string) error {
	r, err := archive.Open(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	out := cmd.OutOrStdout()
	if inspectList {
		for _, name := range r.SortedNames() {
			fmt.Fprintln(out, name)
		}
		fmt.Fprintln(out)
	}

	if !r.Has(archive.ManifestName) {
		return fmt.Errorf("%s has no %s entry", args[0], archive.ManifestName)
	}
	data, err := r.ReadEntry(archive.ManifestName)
	if err != nil {
		return err
	}
	m, err := manifest.Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", archive.ManifestName, err)
	}

	missing := printManifestReport(out, m, r)
	if missing > 0 {
		return fmt.Errorf("manifest references %d missing archive entries", missing)
	}
	return nil
}

// printManifestReport writes the manifest summary and returns the number of
// referenced entries not present in the archive.
func printManifestReport(w io.Writer, m *manifest.Manifest, r *archive.Reader) int {
	info := m.Info()
	fmt.Fprintf(w, "Export %s\n", info.ExportID)
	fmt.Fprintf(w, "  Exported by: %s\n", info.ExportBy)
	fmt.Fprintf(w, "  Exported at: %s\n", info.ExportDate.Format(time.RFC3339))
	fmt.Fprintf(w, "  Root folder: %s\n", info.RootFolder)
	fmt.Fprintf(w, "  Archive entries: %d\n", len(r.Names()))
	fmt.Fprintln(w)

	counts := m.Counts()
	for k := manifest.KindEntity; k <= manifest.KindRole; k++ {
		fmt.Fprintf(w, "  %-12s %6d\n", k, counts[k])
	}

	missing := 0
	for _, name := range m.ArchivePaths() {
		if !r.Has(name) {
			if missing == 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "  MISSING: %s\n", name)
			missing++
		}
	}
	return missing
}
