// Package archive writes an export as a single zip stream of named entries.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// ManifestName is the entry reserved for the export manifest.
const ManifestName = "exportManifest.xml"

var (
	// ErrArchiveIO marks a failure writing the output stream. The archive
	// cannot be trusted after it.
	ErrArchiveIO = errors.New("archive write failed")
	// ErrSource marks a failure reading the content of a single entry.
	ErrSource = errors.New("entry source read failed")
	// ErrDuplicateEntry is returned when an entry name was already written.
	ErrDuplicateEntry = errors.New("duplicate archive entry")
	// ErrReservedName is returned for writes to ManifestName outside WriteManifest.
	ErrReservedName = errors.New("reserved archive entry name")
	// ErrClosed is returned for writes after Close.
	ErrClosed = errors.New("archive closed")
)

// Compression names accepted by ParseCompression.
const (
	CompressionDeflate = "deflate"
	CompressionStore   = "store"
	CompressionZstd    = "zstd"
)

// ParseCompression maps a compression name to a zip method.
func ParseCompression(name string) (uint16, error) {
	switch strings.ToLower(name) {
	case "", CompressionDeflate:
		return zip.Deflate, nil
	case CompressionStore, "none":
		return zip.Store, nil
	case CompressionZstd:
		return zstd.ZipMethodWinZip, nil
	}
	return 0, fmt.Errorf("unsupported compression %q (want deflate, store or zstd)", name)
}

// spoolMemLimit is the largest source kept in memory before WriteFile
// spills it to a temporary file.
const spoolMemLimit = 1 << 20

// Options configures a Writer.
type Options struct {
	Compression string
	Modified    time.Time
	// SpoolDir holds sources larger than spoolMemLimit while they are read.
	// Empty means os.TempDir.
	SpoolDir string
}

// Entry describes one written archive entry.
type Entry struct {
	Name       string
	Size       int64
	Dir        bool
	Incomplete bool // the manifest encoder failed part way through
}

// Writer appends entries to one zip stream. It is not safe for concurrent
// use; only one entry is open at a time.
type Writer struct {
	zw       *zip.Writer
	method   uint16
	modified time.Time
	spoolDir string
	names    map[string]struct{}
	entries  []Entry
	err      error
	closed   bool
	logger   *slog.Logger
}

// NewWriter opens a zip stream over w.
func NewWriter(w io.Writer, opts Options, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	method, err := ParseCompression(opts.Compression)
	if err != nil {
		return nil, err
	}

	zw := zip.NewWriter(w)
	if method == zstd.ZipMethodWinZip {
		zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())
	}

	modified := opts.Modified
	if modified.IsZero() {
		modified = time.Now()
	}

	return &Writer{
		zw:       zw,
		method:   method,
		modified: modified,
		spoolDir: opts.SpoolDir,
		names:    make(map[string]struct{}),
		logger:   logger,
	}, nil
}

func (w *Writer) check(name string) error {
	if w.closed {
		return ErrClosed
	}
	if w.err != nil {
		return w.err
	}
	if name == "" || strings.HasPrefix(name, "/") {
		return fmt.Errorf("invalid entry name %q", name)
	}
	if _, ok := w.names[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
	}
	return nil
}

// fail records err as the writer's terminal error.
func (w *Writer) fail(name string, err error) error {
	w.err = fmt.Errorf("%w: %s: %v", ErrArchiveIO, name, err)
	return w.err
}

func (w *Writer) open(name string, method uint16) (io.Writer, error) {
	hdr := &zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: w.modified,
	}
	ew, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return nil, w.fail(name, err)
	}
	w.names[name] = struct{}{}
	return ew, nil
}

// WriteDir writes a zero-length folder entry. A trailing slash is added if
// name lacks one.
func (w *Writer) WriteDir(name string) error {
	if !strings.HasSuffix(name, "/") {
		name += "/"
	}
	if name == ManifestName {
		return ErrReservedName
	}
	if err := w.check(name); err != nil {
		return err
	}
	if _, err := w.open(name, zip.Store); err != nil {
		return err
	}
	w.entries = append(w.entries, Entry{Name: name, Dir: true})
	return nil
}

// WriteFile copies r into a new entry. r is read to the end before the entry
// is opened, so a read failure writes nothing: it returns an error wrapping
// ErrSource and leaves the writer usable. A write failure returns an error
// wrapping ErrArchiveIO.
func (w *Writer) WriteFile(name string, r io.Reader) (int64, error) {
	if name == ManifestName {
		return 0, ErrReservedName
	}
	return w.writeFile(name, r)
}

func (w *Writer) writeFile(name string, r io.Reader) (int64, error) {
	if err := w.check(name); err != nil {
		return 0, err
	}
	data, release, err := w.spool(r)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrSource, name, err)
	}
	defer release()

	ew, err := w.open(name, w.method)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(ew, data)
	if err != nil {
		return n, w.fail(name, err)
	}
	w.entries = append(w.entries, Entry{Name: name, Size: n})
	return n, nil
}

// spool reads r to the end. Sources up to spoolMemLimit stay in memory,
// larger ones continue into a temporary file that release removes.
func (w *Writer) spool(r io.Reader) (io.Reader, func(), error) {
	var mem bytes.Buffer
	_, err := io.CopyN(&mem, r, spoolMemLimit+1)
	if err == io.EOF {
		return &mem, func() {}, nil
	}
	if err != nil {
		return nil, nil, err
	}

	f, err := os.CreateTemp(w.spoolDir, "sysexport-spool-*")
	if err != nil {
		return nil, nil, fmt.Errorf("spooling: %w", err)
	}
	release := func() {
		f.Close()
		os.Remove(f.Name())
	}
	src := &sourceReader{r: r}
	_, err = f.Write(mem.Bytes())
	if err == nil {
		_, err = io.Copy(f, src)
	}
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		release()
		if src.err != nil {
			return nil, nil, src.err
		}
		return nil, nil, fmt.Errorf("spooling: %w", err)
	}
	w.logger.Debug("spooled large entry to disk", "file", f.Name())
	return f, release, nil
}

// WriteManifest opens the reserved manifest entry and hands it to fn. Errors
// coming from the entry stream wrap ErrArchiveIO; any other error from fn is
// returned unchanged.
func (w *Writer) WriteManifest(fn func(io.Writer) error) error {
	if err := w.check(ManifestName); err != nil {
		return err
	}
	ew, err := w.open(ManifestName, w.method)
	if err != nil {
		return err
	}

	dst := &countingWriter{w: ew}
	fnErr := fn(dst)
	if dst.err != nil {
		return w.fail(ManifestName, dst.err)
	}
	w.entries = append(w.entries, Entry{Name: ManifestName, Size: dst.n, Incomplete: fnErr != nil})
	return fnErr
}

// Has reports whether an entry named name was written.
func (w *Writer) Has(name string) bool {
	_, ok := w.names[name]
	return ok
}

// Entries returns the written entries in write order.
func (w *Writer) Entries() []Entry {
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Close finishes the zip central directory. It does not close the
// underlying stream.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.zw.Close(); err != nil {
		return fmt.Errorf("%w: closing archive: %v", ErrArchiveIO, err)
	}
	w.logger.Debug("archive closed", "entries", len(w.entries))
	return nil
}

type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if err != nil {
		c.err = err
	}
	return n, err
}
