package archive

import (
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Reader gives read access to a finished export archive.
type Reader struct {
	rc    *zip.ReadCloser
	files map[string]*zip.File
	names []string
}

// Open opens the archive at path.
func Open(path string) (*Reader, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", path, err)
	}
	rc.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	r := &Reader{
		rc:    rc,
		files: make(map[string]*zip.File, len(rc.File)),
	}
	for _, f := range rc.File {
		r.files[f.Name] = f
		r.names = append(r.names, f.Name)
	}
	return r, nil
}

// Names returns the entry names in archive order.
func (r *Reader) Names() []string {
	return append([]string(nil), r.names...)
}

// SortedNames returns the entry names sorted lexically.
func (r *Reader) SortedNames() []string {
	names := r.Names()
	sort.Strings(names)
	return names
}

// Has reports whether the archive contains an entry named name.
func (r *Reader) Has(name string) bool {
	_, ok := r.files[name]
	return ok
}

// OpenEntry opens the content of one entry.
func (r *Reader) OpenEntry(name string) (io.ReadCloser, error) {
	f, ok := r.files[name]
	if !ok {
		return nil, fmt.Errorf("entry %q not in archive", name)
	}
	return f.Open()
}

// ReadEntry returns the full content of one entry.
func (r *Reader) ReadEntry(name string) ([]byte, error) {
	rc, err := r.OpenEntry(name)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rc.Close()
	}()
	return io.ReadAll(rc)
}

// Close releases the archive file.
func (r *Reader) Close() error {
	return r.rc.Close()
}
