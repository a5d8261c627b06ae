package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/BadgerOps/sysexport/internal/manifest"
	"github.com/BadgerOps/sysexport/internal/platform"
)

// memContent is an in-memory content store built from file paths.
type memContent struct {
	files       map[string]string
	folders     map[string]bool
	missingRoot bool
	openErr     map[string]error
	listErr     map[string]error
	opened      []*trackingReader
}

func newMemContent(files map[string]string, emptyFolders ...string) *memContent {
	c := &memContent{
		files:   files,
		folders: map[string]bool{"/": true},
		openErr: map[string]error{},
		listErr: map[string]error{},
	}
	for p := range files {
		for dir := path.Dir(p); dir != "/"; dir = path.Dir(dir) {
			c.folders[dir] = true
		}
	}
	for _, f := range emptyFolders {
		c.folders[f] = true
	}
	return c
}

func (c *memContent) node(p string) platform.Node {
	n := platform.Node{Path: p, Name: path.Base(p), Folder: c.folders[p]}
	if p == "/" {
		n.Name = ""
	}
	if !n.Folder {
		n.Size = int64(len(c.files[p]))
	}
	return n
}

func (c *memContent) Root(ctx context.Context) (platform.Node, error) {
	if c.missingRoot {
		return platform.Node{}, fmt.Errorf("content root: %w", platform.ErrNotFound)
	}
	return c.node("/"), nil
}

func (c *memContent) Children(ctx context.Context, folder platform.Node) ([]platform.Node, error) {
	if err := c.listErr[folder.Path]; err != nil {
		return nil, err
	}
	var names []string
	for p := range c.folders {
		if p != "/" && path.Dir(p) == folder.Path {
			names = append(names, p)
		}
	}
	for p := range c.files {
		if path.Dir(p) == folder.Path {
			names = append(names, p)
		}
	}
	sort.Strings(names)

	out := make([]platform.Node, 0, len(names))
	for _, p := range names {
		out = append(out, c.node(p))
	}
	return out, nil
}

func (c *memContent) Open(ctx context.Context, file platform.Node) (io.ReadCloser, error) {
	if err := c.openErr[file.Path]; err != nil {
		return nil, err
	}
	data, ok := c.files[file.Path]
	if !ok {
		return nil, platform.ErrNotFound
	}
	rc := newTrackingReader(data, nil)
	c.opened = append(c.opened, rc)
	return rc, nil
}

// trackingReader records whether it was closed. A non-nil err is returned
// once the data is exhausted.
type trackingReader struct {
	r      *bytes.Reader
	err    error
	closed int
}

func newTrackingReader(data string, err error) *trackingReader {
	return &trackingReader{r: bytes.NewReader([]byte(data)), err: err}
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err == io.EOF && t.err != nil {
		return n, t.err
	}
	return n, err
}

func (t *trackingReader) Close() error {
	t.closed++
	return nil
}

type fakeRegistry struct {
	defs []platform.ConnectionDefinition
	err  error
}

func (f *fakeRegistry) ListDatasources(ctx context.Context) ([]platform.ConnectionDefinition, error) {
	return f.defs, f.err
}

// fakeMetadata hands out fresh tracking readers on every GetDomainFiles call.
type fakeMetadata struct {
	domains map[string]map[string]string
	readErr map[string]error // keyed by domain + "/" + file
	listErr error
	fileErr map[string]error
	partial bool // hand out streams along with fileErr
	handed  []*trackingReader
}

func (f *fakeMetadata) ListDomainIDs(ctx context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	ids := make([]string, 0, len(f.domains))
	for id := range f.domains {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeMetadata) GetDomainFiles(ctx context.Context, domainID string) (map[string]io.ReadCloser, error) {
	err := f.fileErr[domainID]
	if err != nil && !f.partial {
		return nil, err
	}
	out := make(map[string]io.ReadCloser)
	for name, data := range f.domains[domainID] {
		rc := newTrackingReader(data, f.readErr[domainID+"/"+name])
		f.handed = append(f.handed, rc)
		out[name] = rc
	}
	return out, err
}

func (f *fakeMetadata) allClosed() bool {
	for _, rc := range f.handed {
		if rc.closed == 0 {
			return false
		}
	}
	return true
}

type fakeScheduler struct {
	jobs []platform.Job
	err  error
}

func (f *fakeScheduler) ListJobs(ctx context.Context, filter platform.JobFilter) ([]platform.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []platform.Job
	for _, j := range f.jobs {
		if filter == nil || filter(j) {
			out = append(out, j)
		}
	}
	return out, nil
}

type fakeDirectory struct {
	users      []platform.User
	userRoles  map[string][]string
	roles      []platform.Role
	bindings   map[string][]string
	usersErr   error
	rolesErr   error
	bindingErr error
	tenants    []string
}

func (f *fakeDirectory) ListUsers(ctx context.Context, tenant string) ([]platform.User, error) {
	f.tenants = append(f.tenants, tenant)
	return f.users, f.usersErr
}

func (f *fakeDirectory) ListUserRoles(ctx context.Context, tenant, username string) ([]platform.Role, error) {
	names, ok := f.userRoles[username]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", username, platform.ErrNotFound)
	}
	out := make([]platform.Role, 0, len(names))
	for _, n := range names {
		out = append(out, platform.Role{Name: n})
	}
	return out, nil
}

func (f *fakeDirectory) ListRoles(ctx context.Context) ([]platform.Role, error) {
	return f.roles, f.rolesErr
}

func (f *fakeDirectory) GetRoleBindings(ctx context.Context) (map[string][]string, error) {
	return f.bindings, f.bindingErr
}

type failingEncoder struct{}

func (failingEncoder) WriteXML(m *manifest.Manifest, w io.Writer) error {
	return errors.New("template missing")
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("no space left on device")
}

func bigContent(n int) string {
	return strings.Repeat("0123456789abcdef", n/16+1)[:n]
}
