package ftpconn

import (
	"bytes"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	ftpfserrors "github.com/objectfs/ftpfs/pkg/errors"
)

// FakeConn is an in-memory Conn implementation standing in for a live FTP
// server, so the command executor, read window, and write pipeline can be
// exercised deterministically without cgo or a real daemon.
type FakeConn struct {
	mu       sync.Mutex
	files    map[string]*fakeFile
	dirs     map[string]bool
	siteCmds []string

	// RetrDelay, when set, is how long a Response.Read blocks before
	// returning bytes, to simulate a slow transfer for restart tests.
	RetrDelay time.Duration

	quit bool
}

type fakeFile struct {
	data []byte
	mode string
}

// NewFakeConn returns an empty FakeConn with the root directory present.
func NewFakeConn() *FakeConn {
	return &FakeConn{
		files: make(map[string]*fakeFile),
		dirs:  map[string]bool{"/": true},
	}
}

// PutFile seeds path with content, for test setup.
func (f *FakeConn) PutFile(p string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[clean(p)] = &fakeFile{data: append([]byte(nil), content...)}
	f.dirs[path.Dir(clean(p))] = true
}

// PutDir marks path as an existing directory, for test setup.
func (f *FakeConn) PutDir(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[clean(p)] = true
}

// FileContent returns the current bytes stored at path, for assertions.
func (f *FakeConn) FileContent(p string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ff, ok := f.files[clean(p)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), ff.data...), true
}

// FileMode returns the mode last applied by a SITE CHMOD verb recorded
// against path, for assertions.
func (f *FakeConn) FileMode(p string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ff, ok := f.files[clean(p)]
	if !ok {
		return "", false
	}
	return ff.mode, ff.mode != ""
}

// SiteCommands returns every verb passed to SendSiteCommand, in order.
func (f *FakeConn) SiteCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.siteCmds...)
}

func clean(p string) string {
	if p == "" {
		return "/"
	}
	c := path.Clean("/" + strings.TrimPrefix(p, "/"))
	return c
}

func (f *FakeConn) List(p string) ([]*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := clean(p)
	if !f.dirs[dir] {
		return nil, ftpfserrors.New(ftpfserrors.ErrCodeNoSuchFile, "no such directory: "+p)
	}

	var entries []*Entry
	seen := map[string]bool{}
	for fp, ff := range f.files {
		if path.Dir(fp) == dir {
			name := path.Base(fp)
			if seen[name] {
				continue
			}
			seen[name] = true
			entries = append(entries, &Entry{Name: name, Type: EntryTypeFile, Size: uint64(len(ff.data)), Time: time.Now()})
		}
	}
	for dp := range f.dirs {
		if dp != dir && path.Dir(dp) == dir {
			name := path.Base(dp)
			if seen[name] {
				continue
			}
			seen[name] = true
			entries = append(entries, &Entry{Name: name, Type: EntryTypeFolder, Time: time.Now()})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (f *FakeConn) GetEntry(p string) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := clean(p)
	if ff, ok := f.files[cp]; ok {
		return &Entry{Name: path.Base(cp), Type: EntryTypeFile, Size: uint64(len(ff.data)), Time: time.Now()}, nil
	}
	if f.dirs[cp] {
		return &Entry{Name: path.Base(cp), Type: EntryTypeFolder, Time: time.Now()}, nil
	}
	return nil, ftpfserrors.New(ftpfserrors.ErrCodeNoSuchFile, "no such file: "+p)
}

func (f *FakeConn) RetrFrom(p string, offset uint64) (*Response, error) {
	f.mu.Lock()
	ff, ok := f.files[clean(p)]
	delay := f.RetrDelay
	f.mu.Unlock()
	if !ok {
		return nil, ftpfserrors.New(ftpfserrors.ErrCodeNoSuchFile, "no such file: "+p)
	}
	if offset > uint64(len(ff.data)) {
		offset = uint64(len(ff.data))
	}
	return &Response{inner: nil, fake: &fakeResponse{r: bytes.NewReader(ff.data[offset:]), delay: delay}}, nil
}

func (f *FakeConn) StorFrom(p string, r io.Reader, offset uint64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return ftpfserrors.Wrap(ftpfserrors.ErrCodeIO, "read upload body", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := clean(p)
	ff, ok := f.files[cp]
	if !ok {
		ff = &fakeFile{}
		f.files[cp] = ff
	}
	if int(offset) > len(ff.data) {
		grown := make([]byte, offset)
		copy(grown, ff.data)
		ff.data = grown
	}
	ff.data = append(ff.data[:offset], data...)
	f.dirs[path.Dir(cp)] = true
	return nil
}

func (f *FakeConn) Append(p string, r io.Reader) error {
	f.mu.Lock()
	ff, ok := f.files[clean(p)]
	var offset uint64
	if ok {
		offset = uint64(len(ff.data))
	}
	f.mu.Unlock()
	return f.StorFrom(p, r, offset)
}

func (f *FakeConn) MakeDir(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[clean(p)] = true
	return nil
}

func (f *FakeConn) RemoveDir(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := clean(p)
	if !f.dirs[cp] {
		return ftpfserrors.New(ftpfserrors.ErrCodeNoSuchFile, "no such directory: "+p)
	}
	delete(f.dirs, cp)
	return nil
}

func (f *FakeConn) Delete(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := clean(p)
	if _, ok := f.files[cp]; !ok {
		return ftpfserrors.New(ftpfserrors.ErrCodeNoSuchFile, "no such file: "+p)
	}
	delete(f.files, cp)
	return nil
}

func (f *FakeConn) Rename(from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cf, ct := clean(from), clean(to)
	if ff, ok := f.files[cf]; ok {
		delete(f.files, cf)
		f.files[ct] = ff
		return nil
	}
	if f.dirs[cf] {
		delete(f.dirs, cf)
		f.dirs[ct] = true
		return nil
	}
	return ftpfserrors.New(ftpfserrors.ErrCodeNoSuchFile, "no such path: "+from)
}

func (f *FakeConn) SendSiteCommand(dir, verb string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dir != "" && !f.dirs[clean(dir)] {
		return ftpfserrors.New(ftpfserrors.ErrCodeNoSuchFile, "no such directory: "+dir)
	}
	f.siteCmds = append(f.siteCmds, verb)
	fields := strings.Fields(verb)
	if len(fields) >= 4 && strings.EqualFold(fields[0], "SITE") && strings.EqualFold(fields[1], "CHMOD") {
		name := fields[3]
		if dir != "" {
			name = clean(path.Join(dir, name))
		} else {
			name = clean(name)
		}
		if ff, ok := f.files[name]; ok {
			ff.mode = fields[2]
		}
	}
	return nil
}

func (f *FakeConn) Quit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quit = true
	return nil
}

// fakeResponse implements the io.ReadCloser surface Response wraps, backed
// by an in-memory reader instead of a live data connection.
type fakeResponse struct {
	r     *bytes.Reader
	delay time.Duration
}

func (r *fakeResponse) Read(p []byte) (int, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return r.r.Read(p)
}

func (r *fakeResponse) Close() error { return nil }
