package syncengine

import (
	"path"
	"sync"
	"time"

	"cryptdrive.io/core"
	"cryptdrive.io/errors"
)

// memFile is a growable in-memory core.File backed by fakeFS's byte table.
type memFile struct {
	fs   *fakeFS
	name string
	buf  []byte
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.buf)) {
		return 0, errors.E("memFile.ReadAt", errors.IO, errors.Str("EOF"))
	}
	n := copy(p, f.buf[off:])
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(f.buf)) {
		grown := make([]byte, end)
		copy(grown, f.buf)
		f.buf = grown
	}
	copy(f.buf[off:], p)
	f.fs.mu.Lock()
	f.fs.content[f.name] = append([]byte(nil), f.buf...)
	f.fs.stat[f.name] = statEntry{size: int64(len(f.buf)), mtime: f.fs.now()}
	f.fs.mu.Unlock()
	return len(p), nil
}

func (f *memFile) Close() error { return nil }
func (f *memFile) Truncate(size int64) error {
	if size < int64(len(f.buf)) {
		f.buf = f.buf[:size]
	}
	return nil
}

type statEntry struct {
	size  int64
	mtime time.Time
}

// fakeFS is a minimal in-memory core.FileSystemAccess, grounded on
// transfer's setup_test.go fakeFS and extended with real write support and
// directory listing for syncengine's scan/admission tests.
type fakeFS struct {
	mu       sync.Mutex
	stat     map[string]statEntry
	content  map[string][]byte
	dirs     map[string][]core.DirEntry
	fp       string
	reserved map[string]bool
	nowFn    func() time.Time
}

func newFakeFS() *fakeFS {
	return &fakeFS{
		stat:    map[string]statEntry{},
		content: map[string][]byte{},
		dirs:    map[string][]core.DirEntry{},
		fp:      "vol-1",
		nowFn:   time.Now,
	}
}

func (f *fakeFS) now() time.Time { return f.nowFn() }

func (f *fakeFS) putFile(p string, mtime time.Time, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stat[p] = statEntry{size: int64(len(data)), mtime: mtime}
	f.content[p] = data
	dir := path.Dir(p)
	f.dirs[dir] = append(f.dirs[dir], core.DirEntry{Name: path.Base(p), Size: int64(len(data)), Mtime: mtime})
}

func (f *fakeFS) putDir(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.dirs[p]; !ok {
		f.dirs[p] = nil
	}
	dir := path.Dir(p)
	f.dirs[dir] = append(f.dirs[dir], core.DirEntry{Name: path.Base(p), IsDir: true})
}

func (f *fakeFS) Stat(name string) (int64, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.stat[name]
	if !ok {
		return 0, time.Time{}, errors.E("fakeFS.Stat", errors.NotExist)
	}
	return e.size, e.mtime, nil
}

func (f *fakeFS) Open(name string, write bool) (core.File, error) {
	f.mu.Lock()
	buf := append([]byte(nil), f.content[name]...)
	f.mu.Unlock()
	return &memFile{fs: f, name: name, buf: buf}, nil
}

func (f *fakeFS) Mkdir(name string) error {
	f.putDir(name)
	return nil
}

func (f *fakeFS) Rename(oldname, newname string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.stat[oldname]; ok {
		f.stat[newname] = e
		f.content[newname] = f.content[oldname]
		delete(f.stat, oldname)
		delete(f.content, oldname)
	}
	return nil
}

func (f *fakeFS) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stat, name)
	delete(f.content, name)
	return nil
}

func (f *fakeFS) ReadDir(name string) ([]core.DirEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.DirEntry(nil), f.dirs[name]...), nil
}

func (f *fakeFS) Notifications(root string) (<-chan core.FSEvent, error) {
	return nil, nil
}

func (f *fakeFS) FingerprintVolume(path string) (string, error) {
	return f.fp, nil
}

func (f *fakeFS) PathValid(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reserved[name], nil
}

var _ core.FileSystemAccess = (*fakeFS)(nil)

// fakePRNG is a deterministic core.PRNG for tests.
type fakePRNG struct{ seed int64 }

func (p *fakePRNG) Intn(n int) int    { return int(p.seed) % n }
func (p *fakePRNG) Int63() int64      { return p.seed }
func (p *fakePRNG) Float64() float64  { return 0.5 }
