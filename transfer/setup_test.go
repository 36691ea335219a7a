package transfer

import (
	"bytes"
	"time"

	"cryptdrive.io/core"
	"cryptdrive.io/errors"
)

// fakeFile is a minimal in-memory core.File.
type fakeFile struct {
	*bytes.Reader
}

func (fakeFile) WriteAt(p []byte, off int64) (int, error) { return len(p), nil }
func (fakeFile) Close() error                             { return nil }
func (fakeFile) Truncate(size int64) error                { return nil }

// fakeFS is a minimal core.FileSystemAccess backed by an in-memory table
// of (size, mtime, content) keyed by path.
type fakeFS struct {
	stat    map[string]statEntry
	content map[string][]byte
}

type statEntry struct {
	size  int64
	mtime time.Time
}

func newFakeFS() *fakeFS {
	return &fakeFS{stat: map[string]statEntry{}, content: map[string][]byte{}}
}

func (f *fakeFS) put(path string, mtime time.Time, data []byte) {
	f.stat[path] = statEntry{size: int64(len(data)), mtime: mtime}
	f.content[path] = data
}

func (f *fakeFS) Stat(name string) (int64, time.Time, error) {
	e, ok := f.stat[name]
	if !ok {
		return 0, time.Time{}, errors.E("fakeFS.Stat", errors.NotExist)
	}
	return e.size, e.mtime, nil
}

func (f *fakeFS) Open(name string, write bool) (core.File, error) {
	return fakeFile{bytes.NewReader(f.content[name])}, nil
}

func (f *fakeFS) Mkdir(name string) error                        { return nil }
func (f *fakeFS) Rename(oldname, newname string) error           { return nil }
func (f *fakeFS) Remove(name string) error                       { return nil }
func (f *fakeFS) ReadDir(name string) ([]core.DirEntry, error)    { return nil, nil }
func (f *fakeFS) Notifications(root string) (<-chan core.FSEvent, error) {
	return nil, nil
}
func (f *fakeFS) FingerprintVolume(path string) (string, error) { return "", nil }
func (f *fakeFS) PathValid(name string) (bool, error)           { return false, nil }

var _ core.FileSystemAccess = (*fakeFS)(nil)

type fakeKeySource struct {
	keys map[core.NodeHandle][]byte
}

func (f *fakeKeySource) NodeKey(h core.NodeHandle) ([]byte, bool) {
	k, ok := f.keys[h]
	return k, ok
}
