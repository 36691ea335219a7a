package coretest

import (
	"bytes"
	"path"
	"sort"
	"sync"
	"time"

	"cryptdrive.io/core"
	"cryptdrive.io/errors"
)

type fakeFile struct {
	fs   *FakeFileSystem
	path string
	buf  *bytes.Buffer
}

func (f *fakeFile) ReadAt(p []byte, off int64) (int, error) {
	f.fs.mu.Lock()
	data := f.fs.content[f.path]
	f.fs.mu.Unlock()
	if off >= int64(len(data)) {
		return 0, errors.E("coretest.File.ReadAt", errors.IO)
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, errors.E("coretest.File.ReadAt", errors.IO)
	}
	return n, nil
}

func (f *fakeFile) WriteAt(p []byte, off int64) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	data := f.fs.content[f.path]
	end := off + int64(len(p))
	if int64(len(data)) < end {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[off:], p)
	f.fs.content[f.path] = data
	f.fs.stat[f.path] = statEntry{size: int64(len(data)), mtime: time.Now()}
	return len(p), nil
}

func (f *fakeFile) Truncate(size int64) error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	data := f.fs.content[f.path]
	if int64(len(data)) > size {
		data = data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, data)
		data = grown
	}
	f.fs.content[f.path] = data
	return nil
}

func (f *fakeFile) Close() error { return nil }

type statEntry struct {
	size  int64
	mtime time.Time
}

// FakeFileSystem is an in-memory core.FileSystemAccess: paths are plain
// map keys (no real directory semantics beyond prefix matching in
// ReadDir), suitable for driving syncengine/transfer without touching
// disk.
type FakeFileSystem struct {
	mu      sync.Mutex
	content map[string][]byte
	stat    map[string]statEntry
	dirs    map[string]bool
	fp      string
	notify  chan core.FSEvent
}

// NewFakeFileSystem returns an empty filesystem with a single volume
// fingerprint "vol-1".
func NewFakeFileSystem() *FakeFileSystem {
	return &FakeFileSystem{
		content: map[string][]byte{},
		stat:    map[string]statEntry{},
		dirs:    map[string]bool{"/": true},
		fp:      "vol-1",
		notify:  make(chan core.FSEvent, 64),
	}
}

// PutFile seeds a file's content directly, bypassing Open/WriteAt.
func (f *FakeFileSystem) PutFile(p string, data []byte, mtime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[p] = append([]byte(nil), data...)
	f.stat[p] = statEntry{size: int64(len(data)), mtime: mtime}
}

// PutDir seeds an empty directory.
func (f *FakeFileSystem) PutDir(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[p] = true
}

func (f *FakeFileSystem) Stat(name string) (int64, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.stat[name]; ok {
		return e.size, e.mtime, nil
	}
	return 0, time.Time{}, errors.E("coretest.FileSystem.Stat", errors.NotExist)
}

func (f *FakeFileSystem) Open(name string, write bool) (core.File, error) {
	f.mu.Lock()
	if _, ok := f.content[name]; !ok && write {
		f.content[name] = nil
		f.stat[name] = statEntry{}
	}
	f.mu.Unlock()
	return &fakeFile{fs: f, path: name, buf: bytes.NewBuffer(nil)}, nil
}

func (f *FakeFileSystem) Mkdir(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[name] = true
	return nil
}

func (f *FakeFileSystem) Rename(oldname, newname string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data, ok := f.content[oldname]; ok {
		f.content[newname] = data
		f.stat[newname] = f.stat[oldname]
		delete(f.content, oldname)
		delete(f.stat, oldname)
	}
	if f.dirs[oldname] {
		f.dirs[newname] = true
		delete(f.dirs, oldname)
	}
	return nil
}

func (f *FakeFileSystem) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.content, name)
	delete(f.stat, name)
	delete(f.dirs, name)
	return nil
}

func (f *FakeFileSystem) ReadDir(name string) ([]core.DirEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []core.DirEntry
	for p, e := range f.stat {
		dir, base := path.Split(p)
		if path.Clean(dir) != path.Clean(name) || seen[base] {
			continue
		}
		seen[base] = true
		out = append(out, core.DirEntry{Name: base, Size: e.size, Mtime: e.mtime})
	}
	for p := range f.dirs {
		dir, base := path.Split(path.Clean(p))
		if path.Clean(dir) != path.Clean(name) || seen[base] || base == "" {
			continue
		}
		seen[base] = true
		out = append(out, core.DirEntry{Name: base, IsDir: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *FakeFileSystem) Notifications(root string) (<-chan core.FSEvent, error) {
	return f.notify, nil
}

// Notify pushes a synthetic filesystem event, waking engine.Wait.
func (f *FakeFileSystem) Notify(ev core.FSEvent) {
	select {
	case f.notify <- ev:
	default:
	}
}

func (f *FakeFileSystem) FingerprintVolume(path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fp, nil
}

// SetFingerprint changes the reported volume fingerprint, simulating a
// remount.
func (f *FakeFileSystem) SetFingerprint(fp string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fp = fp
}

func (f *FakeFileSystem) PathValid(name string) (bool, error) { return false, nil }

var _ core.FileSystemAccess = (*FakeFileSystem)(nil)
