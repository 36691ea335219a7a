package transfer

import (
	"testing"
	"time"

	"cryptdrive.io/core"
	"cryptdrive.io/model"
)

func newTestEngineWithFS(fs *fakeFS) *Engine {
	e := newTestEngine()
	e.fs = fs
	return e
}

// TestResumeMatchingFingerprint covers §8 property 4's main case: a
// matching temp-file fingerprint resumes at the contiguous block end,
// capped at the recorded progress.
func TestResumeMatchingFingerprint(t *testing.T) {
	fs := newFakeFS()
	mtime := time.Unix(1000, 0)
	data := make([]byte, 64*1024)
	fs.put("/dl/movie.mp4.mega-tmp", mtime, data)

	fp, err := fingerprintOf(fs, "/dl/movie.mp4.mega-tmp")
	if err != nil {
		t.Fatalf("fingerprintOf: %v", err)
	}

	chunks := NewChunkMACTable(16 * 1024)
	chunks.MarkComplete(0)
	chunks.MarkComplete(1)

	e := newTestEngineWithFS(fs)
	tr := &Transfer{
		Direction:         Get,
		Node:              core.NodeHandle(1),
		LocalPath:         "/dl/movie.mp4",
		TempPath:          "/dl/movie.mp4.mega-tmp",
		Size:              1 << 20,
		ProgressCompleted: 40 * 1024,
		CachedFingerprint: fp,
		Chunks:            chunks,
	}
	ks := &fakeKeySource{keys: map[core.NodeHandle][]byte{1: make([]byte, 32)}}

	if err := e.SetupTransfer(tr, ks); err != nil {
		t.Fatalf("SetupTransfer: %v", err)
	}
	want := int64(32 * 1024) // contiguous end of blocks 0,1 at 16 KiB each
	if tr.ProgressCompleted != want {
		t.Fatalf("ProgressCompleted = %d, want %d", tr.ProgressCompleted, want)
	}
}

// TestResumeMismatchedFingerprintRestartsFromZero covers §8 property 4's
// second case: a fingerprint mismatch (someone else touched the temp
// file) forces pos = 0.
func TestResumeMismatchedFingerprintRestartsFromZero(t *testing.T) {
	fs := newFakeFS()
	fs.put("/dl/movie.mp4.mega-tmp", time.Unix(2000, 0), make([]byte, 64*1024))

	chunks := NewChunkMACTable(16 * 1024)
	chunks.MarkComplete(0)

	e := newTestEngineWithFS(fs)
	tr := &Transfer{
		Direction:         Get,
		Node:              core.NodeHandle(1),
		LocalPath:         "/dl/movie.mp4",
		TempPath:          "/dl/movie.mp4.mega-tmp",
		Size:              1 << 20,
		ProgressCompleted: 16 * 1024,
		CachedFingerprint: core.Fingerprint{0xFF}, // deliberately wrong
		Chunks:            chunks,
	}
	ks := &fakeKeySource{keys: map[core.NodeHandle][]byte{1: make([]byte, 32)}}

	if err := e.SetupTransfer(tr, ks); err != nil {
		t.Fatalf("SetupTransfer: %v", err)
	}
	if tr.ProgressCompleted != 0 {
		t.Fatalf("ProgressCompleted = %d, want 0 after fingerprint mismatch", tr.ProgressCompleted)
	}
}

// TestGetSetupFailsWithoutSourceKey covers §4.5.2's EARGS case.
func TestGetSetupFailsWithoutSourceKey(t *testing.T) {
	fs := newFakeFS()
	e := newTestEngineWithFS(fs)
	tr := &Transfer{Direction: Get, Node: core.NodeHandle(99), LocalPath: "/dl/x"}
	ks := &fakeKeySource{keys: map[core.NodeHandle][]byte{}}

	if err := e.SetupTransfer(tr, ks); err == nil {
		t.Fatal("expected an error when no source key is available")
	}
}

// TestPutSetupFailsOnStaleQueueEntry covers §4.5.2's EREAD case.
func TestPutSetupFailsOnStaleQueueEntry(t *testing.T) {
	fs := newFakeFS()
	fs.put("/up/x", time.Unix(500, 0), []byte("hello"))
	e := newTestEngineWithFS(fs)
	tr := &Transfer{
		Direction:          Put,
		LocalPath:          "/up/x",
		QueueTimeSize:      1,
		QueueTimeMtimeUnix: 1,
	}
	if err := e.SetupTransfer(tr, nil); err == nil {
		t.Fatal("expected EREAD when queue-time stat no longer matches")
	}
}

// TestPutSetupSucceedsAndDrawsFreshKey covers §4.5.2's PUT key-generation
// path.
func TestPutSetupSucceedsAndDrawsFreshKey(t *testing.T) {
	fs := newFakeFS()
	mtime := time.Unix(500, 0)
	fs.put("/up/x", mtime, []byte("hello"))
	e := newTestEngineWithFS(fs)
	tr := &Transfer{
		Direction:          Put,
		LocalPath:          "/up/x",
		QueueTimeSize:      5,
		QueueTimeMtimeUnix: mtime.Unix(),
	}
	if err := e.SetupTransfer(tr, nil); err != nil {
		t.Fatalf("SetupTransfer: %v", err)
	}
	if len(tr.Key) != 16 || len(tr.IV) != 8 {
		t.Fatalf("Key/IV lengths = %d/%d, want 16/8", len(tr.Key), len(tr.IV))
	}
}

func fingerprintOf(fs *fakeFS, path string) (core.Fingerprint, error) {
	e, ok := fs.stat[path]
	if !ok {
		return core.Fingerprint{}, nil
	}
	f, err := fs.Open(path, false)
	if err != nil {
		return core.Fingerprint{}, err
	}
	defer f.Close()
	return model.Fingerprint(e.size, e.mtime.Unix(), f)
}
