package syncengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptdrive.io/core"
)

type fakePutter struct {
	started []string
}

func (p *fakePutter) StartPut(localPath string, parent core.NodeHandle, overwrite core.NodeHandle) {
	p.started = append(p.started, localPath)
}

type fakeFolderCreator struct {
	calls []string
	next  core.NodeHandle
}

func (f *fakeFolderCreator) CreateFolder(parent core.NodeHandle, name string, complete func(node core.NodeHandle, err error)) {
	f.calls = append(f.calls, name)
	f.next++
	complete(f.next, nil)
}

func TestSyncupSkipsUnstableFile(t *testing.T) {
	s, _, _ := newTestSync(1)
	child := &LocalNode{Path: "/local/a.txt", Size: 5, Mtime: time.Now(), Node: core.UndefinedNode, Parent: s.root, Children: map[string]*LocalNode{}}
	s.root.Children["a.txt"] = child

	putter := &fakePutter{}
	s.Syncup(s.root, 1, putter, &fakeFolderCreator{}, time.Now().Unix())

	assert.Empty(t, putter.started, "first observation should only record stability baseline")
}

func TestSyncupUploadsFileStableAcrossTwoTicks(t *testing.T) {
	s, _, _ := newTestSync(1)
	mtime := time.Now()
	child := &LocalNode{Path: "/local/a.txt", Size: 5, Mtime: mtime, Node: core.UndefinedNode, Parent: s.root, Children: map[string]*LocalNode{}}
	s.root.Children["a.txt"] = child

	putter := &fakePutter{}
	now := time.Now().Unix()
	s.Syncup(s.root, 1, putter, &fakeFolderCreator{}, now)
	s.Syncup(s.root, 1, putter, &fakeFolderCreator{}, now)

	require.Len(t, putter.started, 1)
	assert.Equal(t, "/local/a.txt", putter.started[0])
}

func TestSyncupRestartsStabilityWindowOnChange(t *testing.T) {
	s, _, _ := newTestSync(1)
	child := &LocalNode{Path: "/local/a.txt", Size: 5, Mtime: time.Now(), Node: core.UndefinedNode, Parent: s.root, Children: map[string]*LocalNode{}}
	s.root.Children["a.txt"] = child

	putter := &fakePutter{}
	now := time.Now().Unix()
	s.Syncup(s.root, 1, putter, &fakeFolderCreator{}, now)

	child.Size = 6
	child.Mtime = time.Now()
	s.Syncup(s.root, 1, putter, &fakeFolderCreator{}, now)

	assert.Empty(t, putter.started)
}

func TestSyncupSkipsFileAlreadyPaired(t *testing.T) {
	s, _, _ := newTestSync(1)
	mtime := time.Now()
	child := &LocalNode{Path: "/local/a.txt", Size: 5, Mtime: mtime, Node: 42, Parent: s.root, Children: map[string]*LocalNode{}}
	s.root.Children["a.txt"] = child

	putter := &fakePutter{}
	now := time.Now().Unix()
	s.Syncup(s.root, 1, putter, &fakeFolderCreator{}, now)
	s.Syncup(s.root, 1, putter, &fakeFolderCreator{}, now)

	assert.Empty(t, putter.started)
}

func TestSyncupFailsBackupMonitorOnLocalChange(t *testing.T) {
	s, _, _ := newTestSync(1)
	s.Config.Mode = BackupMonitor
	mtime := time.Now()
	child := &LocalNode{Path: "/local/a.txt", Size: 5, Mtime: mtime, Node: core.UndefinedNode, Parent: s.root, Children: map[string]*LocalNode{}}
	s.root.Children["a.txt"] = child

	putter := &fakePutter{}
	now := time.Now().Unix()
	s.Syncup(s.root, 1, putter, &fakeFolderCreator{}, now)
	s.Syncup(s.root, 1, putter, &fakeFolderCreator{}, now)

	assert.Empty(t, putter.started)
	assert.Equal(t, Failed, s.State)
}

func TestSyncupCreatesRemoteFolderAndPairs(t *testing.T) {
	s, _, _ := newTestSync(1)
	child := &LocalNode{Path: "/local/sub", IsDir: true, Node: core.UndefinedNode, Parent: s.root, Children: map[string]*LocalNode{}}
	s.root.Children["sub"] = child

	folders := &fakeFolderCreator{}
	s.Syncup(s.root, 1, &fakePutter{}, folders, time.Now().Unix())

	require.Len(t, folders.calls, 1)
	assert.Equal(t, "sub", folders.calls[0])
	assert.NotEqual(t, core.UndefinedNode, child.Node)
	assert.Equal(t, child, s.byNode[child.Node])
}

func TestSyncupThrottlesAfterManyRecentVersions(t *testing.T) {
	s, _, _ := newTestSync(1)
	mtime := time.Now()
	now := time.Now().Unix()
	child := &LocalNode{Path: "/local/a.txt", Size: 5, Mtime: mtime, Node: core.UndefinedNode, Parent: s.root, Children: map[string]*LocalNode{}}
	for i := 0; i < 15; i++ {
		child.versionTimes = append(child.versionTimes, s.clock.Now())
	}
	s.root.Children["a.txt"] = child

	putter := &fakePutter{}
	s.Syncup(s.root, 1, putter, &fakeFolderCreator{}, now)
	s.Syncup(s.root, 1, putter, &fakeFolderCreator{}, now)

	assert.Empty(t, putter.started, "15 recent versions should trip the version-throttle formula")
}
