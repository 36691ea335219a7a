package syncengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptdrive.io/clock"
	"cryptdrive.io/core"
	"cryptdrive.io/model"
)

type fakeGetter struct {
	started []core.NodeHandle
}

func (g *fakeGetter) StartGet(node core.NodeHandle, stagePath string) {
	g.started = append(g.started, node)
}

func newTestSync(remoteRoot core.NodeHandle) (*Sync, *model.Tree, *fakeFS) {
	tree := model.NewTree()
	fs := newFakeFS()
	s := New(Config{LocalRoot: "/local", RemoteRoot: remoteRoot}, tree, fs, clock.New())
	return s, tree, fs
}

func TestSyncdownDownloadsNewRemoteFile(t *testing.T) {
	s, tree, fs := newTestSync(1)
	tree.PutNode(&model.Node{Handle: 1, Type: core.FOLDER})
	tree.PutNode(&model.Node{Handle: 2, Parent: 1, Type: core.FILE, Size: 10, AttrBlob: []byte("doc.txt")})
	fs.putDir("/local")

	getter := &fakeGetter{}
	s.Syncdown(s.root, 1, getter, func(string, core.NameAnomalyKind) {})

	require.Len(t, getter.started, 1)
	assert.Equal(t, core.NodeHandle(2), getter.started[0])
	assert.Contains(t, s.root.Children, "doc.txt")
}

func TestSyncdownCreatesNewRemoteFolder(t *testing.T) {
	s, tree, fs := newTestSync(1)
	tree.PutNode(&model.Node{Handle: 1, Type: core.FOLDER})
	tree.PutNode(&model.Node{Handle: 2, Parent: 1, Type: core.FOLDER, AttrBlob: []byte("Photos")})
	fs.putDir("/local")

	getter := &fakeGetter{}
	s.Syncdown(s.root, 1, getter, func(string, core.NameAnomalyKind) {})

	child, ok := s.root.Children["Photos"]
	require.True(t, ok)
	assert.True(t, child.IsDir)
	assert.Equal(t, core.NodeHandle(2), child.Node)
}

func TestSyncdownSkipsAlreadySyncedFile(t *testing.T) {
	s, tree, fs := newTestSync(1)
	now := time.Now()
	tree.PutNode(&model.Node{Handle: 1, Type: core.FOLDER})
	tree.PutNode(&model.Node{Handle: 2, Parent: 1, Type: core.FILE, Size: 10, Ctime: now.Add(-time.Hour), AttrBlob: []byte("doc.txt")})
	fs.putDir("/local")

	local := &LocalNode{Path: "/local/doc.txt", Size: 10, Mtime: now, Node: 2, Parent: s.root, Children: map[string]*LocalNode{}}
	s.root.Children["doc.txt"] = local
	s.byNode[2] = local

	getter := &fakeGetter{}
	s.Syncdown(s.root, 1, getter, func(string, core.NameAnomalyKind) {})

	assert.Empty(t, getter.started)
}

func TestSyncdownRedownloadsWhenRemoteNewer(t *testing.T) {
	s, tree, fs := newTestSync(1)
	now := time.Now()
	tree.PutNode(&model.Node{Handle: 1, Type: core.FOLDER})
	tree.PutNode(&model.Node{Handle: 2, Parent: 1, Type: core.FILE, Size: 99, Ctime: now, AttrBlob: []byte("doc.txt")})
	fs.putDir("/local")

	local := &LocalNode{Path: "/local/doc.txt", Size: 10, Mtime: now.Add(-time.Hour), Node: 2, Parent: s.root, Children: map[string]*LocalNode{}}
	s.root.Children["doc.txt"] = local
	s.byNode[2] = local

	getter := &fakeGetter{}
	s.Syncdown(s.root, 1, getter, func(string, core.NameAnomalyKind) {})

	require.Len(t, getter.started, 1)
	assert.Equal(t, core.NodeHandle(2), getter.started[0])
}

func TestSyncdownMovesLocalNodeOnRemoteRename(t *testing.T) {
	s, tree, fs := newTestSync(1)
	tree.PutNode(&model.Node{Handle: 1, Type: core.FOLDER})
	tree.PutNode(&model.Node{Handle: 2, Parent: 1, Type: core.FILE, Size: 10, AttrBlob: []byte("renamed.txt")})
	fs.putDir("/local")

	local := &LocalNode{Path: "/local/old.txt", Size: 10, Node: 2, Parent: s.root, Children: map[string]*LocalNode{}}
	s.root.Children["old.txt"] = local
	s.byNode[2] = local

	getter := &fakeGetter{}
	s.Syncdown(s.root, 1, getter, func(string, core.NameAnomalyKind) {})

	assert.NotContains(t, s.root.Children, "old.txt")
	renamed, ok := s.root.Children["renamed.txt"]
	require.True(t, ok)
	assert.Same(t, local, renamed)
	assert.Empty(t, getter.started)
}

func TestSyncdownDebrisOnTypeMismatchInMirrorMode(t *testing.T) {
	s, tree, fs := newTestSync(1)
	s.Config.Mode = BackupMirror
	tree.PutNode(&model.Node{Handle: 1, Type: core.FOLDER})
	tree.PutNode(&model.Node{Handle: 2, Parent: 1, Type: core.FOLDER, AttrBlob: []byte("thing")})
	fs.putDir("/local")

	local := &LocalNode{Path: "/local/thing", IsDir: false, Node: core.UndefinedNode, Parent: s.root, Children: map[string]*LocalNode{}}
	s.root.Children["thing"] = local

	getter := &fakeGetter{}
	s.Syncdown(s.root, 1, getter, func(string, core.NameAnomalyKind) {})

	assert.NotContains(t, s.root.Children, "thing")
	assert.Contains(t, s.todebris, core.NodeHandle(2))
}
