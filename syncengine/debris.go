package syncengine

import (
	"sync"
	"time"

	"cryptdrive.io/clock"
	"cryptdrive.io/core"
	"cryptdrive.io/model"
)

// FolderCreator creates a remote folder, the seam to the C3 dispatcher a
// debris move needs when its dated bucket doesn't exist yet (mirrors
// transfer.PutNodesSender/directread.URLSource).
type FolderCreator interface {
	CreateFolder(parent core.NodeHandle, name string, complete func(node core.NodeHandle, err error))
}

const (
	debrisRootName = "SyncDebris"
	// debrisRetryDS throttles repeated folder-creation attempts for the
	// same dated bucket to once a minute while one is already pending.
	debrisRetryDS = clock.DS(600)
)

// DebrisRouter resolves and lazily creates the dated SyncDebris folder
// under the account rubbish bin (§4.7.3's "SyncDebris" strategy).
type DebrisRouter struct {
	mu       sync.Mutex
	tree     *model.Tree
	creator  FolderCreator
	clockSrc *clock.Clock

	dateFolders map[string]core.NodeHandle
	pendingAt   map[string]clock.DS
}

func NewDebrisRouter(tree *model.Tree, creator FolderCreator, clockSrc *clock.Clock) *DebrisRouter {
	return &DebrisRouter{
		tree:        tree,
		creator:     creator,
		clockSrc:    clockSrc,
		dateFolders: make(map[string]core.NodeHandle),
		pendingAt:   make(map[string]clock.DS),
	}
}

// Resolve returns the node handle for today's SyncDebris/YYYY-MM-DD
// folder, creating any missing parent lazily. complete is invoked once
// the handle is available, possibly synchronously if the folder was
// already found in the tree. While a creation for today's date is still
// pending (within debrisRetryDS of the last attempt), complete is called
// at once with UndefinedNode and a nil error.
func (d *DebrisRouter) Resolve(rubbish core.NodeHandle, now time.Time, complete func(node core.NodeHandle, err error)) {
	date := now.UTC().Format("2006-01-02")

	d.mu.Lock()
	if h, ok := d.dateFolders[date]; ok {
		d.mu.Unlock()
		complete(h, nil)
		return
	}
	if until, ok := d.pendingAt[date]; ok && d.clockSrc.Now() < until {
		d.mu.Unlock()
		complete(core.UndefinedNode, nil)
		return
	}
	d.pendingAt[date] = d.clockSrc.Now() + debrisRetryDS
	d.mu.Unlock()

	if h := d.findChild(rubbish, debrisRootName); h != core.UndefinedNode {
		d.resolveDated(h, date, complete)
		return
	}
	d.creator.CreateFolder(rubbish, debrisRootName, func(binHandle core.NodeHandle, err error) {
		if err != nil {
			complete(core.UndefinedNode, err)
			return
		}
		d.resolveDated(binHandle, date, complete)
	})
}

func (d *DebrisRouter) resolveDated(bin core.NodeHandle, date string, complete func(node core.NodeHandle, err error)) {
	if h := d.findChild(bin, date); h != core.UndefinedNode {
		d.cache(date, h)
		complete(h, nil)
		return
	}
	d.creator.CreateFolder(bin, date, func(h core.NodeHandle, err error) {
		if err != nil {
			complete(core.UndefinedNode, err)
			return
		}
		d.cache(date, h)
		complete(h, nil)
	})
}

func (d *DebrisRouter) cache(date string, h core.NodeHandle) {
	d.mu.Lock()
	d.dateFolders[date] = h
	delete(d.pendingAt, date)
	d.mu.Unlock()
}

func (d *DebrisRouter) findChild(parent core.NodeHandle, name string) core.NodeHandle {
	for _, h := range d.tree.Children(parent) {
		n := d.tree.Node(h)
		if n != nil && n.Type == core.FOLDER && attrName(n) == name {
			return h
		}
	}
	return core.UndefinedNode
}

// attrName is a placeholder accessor for a node's display name: it
// returns the raw AttrBlob as a string, with no attribute decoding
// applied. Debris folder matching by name is best-effort: a miss just
// causes a redundant (idempotent) CreateFolder call.
func attrName(n *model.Node) string {
	return string(n.AttrBlob)
}
