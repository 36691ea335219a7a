package syncengine

import (
	"strings"

	"cryptdrive.io/clock"
	"cryptdrive.io/core"
	"cryptdrive.io/errors"
	"cryptdrive.io/model"
)

// BackupRegistrar registers an external-backup sync with the server's
// backup-monitor service, the seam to the C3 dispatcher (§4.7.1 step 7,
// mirrors transfer.PutNodesSender/directread.URLSource).
type BackupRegistrar interface {
	RegisterBackup(cfg Config, complete func(backupID string, err error))
}

// Manager owns the set of active syncs and enforces the admission checks
// of §4.7.1 across them.
type Manager struct {
	tree  *model.Tree
	fs    core.FileSystemAccess
	prng  core.PRNG
	regs  BackupRegistrar
	clock *clock.Clock

	syncs []*Sync
}

// NewManager returns a Manager with no active syncs.
func NewManager(tree *model.Tree, fs core.FileSystemAccess, prng core.PRNG, regs BackupRegistrar, clockSrc *clock.Clock) *Manager {
	return &Manager{tree: tree, fs: fs, prng: prng, regs: regs, clock: clockSrc}
}

// Syncs returns the currently registered syncs, active or not.
func (m *Manager) Syncs() []*Sync {
	out := make([]*Sync, len(m.syncs))
	copy(out, m.syncs)
	return out
}

// AddSync runs §4.7.1's admission checks and, if they pass, registers and
// returns a new Sync in InitialScan state.
func (m *Manager) AddSync(cfg Config) (*Sync, error) {
	root := m.tree.Node(cfg.RemoteRoot)
	if root == nil {
		return nil, errors.E("syncengine.AddSync", errors.NotExist, errors.Str("REMOTE_NODE_MISSING"))
	}

	// Step 1: remote root must be FOLDER or ROOT.
	if root.Type != core.FOLDER && root.Type != core.ROOT {
		return nil, errors.E("syncengine.AddSync", errors.Invalid, errors.Str("INVALID_REMOTE_TYPE"))
	}

	// Step 2: no other active sync root is an ancestor or descendant,
	// on either the local or remote side.
	for _, s := range m.syncs {
		if s.State == Failed {
			continue
		}
		if isPathAncestor(s.Config.LocalRoot, cfg.LocalRoot) || isRemoteAncestor(m.tree, s.Config.RemoteRoot, cfg.RemoteRoot) {
			return nil, errors.E("syncengine.AddSync", errors.Exist, errors.Str("ACTIVE_SYNC_ABOVE_PATH"))
		}
		if isPathAncestor(cfg.LocalRoot, s.Config.LocalRoot) || isRemoteAncestor(m.tree, cfg.RemoteRoot, s.Config.RemoteRoot) {
			return nil, errors.E("syncengine.AddSync", errors.Exist, errors.Str("ACTIVE_SYNC_BELOW_PATH"))
		}
	}

	// Step 3: no ancestor is an in-share with less than FULL access.
	for cur := cfg.RemoteRoot; cur != core.UndefinedNode; {
		n := m.tree.Node(cur)
		if n == nil {
			break
		}
		if n.InShare != nil && n.InShare.Access < core.AccessFULL {
			return nil, errors.E("syncengine.AddSync", errors.Permission, errors.Str("SHARE_NON_FULL_ACCESS"))
		}
		cur = n.Parent
	}

	// Step 4: remote root must not be under the rubbish root.
	rubbish := m.tree.Root(core.RUBBISH)
	if rubbish != core.UndefinedNode {
		for cur := cfg.RemoteRoot; cur != core.UndefinedNode; {
			if cur == rubbish {
				return nil, errors.E("syncengine.AddSync", errors.Invalid, errors.Str("REMOTE_NODE_INSIDE_RUBBISH"))
			}
			n := m.tree.Node(cur)
			if n == nil {
				break
			}
			cur = n.Parent
		}
	}

	// Step 5: filesystem support and mount fingerprint.
	fsfp, err := m.fs.FingerprintVolume(cfg.LocalRoot)
	if err != nil {
		return nil, errors.E("syncengine.AddSync", errors.IO, err)
	}

	// Step 6: external backups must live under the external-drive path
	// and get a persisted drive-id.
	if cfg.ExternalDrive != "" {
		if !isPathAncestor(cfg.ExternalDrive, cfg.LocalRoot) {
			return nil, errors.E("syncengine.AddSync", errors.Invalid, errors.Str("LOCAL_PATH_NOT_ON_DRIVE"))
		}
		if _, err := ensureDriveID(m.fs, cfg.ExternalDrive, m.prng); err != nil {
			return nil, errors.E("syncengine.AddSync", errors.IO, err)
		}
	}

	s := New(cfg, m.tree, m.fs, m.clock)
	s.fsfp = fsfp
	m.syncs = append(m.syncs, s)
	return s, nil
}

// RegisterBackup runs §4.7.1 step 7 for a sync already past steps 1-6,
// asynchronously assigning it a stable backupId.
func (m *Manager) RegisterBackup(s *Sync, complete func(err error)) {
	if m.regs == nil || s.Config.ExternalDrive == "" {
		complete(nil)
		return
	}
	m.regs.RegisterBackup(s.Config, func(backupID string, err error) {
		if err != nil {
			complete(err)
			return
		}
		s.backupID = backupID
		complete(nil)
	})
}

func isPathAncestor(ancestor, path string) bool {
	ancestor = strings.TrimRight(ancestor, "/")
	if ancestor == path {
		return true
	}
	return strings.HasPrefix(path, ancestor+"/")
}

func isRemoteAncestor(tree *model.Tree, ancestor, node core.NodeHandle) bool {
	for cur := node; cur != core.UndefinedNode; {
		if cur == ancestor {
			return true
		}
		n := tree.Node(cur)
		if n == nil {
			return false
		}
		cur = n.Parent
	}
	return false
}
