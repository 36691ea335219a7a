package syncengine

import (
	"path"

	"cryptdrive.io/core"
	"cryptdrive.io/log"
	"cryptdrive.io/model"
)

// GetStarter hands a remote file off to the transfer engine for download
// into a staged local path, the seam to C7 (mirrors transfer.PutNodesSender).
type GetStarter interface {
	StartGet(node core.NodeHandle, stagePath string)
}

// remoteChildren returns node's children keyed by decoded name,
// preferring the newest, then largest, entry on a name clash (§4.7.3's
// "child name-map").
func remoteChildren(tree *model.Tree, node core.NodeHandle) map[string]*model.Node {
	out := make(map[string]*model.Node)
	for _, h := range tree.Children(node) {
		n := tree.Node(h)
		if n == nil {
			continue
		}
		name := attrName(n)
		if prev, ok := out[name]; ok {
			if n.Ctime.Before(prev.Ctime) || (n.Ctime.Equal(prev.Ctime) && n.Size <= prev.Size) {
				continue
			}
		}
		out[name] = n
	}
	return out
}

// Syncdown reconciles L's known children against N's remote children,
// recursing into matched folders, downloading or creating what's missing
// locally, and queuing remote debris for what no longer belongs (§4.7.3).
func (s *Sync) Syncdown(l *LocalNode, n core.NodeHandle, getter GetStarter, anomalies func(path string, kind core.NameAnomalyKind)) {
	remote := remoteChildren(s.tree, n)

	for name, child := range l.Children {
		rn, ok := remote[name]
		if !ok {
			if child.Deleted {
				s.reconcileLocalDeletion(child)
			}
			continue
		}
		delete(remote, name)

		if child.Deleted {
			s.reconcileLocalDeletion(child)
			continue
		}

		remoteIsDir := rn.Type == core.FOLDER
		if child.IsDir != remoteIsDir {
			s.handleTypeMismatch(child, rn.Handle)
			continue
		}

		if remoteIsDir {
			s.pairWithNode(child, rn.Handle)
			s.Syncdown(child, rn.Handle, getter, anomalies)
			continue
		}

		switch {
		case child.Size == rn.Size && !child.Mtime.Before(rn.Ctime):
			// Local content is at least as recent as the remote
			// version and the same size: treat as synced.
		case child.Mtime.After(rn.Ctime):
			// Local is newer: left as is. Syncup uploads it only
			// while it has no paired remote node.
		default:
			s.pairWithNode(child, rn.Handle)
			getter.StartGet(rn.Handle, stagePath(child.Path))
		}
	}

	// Remaining remote children have no local match: rename/move a
	// previously-paired node, or create it fresh.
	for name, rn := range remote {
		if existing, ok := s.byNode[rn.Handle]; ok {
			s.moveLocal(existing, path.Join(l.Path, name), l)
			continue
		}
		childPath := path.Join(l.Path, name)
		checkNameAnomaly(childPath, name, anomalies)
		if rn.Type == core.FOLDER {
			if err := s.fs.Mkdir(childPath); err != nil {
				log.Error.Printf("syncengine: mkdir %s: %v", childPath, err)
				continue
			}
			ln := &LocalNode{Path: childPath, IsDir: true, Parent: l, Children: make(map[string]*LocalNode)}
			l.Children[name] = ln
			s.pairWithNode(ln, rn.Handle)
			s.Syncdown(ln, rn.Handle, getter, anomalies)
			continue
		}
		ln := &LocalNode{Path: childPath, Parent: l, Children: make(map[string]*LocalNode)}
		l.Children[name] = ln
		s.pairWithNode(ln, rn.Handle)
		getter.StartGet(rn.Handle, stagePath(childPath))
	}
}

// reconcileLocalDeletion implements §4.7.3's rule for a LocalNode already
// marked deleted: if the file on disk still matches its last known
// fingerprint the delete never actually landed (stale flag, e.g. a
// filesystem notification race) and it's moved to local debris; otherwise
// treat it as a genuine delete: its paired remote node, if any, is queued
// in tounlink.
func (s *Sync) reconcileLocalDeletion(l *LocalNode) {
	size, mtime, err := s.fs.Stat(l.Path)
	if err == nil {
		if fp, ferr := s.fingerprintFile(l.Path, size, mtime.Unix()); ferr == nil && fp == l.Fingerprint {
			s.moveToLocalDebris(l)
			return
		}
	}
	if l.Node != core.UndefinedNode {
		s.tounlink = append(s.tounlink, l.Node)
	}
	delete(l.Parent.Children, path.Base(l.Path))
}

func (s *Sync) handleTypeMismatch(l *LocalNode, remote core.NodeHandle) {
	log.Error.Printf("syncengine: type mismatch at %s, detaching local entry", l.Path)
	switch s.Config.Mode {
	case BackupMirror:
		s.todebris = append(s.todebris, remote)
	case BackupMonitor:
		s.State = Failed
		return
	}
	delete(l.Parent.Children, path.Base(l.Path))
}

func (s *Sync) moveLocal(l *LocalNode, newPath string, newParent *LocalNode) {
	if err := s.fs.Rename(l.Path, newPath); err != nil {
		log.Error.Printf("syncengine: rename %s -> %s: %v", l.Path, newPath, err)
		return
	}
	delete(l.Parent.Children, path.Base(l.Path))
	l.Path = newPath
	l.Parent = newParent
	newParent.Children[path.Base(newPath)] = l
}

func (s *Sync) moveToLocalDebris(l *LocalNode) {
	dest := path.Join(s.Config.LocalRoot, ".megabackup", "LocalDebris", path.Base(l.Path))
	if err := s.fs.Rename(l.Path, dest); err != nil {
		log.Error.Printf("syncengine: local debris move %s: %v", l.Path, err)
	}
	delete(l.Parent.Children, path.Base(l.Path))
}

func stagePath(finalPath string) string {
	return finalPath + tempSuffix
}

const tempSuffix = ".mega-tmp"

