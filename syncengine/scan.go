package syncengine

import (
	"path"

	"cryptdrive.io/core"
	"cryptdrive.io/model"
)

// Scan performs the single DFS of §4.7.2 over the local root, populating
// one LocalNode per entry with a content fingerprint for files. The sync
// moves to Active once the walk completes; syncsup stays false (gating
// the reconciliation loop) until then.
func (s *Sync) Scan() error {
	if err := s.scanDir(s.root); err != nil {
		return err
	}
	s.syncsup = true
	s.State = Active
	return nil
}

func (s *Sync) scanDir(n *LocalNode) error {
	entries, err := s.fs.ReadDir(n.Path)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.Name] = true
		child, ok := n.Children[e.Name]
		if !ok {
			child = &LocalNode{
				Path:     path.Join(n.Path, e.Name),
				Parent:   n,
				Children: make(map[string]*LocalNode),
			}
			n.Children[e.Name] = child
		}
		child.IsDir = e.IsDir
		child.Size = e.Size
		child.Mtime = e.Mtime

		if e.IsDir {
			if err := s.scanDir(child); err != nil {
				return err
			}
			continue
		}
		fp, err := s.fingerprintFile(child.Path, e.Size, e.Mtime.Unix())
		if err != nil {
			return err
		}
		child.Fingerprint = fp
	}
	// Anything no longer present on disk is marked deleted rather than
	// dropped outright, so syncup/syncdown can still see it queued a
	// remote deletion this tick (§4.7.3's "Deletion queuing").
	for name, child := range n.Children {
		if !seen[name] {
			child.Deleted = true
		}
	}
	return nil
}

func (s *Sync) fingerprintFile(p string, size int64, mtimeUnix int64) (core.Fingerprint, error) {
	f, err := s.fs.Open(p, false)
	if err != nil {
		return core.Fingerprint{}, err
	}
	defer f.Close()
	return model.Fingerprint(size, mtimeUnix, f)
}

// pairWithNode records a bidirectional LocalNode<->Node association, used
// by syncdown/syncup once a match is found by name.
func (s *Sync) pairWithNode(ln *LocalNode, node core.NodeHandle) {
	if ln.Node != core.UndefinedNode {
		delete(s.byNode, ln.Node)
	}
	ln.Node = node
	if node != core.UndefinedNode {
		s.byNode[node] = ln
	}
}
