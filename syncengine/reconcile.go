package syncengine

import (
	"time"

	"cryptdrive.io/clock"
	"cryptdrive.io/core"
	"cryptdrive.io/log"
)

// RemoteMutator issues the remote mutations a reconciliation tick can
// require once syncdown/syncup have settled: moving a node to debris and
// unlinking one outright (§4.7.3's "Deletion queuing").
type RemoteMutator interface {
	MoveNode(node, newParent core.NodeHandle, complete func(err error))
	Unlink(node core.NodeHandle, complete func(err error))
}

// Collaborators bundles the seams a Tick needs into the C3/C7 layer,
// wired by the main loop once it exists.
type Collaborators struct {
	Getter  GetStarter
	Putter  PutStarter
	Folders FolderCreator
	Mutator RemoteMutator
	Debris  *DebrisRouter
	Notify  func(path string, kind core.NameAnomalyKind)
}

// Tick runs one reconciliation pass for syncs in Active or InitialScan
// state (§4.7.3). InitialScan syncs are gated by syncsup and only get an
// ingress/fsfp check until their scan finishes.
func (s *Sync) Tick(now time.Time, c Collaborators) {
	if s.State != Active && s.State != InitialScan {
		return
	}

	if !s.checkFingerprint(now) {
		return
	}

	if !s.syncsup {
		return
	}

	s.Syncdown(s.root, s.Config.RemoteRoot, c.Getter, c.Notify)
	s.Syncup(s.root, s.Config.RemoteRoot, c.Putter, c.Folders, now.Unix())
	s.flushDeletions(now, c)
}

// checkFingerprint implements §4.7.3's "Filesystem-fingerprint invariant":
// a changed volume fingerprint fails the sync rather than silently
// reconciling against the wrong mount.
func (s *Sync) checkFingerprint(now time.Time) bool {
	fp, err := s.fs.FingerprintVolume(s.Config.LocalRoot)
	if err != nil {
		s.State = Failed
		log.Error.Printf("syncengine: %s: %v", s.Config.LocalRoot, err)
		return false
	}
	if s.fsfp == "" {
		s.fsfp = fp
		return true
	}
	if fp != s.fsfp {
		s.State = Failed
		log.Error.Printf("syncengine: %s: LOCAL_FINGERPRINT_MISMATCH", s.Config.LocalRoot)
		return false
	}
	return true
}

// flushDeletions executes queued remote mutations after both syncdown and
// syncup have completed a cycle, so a delete+create pair had a chance to
// be recognised as a move instead (§4.7.3).
func (s *Sync) flushDeletions(now time.Time, c Collaborators) {
	debris := s.todebris
	unlink := s.tounlink
	s.todebris = nil
	s.tounlink = nil

	for _, node := range debris {
		node := node
		c.Debris.Resolve(remoteRubbish(s), now, func(target core.NodeHandle, err error) {
			if err != nil || target == core.UndefinedNode {
				return
			}
			c.Mutator.MoveNode(node, target, func(err error) {
				if err != nil {
					log.Error.Printf("syncengine: debris move %v: %v", node, err)
				}
			})
		})
	}
	for _, node := range unlink {
		node := node
		c.Mutator.Unlink(node, func(err error) {
			if err != nil {
				log.Error.Printf("syncengine: unlink %v: %v", node, err)
			}
		})
	}
}

func remoteRubbish(s *Sync) core.NodeHandle {
	return s.tree.Root(core.RUBBISH)
}

// RearmScan sets rescanAt to now plus 300 + totalLocalNodes/128
// deciseconds (§4.7.3's "Scan failure"). Nothing in this package calls
// RearmScan or reads rescanAt; a full scan runs only when Scan is called.
func (s *Sync) RearmScan() {
	s.rescanAt = s.clock.Now() + scanFailureBaseDelayDS + clock.DS(s.countLocalNodes()/scanFailurePerNodeDivisor)
}

func (s *Sync) countLocalNodes() int {
	n := 0
	var walk func(*LocalNode)
	walk = func(l *LocalNode) {
		n++
		for _, c := range l.Children {
			walk(c)
		}
	}
	walk(s.root)
	return n
}
