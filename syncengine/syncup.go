package syncengine

import (
	"cryptdrive.io/clock"
	"cryptdrive.io/core"
	"cryptdrive.io/log"
)

// PutStarter hands a local file off to the transfer engine for upload,
// the seam to C7 (mirrors GetStarter/transfer.PutNodesSender).
type PutStarter interface {
	StartPut(localPath string, parent core.NodeHandle, overwrite core.NodeHandle)
}

// Syncup is syncdown's mirror image (§4.7.3): local files with no remote
// pairing that are stable across two ticks get uploaded, and local
// folders with no remote pairing get created remotely. A file already
// paired with a remote node is not uploaded again. Syncup queues nothing
// for tounlink or todebris.
func (s *Sync) Syncup(l *LocalNode, n core.NodeHandle, putter PutStarter, folders FolderCreator, nowSecs int64) {
	for _, child := range l.Children {
		if child.Deleted {
			continue // handled by Syncdown's reconcileLocalDeletion pass
		}
		if child.IsDir {
			if child.Node == core.UndefinedNode {
				s.createRemoteFolder(child, n, folders)
				continue
			}
			s.Syncup(child, child.Node, putter, folders, nowSecs)
			continue
		}
		s.syncupFile(child, n, putter, nowSecs)
	}
}

func (s *Sync) syncupFile(child *LocalNode, parent core.NodeHandle, putter PutStarter, nowSecs int64) {
	if !s.stabilized(child) {
		return
	}
	if child.Node != core.UndefinedNode {
		// Already paired: not uploaded again. Content changes to a
		// paired file are not detected here.
		return
	}
	if s.Config.Mode == BackupMonitor {
		s.State = Failed
		return
	}

	// versionTimes are s.clock values, so the throttle compares them
	// against the same clock, not against the caller's Unix nowSecs.
	clockNowSecs := int64(s.clock.Now()) / 10
	v := recentVersionCount(dsToSecs(child.versionTimes), clockNowSecs)
	if v > 10 {
		delay := versionThrottleDelaySecs(v, lastVersionTimeSecs(child.versionTimes), clockNowSecs)
		if delay > 0 {
			log.Debug.Printf("syncengine: throttling %s for %ds (recent versions=%d)", child.Path, delay, v)
			return
		}
	}

	putter.StartPut(child.Path, parent, core.UndefinedNode)
	child.versionTimes = append(child.versionTimes, s.clock.Now())
	if len(child.versionTimes) > 64 {
		child.versionTimes = child.versionTimes[len(child.versionTimes)-64:]
	}
}

// stabilized implements the Nagle-window stability check: a file is
// uploadable once its (size, mtime) has been observed unchanged across
// two consecutive ticks (§4.7.3).
func (s *Sync) stabilized(child *LocalNode) bool {
	if !child.stableSeen || child.stableSize != child.Size || !child.stableMtime.Equal(child.Mtime) {
		child.stableSeen = true
		child.stableSize = child.Size
		child.stableMtime = child.Mtime
		return false
	}
	return true
}

func (s *Sync) createRemoteFolder(child *LocalNode, parent core.NodeHandle, folders FolderCreator) {
	name := lastPathElement(child.Path)
	folders.CreateFolder(parent, name, func(node core.NodeHandle, err error) {
		if err != nil {
			log.Error.Printf("syncengine: create remote folder %s: %v", child.Path, err)
			return
		}
		s.pairWithNode(child, node)
	})
}

func lastPathElement(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

func dsToSecs(ds []clock.DS) []int64 {
	out := make([]int64, len(ds))
	for i, v := range ds {
		out[i] = int64(v) / 10
	}
	return out
}

func lastVersionTimeSecs(ds []clock.DS) int64 {
	if len(ds) == 0 {
		return 0
	}
	return int64(ds[len(ds)-1]) / 10
}
