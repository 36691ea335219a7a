// Package syncengine implements the bidirectional folder synchronizer of
// §4.7 (C9): sync admission, an initial DFS scan, and a per-tick
// syncdown/syncup reconciliation loop between a local filesystem subtree
// and a remote node subtree.
//
// Grounded most heavily on the teacher's dir/dircache/log.go (replayable
// log, LRU-bounded state, refresh-backoff shape), generalized from a
// single-directory read cache to a full local<->remote subtree
// reconciler with its own deletion queues and debris handling.
package syncengine

import (
	"time"

	"cryptdrive.io/clock"
	"cryptdrive.io/core"
	"cryptdrive.io/model"
)

// Reconciliation constants named by §4.7.3.
const (
	// RecentVersionIntervalSecs bounds the window recent uploads of the
	// same file are counted in for the version-throttle formula.
	RecentVersionIntervalSecs = 3600

	// ExtraScanningDelaySecs is the EXTRA-queue delay for coalescing a
	// create-temp/delete-original/rename-temp rewrite into a single
	// change. Nothing in this package reads it; filesystem events are
	// not deferred.
	ExtraScanningDelaySecs = 3

	// scanFailureBaseDelayDS/scanFailurePerNodeDivisor implement
	// "re-arm a full rescan with delay 300 + totalLocalNodes/128 ds".
	scanFailureBaseDelayDS   = clock.DS(300)
	scanFailurePerNodeDivisor = 128
)

// Mode selects how syncdown/syncup treat divergence between the two
// sides (§4.7.3 "Backup modes").
type Mode uint8

const (
	// TwoWay propagates changes made on either side to the other.
	TwoWay Mode = iota
	// BackupMirror treats the local side as truth: any remote
	// divergence is debris'd.
	BackupMirror
	// BackupMonitor treats any modification, on either side, as a
	// tripwire that fails the sync rather than reconciling it.
	BackupMonitor
)

// State is a Sync's lifecycle state.
type State uint8

const (
	InitialScan State = iota
	Active
	Suspended
	Failed
)

func (s State) String() string {
	switch s {
	case InitialScan:
		return "initialscan"
	case Active:
		return "active"
	case Suspended:
		return "suspended"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Config is one sync's admission-time configuration (§4.7.1).
type Config struct {
	LocalRoot  string
	RemoteRoot core.NodeHandle
	Mode       Mode
	// ExternalDrive is set for a backup whose local root lives on a
	// removable volume; admission persists a drive-id file under it.
	ExternalDrive string
	BackupName    string
}

// LocalNode mirrors one filesystem entry under a Sync's local root
// (§3.2/§3.3, §4.7.2's "one LocalNode per entry").
type LocalNode struct {
	Path    string
	IsDir   bool
	Size    int64
	Mtime   time.Time
	Fingerprint core.Fingerprint

	// Node is the paired remote entry, UndefinedNode if never matched
	// to one yet.
	Node core.NodeHandle

	Parent   *LocalNode
	Children map[string]*LocalNode

	Deleted bool

	// stableSize/stableMtime/stableSeen back the syncup Nagle-window
	// stability check (§4.7.3): a file uploads only once its
	// (size, mtime) has been observed unchanged across two ticks.
	stableSize  int64
	stableMtime time.Time
	stableSeen  bool

	// versionTimes is a bounded log of recent upload completion times
	// for this path, feeding the version-throttle formula (§8 P5,
	// §4.7.3's "recent-version rate-limiting").
	versionTimes []clock.DS
}

// Sync is one active or scanning local<->remote pairing.
type Sync struct {
	Config Config
	State  State

	root *LocalNode

	// syncsup gates the reconciliation loop until the initial scan's
	// queue has drained (§4.7.2).
	syncsup bool

	fsfp string

	todebris []core.NodeHandle
	tounlink []core.NodeHandle

	rescanAt clock.DS

	byNode map[core.NodeHandle]*LocalNode

	tree  *model.Tree
	fs    core.FileSystemAccess
	clock *clock.Clock

	backupID string

	// stalledFor is the duration Stalled reports (§9 OQ1). Nothing in
	// this package sets it, so it stays zero.
	stalledFor time.Duration
}

// New returns a Sync in InitialScan state, not yet populated by Scan.
func New(cfg Config, tree *model.Tree, fs core.FileSystemAccess, clockSrc *clock.Clock) *Sync {
	return &Sync{
		Config: cfg,
		State:  InitialScan,
		root: &LocalNode{
			Path:     cfg.LocalRoot,
			IsDir:    true,
			Node:     cfg.RemoteRoot,
			Children: make(map[string]*LocalNode),
		},
		byNode: make(map[core.NodeHandle]*LocalNode),
		tree:   tree,
		fs:     fs,
		clock:  clockSrc,
	}
}

// Stalled reports whether syncdown is stalled on a locked local path,
// and for how long (§9 OQ1). Syncdown keeps no lock-retry state and
// nothing sets stalledFor, so Stalled always reports (0, false).
func (s *Sync) Stalled() (time.Duration, bool) {
	return s.stalledFor, s.stalledFor > 0
}
