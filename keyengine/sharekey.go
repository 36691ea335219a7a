package keyengine

import (
	"cryptdrive.io/core"
	"cryptdrive.io/errors"
	"cryptdrive.io/log"
	"cryptdrive.io/model"
)

// NewShare is one pending share-key update collected from `readnodes`,
// `readok`, `readoutshares` or an `s`/`s2` packet, awaiting merge into the
// tree (§4.4.2).
type NewShare struct {
	Node      core.NodeHandle
	Direction model.ShareDirection
	Peer      core.UserHandle
	Pending   core.PcrHandle
	Access    core.AccessLevel
	Key       []byte // nil means "no key": treated as a deletion
	Auth      []byte // share-HMAC supplied with the update, outbound only
	// BulkFetch is true while this update arrives as part of an initial
	// fetchnodes rather than steady-state streaming, suppressing the
	// telemetry event of step 1 (§4.4.2).
	BulkFetch bool
}

// Authenticator validates an outbound share update's HMAC against the
// node's own handle-authentication key, and reports whether removing a
// share key should also purge foreign keys from the affected subtree
// (RemoveKey, an account-level setting).
type Authenticator interface {
	HandleAuth(node core.NodeHandle) []byte
	RemoveKey() bool
}

// SyncDisabler is notified when a share downgrade drops a running sync
// below full access (§4.4.2 step 4).
type SyncDisabler interface {
	DisableSyncsUnder(node core.NodeHandle, reason string)
}

const reasonShareNonFullAccess = "SHARE_NON_FULL_ACCESS"

// MergeNewShare applies one pending share update to tree, implementing
// §4.4.2's four-way branch: authenticated key replacement, deletion,
// update-or-insert, and the full-access-downgrade sync-disable side
// effect.
func MergeNewShare(tree *model.Tree, auth Authenticator, sync SyncDisabler, telemetry core.Telemetry, ns NewShare) error {
	const op = "keyengine.MergeNewShare"

	n := tree.Node(ns.Node)
	if n == nil {
		return errors.E(op, ns.Node, errors.NotExist)
	}

	existing := findShare(tree, ns)

	switch {
	case len(ns.Key) > 0 && (existing == nil || !bytesEqual(existingKey(n, existing), ns.Key)):
		if ns.Direction == model.OutShare {
			if tree.EffectiveAccess(ns.Node) < core.AccessOWNER {
				return errors.E(op, ns.Node, errors.Permission, errors.Str("outbound share requires owner-level access"))
			}
			if !bytesEqual(auth.HandleAuth(ns.Node), ns.Auth) {
				log.Error.Printf("keyengine: share auth mismatch on node %v, rejecting", ns.Node)
				return errors.E(op, ns.Node, errors.Permission, errors.Str("share HMAC mismatch"))
			}
		}
		if ns.Direction == model.OutShare {
			n.ShareKey = ns.Key
		} else {
			n.Key = ns.Key
			n.NoKey = false
		}
		tree.PutNode(n)
		if !ns.BulkFetch {
			telemetry.Event("99428", map[string]interface{}{"node": ns.Node.String()})
		}
		upsertShare(tree, ns)

	case ns.Access == core.AccessUnknown && len(ns.Key) == 0:
		empty := tree.RemoveShare(ns.Node, ns.Direction, ns.Peer, ns.Pending)
		if ns.Direction == model.InShare {
			if n.Parent == core.UndefinedNode {
				tree.DeleteSubtree(ns.Node)
			} else {
				n.InShare = nil
				tree.PutNode(n)
			}
		} else if empty && auth.RemoveKey() {
			n.ShareKey = nil
			tree.PutNode(n)
		}

	default:
		upsertShare(tree, ns)
		if ns.Direction == model.InShare {
			n.InShare = &model.InShareDescriptor{Owner: ns.Peer, Access: ns.Access}
			tree.PutNode(n)
		}
	}

	if ns.Direction == model.InShare && ns.Access < core.AccessFULL && sync != nil {
		sync.DisableSyncsUnder(ns.Node, reasonShareNonFullAccess)
	}
	return nil
}

func upsertShare(tree *model.Tree, ns NewShare) {
	tree.PutShare(&model.Share{
		Node:      ns.Node,
		Direction: ns.Direction,
		Peer:      ns.Peer,
		Pending:   ns.Pending,
		Access:    ns.Access,
	})
}

func findShare(tree *model.Tree, ns NewShare) *model.Share {
	for _, s := range tree.Shares(ns.Node) {
		if s.Direction == ns.Direction && s.Peer == ns.Peer && s.Pending == ns.Pending {
			return s
		}
	}
	return nil
}

func existingKey(n *model.Node, s *model.Share) []byte {
	if n.InShare != nil {
		return n.Key
	}
	return n.ShareKey
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
