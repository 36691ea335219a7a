// Package model holds the in-memory mutable graph of nodes, users, shares
// and pending-contact-requests that the action-packet processor mutates
// and every other subsystem reads (§3.2, §3.3, C6).
//
// Grounded on the general shape of the teacher's now-deleted
// dir/inprocess/directory.go (an in-memory map-of-entries keyed by a
// server-assigned identifier, guarded by a single mutex) and
// access/access.go's notion of a numeric access level attached to a
// share edge, reworked around this spec's handle-addressed node graph
// instead of upspin's path-name tree.
package model

import (
	"sync"
	"time"

	"cryptdrive.io/core"
)

// ChangeBit identifies one field of a Node or User with a pending
// notification, accumulated in a Changed bitset (§3.2).
type ChangeBit uint32

const (
	ChangedAttrs ChangeBit = 1 << iota
	ChangedOwner
	ChangedParent
	ChangedKey
	ChangedShareKey
	ChangedPublicLink
	ChangedInShare
	ChangedRemoved
)

// FileAttrDescriptor is one parsed entry of a node's `fa` string (§4.3
// packet `fa`): a file-attribute handle plus the type/key pair needed to
// fetch and decrypt it.
type FileAttrDescriptor struct {
	Type core.FileAttributeType
	Key  []byte
	// Handle is the opaque server-assigned file-attribute storage handle,
	// distinct from any of the core.Handle-derived types.
	Handle string
}

// PublicLinkDescriptor records a node's public-link state (§6.2).
type PublicLinkDescriptor struct {
	Handle    core.PublicHandle
	Key       []byte
	Ts        time.Time
	Down      bool // taken down by abuse action
	Protected bool // password-protected (#P! variant)
}

// InShareDescriptor pairs an inbound share root with cached subtree
// accounting (§4.4.2 step 3, "cache the subtree counter").
type InShareDescriptor struct {
	Owner       core.UserHandle
	Access      core.AccessLevel
	SubtreeSize int64
	SubtreeGen  uint64
}

// Node is one polymorphic entry of the remote tree (§3.2).
type Node struct {
	Handle   core.NodeHandle
	Parent   core.NodeHandle // UndefinedNode for root-type nodes
	Type     core.NodeType
	Owner    core.UserHandle
	Ctime    time.Time
	Size     int64 // files only
	AttrBlob []byte
	Key      []byte // decrypted node key, nil if undecryptable ("no-key")
	NoKey    bool
	// RawKeyBlob is the still-encrypted key as received on the wire,
	// retained while NoKey is set so a later apply-key walk can retry
	// decryption without re-fetching the node (§4.4.1).
	RawKeyBlob string

	FileAttrs  []FileAttrDescriptor
	ShareKey   []byte // set if this node is the root of an outgoing share
	PublicLink *PublicLinkDescriptor
	InShare    *InShareDescriptor

	// PrevVersion links a file node to the immediately previous version
	// of itself, forming the version chain of §3.2.
	PrevVersion core.NodeHandle

	Changed ChangeBit
}

// User is one entry of the account/contact table (§3.2).
type User struct {
	Handle     core.UserHandle
	Email      string
	Visibility core.Visibility
	Business   bool
	SharedIn   map[core.NodeHandle]struct{}

	// AttrVersions maps a cached attribute name to the version token it
	// was last fetched at, so `ua` packets can be compared cheaply
	// (§4.3 packet `ua`).
	AttrVersions map[string]string
	AttrValues   map[string][]byte

	PubRSAKey []byte

	Changed ChangeBit
}

// ShareDirection distinguishes an outgoing share edge from an incoming one.
type ShareDirection uint8

const (
	OutShare ShareDirection = iota
	InShare
)

// Share is one outgoing or incoming share descriptor (§3.2).
type Share struct {
	Node      core.NodeHandle
	Direction ShareDirection
	// Peer is the counterparty user, or UndefinedUser if Pending is set.
	Peer    core.UserHandle
	Pending core.PcrHandle
	Access  core.AccessLevel
	Ts      time.Time
}

// PCR is a pending-contact-request (§3.2).
type PCR struct {
	Handle       core.PcrHandle
	OriginEmail  string
	TargetEmail  string
	Ts           time.Time
	Uts          time.Time
	ReminderTs   time.Time
	DeleteTs     time.Time
	Message      string
	Outgoing     bool
	Changed      ChangeBit
}

// Tree is the mutable in-memory graph: nodes, users, shares and PCRs
// keyed by handle, plus indices needed by the key engine and sync engine.
// All access is serialized by mu; the engine's cooperative loop means
// contention is only between the loop goroutine and background worker
// pool callbacks landing results (§5).
type Tree struct {
	mu sync.RWMutex

	nodes map[core.NodeHandle]*Node
	users map[core.UserHandle]*User
	pcrs  map[core.PcrHandle]*PCR

	// shares indexes Share edges by the node they attach to; a node can
	// carry multiple outgoing shares (one per peer) or exactly one
	// inshare descriptor (kept on Node.InShare instead).
	shares map[core.NodeHandle][]*Share

	// children indexes Node.Parent -> child handles for tree walks
	// (apply-key propagation, subtree deletion, sync scanning).
	children map[core.NodeHandle]map[core.NodeHandle]struct{}

	// byEmail supports the User email<->handle 1-to-1 invariant of §3.2.
	byEmail map[string]core.UserHandle

	roots map[core.NodeType]core.NodeHandle // ROOT, INBOX, RUBBISH
}

// NewTree returns an empty graph.
func NewTree() *Tree {
	return &Tree{
		nodes:    make(map[core.NodeHandle]*Node),
		users:    make(map[core.UserHandle]*User),
		pcrs:     make(map[core.PcrHandle]*PCR),
		shares:   make(map[core.NodeHandle][]*Share),
		children: make(map[core.NodeHandle]map[core.NodeHandle]struct{}),
		byEmail:  make(map[string]core.UserHandle),
		roots:    make(map[core.NodeType]core.NodeHandle),
	}
}

// PutNode inserts or replaces a node, maintaining the parent/children index
// and, if the node is a root type, the roots index (§3.2 invariant: exactly
// one of {no parent ∧ root type, has parent}).
func (t *Tree) PutNode(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.nodes[n.Handle]; ok {
		if old != n {
			if old.Parent != core.UndefinedNode {
				t.unlinkChildLocked(old.Parent, old.Handle)
			}
		} else {
			// n was modified in place, so its previous parent is no longer
			// recorded on it; drop it from every other parent's children.
			for p, m := range t.children {
				if _, linked := m[n.Handle]; linked && p != n.Parent {
					t.unlinkChildLocked(p, n.Handle)
				}
			}
		}
	}
	t.nodes[n.Handle] = n
	if n.Parent != core.UndefinedNode {
		t.linkChildLocked(n.Parent, n.Handle)
	} else if n.Type.IsRoot() {
		t.roots[n.Type] = n.Handle
	}
}

func (t *Tree) linkChildLocked(parent, child core.NodeHandle) {
	m := t.children[parent]
	if m == nil {
		m = make(map[core.NodeHandle]struct{})
		t.children[parent] = m
	}
	m[child] = struct{}{}
}

func (t *Tree) unlinkChildLocked(parent, child core.NodeHandle) {
	if m := t.children[parent]; m != nil {
		delete(m, child)
		if len(m) == 0 {
			delete(t.children, parent)
		}
	}
}

// Node returns the node for h, or nil if absent.
func (t *Tree) Node(h core.NodeHandle) *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[h]
}

// Root returns the handle of the given root-type node (ROOT, INBOX, or
// RUBBISH), or UndefinedNode if not yet known.
func (t *Tree) Root(kind core.NodeType) core.NodeHandle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.roots[kind]
	if !ok {
		return core.UndefinedNode
	}
	return h
}

// Children returns the immediate children of parent.
func (t *Tree) Children(parent core.NodeHandle) []core.NodeHandle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m := t.children[parent]
	out := make([]core.NodeHandle, 0, len(m))
	for h := range m {
		out = append(out, h)
	}
	return out
}

// DeleteSubtree removes h and every descendant, matching packet `d`'s
// subtree-deletion semantics (§4.3). It returns the handles removed.
func (t *Tree) DeleteSubtree(h core.NodeHandle) []core.NodeHandle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []core.NodeHandle
	var walk func(core.NodeHandle)
	walk = func(cur core.NodeHandle) {
		for child := range t.children[cur] {
			walk(child)
		}
		if n, ok := t.nodes[cur]; ok {
			if n.Parent != core.UndefinedNode {
				t.unlinkChildLocked(n.Parent, n.Handle)
			}
			delete(t.nodes, cur)
			delete(t.children, cur)
			delete(t.shares, cur)
			removed = append(removed, cur)
		}
	}
	walk(h)
	return removed
}

// PutUser inserts or replaces a user, maintaining the email<->handle
// index (§3.2's 1-to-1 invariant among non-inactive users).
func (t *Tree) PutUser(u *User) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.users[u.Handle]; ok && old.Email != "" {
		delete(t.byEmail, old.Email)
	}
	t.users[u.Handle] = u
	if u.Email != "" && u.Visibility != core.VisibilityInactive {
		t.byEmail[u.Email] = u.Handle
	}
}

// User returns the user for h, or nil if absent.
func (t *Tree) User(h core.UserHandle) *User {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.users[h]
}

// UserByEmail resolves an active user's handle by email.
func (t *Tree) UserByEmail(email string) core.UserHandle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.byEmail[email]
	if !ok {
		return core.UndefinedUser
	}
	return h
}

// PutShare attaches or replaces a share edge on its node.
func (t *Tree) PutShare(s *Share) {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.shares[s.Node]
	for i, existing := range list {
		if existing.Direction == s.Direction && existing.Peer == s.Peer && existing.Pending == s.Pending {
			list[i] = s
			return
		}
	}
	t.shares[s.Node] = append(list, s)
}

// Shares returns every share edge attached to node.
func (t *Tree) Shares(node core.NodeHandle) []*Share {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Share, len(t.shares[node]))
	copy(out, t.shares[node])
	return out
}

// RemoveShare detaches a share edge, reporting whether the node's
// remaining share set became empty (§4.4.2 step 2's "drop empty maps").
func (t *Tree) RemoveShare(node core.NodeHandle, direction ShareDirection, peer core.UserHandle, pending core.PcrHandle) (empty bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.shares[node]
	for i, s := range list {
		if s.Direction == direction && s.Peer == peer && s.Pending == pending {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(t.shares, node)
		return true
	}
	t.shares[node] = list
	return false
}

// PutPCR inserts or replaces a pending-contact-request.
func (t *Tree) PutPCR(p *PCR) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pcrs[p.Handle] = p
}

// PCR returns the pending-contact-request for h, or nil if absent.
func (t *Tree) PCR(h core.PcrHandle) *PCR {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcrs[h]
}

// DeletePCR removes a pending-contact-request.
func (t *Tree) DeletePCR(h core.PcrHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pcrs, h)
}

// EffectiveAccess walks from node up to the nearest ancestor carrying an
// InShare descriptor (or its own), returning the access level in force.
// Returns core.AccessOWNER if node's chain reaches a ROOT with no
// intervening inshare (i.e. it is wholly owned).
func (t *Tree) EffectiveAccess(node core.NodeHandle) core.AccessLevel {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cur := node
	for {
		n, ok := t.nodes[cur]
		if !ok {
			return core.AccessUnknown
		}
		if n.InShare != nil {
			return n.InShare.Access
		}
		if n.Parent == core.UndefinedNode {
			return core.AccessOWNER
		}
		cur = n.Parent
	}
}
