package actionstream

import (
	"encoding/json"
	"sync"
	"time"

	"cryptdrive.io/core"
	"cryptdrive.io/errors"
	"cryptdrive.io/keyengine"
	"cryptdrive.io/log"
	"cryptdrive.io/model"
)

// TreeHandler is the default Handler: it applies each known action code
// to a model.Tree, invoking the key engine for key-bearing packets and
// buffering DbAccess writes until CommitBatch flushes them in one
// transaction (§4.3 durability, §4.9).
type TreeHandler struct {
	mu sync.Mutex

	Tree      *model.Tree
	Crypto    core.Crypto
	KeySource keyengine.KeySource
	Rewrite   *keyengine.RewriteQueue
	Authring  *keyengine.Authring
	Telemetry core.Telemetry
	Sync      keyengine.SyncDisabler
	Auth      keyengine.Authenticator
	App       core.AppCallbacks
	Db        core.DbAccess

	pending      []pendingWrite
	changedNodes map[core.NodeHandle]struct{}
	changedUsers map[core.UserHandle]struct{}
}

type pendingWrite struct {
	kind  core.RecordKind
	key   uint64
	value []byte
}

// NewTreeHandler wires a TreeHandler with its dependencies. Telemetry
// and App may be core.NoopTelemetry{} / a no-op AppCallbacks in tests.
func NewTreeHandler(tree *model.Tree, crypto core.Crypto, ks keyengine.KeySource, db core.DbAccess, app core.AppCallbacks) *TreeHandler {
	return &TreeHandler{
		Tree:         tree,
		Crypto:       crypto,
		KeySource:    ks,
		Rewrite:      keyengine.NewRewriteQueue(),
		Authring:     keyengine.NewAuthring(),
		Telemetry:    core.NoopTelemetry{},
		Db:           db,
		App:          app,
		changedNodes: make(map[core.NodeHandle]struct{}),
		changedUsers: make(map[core.UserHandle]struct{}),
	}
}

// Apply dispatches p to the handler for its action code (§4.3's packet
// taxonomy table). Unknown codes are silently skipped.
func (h *TreeHandler) Apply(p Packet) (yield bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch p.Action {
	case ActionNodeUpdate:
		return true, h.applyNodeUpdate(p)
	case ActionNewNodes:
		return true, h.applyNewNodes(p)
	case ActionDelete:
		return true, h.applyDelete(p)
	case ActionShare, ActionShare2:
		return false, h.applyShare(p)
	case ActionContact:
		return false, h.applyContact(p)
	case ActionKey:
		return false, h.applyKeyPacket(p)
	case ActionFileAttr:
		return false, h.applyFileAttr(p)
	case ActionUserAttr:
		return false, h.applyUserAttr(p)
	case ActionPCRIncoming, ActionPCROutgoing, ActionPCRIncomingUpd, ActionPCROutgoingUpd:
		return false, h.applyPCR(p)
	case ActionPublicLink:
		return false, h.applyPublicLink(p)
	case ActionSetEmail:
		return false, h.applySetEmail(p)
	case ActionPaymentSuccess, ActionPaymentReminder, ActionAccountConfirm,
		ActionAlertAck, ActionBusinessStatus,
		ActionChatCreate, ActionChatFlags, ActionChatNodeAccess,
		ActionChatFlagsPriv, ActionChatNodeAdd, ActionChatNodePrivAdd:
		// Out of scope beyond packet-stream acknowledgement (§1); the
		// embedder is notified so it can refresh its own state.
		h.App.NotifyReload()
		return false, nil
	default:
		log.Debug.Printf("actionstream: skipping unknown packet code %q", p.Action)
		return false, nil
	}
}

// --- u: node metadata update ---

type nodeUpdatePacket struct {
	N     string `json:"n"`
	At    string `json:"at"`
	Owner string `json:"u"`
}

func (h *TreeHandler) applyNodeUpdate(p Packet) error {
	var np nodeUpdatePacket
	if err := json.Unmarshal(p.Raw, &np); err != nil {
		return errors.E("actionstream.applyNodeUpdate", errors.Syntax, err)
	}
	handle, err := core.DecodeHandle(np.N)
	if err != nil {
		return errors.E("actionstream.applyNodeUpdate", errors.Syntax, err)
	}
	nh := core.NodeHandle(handle)
	n := h.Tree.Node(nh)
	if n == nil {
		return errors.E("actionstream.applyNodeUpdate", nh, errors.NotExist)
	}
	if np.At != "" {
		n.AttrBlob = []byte(np.At)
		n.Changed |= model.ChangedAttrs
	}
	h.Tree.PutNode(n)
	h.markNodeDirty(nh)
	return nil
}

// --- t: new nodes (tree fragment) ---

type treePacket struct {
	T struct {
		F []nodeWire `json:"f"`
	} `json:"t"`
}

type nodeWire struct {
	Handle string `json:"h"`
	Parent string `json:"p"`
	Type   int    `json:"t"`
	Owner  string `json:"u"`
	Key    string `json:"k"`
	Attr   string `json:"a"`
	Size   int64  `json:"s"`
	Ts     int64  `json:"ts"`
}

func (h *TreeHandler) applyNewNodes(p Packet) error {
	var tp treePacket
	if err := json.Unmarshal(p.Raw, &tp); err != nil {
		return errors.E("actionstream.applyNewNodes", errors.Syntax, err)
	}
	for _, nw := range tp.T.F {
		handle, err := core.DecodeHandle(nw.Handle)
		if err != nil {
			continue
		}
		var parent core.NodeHandle = core.UndefinedNode
		if nw.Parent != "" {
			ph, err := core.DecodeHandle(nw.Parent)
			if err == nil {
				parent = core.NodeHandle(ph)
			}
		}
		var owner core.UserHandle
		if nw.Owner != "" {
			oh, err := core.DecodeHandle(nw.Owner)
			if err == nil {
				owner = core.UserHandle(oh)
			}
		}
		n := &model.Node{
			Handle:     core.NodeHandle(handle),
			Parent:     parent,
			Type:       core.NodeType(nw.Type),
			Owner:      owner,
			Size:       nw.Size,
			Ctime:      time.Unix(nw.Ts, 0),
			AttrBlob:   []byte(nw.Attr),
			RawKeyBlob: nw.Key,
			NoKey:      true,
		}
		if nw.Key != "" {
			sym := h.KeySource.MasterKey()
			if res, err := keyengine.DecryptNodeKey(h.Crypto, nw.Key, sym, h.KeySource.RSAPrivateKey()); err == nil {
				n.Key = res.Key
				n.NoKey = false
				if res.RewriteQueued {
					h.Rewrite.Enqueue(n.Handle)
				}
			} else {
				log.Debug.Printf("actionstream: node %v arrived undecryptable, deferring to apply-key: %v", n.Handle, err)
			}
		}
		h.Tree.PutNode(n)
		h.markNodeDirty(n.Handle)
	}
	if h.KeySource != nil {
		for _, n := range tp.T.F {
			handle, err := core.DecodeHandle(n.Handle)
			if err == nil {
				keyengine.ApplyKeyWalk(h.Crypto, h.Tree, h.KeySource, core.NodeHandle(handle), h.Rewrite)
			}
		}
	}
	return nil
}

// --- d: subtree deletion ---

type deletePacket struct {
	N string `json:"n"`
}

func (h *TreeHandler) applyDelete(p Packet) error {
	var dp deletePacket
	if err := json.Unmarshal(p.Raw, &dp); err != nil {
		return errors.E("actionstream.applyDelete", errors.Syntax, err)
	}
	handle, err := core.DecodeHandle(dp.N)
	if err != nil {
		return errors.E("actionstream.applyDelete", errors.Syntax, err)
	}
	for _, removed := range h.Tree.DeleteSubtree(core.NodeHandle(handle)) {
		h.markNodeDirty(removed)
	}
	return nil
}

// --- s/s2: share addition/modification/revocation ---

type sharePacket struct {
	N    string `json:"n"`
	U    string `json:"u"`
	P    string `json:"p"`  // pending-contact-request handle, if any
	OK   string `json:"ok"` // node key (base64), owner-signed
	Auth string `json:"auth"`
	R    *int   `json:"r"` // access level, absent means revoke
	Own  bool   `json:"ownerpays"`
}

func (h *TreeHandler) applyShare(p Packet) error {
	var sp sharePacket
	if err := json.Unmarshal(p.Raw, &sp); err != nil {
		return errors.E("actionstream.applyShare", errors.Syntax, err)
	}
	handle, err := core.DecodeHandle(sp.N)
	if err != nil {
		return errors.E("actionstream.applyShare", errors.Syntax, err)
	}
	nh := core.NodeHandle(handle)

	ns := keyengine.NewShare{Node: nh, Access: core.AccessUnknown}
	if sp.R != nil {
		ns.Access = core.AccessLevel(*sp.R)
	}
	if sp.U != "" {
		if uh, err := core.DecodeHandle(sp.U); err == nil {
			ns.Peer = core.UserHandle(uh)
		}
	}
	if sp.P != "" {
		if ph, err := core.DecodeHandle(sp.P); err == nil {
			ns.Pending = core.PcrHandle(ph)
		}
	}
	if sp.OK != "" {
		res, err := keyengine.DecryptNodeKey(h.Crypto, sp.OK, h.KeySource.MasterKey(), h.KeySource.RSAPrivateKey())
		if err == nil {
			ns.Key = res.Key
		}
	}
	if sp.Auth != "" {
		ns.Auth = []byte(sp.Auth)
	}
	ns.Direction = model.OutShare
	if ns.Peer == h.KeySource.Self() {
		ns.Direction = model.InShare
	}

	if err := keyengine.MergeNewShare(h.Tree, h.Auth, h.Sync, h.Telemetry, ns); err != nil {
		log.Debug.Printf("actionstream: share merge on %v rejected: %v", nh, err)
	}
	h.markNodeDirty(nh)
	return nil
}

// --- c: contact added/updated ---

type contactPacket struct {
	U string `json:"u"`
	M string `json:"m"`
	C int    `json:"c"` // visibility
}

func (h *TreeHandler) applyContact(p Packet) error {
	var cp contactPacket
	if err := json.Unmarshal(p.Raw, &cp); err != nil {
		return errors.E("actionstream.applyContact", errors.Syntax, err)
	}
	uh64, err := core.DecodeHandle(cp.U)
	if err != nil {
		return errors.E("actionstream.applyContact", errors.Syntax, err)
	}
	uh := core.UserHandle(uh64)
	u := h.Tree.User(uh)
	if u == nil {
		u = &model.User{Handle: uh, AttrVersions: map[string]string{}, AttrValues: map[string][]byte{}, SharedIn: map[core.NodeHandle]struct{}{}}
	}
	u.Email = cp.M
	u.Visibility = core.Visibility(cp.C)
	h.Tree.PutUser(u)
	h.markUserDirty(uh)
	return nil
}

// --- k: share-key distribution / crypto-request response ---

type keyPacket struct {
	N  string   `json:"n"`
	SR []string `json:"sr"` // [node, user, key, node, user, key, ...]
}

func (h *TreeHandler) applyKeyPacket(p Packet) error {
	var kp keyPacket
	if err := json.Unmarshal(p.Raw, &kp); err != nil {
		return errors.E("actionstream.applyKeyPacket", errors.Syntax, err)
	}
	for i := 0; i+2 < len(kp.SR); i += 3 {
		nodeStr, userStr, keyStr := kp.SR[i], kp.SR[i+1], kp.SR[i+2]
		nh64, err := core.DecodeHandle(nodeStr)
		if err != nil {
			continue
		}
		nh := core.NodeHandle(nh64)
		res, err := keyengine.DecryptNodeKey(h.Crypto, keyStr, h.KeySource.MasterKey(), h.KeySource.RSAPrivateKey())
		if err != nil {
			log.Debug.Printf("actionstream: k-packet key for node %v undecryptable: %v", nh, err)
			continue
		}
		_ = userStr
		n := h.Tree.Node(nh)
		if n == nil {
			continue
		}
		n.ShareKey = res.Key
		h.Tree.PutNode(n)
		keyengine.ApplyKeyWalk(h.Crypto, h.Tree, h.KeySource, nh, h.Rewrite)
		h.markNodeDirty(nh)
	}
	return nil
}

// --- fa: file attribute string mutated ---

type fileAttrPacket struct {
	N  string `json:"n"`
	FA string `json:"fa"`
}

func (h *TreeHandler) applyFileAttr(p Packet) error {
	var fp fileAttrPacket
	if err := json.Unmarshal(p.Raw, &fp); err != nil {
		return errors.E("actionstream.applyFileAttr", errors.Syntax, err)
	}
	nh64, err := core.DecodeHandle(fp.N)
	if err != nil {
		return errors.E("actionstream.applyFileAttr", errors.Syntax, err)
	}
	nh := core.NodeHandle(nh64)
	n := h.Tree.Node(nh)
	if n == nil {
		return errors.E("actionstream.applyFileAttr", nh, errors.NotExist)
	}
	n.Changed |= model.ChangedAttrs
	h.Tree.PutNode(n)
	h.markNodeDirty(nh)
	return nil
}

// --- ua: user attribute version bump ---

type userAttrPacket struct {
	U    string `json:"u"`
	Attr string `json:"ua"`
	Version string `json:"v"`
}

// criticalUserAttrs are the attributes whose version bump is reported to
// App.NotifyKeyModified; applyUserAttr does not fetch any attribute itself.
var criticalUserAttrs = map[string]bool{
	"disable-versions": true, "push-settings": true, "storage-state": true,
	"*keyring": true, "*authring": true, "*authCu255": true, "*authRSA": true,
}

func (h *TreeHandler) applyUserAttr(p Packet) error {
	var up userAttrPacket
	if err := json.Unmarshal(p.Raw, &up); err != nil {
		return errors.E("actionstream.applyUserAttr", errors.Syntax, err)
	}
	uh64, err := core.DecodeHandle(up.U)
	if err != nil {
		return errors.E("actionstream.applyUserAttr", errors.Syntax, err)
	}
	uh := core.UserHandle(uh64)
	u := h.Tree.User(uh)
	if u == nil {
		return nil
	}
	if u.AttrVersions == nil {
		u.AttrVersions = map[string]string{}
	}
	u.AttrVersions[up.Attr] = up.Version
	u.Changed |= model.ChangedAttrs
	h.Tree.PutUser(u)
	h.markUserDirty(uh)
	if criticalUserAttrs[up.Attr] {
		h.App.NotifyKeyModified(uh)
	}
	return nil
}

// --- ipc/opc/upci/upco: pending contact request lifecycle ---

type pcrPacket struct {
	P    string `json:"p"`
	OrgU string `json:"m"`
	TgtU string `json:"u"`
	Msg  string `json:"msg"`
	Ts   int64  `json:"ts"`
	Uts  int64  `json:"uts"`
	Dts  int64  `json:"dts"`
}

func (h *TreeHandler) applyPCR(p Packet) error {
	var pp pcrPacket
	if err := json.Unmarshal(p.Raw, &pp); err != nil {
		return errors.E("actionstream.applyPCR", errors.Syntax, err)
	}
	ph64, err := core.DecodeHandle(pp.P)
	if err != nil {
		return errors.E("actionstream.applyPCR", errors.Syntax, err)
	}
	ph := core.PcrHandle(ph64)

	if p.Action == ActionPCRIncomingUpd || p.Action == ActionPCROutgoingUpd {
		if pp.Dts != 0 {
			h.Tree.DeletePCR(ph)
			return nil
		}
	}
	pcr := h.Tree.PCR(ph)
	if pcr == nil {
		pcr = &model.PCR{Handle: ph, Outgoing: p.Action == ActionPCROutgoing || p.Action == ActionPCROutgoingUpd}
	}
	pcr.OriginEmail = pp.OrgU
	pcr.TargetEmail = pp.TgtU
	pcr.Message = pp.Msg
	if pp.Ts != 0 {
		pcr.Ts = time.Unix(pp.Ts, 0)
	}
	if pp.Uts != 0 {
		pcr.Uts = time.Unix(pp.Uts, 0)
	}
	h.Tree.PutPCR(pcr)
	return nil
}

// --- ph: public-link created/updated/deleted/taken-down/reinstated ---

type publicLinkPacket struct {
	N    string `json:"n"`
	PH   string `json:"ph"`
	Key  string `json:"k"`
	Down int    `json:"down"`
	Del  bool   `json:"d"`
}

func (h *TreeHandler) applyPublicLink(p Packet) error {
	var lp publicLinkPacket
	if err := json.Unmarshal(p.Raw, &lp); err != nil {
		return errors.E("actionstream.applyPublicLink", errors.Syntax, err)
	}
	nh64, err := core.DecodeHandle(lp.N)
	if err != nil {
		return errors.E("actionstream.applyPublicLink", errors.Syntax, err)
	}
	nh := core.NodeHandle(nh64)
	n := h.Tree.Node(nh)
	if n == nil {
		return errors.E("actionstream.applyPublicLink", nh, errors.NotExist)
	}
	if lp.Del {
		n.PublicLink = nil
	} else {
		var ph core.PublicHandle
		if lp.PH != "" {
			if h64, err := core.DecodeHandle(lp.PH); err == nil {
				ph = core.PublicHandle(h64)
			}
		}
		n.PublicLink = &model.PublicLinkDescriptor{
			Handle: ph,
			Key:    []byte(lp.Key),
			Down:   lp.Down != 0,
			Ts:     time.Now(),
		}
	}
	n.Changed |= model.ChangedPublicLink
	h.Tree.PutNode(n)
	h.markNodeDirty(nh)
	return nil
}

// --- se: set-email transitions ---

type setEmailPacket struct {
	U string `json:"u"`
	E string `json:"e"`
}

func (h *TreeHandler) applySetEmail(p Packet) error {
	var sp setEmailPacket
	if err := json.Unmarshal(p.Raw, &sp); err != nil {
		return errors.E("actionstream.applySetEmail", errors.Syntax, err)
	}
	uh64, err := core.DecodeHandle(sp.U)
	if err != nil {
		return errors.E("actionstream.applySetEmail", errors.Syntax, err)
	}
	uh := core.UserHandle(uh64)
	u := h.Tree.User(uh)
	if u == nil {
		return nil
	}
	u.Email = sp.E
	h.Tree.PutUser(u)
	h.markUserDirty(uh)
	return nil
}

func (h *TreeHandler) markNodeDirty(n core.NodeHandle) { h.changedNodes[n] = struct{}{} }
func (h *TreeHandler) markUserDirty(u core.UserHandle) { h.changedUsers[u] = struct{}{} }

// CommitBatch flushes the batch's accumulated node/user changes into one
// DbAccess transaction and notifies the embedder, implementing §4.3's
// durability rule together with scsn.Cursor.Commit (called by Reader
// immediately after this returns).
func (h *TreeHandler) CommitBatch() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.changedNodes) == 0 && len(h.changedUsers) == 0 {
		return nil
	}
	txn, err := h.Db.Begin()
	if err != nil {
		return errors.E("actionstream.CommitBatch", errors.IO, err)
	}

	var dirtyNodes []core.NodeHandle
	for n := range h.changedNodes {
		dirtyNodes = append(dirtyNodes, n)
		if node := h.Tree.Node(n); node != nil {
			if err := txn.Put(core.RecordNode, uint64(n), node.AttrBlob); err != nil {
				txn.Rollback()
				return errors.E("actionstream.CommitBatch", errors.IO, err)
			}
		} else if err := txn.Delete(core.RecordNode, uint64(n)); err != nil {
			txn.Rollback()
			return errors.E("actionstream.CommitBatch", errors.IO, err)
		}
	}
	var dirtyUsers []core.UserHandle
	for u := range h.changedUsers {
		dirtyUsers = append(dirtyUsers, u)
		if user := h.Tree.User(u); user != nil {
			if err := txn.Put(core.RecordUser, uint64(u), []byte(user.Email)); err != nil {
				txn.Rollback()
				return errors.E("actionstream.CommitBatch", errors.IO, err)
			}
		}
	}
	if err := txn.Commit(); err != nil {
		return errors.E("actionstream.CommitBatch", errors.IO, err)
	}

	h.changedNodes = make(map[core.NodeHandle]struct{})
	h.changedUsers = make(map[core.UserHandle]struct{})

	h.App.NotifyNodesUpdated(dirtyNodes)
	h.App.NotifyUsersUpdated(dirtyUsers)
	h.App.NotifyDbCommit()
	return nil
}
