package keyengine

import (
	"cryptdrive.io/core"
	"cryptdrive.io/errors"
	"cryptdrive.io/log"
	"cryptdrive.io/model"
)

// KeySource resolves the symmetric key material available for decrypting
// a node's key: the account master key, or an ancestor's share key found
// by walking up the tree. It abstracts the session's key store so
// keyengine does not import session directly.
type KeySource interface {
	MasterKey() []byte
	RSAPrivateKey() []byte
	// Self returns the logged-in account's own user handle, used to
	// distinguish an outgoing share addressed to ourselves (an inshare
	// from the peer's perspective) from a genuine outbound share.
	Self() core.UserHandle
}

// ApplyKeyWalk retries decryption of node (and, on success, every
// no-key descendant) using the best available key: the nearest ancestor's
// ShareKey (or an inshare ancestor's Key), found by walking up the parent
// chain starting at the node's parent, or else the account master key;
// the RSA private key is passed along for RSA-wrapped blobs (§4.4.1's
// "apply-key walk").
//
// It returns the number of nodes newly decrypted. Failures are logged,
// not returned, matching §4.4.1's "failure to decrypt is a warning, not
// fatal".
func ApplyKeyWalk(crypto core.Crypto, tree *model.Tree, ks KeySource, root core.NodeHandle, queue *RewriteQueue) int {
	n := tree.Node(root)
	if n == nil {
		return 0
	}
	decrypted := 0
	if n.NoKey {
		if tryDecryptNode(crypto, tree, ks, n, queue) {
			decrypted++
		}
	}
	for _, child := range tree.Children(root) {
		decrypted += ApplyKeyWalk(crypto, tree, ks, child, queue)
	}
	return decrypted
}

func tryDecryptNode(crypto core.Crypto, tree *model.Tree, ks KeySource, n *model.Node, queue *RewriteQueue) bool {
	sym := ancestorShareKey(tree, n.Parent)
	if sym == nil {
		sym = ks.MasterKey()
	}
	res, err := decryptStoredKey(crypto, n, sym, ks.RSAPrivateKey())
	if err != nil {
		log.Debug.Printf("keyengine: node %v still undecryptable: %v", n.Handle, err)
		return false
	}
	n.Key = res.Key
	n.NoKey = false
	if res.RewriteQueued && queue != nil {
		queue.Enqueue(n.Handle)
	}
	return true
}

// decryptStoredKey re-runs DecryptNodeKey against the raw key blob
// already stored on the node (set when the node arrived with an
// undecryptable key, §4.4.1).
func decryptStoredKey(crypto core.Crypto, n *model.Node, symKey, rsaPrivDER []byte) (*NodeKeyResult, error) {
	const op = "keyengine.decryptStoredKey"
	if n.RawKeyBlob == "" {
		return nil, errors.E(op, errors.Invalid, errors.Str("node has no stored raw key blob"))
	}
	return DecryptNodeKey(crypto, n.RawKeyBlob, symKey, rsaPrivDER)
}

func ancestorShareKey(tree *model.Tree, parent core.NodeHandle) []byte {
	cur := parent
	for cur != core.UndefinedNode {
		n := tree.Node(cur)
		if n == nil {
			return nil
		}
		if len(n.ShareKey) > 0 {
			return n.ShareKey
		}
		if n.InShare != nil {
			return n.Key
		}
		cur = n.Parent
	}
	return nil
}
