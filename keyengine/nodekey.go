// Package keyengine decrypts node keys, merges incoming share keys, and
// maintains contact-key authrings (§4.4, C5). It is grounded on the
// teacher's now-deleted factotum package for the general shape of "a
// keyed map of key material with a current pointer" (carried forward here
// as the RewriteQueue and Authring types) and on pack/ee/ee.go's node-key
// decryption logic for the symmetric-vs-RSA threshold policy of §4.4.1,
// reworked for this spec's AES-ECB/RSA-raw algorithm pair instead of
// upspin's packing scheme.
package keyengine

import (
	"encoding/base64"

	"cryptdrive.io/core"
	"cryptdrive.io/errors"
)

// rsaThresholdB64Len is the base64-encoded length above which a node-key
// blob is RSA-wrapped rather than symmetric: ⌈4·32/3⌉+1 (§4.4.1).
const rsaThresholdB64Len = 44

// nodeKeyEncoding is the wire alphabet for node-key blobs, matching the
// URL-safe unpadded alphabet used elsewhere on the wire (§3.1).
var nodeKeyEncoding = base64.RawURLEncoding

// NodeKeyResult is the outcome of decrypting one node key.
type NodeKeyResult struct {
	Key []byte
	// RewriteQueued is true if the key arrived RSA-wrapped and should be
	// queued for a follow-up command that replaces it with a symmetric
	// key (§4.4.1's server-CPU-saving rewrite).
	RewriteQueued bool
}

// DecryptNodeKey decodes and decrypts one node-key blob per §4.4.1's
// policy: base64 strings longer than rsaThresholdB64Len are RSA-wrapped
// and decrypted with the account's RSA private key; shorter ones are
// AES-ECB blobs decrypted with symKey (the owning share key or the
// account master key).
//
// A decrypt failure here is not fatal to the caller; §4.4.1 specifies the
// node should be marked no-key and revisited by ApplyKeyWalk once an
// ancestor share key arrives. Callers are expected to log and continue,
// not abort processing.
func DecryptNodeKey(crypto core.Crypto, encoded string, symKey, rsaPrivDER []byte) (*NodeKeyResult, error) {
	const op = "keyengine.DecryptNodeKey"
	raw, err := nodeKeyEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.E(op, errors.Syntax, err)
	}

	if len(encoded) > rsaThresholdB64Len {
		if len(rsaPrivDER) == 0 {
			return nil, errors.E(op, errors.CryptoKind, errors.Str("no RSA private key available"))
		}
		pt, err := crypto.RSADecrypt(rsaPrivDER, raw)
		if err != nil {
			return nil, errors.E(op, errors.CryptoKind, err)
		}
		return &NodeKeyResult{Key: pt, RewriteQueued: true}, nil
	}

	if len(symKey) == 0 {
		return nil, errors.E(op, errors.CryptoKind, errors.Str("no symmetric key available"))
	}
	pt, err := crypto.AESECBDecrypt(symKey, raw)
	if err != nil {
		return nil, errors.E(op, errors.CryptoKind, err)
	}
	return &NodeKeyResult{Key: pt}, nil
}

// RewriteQueue accumulates the handles of nodes whose key arrived
// RSA-wrapped, for the follow-up "replace with symmetric key" command of
// §4.4.1. It is a plain FIFO of distinct handles, emptied by Drain.
type RewriteQueue struct {
	items []core.NodeHandle
	seen  map[core.NodeHandle]struct{}
}

// NewRewriteQueue returns an empty queue.
func NewRewriteQueue() *RewriteQueue {
	return &RewriteQueue{seen: make(map[core.NodeHandle]struct{})}
}

// Enqueue adds h if it is not already queued.
func (q *RewriteQueue) Enqueue(h core.NodeHandle) {
	if _, ok := q.seen[h]; ok {
		return
	}
	q.seen[h] = struct{}{}
	q.items = append(q.items, h)
}

// Drain removes and returns every queued handle.
func (q *RewriteQueue) Drain() []core.NodeHandle {
	out := q.items
	q.items = nil
	q.seen = make(map[core.NodeHandle]struct{})
	return out
}

// Len reports the number of handles currently queued.
func (q *RewriteQueue) Len() int { return len(q.items) }
