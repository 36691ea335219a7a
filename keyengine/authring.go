package keyengine

import (
	"sync"

	"cryptdrive.io/core"
	"cryptdrive.io/errors"
)

// AuthMethod records how a contact key's fingerprint became trusted
// (§4.4.3).
type AuthMethod uint8

const (
	Seen AuthMethod = iota
	Fingerprint
	Signature
)

// AuthringKind selects which of the three tracked attribute types an
// authring entry belongs to (§4.4.3).
type AuthringKind uint8

const (
	AuthringEd25519 AuthringKind = iota // ATTR_AUTHRING
	AuthringX25519                      // ATTR_AUTHCU255
	AuthringRSA                         // ATTR_AUTHRSA
)

type authEntry struct {
	fingerprint [20]byte
	method      AuthMethod
}

// Authring tracks, per key type, a map of user to (fingerprint, method).
// The zero value is not usable; use NewAuthring.
type Authring struct {
	mu      sync.Mutex
	entries map[AuthringKind]map[core.UserHandle]authEntry

	// staging holds updates collected during a fresh-session bulk load
	// (§4.4.3's "temporary authring"), flushed as one attribute update
	// once every contact has been resolved.
	staging     map[AuthringKind]map[core.UserHandle]authEntry
	inBulkLoad  bool
}

// NewAuthring returns an empty authring set.
func NewAuthring() *Authring {
	return &Authring{
		entries: map[AuthringKind]map[core.UserHandle]authEntry{
			AuthringEd25519: {}, AuthringX25519: {}, AuthringRSA: {},
		},
	}
}

// BeginBulkLoad starts collecting updates into the staging authring
// instead of applying them immediately, used while loading every
// contact's key during a fresh session (§4.4.3).
func (a *Authring) BeginBulkLoad() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inBulkLoad = true
	a.staging = map[AuthringKind]map[core.UserHandle]authEntry{
		AuthringEd25519: {}, AuthringX25519: {}, AuthringRSA: {},
	}
}

// EndBulkLoad merges the staged authring into the live one and returns
// whether any change occurred, so the caller can decide whether to push
// a single attribute update (§4.4.3).
func (a *Authring) EndBulkLoad() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	changed := false
	for kind, m := range a.staging {
		for user, e := range m {
			if cur, ok := a.entries[kind][user]; !ok || cur != e {
				a.entries[kind][user] = e
				changed = true
			}
		}
	}
	a.inBulkLoad = false
	a.staging = nil
	return changed
}

// Observe records a first-seen or re-seen contact key, implementing the
// transition table of §4.4.3:
//   - unseen key: added as Seen.
//   - matching fingerprint: upgraded to Signature if verified, otherwise
//     unchanged.
//   - mismatched fingerprint on a tracked key: rejected, EKEY.
//
// verified indicates the caller has already performed the signature
// check for signed key types (Ed25519); when true a first observation is
// recorded as Signature instead of Seen.
func (a *Authring) Observe(kind AuthringKind, user core.UserHandle, fingerprint [20]byte, verified bool) error {
	const op = "keyengine.Authring.Observe"
	a.mu.Lock()
	defer a.mu.Unlock()

	target := a.entries[kind]
	if a.inBulkLoad {
		target = a.staging[kind]
	}

	existing, ok := target[user]
	if !ok {
		method := Seen
		if verified {
			method = Signature
		}
		target[user] = authEntry{fingerprint: fingerprint, method: method}
		return nil
	}
	if existing.fingerprint != fingerprint {
		return errors.E(op, user, errors.CryptoKind, errors.Str("EKEY: fingerprint mismatch on tracked key"))
	}
	if verified && existing.method != Signature {
		existing.method = Signature
		target[user] = existing
	}
	return nil
}

// Verify upgrades a Seen key to Fingerprint after an explicit user
// "verify credentials" action (§4.4.3).
func (a *Authring) Verify(kind AuthringKind, user core.UserHandle) error {
	const op = "keyengine.Authring.Verify"
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[kind][user]
	if !ok {
		return errors.E(op, user, errors.NotExist)
	}
	if e.method == Seen {
		e.method = Fingerprint
		a.entries[kind][user] = e
	}
	return nil
}

// MethodOf reports the trust method recorded for user's key of the given
// kind, and whether an entry exists at all.
func (a *Authring) MethodOf(kind AuthringKind, user core.UserHandle) (AuthMethod, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[kind][user]
	return e.method, ok
}
