package session

import (
	"cryptdrive.io/core"
	"cryptdrive.io/keyengine"
)

var _ keyengine.KeySource = (*Account)(nil)

// Account is a live, logged-in session: the pieces of §4.8 state that
// keyengine and actionstream need to decrypt node keys and merge shares.
// It satisfies keyengine.KeySource without keyengine importing this
// package, keeping the dependency edge one-directional.
type Account struct {
	SelfHandle   core.UserHandle
	Email        string
	MasterKeyRaw []byte
	Keys         *KeyPair
	Token        *Token
}

func (a *Account) MasterKey() []byte     { return a.MasterKeyRaw }
func (a *Account) RSAPrivateKey() []byte { return a.Keys.RSAPriv }
func (a *Account) Self() core.UserHandle { return a.SelfHandle }
