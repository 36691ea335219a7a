package session

import (
	"cryptdrive.io/core"
	"cryptdrive.io/errors"
)

const (
	sessionKeyLen  = 16
	sidLen         = 27
	plainTokenLen  = sessionKeyLen + sidLen // 43, §4.8
	folderTokenLen = 6 + 6 + 16 + 4 + 12
)

// Token is a decoded session token, produced by DumpSession and consumed
// by RestoreSession, mirroring the `dumpsession()`/`login(dumpsession())`
// roundtrip of §4.8.
type Token struct {
	SessionKey []byte // 16 bytes
	SID        []byte // 27 bytes

	// Folder-link fields, set only when Folder is true.
	Folder      bool
	PublicHandle core.PublicHandle
	RootHandle   core.NodeHandle
	FolderKey    []byte
	WriteAuth    []byte
	AccountAuth  []byte
}

// DumpSession encodes t into the wire format of §4.8: an unversioned
// 43-byte account-session token, or a version-2 folder-link token with
// padding added to disguise which optional fields are present.
func DumpSession(t *Token) ([]byte, error) {
	const op = "session.DumpSession"
	if !t.Folder {
		if len(t.SessionKey) != sessionKeyLen || len(t.SID) != sidLen {
			return nil, errors.E(op, errors.Invalid, errors.Str("session key/SID have the wrong length"))
		}
		out := make([]byte, 0, plainTokenLen)
		out = append(out, t.SessionKey...)
		out = append(out, t.SID...)
		return out, nil
	}

	if len(t.FolderKey) != 16 {
		return nil, errors.E(op, errors.Invalid, errors.Str("folder key must be 16 bytes"))
	}
	out := make([]byte, folderTokenLen+1)
	out[0] = 2
	off := 1
	off += encodeHandleField(out[off:], uint64(t.PublicHandle), 6)
	off += encodeHandleField(out[off:], uint64(t.RootHandle), 6)
	off += copy(out[off:], t.FolderKey)
	off += copy(out[off:4+off], padTo(t.WriteAuth, 4))
	off += copy(out[off:12+off], padTo(t.AccountAuth, 12))
	return out, nil
}

// RestoreSession is the inverse of DumpSession.
func RestoreSession(blob []byte) (*Token, error) {
	const op = "session.RestoreSession"
	switch {
	case len(blob) == plainTokenLen:
		return &Token{
			SessionKey: append([]byte(nil), blob[:sessionKeyLen]...),
			SID:        append([]byte(nil), blob[sessionKeyLen:]...),
		}, nil
	case len(blob) == plainTokenLen+1 && blob[0] == 1:
		return &Token{
			SessionKey: append([]byte(nil), blob[1:1+sessionKeyLen]...),
			SID:        append([]byte(nil), blob[1+sessionKeyLen:]...),
		}, nil
	case len(blob) == folderTokenLen+1 && blob[0] == 2:
		body := blob[1:]
		ph := decodeHandleField(body[0:6])
		root := decodeHandleField(body[6:12])
		key := append([]byte(nil), body[12:28]...)
		writeAuth := trimPadding(body[28:32])
		accountAuth := trimPadding(body[32:44])
		return &Token{
			Folder:       true,
			PublicHandle: core.PublicHandle(ph),
			RootHandle:   core.NodeHandle(root),
			FolderKey:    key,
			WriteAuth:    writeAuth,
			AccountAuth:  accountAuth,
		}, nil
	}
	return nil, errors.E(op, errors.Syntax, errors.Str("unrecognized session token length"))
}

func encodeHandleField(dst []byte, v uint64, n int) int {
	for i := 0; i < n; i++ {
		dst[i] = byte(v >> (8 * uint(i)))
	}
	return n
}

func decodeHandleField(b []byte) uint64 {
	var v uint64
	for i, x := range b {
		v |= uint64(x) << (8 * uint(i))
	}
	return v
}

func padTo(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}

func trimPadding(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return append([]byte(nil), b[:i]...)
}
