// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"context"
	"io"
	"time"
)

// HttpIO is the transport capability the engine consumes to speak to the
// API server. §1 lists HTTP/DNS/TLS as external collaborators; this is the
// seam. Implementations enforce their own connection pooling (§5).
type HttpIO interface {
	// Post issues a POST of body to url and returns the response body
	// reader, HTTP status code, and error. The caller must Close the
	// returned reader.
	Post(ctx context.Context, url string, body io.Reader) (io.ReadCloser, int, error)

	// Get issues a GET, used by transfer/direct-read chunk fetches and
	// range reads (the Range header is set by the caller via headers).
	Get(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, int, error)

	// Ready returns a channel that becomes readable when the transport
	// layer has data available for a previously issued request, used by
	// the main loop's composite Wait (§5).
	Ready() <-chan struct{}
}

// FileSystemAccess is the local filesystem capability: path canonicalization,
// file open/read/write, and directory change notification (§1).
type FileSystemAccess interface {
	// Open opens name for reading or writing depending on write.
	// Implementations may open synchronously or return a handle whose
	// readiness is polled (§9 Design Notes, "async-open of files").
	Open(name string, write bool) (File, error)

	// Stat returns size and modification time, or an error satisfying
	// errors.Match(errors.E(errors.NotExist), err) if name is absent.
	Stat(name string) (size int64, mtime time.Time, err error)

	// Mkdir creates name and any missing parents.
	Mkdir(name string) error

	// Rename moves oldname to newname, replacing newname if it exists
	// and is of a compatible type.
	Rename(oldname, newname string) error

	// Remove deletes name (file) or an empty directory.
	Remove(name string) error

	// ReadDir lists the immediate children of name.
	ReadDir(name string) ([]DirEntry, error)

	// Notifications returns a channel of filesystem change events for
	// paths under root, feeding the sync engine's DIREVENTS queue
	// (§4.7.3).
	Notifications(root string) (<-chan FSEvent, error)

	// FingerprintVolume returns a fingerprint of the volume/mount
	// containing path, used to populate Sync.fsfp (§4.7.3) and detect
	// remounts.
	FingerprintVolume(path string) (string, error)

	// PathValid reports whether name is a legal path on the underlying
	// OS/filesystem and whether it collides with a reserved token
	// (§4.7.4 NAME_RESERVED).
	PathValid(name string) (reserved bool, err error)
}

// File is a capability-returned open file handle.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Truncate(size int64) error
}

// DirEntry is one entry returned by FileSystemAccess.ReadDir.
type DirEntry struct {
	Name  string
	IsDir bool
	Size  int64
	Mtime time.Time
}

// FSEvent is a single filesystem change notification.
type FSEvent struct {
	Path string
	Kind FSEventKind
}

// FSEventKind classifies a filesystem notification.
type FSEventKind uint8

const (
	FSCreated FSEventKind = iota
	FSModified
	FSRemoved
	FSRenamedFrom
	FSRenamedTo
	FSScanError
)

// RecordKind identifies the logical record category stored via DbAccess
// (§4.9): CACHEDSCSN, CACHEDNODE, CACHEDUSER, CACHEDPCR, CACHEDCHAT,
// CACHEDSTATUS, CACHEDTRANSFER, CACHEDFILE.
type RecordKind uint8

const (
	RecordSCSN RecordKind = iota
	RecordNode
	RecordUser
	RecordPCR
	RecordChat
	RecordStatus
	RecordTransfer
	RecordFile
)

// DbAccess is the persistent cache capability: a keyed record store
// exposing ACID transactions over logical record categories (§1, §4.9).
type DbAccess interface {
	// Begin starts a transaction. All writes within it become visible
	// together on Commit, matching §4.9's crash-consistency requirement
	// (scsn advance and tree writes commit atomically).
	Begin() (Txn, error)
}

// Txn is a single ACID transaction over a DbAccess store.
type Txn interface {
	Put(kind RecordKind, key uint64, value []byte) error
	Get(kind RecordKind, key uint64) ([]byte, error)
	Delete(kind RecordKind, key uint64) error
	// Iterate calls fn for every key in kind, in unspecified order,
	// matching §4.9's "late-binding of parent pointers" resume pattern.
	Iterate(kind RecordKind, fn func(key uint64, value []byte) error) error
	Commit() error
	Rollback() error
}

// Crypto is the cryptographic-primitives capability (§1): AES-ECB/CBC/CTR,
// RSA, Ed25519, X25519, SHA-256/512, PBKDF2, HMAC. The default
// implementation lives in package cryptoimpl.
type Crypto interface {
	AESECBEncrypt(key, plaintext []byte) ([]byte, error)
	AESECBDecrypt(key, ciphertext []byte) ([]byte, error)
	AESCBCEncrypt(key, iv, plaintext []byte) ([]byte, error)
	AESCBCDecrypt(key, iv, ciphertext []byte) ([]byte, error)
	AESCTR(key, iv []byte, data []byte) ([]byte, error)

	RSADecrypt(privateKey []byte, ciphertext []byte) ([]byte, error)
	RSAEncrypt(publicKey []byte, plaintext []byte) ([]byte, error)

	Ed25519Sign(privateKey, message []byte) ([]byte, error)
	Ed25519Verify(publicKey, message, sig []byte) bool

	X25519(privateKey, peerPublicKey []byte) ([]byte, error)

	SHA256(data []byte) [32]byte
	SHA512(data []byte) [64]byte
	HMACSHA256(key, data []byte) []byte

	PBKDF2HMACSHA512(password, salt []byte, iterations, keyLen int) []byte

	RandomBytes(n int) []byte
}

// GfxProc is the image/media thumbnailer capability (§1).
type GfxProc interface {
	// Thumbnails returns a set of file-attribute payloads (thumbnail,
	// preview, ...) for the given local file, or an empty slice if the
	// file is not an image/video type it recognizes.
	Thumbnails(localPath string) ([]FileAttribute, error)
}

// FileAttribute is one file-attribute payload attached to a node (§4.5.2's
// "minfa" file attributes).
type FileAttribute struct {
	Type    FileAttributeType
	Payload []byte
}

// FileAttributeType enumerates recognized file-attribute kinds.
type FileAttributeType uint8

const (
	FAThumbnail FileAttributeType = iota
	FAPreview
)

// PRNG is the process PRNG capability injected into every subsystem (§5).
type PRNG interface {
	Intn(n int) int
	Int63() int64
	Float64() float64
}

// Telemetry is a minimal event sink used by the key engine (§4.4.2 event
// 99428, §4.4.3 key-modified telemetry) and elsewhere. The default is a
// no-op; tests use a counting fake.
type Telemetry interface {
	Event(name string, fields map[string]interface{})
}

// NoopTelemetry discards every event.
type NoopTelemetry struct{}

// Event implements Telemetry.
func (NoopTelemetry) Event(string, map[string]interface{}) {}

// AppCallbacks is the thin embedder-facing notification surface (§1's
// MegaApp). The engine calls these once per notifypurge at the end of a
// tick (§5).
type AppCallbacks interface {
	NotifyNodesUpdated(handles []NodeHandle)
	NotifyUsersUpdated(handles []UserHandle)
	NotifyDbCommit()
	NotifyTransferUpdate(upload UploadHandle)
	NotifyKeyModified(user UserHandle)
	NotifyStorageStateChanged()
	NotifySyncStateChanged(localRoot string)
	NotifyNameAnomaly(path string, kind NameAnomalyKind)
	NotifyReload()
}

// NameAnomalyKind enumerates the filename anomalies of §4.7.4.
type NameAnomalyKind uint8

const (
	NameMismatch NameAnomalyKind = iota
	NameReserved
)
