// Package store implements the DbAccess/Txn persistence capability of
// §4.9 over an embedded on-disk key-value store: one database per login,
// one long-lived read-write transaction per action-packet batch, committed
// only when the SC cursor also advances (§4.9's crash-consistency
// requirement, enforced by the caller — actionstream.TreeHandler.CommitBatch
// commits the scsn write and the tree writes inside the same Txn).
//
// Grounded on i5heu-ouroboros-db's internal/keyValStore package for the
// "one struct wraps *badger.DB, exposes Read/Write/Iterate" shape; adapted
// from a flat byte-key store to §4.9's (RecordKind, uint64) keyspace by
// prefixing every key with its record kind, which also makes Iterate a
// single prefix scan.
package store

import (
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"

	"cryptdrive.io/core"
	"cryptdrive.io/errors"
)

// DB is a per-login cache database, one instance per §4.9's "one cache
// database per login (sid-derived name)".
type DB struct {
	badgerDB *badger.DB
}

var _ core.DbAccess = (*DB)(nil)

// Open opens (creating if absent) the cache database at path.
func Open(path string) (*DB, error) {
	const op = "store.Open"
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return &DB{badgerDB: bdb}, nil
}

// Close flushes and closes the underlying database.
func (d *DB) Close() error {
	const op = "store.Close"
	if err := d.badgerDB.Close(); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// Begin starts a new read-write transaction.
func (d *DB) Begin() (core.Txn, error) {
	return &txn{badgerTxn: d.badgerDB.NewTransaction(true)}, nil
}

// recordKey packs (kind, key) into badger's flat byte-key space: one
// prefix byte per RecordKind followed by the big-endian uint64 key, so
// Iterate(kind, ...) is a single prefix scan.
func recordKey(kind core.RecordKind, key uint64) []byte {
	b := make([]byte, 9)
	b[0] = byte(kind)
	binary.BigEndian.PutUint64(b[1:], key)
	return b
}

type txn struct {
	badgerTxn *badger.Txn
}

var _ core.Txn = (*txn)(nil)

func (t *txn) Put(kind core.RecordKind, key uint64, value []byte) error {
	const op = "store.Txn.Put"
	if err := t.badgerTxn.Set(recordKey(kind, key), value); err != nil {
		return errors.E(op, err)
	}
	return nil
}

func (t *txn) Get(kind core.RecordKind, key uint64) ([]byte, error) {
	const op = "store.Txn.Get"
	item, err := t.badgerTxn.Get(recordKey(kind, key))
	if err == badger.ErrKeyNotFound {
		return nil, errors.E(op, errors.NotExist, err)
	}
	if err != nil {
		return nil, errors.E(op, err)
	}
	return item.ValueCopy(nil)
}

func (t *txn) Delete(kind core.RecordKind, key uint64) error {
	const op = "store.Txn.Delete"
	if err := t.badgerTxn.Delete(recordKey(kind, key)); err != nil {
		return errors.E(op, err)
	}
	return nil
}

func (t *txn) Iterate(kind core.RecordKind, fn func(key uint64, value []byte) error) error {
	prefix := []byte{byte(kind)}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.badgerTxn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		k := item.KeyCopy(nil)
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(binary.BigEndian.Uint64(k[1:]), v); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) Commit() error {
	const op = "store.Txn.Commit"
	if err := t.badgerTxn.Commit(); err != nil {
		return errors.E(op, err)
	}
	return nil
}

func (t *txn) Rollback() error {
	t.badgerTxn.Discard()
	return nil
}
