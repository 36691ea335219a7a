package store

import (
	"sync"

	"cryptdrive.io/core"
	"cryptdrive.io/errors"
)

// MemDB is an in-memory core.DbAccess, used by tests and by embedders that
// don't need cross-restart persistence (e.g. a folder-link-only session
// that never writes a real cache).
type MemDB struct {
	mu   sync.Mutex
	data map[memKey][]byte
}

var _ core.DbAccess = (*MemDB)(nil)

type memKey struct {
	kind core.RecordKind
	key  uint64
}

// NewMemDB returns an empty in-memory database.
func NewMemDB() *MemDB {
	return &MemDB{data: make(map[memKey][]byte)}
}

// Begin returns a transaction that reads and writes MemDB's shared map
// directly (no isolation or two-phase commit — adequate for a single
// cooperative event loop, per §5's single-threaded scheduling model).
func (d *MemDB) Begin() (core.Txn, error) {
	return &memTxn{db: d}, nil
}

type memTxn struct {
	db *MemDB
}

var _ core.Txn = (*memTxn)(nil)

func (t *memTxn) Put(kind core.RecordKind, key uint64, value []byte) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.data[memKey{kind, key}] = append([]byte(nil), value...)
	return nil
}

func (t *memTxn) Get(kind core.RecordKind, key uint64) ([]byte, error) {
	const op = "store.MemDB.Get"
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	v, ok := t.db.data[memKey{kind, key}]
	if !ok {
		return nil, errors.E(op, errors.NotExist, errors.Str("record not found"))
	}
	return v, nil
}

func (t *memTxn) Delete(kind core.RecordKind, key uint64) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	delete(t.db.data, memKey{kind, key})
	return nil
}

func (t *memTxn) Iterate(kind core.RecordKind, fn func(key uint64, value []byte) error) error {
	t.db.mu.Lock()
	snapshot := make(map[uint64][]byte)
	for k, v := range t.db.data {
		if k.kind == kind {
			snapshot[k.key] = v
		}
	}
	t.db.mu.Unlock()

	for k, v := range snapshot {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTxn) Commit() error   { return nil }
func (t *memTxn) Rollback() error { return nil }
