// Package scsn implements the server-client sequence number cursor (§3.1
// glossary, C2): an opaque value marking a point in the action-packet
// stream, serializable for persistence in DbAccess.
//
// Modeled on the shape of the teacher's small comparable value types (the
// now-deleted upspin.Endpoint: a plain struct with string (de)serialization
// and no behavior beyond equality), since no example repo carries a
// direct opaque-cursor analogue.
package scsn

// SCSN is an opaque server-client cursor. The engine never interprets its
// contents; it only stores, compares and round-trips it.
type SCSN struct {
	value string
}

// Zero is the cursor value meaning "no cursor yet" (fresh account, or a
// cache that has never completed a fetchnodes).
var Zero = SCSN{}

// New wraps a raw cursor value received from the server.
func New(raw string) SCSN {
	return SCSN{value: raw}
}

// String returns the raw cursor value for use in the wsc/cs query strings.
func (s SCSN) String() string {
	return s.value
}

// IsZero reports whether s is the zero cursor.
func (s SCSN) IsZero() bool {
	return s.value == ""
}

// Equal reports whether two cursors are the same point in the stream.
func (s SCSN) Equal(o SCSN) bool {
	return s.value == o.value
}

// Marshal serializes s for the CACHEDSCSN record (§4.9).
func (s SCSN) Marshal() []byte {
	return []byte(s.value)
}

// Unmarshal deserializes a CACHEDSCSN record.
func Unmarshal(b []byte) SCSN {
	return SCSN{value: string(b)}
}

// Cursor tracks the durable and in-flight cursor pair used by §4.3's
// durability rule: cachedscsn only advances after a commit, while scsn
// itself advances as soon as a batch's EOO is reached (before commit).
type Cursor struct {
	current SCSN // scsn: advanced as soon as a batch is parsed
	cached  SCSN // cachedscsn: advanced only after the DB transaction commits
}

// NewCursor creates a Cursor initialized from a persisted cachedscsn.
func NewCursor(cached SCSN) *Cursor {
	return &Cursor{current: cached, cached: cached}
}

// Current returns scsn, the cursor to use when opening the next wsc request.
func (c *Cursor) Current() SCSN { return c.current }

// Cached returns cachedscsn, the durable cursor.
func (c *Cursor) Cached() SCSN { return c.cached }

// Advance moves scsn forward as a batch is parsed, ahead of commit.
func (c *Cursor) Advance(next SCSN) { c.current = next }

// Commit moves cachedscsn up to scsn, called once the DB transaction that
// carries the corresponding tree mutations has committed (§4.3 durability).
func (c *Cursor) Commit() { c.cached = c.current }

// Rewind resets scsn back to the last committed cursor, used when a fetch
// must be retried from the durable point (e.g. after ETOOMANY, §4.3).
func (c *Cursor) Rewind() { c.current = c.cached }

// Ready reports whether a cursor value has been established (a fetchnodes
// has completed at least once), gating the SC reader's Idle state (§4.3).
func (c *Cursor) Ready() bool { return !c.cached.IsZero() || !c.current.IsZero() }
