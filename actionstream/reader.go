// Package actionstream implements the SC (server-client) long-poll
// reader and action-packet dispatcher of §4.3 (C4): the streaming parser
// that applies typed mutations to model.Tree as the server pushes them.
//
// Grounded on the teacher's now-deleted dir/dircache/log.go for the
// general shape of a replayable, resumable event log with its own
// backoff and refresh state machine; the packet taxonomy and durability
// rule are this spec's own (§4.3), since upspin's directory cache has no
// server-push channel to model.
package actionstream

import (
	"context"
	"encoding/json"
	"io"

	"cryptdrive.io/clock"
	"cryptdrive.io/core"
	"cryptdrive.io/errors"
	"cryptdrive.io/log"
	"cryptdrive.io/scsn"
)

// State is the SC reader's state machine position (§4.3).
type State uint8

const (
	Idle State = iota
	InFlight
	Parsing
	UpToDate
)

// SCREQUESTTIMEOUT_DS is the SC channel's own network timeout (§5):
// on expiry, abort and re-arm without discarding scsn.
const SCREQUESTTIMEOUT_DS = clock.DS(2400) // 240s

// Handler applies one decoded packet's effect to the tree/model layer.
// TreeHandler in handler.go is the implementation; Reader only owns the
// stream state machine and dispatch loop.
type Handler interface {
	// Apply processes one packet. yield reports whether the packet is
	// one after which the SC parser yields to syncdown (§4.3; TreeHandler
	// reports true for every u/t/d packet). Reader.Poll ignores yield and
	// applies the whole batch without pausing.
	Apply(p Packet) (yield bool, err error)
	// CommitBatch is called once per EOO with ir:0, after every packet
	// in the batch has been applied, to commit the queued DB writes in
	// one transaction (§4.3 durability).
	CommitBatch() error
}

// Reader drives the wsc long-poll loop and hands decoded packets to a
// Handler.
type Reader struct {
	apiURL string
	auth   func() string
	httpIO core.HttpIO
	clock  *clock.Clock
	backoff *clock.Backoff

	cursor  *scsn.Cursor
	handler Handler

	state          State
	ownSessionID   string
	inBulkFetch    bool
	stateCurrent   bool
	notifyURL      string // one-shot scnotifyurl override
	lastDataAt     clock.DS
}

// New returns a Reader for the given cursor and handler. ownSessionID is
// compared against each packet's `i` field to filter out our own
// self-originated mutations, except during a bulk fetch (§4.3).
func New(apiURL string, auth func() string, httpIO core.HttpIO, c *clock.Clock, backoff *clock.Backoff, cursor *scsn.Cursor, handler Handler, ownSessionID string) *Reader {
	return &Reader{
		apiURL:       apiURL,
		auth:         auth,
		httpIO:       httpIO,
		clock:        c,
		backoff:      backoff,
		cursor:       cursor,
		handler:      handler,
		ownSessionID: ownSessionID,
	}
}

// SetBulkFetch toggles whether the reader is applying its own
// self-originated packets during an in-progress fetchnodes, per §4.3's
// exception to the `i`-field self-filter.
func (r *Reader) SetBulkFetch(v bool) { r.inBulkFetch = v }

// StateCurrent reports whether the tree has caught up to the live SC
// stream at least once (§4.3's UpToDate transition).
func (r *Reader) StateCurrent() bool { return r.stateCurrent }

func (r *Reader) buildURL() string {
	if r.notifyURL != "" {
		u := r.notifyURL
		r.notifyURL = ""
		return u
	}
	return r.apiURL + "wsc?sn=" + r.cursor.Current().String() + r.auth()
}

// scEnvelope mirrors the wire shape `{"w":…,"ir":0|1,"sn":…,"a":[...]}`.
type scEnvelope struct {
	W  string            `json:"w"`
	IR int               `json:"ir"`
	SN string            `json:"sn"`
	A  []json.RawMessage `json:"a"`
}

// Poll issues one wsc request and processes its packets. It should be
// called by the main loop only while State()==Idle and the cursor is
// ready and the backoff timer is armed (§4.3).
func (r *Reader) Poll(ctx context.Context) error {
	const op = "actionstream.Poll"

	r.state = InFlight
	resp, status, err := r.httpIO.Post(ctx, r.buildURL(), nil)
	if err != nil {
		r.state = Idle
		r.backoff.Backoff()
		return errors.E(op, errors.Transport, err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		r.state = Idle
		r.backoff.Backoff()
		return errors.E(op, errors.Transport, err)
	}
	r.lastDataAt = r.clock.Now()

	if status != 200 {
		r.state = Idle
		r.backoff.Backoff()
		return errors.E(op, errors.Transport, errors.Str("non-200 SC response"))
	}

	// Content length 1 body "0" is a keep-alive.
	if len(body) == 1 && body[0] == '0' {
		r.state = Idle
		r.backoff.Reset()
		return nil
	}

	r.state = Parsing
	var env scEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		// ETOOMANY and other server-side overload signals arrive as a
		// bare error scalar rather than an envelope.
		var code int
		if json.Unmarshal(body, &code) == nil {
			return r.handleOverload(code)
		}
		r.state = Idle
		return errors.E(op, errors.Syntax, err)
	}

	if err := r.applyPackets(env.A); err != nil {
		r.state = Idle
		return err
	}

	if env.SN != "" {
		r.cursor.Advance(scsn.New(env.SN))
	}

	if env.IR == 0 {
		if err := r.handler.CommitBatch(); err != nil {
			return errors.E(op, errors.IO, err)
		}
		r.cursor.Commit()
		if !r.stateCurrent {
			r.stateCurrent = true
			log.Info.Printf("actionstream: state current at scsn %s", r.cursor.Current())
		}
		r.state = UpToDate
	} else {
		r.state = Idle
	}
	r.backoff.Reset()
	return nil
}

func (r *Reader) applyPackets(raw []json.RawMessage) error {
	for _, m := range raw {
		p, err := decodePacket(m)
		if err != nil {
			log.Debug.Printf("actionstream: skipping unparseable packet: %v", err)
			continue
		}
		if p.OriginSession != "" && p.OriginSession == r.ownSessionID && !r.inBulkFetch {
			continue
		}
		if _, err := r.handler.Apply(p); err != nil {
			log.Error.Printf("actionstream: packet %s failed: %v", p.Action, err)
		}
	}
	return nil
}

// ETOOMANY is the server code for "pending updates exceeded server
// buffer" (§4.3's Overload handling).
const ETOOMANY = -6

func (r *Reader) handleOverload(code int) error {
	if code != ETOOMANY {
		r.state = Idle
		r.backoff.Backoff()
		return errors.E("actionstream.handleOverload", errors.Throttling, errors.Str("unexpected SC scalar error"))
	}
	log.Info.Printf("actionstream: ETOOMANY, restarting from a fresh fetchnodes")
	r.state = Idle
	r.stateCurrent = false
	return errors.E("actionstream.handleOverload", errors.Throttling, errors.Str("ETOOMANY: caller must disable syncs and re-fetchnodes"))
}

// TimedOut reports whether the in-flight SC request has exceeded
// SCREQUESTTIMEOUT_DS without producing data (§5).
func (r *Reader) TimedOut() bool {
	if r.state != InFlight && r.state != Parsing {
		return false
	}
	return r.clock.Now()-r.lastDataAt > SCREQUESTTIMEOUT_DS
}

// Abort resets the reader to Idle without discarding the cursor, per
// §5's SC timeout contract ("abort and re-arm without discarding scsn").
func (r *Reader) Abort() {
	r.state = Idle
	r.backoff.Backoff()
}

// State returns the reader's current position in the state machine.
func (r *Reader) State() State { return r.state }
