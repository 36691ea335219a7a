// Package rpcbatch implements the command/response RPC dispatcher of §4.2
// (C3): it batches queued commands into one in-flight `cs` request,
// demultiplexes the JSON response array back to per-command completions,
// and maps transport/server errors onto the backoff and session-state
// machinery.
//
// Grounded on the teacher's rpc/client.go (now deleted) for the general
// "one in-flight RPC, retry with backoff, reqid dedup" shape, generalized
// from upspin's protobuf-over-gRPC transport to this spec's batched-JSON-
// over-HTTP wire format (§6.1) and driven by the injected core.HttpIO
// capability rather than a concrete transport package.
package rpcbatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"sync"

	"cryptdrive.io/clock"
	"cryptdrive.io/core"
	"cryptdrive.io/errors"
	"cryptdrive.io/log"
)

// REQUEST_TIMEOUT_DS is how long the dispatcher waits for the in-flight
// request to produce data before issuing a lock probe (§4.2).
const REQUEST_TIMEOUT_DS = clock.DS(300) // 30s

// Command is one queued request contributing JSON to the next batch.
type Command struct {
	// Body is the already-marshaled JSON value for this command, e.g.
	// `{"a":"g","g":1,"n":"..."}`.
	Body json.RawMessage
	// ClientTag correlates this command with the application that
	// issued it, echoed back with the completion.
	ClientTag string
	// CacheableWithFetchNodes marks commands whose response belongs to
	// a bulk tree fetch, so the SC reader knows not to treat them as
	// ordinary streamed mutations (§4.2).
	CacheableWithFetchNodes bool
	// Complete is invoked exactly once with this command's response
	// element (which may itself be a JSON number encoding an error) or
	// with a transport-level error if the whole batch failed.
	Complete func(result json.RawMessage, err error)
}

// State is the dispatcher's connection lifecycle state (§4.2).
type State uint8

const (
	StateIdle State = iota
	StateInFlight
	StateSessionDead // ESID
	StateBlocked     // EBLOCKED
)

// Dispatcher holds the pending command queue and issues at most one
// in-flight `cs` request at a time (§4.2).
type Dispatcher struct {
	mu sync.Mutex

	apiURL  string
	appKey  string
	auth    func() string // returns "&sid=..." or "" pre-login
	lang    string
	httpIO  core.HttpIO

	reqID   uint64
	pending []*Command
	inFlt   []*Command

	state   State
	backoff *clock.Backoff

	lastDataAt clock.DS
	clockSrc   *clock.Clock

	badHosts map[string]struct{}
}

// New returns a Dispatcher for apiURL/appKey, using httpIO for transport
// and backoff/clockSrc for the exponential retry schedule.
func New(apiURL, appKey string, auth func() string, httpIO core.HttpIO, backoff *clock.Backoff, clockSrc *clock.Clock) *Dispatcher {
	return &Dispatcher{
		apiURL:   apiURL,
		appKey:   appKey,
		auth:     auth,
		httpIO:   httpIO,
		backoff:  backoff,
		clockSrc: clockSrc,
		badHosts: make(map[string]struct{}),
	}
}

// Enqueue adds cmd to the pending queue. It will be included in the next
// batch that goes out.
func (d *Dispatcher) Enqueue(cmd *Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, cmd)
}

// State reports the dispatcher's current connection state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// buildURL constructs the `cs` (or lock-probe `cs&wlt=1`) request URL,
// bumping and returning the base-36 zero-padded reqid (§4.2, §6.1).
func (d *Dispatcher) buildURL(lockProbe bool) (string, string) {
	id := strconv.FormatUint(d.reqID, 36)
	for len(id) < 10 {
		id = "0" + id
	}
	d.reqID++

	v := url.Values{}
	v.Set("id", id)
	v.Set("v", "2")
	if d.lang != "" {
		v.Set("lang", d.lang)
	}
	if lockProbe {
		v.Set("wlt", "1")
	}
	u := d.apiURL + "cs?" + v.Encode() + d.auth() + "&ak=" + d.appKey
	return u, id
}

// Dispatch drains the pending queue into a single batch and issues the
// POST, blocking until a response arrives or ctx is done. It should be
// called by the main loop only when the dispatcher is Idle and the
// backoff timer is armed (§4.2, §4.1).
func (d *Dispatcher) Dispatch(ctx context.Context) error {
	d.mu.Lock()
	if len(d.pending) == 0 || d.state != StateIdle {
		d.mu.Unlock()
		return nil
	}
	batch := d.pending
	d.pending = nil
	d.inFlt = batch
	d.state = StateInFlight
	reqURL, _ := d.buildURL(false)
	d.mu.Unlock()

	bodies := make([]json.RawMessage, len(batch))
	for i, c := range batch {
		bodies[i] = c.Body
	}
	payload, err := json.Marshal(bodies)
	if err != nil {
		return errors.E("rpcbatch.Dispatch", errors.Invalid, err)
	}

	resp, status, err := d.httpIO.Post(ctx, reqURL, bytes.NewReader(payload))
	if err != nil {
		d.retryBatch(batch)
		return errors.E("rpcbatch.Dispatch", errors.Transport, err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		d.retryBatch(batch)
		return errors.E("rpcbatch.Dispatch", errors.Transport, err)
	}

	d.mu.Lock()
	d.state = StateIdle
	d.lastDataAt = d.clockSrc.Now()
	d.mu.Unlock()

	return d.handleResponse(status, body, batch)
}

func (d *Dispatcher) retryBatch(batch []*Command) {
	d.mu.Lock()
	d.pending = append(batch, d.pending...)
	d.state = StateIdle
	d.mu.Unlock()
	d.backoff.Backoff()
}

// handleResponse implements §4.2's error-mapping table.
func (d *Dispatcher) handleResponse(status int, body []byte, batch []*Command) error {
	trimmed := string(body)
	switch {
	case status == 0:
		log.Debug.Printf("rpcbatch: connectivity failure, backing off")
		d.retryBatch(batch)
		return errors.E("rpcbatch.handleResponse", errors.Transport, errors.Str("connectivity failure"))
	case status == 500:
		log.Debug.Printf("rpcbatch: server busy (HTTP 500), backing off")
		d.retryBatch(batch)
		return errors.E("rpcbatch.handleResponse", errors.Transport, errors.Str("server busy"))
	case trimmed == "-3":
		d.retryBatch(batch)
		return errors.E("rpcbatch.handleResponse", errors.Throttling, errors.Str("lock retry (-3)"))
	case trimmed == "-4":
		d.retryBatch(batch)
		return errors.E("rpcbatch.handleResponse", errors.Throttling, errors.Str("rate limited (-4)"))
	}

	// A bare negative top-level scalar or {"err":N} aborts the whole
	// batch and surfaces N to every pending command.
	var topErr struct {
		Err *int `json:"err"`
	}
	if json.Unmarshal(body, &topErr) == nil && topErr.Err != nil {
		return d.abortBatch(*topErr.Err, batch)
	}
	var scalar int
	if json.Unmarshal(body, &scalar) == nil && scalar < 0 {
		return d.abortBatch(scalar, batch)
	}

	var results []json.RawMessage
	if err := json.Unmarshal(body, &results); err != nil {
		return errors.E("rpcbatch.handleResponse", errors.Syntax, err)
	}
	for i, cmd := range batch {
		if i < len(results) {
			cmd.Complete(results[i], nil)
		} else {
			cmd.Complete(nil, errors.E("rpcbatch.handleResponse", errors.IO, errors.Str("short response array")))
		}
	}
	return nil
}

// ESID, EBLOCKED, ESSL error codes (§4.2). Values are the server's
// documented negative codes for these conditions.
const (
	ESID     = -15
	EBLOCKED = -16
	ESSL     = -23
)

func (d *Dispatcher) abortBatch(code int, batch []*Command) error {
	d.mu.Lock()
	switch code {
	case ESID:
		d.state = StateSessionDead
	case EBLOCKED:
		d.state = StateBlocked
	default:
		d.state = StateIdle
	}
	d.mu.Unlock()

	err := errors.E("rpcbatch.abortBatch", codeKind(code), fmt.Errorf("server error %d", code))
	for _, cmd := range batch {
		cmd.Complete(nil, err)
	}
	return err
}

func codeKind(code int) errors.Kind {
	switch code {
	case ESID:
		return errors.SessionKind
	case EBLOCKED:
		return errors.SessionKind
	case ESSL:
		return errors.Transport
	default:
		return errors.Other
	}
}

// LockProbe issues a `cs&wlt=1` request when the in-flight request has
// been silent for REQUEST_TIMEOUT_DS. Response "1" means server-idle
// (caller should disconnect and reconnect); "0" means server-busy
// (caller should just refresh the last-data timestamp) (§4.2).
func (d *Dispatcher) LockProbe(ctx context.Context) (serverIdle bool, err error) {
	d.mu.Lock()
	reqURL, _ := d.buildURL(true)
	d.mu.Unlock()

	resp, _, err := d.httpIO.Post(ctx, reqURL, nil)
	if err != nil {
		return false, errors.E("rpcbatch.LockProbe", errors.Transport, err)
	}
	defer resp.Close()
	body, err := io.ReadAll(resp)
	if err != nil {
		return false, errors.E("rpcbatch.LockProbe", errors.Transport, err)
	}
	switch string(body) {
	case "1":
		return true, nil
	default:
		d.mu.Lock()
		d.lastDataAt = d.clockSrc.Now()
		d.mu.Unlock()
		return false, nil
	}
}

// TimedOut reports whether the in-flight request has been silent for
// longer than REQUEST_TIMEOUT_DS.
func (d *Dispatcher) TimedOut() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateInFlight {
		return false
	}
	return d.clockSrc.Now()-d.lastDataAt > REQUEST_TIMEOUT_DS
}
