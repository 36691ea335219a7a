package engine

import (
	"context"
	"time"

	"cryptdrive.io/actionstream"
	"cryptdrive.io/clock"
	"cryptdrive.io/config"
	"cryptdrive.io/core"
	"cryptdrive.io/directread"
	"cryptdrive.io/keyengine"
	"cryptdrive.io/model"
	"cryptdrive.io/rpcbatch"
	"cryptdrive.io/scsn"
	"cryptdrive.io/syncengine"
	"cryptdrive.io/transfer"
)

// Signal is what a single phase routine (execRPC, execActions) reports
// back to Exec (§5's "sequence of yield/continue tokens").
type Signal uint8

const (
	// Idle means the phase had nothing to do this tick.
	Idle Signal = iota
	// LoopAgain means the phase completed a round-trip. Exec does not
	// call the phase again; the next Exec does.
	LoopAgain
	// Blocked means the phase's round-trip failed. Exec returns the
	// accompanying error, which is non-nil only when Classify reports
	// RetryReload.
	Blocked
)

// Capabilities bundles every embedder-supplied capability the engine
// consumes (§1). AppCallbacks, Telemetry, GfxProc and PRNG may be left
// nil-equivalent no-ops in tests via core.NoopTelemetry{} and similar.
type Capabilities struct {
	Http      core.HttpIO
	FS        core.FileSystemAccess
	Db        core.DbAccess
	Crypto    core.Crypto
	Gfx       core.GfxProc
	PRNG      core.PRNG
	App       core.AppCallbacks
	Telemetry core.Telemetry

	// KeySource authenticates node-key unwrap operations against the
	// live account, and Auth backs authring signature checks (§4.4).
	KeySource keyengine.KeySource
	Auth      keyengine.Authenticator
	Sync      keyengine.SyncDisabler

	// SID returns the current session-id query fragment (e.g.
	// "&sid=..."), or "" pre-login. Both the RPC dispatcher and the SC
	// reader call this once per outgoing request (§6.1).
	SID func() string
	// OwnSessionID is compared against each action packet's origin to
	// filter out this session's own mutations (§4.3).
	OwnSessionID string
}

// Engine wires C1-C9 into the cooperative main loop of C10. Besides the
// async worker pool, the only goroutines it starts are Wait's short-lived
// watchers of filesystem notification channels, which only signal Wait;
// every mutation runs on the caller's goroutine, matching §5's
// single-threaded-mutation invariant.
type Engine struct {
	cfg  config.Config
	caps Capabilities

	clock *clock.Clock

	Tree    *model.Tree
	Handler *actionstream.TreeHandler

	Dispatcher *rpcbatch.Dispatcher
	Cursor     *scsn.Cursor
	Actions    *actionstream.Reader

	Transfer   *transfer.Engine
	DirectRead *directread.Engine
	Sync       *syncengine.Manager

	adapter *dispatcherAdapter
	debris  *syncengine.DebrisRouter
	pool    *WorkerPool

	rpcBackoff    *clock.Backoff
	streamBackoff *clock.Backoff
}

// New builds a fully wired Engine: the RPC dispatcher and SC reader share
// the injected HttpIO, the transfer/direct-read/sync engines share a
// single dispatcherAdapter seam onto the dispatcher, and the worker pool
// is sized from cfg's DownloadWorkers+UploadWorkers (§5).
func New(ctx context.Context, cfg config.Config, caps Capabilities, cached scsn.SCSN) *Engine {
	clockSrc := clock.New()

	rpcBackoff := clock.NewBackoff(clockSrc, 1, 1200, 1)
	streamBackoff := clock.NewBackoff(clockSrc, 1, 1200, 2)
	rpcBackoff.Arm()
	streamBackoff.Arm()

	dispatcher := rpcbatch.New(cfg.APIURL, cfg.AppKey, caps.SID, caps.Http, rpcBackoff, clockSrc)

	tree := model.NewTree()
	handler := actionstream.NewTreeHandler(tree, caps.Crypto, caps.KeySource, caps.Db, caps.App)
	handler.Telemetry = caps.Telemetry
	handler.Auth = caps.Auth
	handler.Sync = caps.Sync

	cursor := scsn.NewCursor(cached)
	actions := actionstream.New(cfg.APIURL, caps.SID, caps.Http, clockSrc, streamBackoff, cursor, handler, caps.OwnSessionID)

	// adapter is constructed before the transfer engine that needs it as
	// a PutNodesSender; its transfer field is filled in immediately
	// after, since the two are mutually referential.
	adapter := newDispatcherAdapter(dispatcher, nil, caps.FS)
	xfer := transfer.New(caps.Crypto, caps.FS, caps.Gfx, adapter, clockSrc)
	adapter.transfer = xfer

	dr := directread.New(adapter, &httpChunkFetcher{http: caps.Http}, clockSrc)

	syncMgr := syncengine.NewManager(tree, caps.FS, caps.PRNG, adapter, clockSrc)
	debris := syncengine.NewDebrisRouter(tree, adapter, clockSrc)

	workers := cfg.DownloadWorkers + cfg.UploadWorkers
	pool := NewWorkerPool(ctx, workers)

	return &Engine{
		cfg:           cfg,
		caps:          caps,
		clock:         clockSrc,
		Tree:          tree,
		Handler:       handler,
		Dispatcher:    dispatcher,
		Cursor:        cursor,
		Actions:       actions,
		Transfer:      xfer,
		DirectRead:    dr,
		Sync:          syncMgr,
		adapter:       adapter,
		debris:        debris,
		pool:          pool,
		rpcBackoff:    rpcBackoff,
		streamBackoff: streamBackoff,
	}
}

// Exec drains one tick of ready work: at most one RPC batch, at most one
// SC poll, due transfer starts, due direct-read chunk fetches, and one
// reconciliation pass per active sync. Each network phase is a single
// blocking round-trip (Dispatch/Poll own that), so Exec runs each phase
// exactly once per call rather than looping — repeated ready work is
// picked up by the caller's next Exec/Wait cycle (§5).
func (e *Engine) Exec(ctx context.Context) error {
	e.drainWorkerResults()

	if sig, err := e.execRPC(ctx); sig == Blocked && err != nil {
		return err
	}
	if sig, err := e.execActions(ctx); sig == Blocked && err != nil {
		return err
	}
	e.Transfer.Dispatch(e.clock.Now(), e.setupTransfer)
	e.DirectRead.Dispatch()
	for _, s := range e.Sync.Syncs() {
		s.Tick(time.Now(), e.collaborators())
	}
	return nil
}

// execRPC runs one dispatch round if the RPC backoff has fired and the
// dispatcher isn't already mid-flight.
func (e *Engine) execRPC(ctx context.Context) (Signal, error) {
	if !e.rpcBackoff.Armed() || e.Dispatcher.State() != rpcbatch.StateIdle {
		return Idle, nil
	}
	if err := e.Dispatcher.Dispatch(ctx); err != nil {
		if Classify(err) == RetryReload {
			return Blocked, err
		}
		return Blocked, nil
	}
	return LoopAgain, nil
}

// execActions runs one SC long-poll round if the stream backoff has
// fired and the cursor has a durable starting point.
func (e *Engine) execActions(ctx context.Context) (Signal, error) {
	if !e.streamBackoff.Armed() || !e.Cursor.Ready() {
		return Idle, nil
	}
	if err := e.Actions.Poll(ctx); err != nil {
		if Classify(err) == RetryReload {
			return Blocked, err
		}
		return Blocked, nil
	}
	// A clean poll (including a long-poll keep-alive) leaves the stream
	// backoff disarmed (actionstream.Reader never re-arms it itself);
	// the loop re-arms so the next Exec issues another long-poll rather
	// than stalling forever.
	e.streamBackoff.Arm()
	return LoopAgain, nil
}

// setupTransfer is the hook transfer.Dispatch calls once per transfer as
// it's about to move from Queued to Active: key material/resumption via
// SetupTransfer, then a fire-and-forget RequestURLs.
func (e *Engine) setupTransfer(t *transfer.Transfer) error {
	if err := e.Transfer.SetupTransfer(t, treeNodeKeySource{e.Tree}); err != nil {
		return err
	}
	e.Transfer.RequestURLs(t, func(t *transfer.Transfer, err error) {
		if err != nil {
			t.State = transfer.Retrying
		}
	})
	return nil
}

// treeNodeKeySource satisfies transfer.NodeKeySource over the already
// decrypted node keys the action-packet handler maintains on model.Tree.
type treeNodeKeySource struct {
	tree *model.Tree
}

func (s treeNodeKeySource) NodeKey(h core.NodeHandle) ([]byte, bool) {
	n := s.tree.Node(h)
	if n == nil || n.NoKey || len(n.Key) == 0 {
		return nil, false
	}
	return n.Key, true
}

func (e *Engine) drainWorkerResults() {
	for {
		select {
		case <-e.pool.Results():
		default:
			return
		}
	}
}

// AddSync runs sync admission and, once accepted, registers it as an
// external backup if cfg names one. It is the embedder-facing entry
// point wrapping syncengine.Manager's two-step admission/registration
// split (§4.7.1).
func (e *Engine) AddSync(cfg syncengine.Config) (*syncengine.Sync, error) {
	s, err := e.Sync.AddSync(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Scan(); err != nil {
		s.State = syncengine.Failed
		return s, err
	}
	e.Sync.RegisterBackup(s, func(err error) {
		if err != nil {
			s.State = syncengine.Failed
		}
	})
	return s, nil
}

func (e *Engine) collaborators() syncengine.Collaborators {
	return syncengine.Collaborators{
		Getter:  e.adapter,
		Putter:  e.adapter,
		Folders: e.adapter,
		Mutator: e.adapter,
		Debris:  e.debris,
		Notify:  e.caps.App.NotifyNameAnomaly,
	}
}
