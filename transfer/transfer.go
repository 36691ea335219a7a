// Package transfer implements the upload/download slot scheduler of §4.5
// (C7): dispatchTransfers slot allocation, per-transfer key setup and URL
// acquisition, PutNodes completion, and pause/unpause.
//
// Grounded on the teacher's client/file/file.go (chunked, resumable
// read/write against a packed block sequence) and client/clientutil's
// write.go/readall.go for the general "buffer, checksum, retry" shape of
// a chunked transfer, generalized here from upspin's block-location model
// to this spec's fixed-size-chunk, chunk-MAC-table resumption model.
package transfer

import (
	"sync"

	"cryptdrive.io/clock"
	"cryptdrive.io/core"
)

// Direction distinguishes an upload from a download.
type Direction uint8

const (
	Put Direction = iota
	Get
)

func (d Direction) String() string {
	if d == Put {
		return "put"
	}
	return "get"
}

// SizeCategory buckets a transfer for scheduling purposes (§4.5.1).
type SizeCategory uint8

const (
	Small SizeCategory = iota
	Large
)

// sizeCategoryThreshold is the big/small boundary (§4.5.1).
const sizeCategoryThreshold = 100 * 1024 * 1024

// dominanceRemainingThreshold is the "still has more than this much left"
// half of the one-very-big-file dominance rule (§4.5.1).
const dominanceRemainingThreshold = 5 * 1024 * 1024

// CategoryOf classifies size into Large or Small.
func CategoryOf(size int64) SizeCategory {
	if size > sizeCategoryThreshold {
		return Large
	}
	return Small
}

// Scheduling constants (§4.5.1).
const (
	MaxTotalTransfers        = 48
	MaxTransfersPerDirection = 32
	MaxNewStartsPerTick      = 16 // half of MaxTransfersPerDirection
	MaxQueuedFA              = 30

	minEnqueueBytes  = 2 * 1024 * 1024
	maxEnqueueBytes  = 100 * 1024 * 1024
	speedLookaheadDS = 30
)

// DefaultBWOverquotaBackoffSecs is used when the server's EOVERQUOTA
// response carries no retry-in hint (§4.5.2).
const DefaultBWOverquotaBackoffSecs = 3600

// State is a transfer's lifecycle state.
type State uint8

const (
	Queued State = iota
	Active
	Retrying
	Complete
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Active:
		return "active"
	case Retrying:
		return "retrying"
	case Complete:
		return "complete"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// ID is a client-minted, monotonically increasing transfer identifier. For
// PUT transfers it doubles as the core.UploadHandle correlated with the
// eventual PutNodes completion (§4.5.3).
type ID uint64

// ChunkMACTable tracks which fixed-size blocks of a transfer have been
// completed, supporting resumption (§4.5.2, §8 property 4).
type ChunkMACTable struct {
	BlockSize int64
	Completed map[int64]bool
}

// NewChunkMACTable returns an empty table with the given block size.
func NewChunkMACTable(blockSize int64) *ChunkMACTable {
	return &ChunkMACTable{BlockSize: blockSize, Completed: make(map[int64]bool)}
}

// MarkComplete records block i (0-based) as fully written and checksummed.
func (c *ChunkMACTable) MarkComplete(i int64) {
	c.Completed[i] = true
}

// ContiguousEnd returns the byte offset one past the last block in an
// unbroken run of completed blocks starting at block 0.
func (c *ChunkMACTable) ContiguousEnd() int64 {
	var end int64
	for i := int64(0); c.Completed[i]; i++ {
		end += c.BlockSize
	}
	return end
}

// Transfer is one queued or in-flight upload/download.
type Transfer struct {
	ID        ID
	Direction Direction
	Category  SizeCategory

	// Node is the source node for a GET, or the already-created node
	// this PUT is replacing (versioning) — UndefinedNode otherwise.
	Node core.NodeHandle
	// ParentNode is the destination folder for a PUT.
	ParentNode core.NodeHandle
	// Overwrite is the "ov" field: the node this PUT's PutNodes call
	// should supersede, forming a version chain (§3.2).
	Overwrite core.NodeHandle

	LocalPath string
	// TempPath is where a GET stages its bytes until complete; empty
	// until SetupTransfer assigns it.
	TempPath string
	Size     int64

	// ProgressCompleted is the highest byte offset known fully written
	// (not necessarily contiguous with block 0; see Chunks).
	ProgressCompleted int64
	Chunks            *ChunkMACTable

	// CachedFingerprint is the fingerprint recorded when this transfer's
	// temp file was last written to, used to decide whether the temp
	// file can be resumed or must restart from 0 (§4.5.2, §8 property 4).
	CachedFingerprint core.Fingerprint

	// QueueTimeSize/QueueTimeMtimeUnix snapshot the source file's stat
	// at enqueue time so PUT setup can detect a stale queue entry
	// (§4.5.2's EREAD check).
	QueueTimeSize      int64
	QueueTimeMtimeUnix int64

	Key     []byte // 16-byte AES key
	IV      []byte // 8-byte CTR IV
	MetaMAC []byte // 8-byte meta-MAC, GET only

	State State

	// Minfa is the number of outstanding file-attribute uploads that
	// must complete before PutNodes can be issued (§4.5.3).
	Minfa     int
	FAHandles []string

	URLs []string // 1 (plain) or 6 (RAID: 5 data + 1 parity)

	Backoff  *clock.Backoff
	QueuedAt clock.DS
}

// remainingBytes returns the bytes left to transfer.
func (t *Transfer) remainingBytes() int64 {
	r := t.Size - t.ProgressCompleted
	if r < 0 {
		return 0
	}
	return r
}

// dominates reports whether t is the "one very big file" that should
// block further starts in its category (§4.5.1).
func (t *Transfer) dominates() bool {
	return t.Category == Large && t.Size > sizeCategoryThreshold && t.remainingBytes() > dominanceRemainingThreshold
}

// PutNodesSender issues the completion RPCs a transfer engine needs: URL
// acquisition and final node creation. It is the seam between this
// package and the C3 dispatcher (§4.5.2, §4.5.3), kept narrow so the
// scheduler can be tested without a real rpcbatch.Dispatcher.
type PutNodesSender interface {
	// RequestTransferURLs asks the server for one plain URL or six
	// RAID-shard URLs for t (CommandPutFile/CommandGetFile, §4.5.2).
	RequestTransferURLs(t *Transfer, complete func(urls []string, retryInSecs int, err error))
	// PutNodes finalizes a completed PUT: upload token, encrypted
	// attributes, ov, and collected FA handles (§4.5.3).
	PutNodes(t *Transfer, complete func(node core.NodeHandle, err error))
}

// Engine holds the transfer queue, active slots and pause state (C7).
type Engine struct {
	mu sync.Mutex

	crypto core.Crypto
	fs     core.FileSystemAccess
	gfx    core.GfxProc
	sender PutNodesSender
	clock  *clock.Clock

	nextID ID
	queued []*Transfer
	active map[ID]*Transfer

	pausedSoft [2]bool
	pausedHard [2]bool

	// speed is the smoothed current bytes/sec observed per direction,
	// feeding the "keep enough in flight" target of §4.5.1.
	speed [2]float64

	faQueueLen int

	// uhnh maps an in-flight PUT's upload handle to the node handle
	// PutNodes eventually returns. Populated opportunistically; a
	// documented gap (§9 OQ3) is that FA attachments racing this
	// mapping are silently dropped rather than queued.
	uhnh map[core.UploadHandle]core.NodeHandle
}

// New returns an Engine with empty queue and no active transfers.
func New(crypto core.Crypto, fs core.FileSystemAccess, gfx core.GfxProc, sender PutNodesSender, clockSrc *clock.Clock) *Engine {
	return &Engine{
		crypto: crypto,
		fs:     fs,
		gfx:    gfx,
		sender: sender,
		clock:  clockSrc,
		active: make(map[ID]*Transfer),
		uhnh:   make(map[core.UploadHandle]core.NodeHandle),
	}
}

// Enqueue adds a new transfer to the tail of the queue and assigns it an
// ID, returning the assigned Transfer.
func (e *Engine) Enqueue(t *Transfer) *Transfer {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	t.ID = e.nextID
	t.Category = CategoryOf(t.Size)
	if t.State == 0 {
		t.State = Queued
	}
	t.QueuedAt = e.clock.Now()
	e.queued = append(e.queued, t)
	return t
}

// SetSpeed records the current smoothed throughput for direction, used by
// dispatchTransfers to size its lookahead window (§4.5.1).
func (e *Engine) SetSpeed(d Direction, bytesPerSec float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed[d] = bytesPerSec
}

// SetFAQueueLen records the current length of the file-attribute upload
// queue, gating new upload starts once it exceeds MaxQueuedFA (§4.5.1).
func (e *Engine) SetFAQueueLen(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faQueueLen = n
}

// Active returns the transfers currently holding a slot.
func (e *Engine) Active() []*Transfer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Transfer, 0, len(e.active))
	for _, t := range e.active {
		out = append(out, t)
	}
	return out
}

// Queued returns the transfers waiting for a slot, in queue order.
func (e *Engine) Queued() []*Transfer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Transfer, len(e.queued))
	copy(out, e.queued)
	return out
}
