// Per-transfer setup: key material, temp-file resumption, thumbnail
// generation, and URL acquisition (§4.5.2).
package transfer

import (
	"cryptdrive.io/clock"
	"cryptdrive.io/core"
	"cryptdrive.io/errors"
	"cryptdrive.io/model"
)

// NodeKeySource resolves the raw 32-byte node key for a GET's source
// node, decoupling setup from the full model.Tree so it can be tested in
// isolation.
type NodeKeySource interface {
	NodeKey(h core.NodeHandle) (key []byte, ok bool)
}

// foldNodeKey XOR-folds a 32-byte MEGA node key into the 16-byte AES key,
// 8-byte CTR IV and 8-byte meta-MAC used to en/decrypt file data (§4.5.2).
func foldNodeKey(full []byte) (aesKey, iv, metaMAC []byte) {
	aesKey = make([]byte, 16)
	for i := 0; i < 16; i++ {
		aesKey[i] = full[i] ^ full[i+16]
	}
	iv = append([]byte(nil), full[16:24]...)
	metaMAC = append([]byte(nil), full[24:32]...)
	return aesKey, iv, metaMAC
}

// tempSuffix names the on-disk staging file a GET writes into before it
// is complete, so a crash mid-transfer leaves the real destination
// untouched (§4.5.2).
const tempSuffix = ".mega-tmp"

// SetupTransfer prepares t for its first (or resumed) chunk, implementing
// §4.5.2: key generation or recovery, the stale-queue-entry check for
// PUTs, thumbnail generation, and temp-file resumption via the injected
// FileSystemAccess. It does not itself issue the network request for
// transfer URLs; call RequestURLs once setup succeeds.
func (e *Engine) SetupTransfer(t *Transfer, keys NodeKeySource) error {
	const op = "transfer.SetupTransfer"

	switch t.Direction {
	case Put:
		size, mtime, err := e.fs.Stat(t.LocalPath)
		if err != nil {
			return errors.E(op, errors.IO, err)
		}
		if t.QueueTimeSize != size || t.QueueTimeMtimeUnix != mtime.Unix() {
			return errors.E(op, errors.IO, errors.Str("EREAD: source file changed since it was queued"))
		}
		raw := e.crypto.RandomBytes(24)
		t.Key = raw[:16]
		t.IV = raw[16:24]
		if e.gfx != nil {
			attrs, err := e.gfx.Thumbnails(t.LocalPath)
			if err == nil && len(attrs) > 0 {
				t.Minfa = len(attrs)
			}
		}
	case Get:
		full, ok := keys.NodeKey(t.Node)
		if !ok || len(full) < 32 {
			return errors.E(op, errors.Invalid, errors.Str("EARGS: no key available for source node"))
		}
		t.Key, t.IV, t.MetaMAC = foldNodeKey(full)
		if t.TempPath == "" {
			t.TempPath = t.LocalPath + tempSuffix
		}
		e.resumeGet(t)
	}
	return nil
}

// resumeGet implements §8 property 4: a GET resumes at the end of the
// last contiguous completed block if the temp file's fingerprint still
// matches what was recorded when that progress was made; otherwise it
// restarts from 0.
func (e *Engine) resumeGet(t *Transfer) {
	size, mtime, err := e.fs.Stat(t.TempPath)
	if err != nil || t.Chunks == nil || t.CachedFingerprint.IsZero() {
		t.ProgressCompleted = 0
		t.Chunks = nil
		return
	}

	f, err := e.fs.Open(t.TempPath, false)
	if err != nil {
		t.ProgressCompleted = 0
		t.Chunks = nil
		return
	}
	defer f.Close()

	actual, err := model.Fingerprint(size, mtime.Unix(), f)
	if err != nil || actual != t.CachedFingerprint {
		t.ProgressCompleted = 0
		t.Chunks = nil
		return
	}

	pos := t.Chunks.ContiguousEnd()
	if pos > t.ProgressCompleted {
		pos = t.ProgressCompleted
	}
	t.ProgressCompleted = pos
}

// RequestURLs asks the sender for transfer URLs and applies the response,
// including the EOVERQUOTA requeue policy of §4.5.2.
func (e *Engine) RequestURLs(t *Transfer, onDone func(t *Transfer, err error)) {
	e.sender.RequestTransferURLs(t, func(urls []string, retryInSecs int, err error) {
		if err != nil {
			if isOverquota(err) {
				delaySecs := retryInSecs
				if delaySecs <= 0 {
					delaySecs = DefaultBWOverquotaBackoffSecs
				}
				e.requeueOverquota(t, delaySecs)
				if onDone != nil {
					onDone(t, err)
				}
				return
			}
			if onDone != nil {
				onDone(t, err)
			}
			return
		}
		t.URLs = urls
		if onDone != nil {
			onDone(t, nil)
		}
	})
}

func isOverquota(err error) bool {
	return errors.Match(errors.Quota, err)
}

// requeueOverquota moves t back to Retrying and arms its backoff to fire
// after delaySecs (§4.5.2, §8 scenario S3).
func (e *Engine) requeueOverquota(t *Transfer, delaySecs int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t.State = Retrying
	if t.Backoff != nil {
		t.Backoff.Set(secsToDS(delaySecs))
	}
}

func secsToDS(secs int) clock.DS {
	return clock.DS(secs * 10)
}
