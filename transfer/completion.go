// Transfer completion: minfa file-attribute gating and PutNodes issuance
// (§4.5.3).
package transfer

import "cryptdrive.io/core"

// OnLastChunk marks t's data as fully transferred. For a GET this
// finishes the transfer outright; for a PUT it only finalizes once
// checkfacompletion is also satisfied (§4.5.3).
func (e *Engine) OnLastChunk(t *Transfer) {
	t.ProgressCompleted = t.Size
	if t.Direction == Get {
		e.finish(t, core.UndefinedNode)
		return
	}
	if e.checkFACompletion(t) {
		e.finalizePut(t)
	}
}

// OnFileAttributeComplete records one completed file-attribute upload for
// t (thumbnail, preview, ...), decrementing minfa and finalizing the PUT
// once every attribute the node needs has landed (§4.5.3).
func (e *Engine) OnFileAttributeComplete(t *Transfer, faHandle string) {
	t.FAHandles = append(t.FAHandles, faHandle)
	if t.Minfa > 0 {
		t.Minfa--
	}
	if e.checkFACompletion(t) && t.remainingBytes() == 0 {
		e.finalizePut(t)
	}
}

// checkFACompletion reports whether every file attribute required before
// PutNodes can run has completed.
func (e *Engine) checkFACompletion(t *Transfer) bool {
	return t.Minfa <= 0
}

// finalizePut issues the PutNodes request for a data-and-attributes-
// complete PUT (§4.5.3): upload token (t.URLs[0]/t.Key), encrypted
// attributes, ov, and collected FA handles.
func (e *Engine) finalizePut(t *Transfer) {
	e.sender.PutNodes(t, func(node core.NodeHandle, err error) {
		if err != nil {
			e.mu.Lock()
			t.State = Retrying
			if t.Backoff != nil {
				t.Backoff.Backoff()
			}
			e.mu.Unlock()
			return
		}
		e.finish(t, node)
	})
}

// finish removes t from the active set and records its terminal state. A
// PUT's node handle is recorded in uhnh so a later file-attribute
// attachment racing PutNodes completion can still find it; per §9 OQ3
// this is a best-effort mapping and attachments that race it are dropped.
func (e *Engine) finish(t *Transfer, node core.NodeHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t.State = Complete
	delete(e.active, t.ID)
	if t.Direction == Put && node != core.UndefinedNode {
		e.uhnh[core.UploadHandle(t.ID)] = node
	}
}

// ResolveUploadHandle looks up the node handle produced by a completed
// PUT's upload handle, per the uhnh mapping of §4.5.3/§9 OQ3.
func (e *Engine) ResolveUploadHandle(h core.UploadHandle) (core.NodeHandle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.uhnh[h]
	return n, ok
}
