package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"cryptdrive.io/core"
	"cryptdrive.io/directread"
	"cryptdrive.io/errors"
	"cryptdrive.io/rpcbatch"
	"cryptdrive.io/syncengine"
	"cryptdrive.io/transfer"
)

// dispatcherAdapter turns the C3 rpcbatch.Dispatcher into the narrow
// seams C7/C8/C9 each define for themselves, so none of those packages
// import rpcbatch directly (§9 OQ5/OQ6). It also holds the transfer
// engine and filesystem capability needed to translate syncengine's
// GetStarter/PutStarter calls into actual transfer.Transfer enqueues.
type dispatcherAdapter struct {
	d        *rpcbatch.Dispatcher
	transfer *transfer.Engine
	fs       core.FileSystemAccess
}

func newDispatcherAdapter(d *rpcbatch.Dispatcher, xfer *transfer.Engine, fs core.FileSystemAccess) *dispatcherAdapter {
	return &dispatcherAdapter{d: d, transfer: xfer, fs: fs}
}

// RequestTransferURLs implements transfer.PutNodesSender.
func (a *dispatcherAdapter) RequestTransferURLs(t *transfer.Transfer, complete func(urls []string, retryInSecs int, err error)) {
	action := "g"
	if t.Direction == transfer.Put {
		action = "u"
	}
	body, _ := json.Marshal(map[string]interface{}{
		"a": action,
		"n": core.EncodeHandle(core.Handle(t.Node)),
		"s": t.Size,
	})
	a.d.Enqueue(&rpcbatch.Command{
		Body: body,
		Complete: func(result json.RawMessage, err error) {
			if err != nil {
				complete(nil, 0, err)
				return
			}
			var resp struct {
				URLs    []string `json:"g"`
				RetryDS int      `json:"tl"`
			}
			if err := json.Unmarshal(result, &resp); err != nil {
				var single string
				if err2 := json.Unmarshal(result, &single); err2 == nil {
					complete([]string{single}, 0, nil)
					return
				}
				complete(nil, 0, err)
				return
			}
			complete(resp.URLs, resp.RetryDS, nil)
		},
	})
}

// PutNodes implements transfer.PutNodesSender.
func (a *dispatcherAdapter) PutNodes(t *transfer.Transfer, complete func(node core.NodeHandle, err error)) {
	body, _ := json.Marshal(map[string]interface{}{
		"a":  "p",
		"t":  core.EncodeHandle(core.Handle(t.ParentNode)),
		"ov": core.EncodeHandle(core.Handle(t.Overwrite)),
	})
	a.d.Enqueue(&rpcbatch.Command{
		Body: body,
		Complete: func(result json.RawMessage, err error) {
			if err != nil {
				complete(core.UndefinedNode, err)
				return
			}
			var resp struct {
				Handle string `json:"h"`
			}
			if err := json.Unmarshal(result, &resp); err != nil {
				complete(core.UndefinedNode, err)
				return
			}
			h, err := core.DecodeHandle(resp.Handle)
			if err != nil {
				complete(core.UndefinedNode, err)
				return
			}
			complete(core.NodeHandle(h), nil)
		},
	})
}

var _ transfer.PutNodesSender = (*dispatcherAdapter)(nil)

// RequestReadURLs implements directread.URLSource.
func (a *dispatcherAdapter) RequestReadURLs(n *directread.DirectReadNode, complete func(urls []string, retryInSecs int, err error)) {
	body, _ := json.Marshal(map[string]interface{}{
		"a": "g",
		"n": core.EncodeHandle(core.Handle(n.Key.Node)),
		"p": n.Key.Private,
	})
	a.d.Enqueue(&rpcbatch.Command{
		Body: body,
		Complete: func(result json.RawMessage, err error) {
			if err != nil {
				complete(nil, 0, err)
				return
			}
			var resp struct {
				URLs    []string `json:"g"`
				RetryDS int      `json:"tl"`
			}
			if err := json.Unmarshal(result, &resp); err != nil {
				complete(nil, 0, err)
				return
			}
			complete(resp.URLs, resp.RetryDS, nil)
		},
	})
}

var _ directread.URLSource = (*dispatcherAdapter)(nil)

// httpChunkFetcher implements directread.ChunkFetcher over the injected
// core.HttpIO capability directly, since a chunk fetch is a plain ranged
// GET against an already-issued transfer URL, not a `cs` command.
type httpChunkFetcher struct {
	http core.HttpIO
}

func (f *httpChunkFetcher) FetchChunk(url string, offset, count int64, complete func(data []byte, retryInSecs int, err error)) {
	headers := map[string]string{
		"Range": fmt.Sprintf("bytes=%d-%d", offset, offset+count-1),
	}
	body, status, err := f.http.Get(context.Background(), url, headers)
	if err != nil {
		complete(nil, 0, err)
		return
	}
	defer body.Close()
	if status >= 500 {
		complete(nil, 0, errors.E("engine.FetchChunk", errors.Transport, errors.Errorf("chunk fetch: status %d", status)))
		return
	}
	buf := make([]byte, count)
	n, err := io.ReadFull(body, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		complete(nil, 0, err)
		return
	}
	complete(buf[:n], 0, nil)
}

var _ directread.ChunkFetcher = (*httpChunkFetcher)(nil)

// StartGet implements syncengine.GetStarter by enqueueing a transfer.Get
// that stages into stagePath before syncdown renames it into place.
func (a *dispatcherAdapter) StartGet(node core.NodeHandle, stagePath string) {
	a.transfer.Enqueue(&transfer.Transfer{
		Direction:  transfer.Get,
		Node:       node,
		ParentNode: core.UndefinedNode,
		Overwrite:  core.UndefinedNode,
		LocalPath:  stagePath,
	})
}

var _ syncengine.GetStarter = (*dispatcherAdapter)(nil)

// StartPut implements syncengine.PutStarter. It stats localPath itself
// since Enqueue only derives Category from the Size the caller supplies
// (§4.5.2's EREAD staleness check needs that same snapshot).
func (a *dispatcherAdapter) StartPut(localPath string, parent core.NodeHandle, overwrite core.NodeHandle) {
	size, mtime, err := a.fs.Stat(localPath)
	if err != nil {
		return
	}
	a.transfer.Enqueue(&transfer.Transfer{
		Direction:          transfer.Put,
		Node:               core.UndefinedNode,
		ParentNode:         parent,
		Overwrite:          overwrite,
		LocalPath:          localPath,
		Size:               size,
		QueueTimeSize:      size,
		QueueTimeMtimeUnix: mtime.Unix(),
	})
}

var _ syncengine.PutStarter = (*dispatcherAdapter)(nil)

// CreateFolder implements syncengine.FolderCreator.
func (a *dispatcherAdapter) CreateFolder(parent core.NodeHandle, name string, complete func(node core.NodeHandle, err error)) {
	body, _ := json.Marshal(map[string]interface{}{
		"a": "p",
		"t": core.EncodeHandle(core.Handle(parent)),
		"n": name,
	})
	a.d.Enqueue(&rpcbatch.Command{
		Body: body,
		Complete: func(result json.RawMessage, err error) {
			if err != nil {
				complete(core.UndefinedNode, err)
				return
			}
			var resp struct {
				Handle string `json:"h"`
			}
			if err := json.Unmarshal(result, &resp); err != nil {
				complete(core.UndefinedNode, err)
				return
			}
			h, err := core.DecodeHandle(resp.Handle)
			if err != nil {
				complete(core.UndefinedNode, err)
				return
			}
			complete(core.NodeHandle(h), nil)
		},
	})
}

var _ syncengine.FolderCreator = (*dispatcherAdapter)(nil)

// MoveNode implements syncengine.RemoteMutator.
func (a *dispatcherAdapter) MoveNode(node, newParent core.NodeHandle, complete func(err error)) {
	body, _ := json.Marshal(map[string]interface{}{
		"a": "m",
		"n": core.EncodeHandle(core.Handle(node)),
		"t": core.EncodeHandle(core.Handle(newParent)),
	})
	a.d.Enqueue(&rpcbatch.Command{
		Body:     body,
		Complete: func(result json.RawMessage, err error) { complete(err) },
	})
}

// Unlink implements syncengine.RemoteMutator.
func (a *dispatcherAdapter) Unlink(node core.NodeHandle, complete func(err error)) {
	body, _ := json.Marshal(map[string]interface{}{
		"a": "d",
		"n": core.EncodeHandle(core.Handle(node)),
	})
	a.d.Enqueue(&rpcbatch.Command{
		Body:     body,
		Complete: func(result json.RawMessage, err error) { complete(err) },
	})
}

var _ syncengine.RemoteMutator = (*dispatcherAdapter)(nil)

// RegisterBackup implements syncengine.BackupRegistrar.
func (a *dispatcherAdapter) RegisterBackup(cfg syncengine.Config, complete func(backupID string, err error)) {
	body, _ := json.Marshal(map[string]interface{}{
		"a": "sp",
		"n": core.EncodeHandle(core.Handle(cfg.RemoteRoot)),
		"e": cfg.ExternalDrive != "",
	})
	a.d.Enqueue(&rpcbatch.Command{
		Body: body,
		Complete: func(result json.RawMessage, err error) {
			if err != nil {
				complete("", err)
				return
			}
			var resp struct {
				BackupID string `json:"b"`
			}
			if err := json.Unmarshal(result, &resp); err != nil {
				complete("", err)
				return
			}
			complete(resp.BackupID, nil)
		},
	})
}

var _ syncengine.BackupRegistrar = (*dispatcherAdapter)(nil)
