// Package coretest provides deterministic in-memory fakes for the
// capability interfaces in core, used by engine's end-to-end scenario
// tests (§8) so those tests exercise real wiring without real network or
// disk access.
//
// Grounded on transfer/setup_test.go and syncengine/setup_test.go's
// in-package fakeFS/fakeFile pattern, lifted out to a shared package
// since engine's scenario tests need the same fakes across a whole
// wired Engine rather than one subsystem.
package coretest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	"cryptdrive.io/core"
)

// responder answers one HTTP call. FakeHttpIO does not match responders
// against the URL: each call takes the next responder in registration
// order, and the responder receives the URL and body to inspect itself.
type responder func(url string, body []byte) (status int, respBody []byte, err error)

// FakeHttpIO is a scripted core.HttpIO: tests register one responder per
// expected call in order, and each Post/Get consumes the next one, so a
// test reads like the request/response sequence it exercises.
type FakeHttpIO struct {
	mu      sync.Mutex
	queue   []responder
	readyCh chan struct{}
}

// NewFakeHttpIO returns an empty FakeHttpIO; use Expect to script calls.
func NewFakeHttpIO() *FakeHttpIO {
	return &FakeHttpIO{readyCh: make(chan struct{}, 1)}
}

// Expect appends a responder to be consumed by the next Post or Get call.
func (f *FakeHttpIO) Expect(status int, respBody []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, func(string, []byte) (int, []byte, error) {
		return status, respBody, err
	})
}

// ExpectJSON is Expect with respBody marshaled from v.
func (f *FakeHttpIO) ExpectJSON(status int, v interface{}) {
	b, _ := json.Marshal(v)
	f.Expect(status, b, nil)
}

func (f *FakeHttpIO) next(url string, body []byte) (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	r := f.queue[0]
	f.queue = f.queue[1:]
	return r(url, body)
}

// Post implements core.HttpIO.
func (f *FakeHttpIO) Post(ctx context.Context, url string, body io.Reader) (io.ReadCloser, int, error) {
	var raw []byte
	if body != nil {
		raw, _ = io.ReadAll(body)
	}
	status, resp, err := f.next(url, raw)
	if err != nil {
		return nil, 0, err
	}
	return io.NopCloser(bytes.NewReader(resp)), status, nil
}

// Get implements core.HttpIO.
func (f *FakeHttpIO) Get(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, int, error) {
	status, resp, err := f.next(url, nil)
	if err != nil {
		return nil, 0, err
	}
	return io.NopCloser(bytes.NewReader(resp)), status, nil
}

// Ready implements core.HttpIO. Nothing pushes to it since FakeHttpIO's
// calls resolve synchronously; it exists so FakeHttpIO satisfies the
// interface engine.Wait selects on.
func (f *FakeHttpIO) Ready() <-chan struct{} {
	return f.readyCh
}

var _ core.HttpIO = (*FakeHttpIO)(nil)
