package rpcbatch

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"cryptdrive.io/clock"
)

type scriptedHTTP struct {
	mu        sync.Mutex
	responses []scriptedResponse
	posts     []string
}

type scriptedResponse struct {
	body   string
	status int
	err    error
}

func (s *scriptedHTTP) Post(ctx context.Context, url string, body io.Reader) (io.ReadCloser, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, url)
	if len(s.responses) == 0 {
		return io.NopCloser(strings.NewReader("[]")), 200, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	if r.err != nil {
		return nil, 0, r.err
	}
	return io.NopCloser(strings.NewReader(r.body)), r.status, nil
}

func (s *scriptedHTTP) Get(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, int, error) {
	return nil, 0, nil
}

func (s *scriptedHTTP) Ready() <-chan struct{} { return nil }

func newTestDispatcher(t *testing.T, http *scriptedHTTP) *Dispatcher {
	t.Helper()
	c := clock.New()
	b := clock.NewBackoff(c, 1, 600, 1)
	return New("https://g.api.mega.co.nz/", "testkey", func() string { return "&sid=abc" }, http, b, c)
}

func TestDispatchSuccessCompletesEachCommand(t *testing.T) {
	http := &scriptedHTTP{responses: []scriptedResponse{{body: `[{"r":1},0]`, status: 200}}}
	d := newTestDispatcher(t, http)

	var got []json.RawMessage
	var mu sync.Mutex
	complete := func(result json.RawMessage, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			t.Errorf("unexpected completion error: %v", err)
		}
		got = append(got, result)
	}

	d.Enqueue(&Command{Body: json.RawMessage(`{"a":"g"}`), Complete: complete})
	d.Enqueue(&Command{Body: json.RawMessage(`{"a":"ug"}`), Complete: complete})

	if err := d.Dispatch(context.Background()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d completions, want 2", len(got))
	}
	if d.State() != StateIdle {
		t.Fatalf("state after success = %v, want StateIdle", d.State())
	}
}

func TestDispatchThrottleRequeues(t *testing.T) {
	http := &scriptedHTTP{responses: []scriptedResponse{{body: `-3`, status: 200}}}
	d := newTestDispatcher(t, http)

	completed := false
	d.Enqueue(&Command{Body: json.RawMessage(`{"a":"g"}`), Complete: func(json.RawMessage, error) { completed = true }})

	if err := d.Dispatch(context.Background()); err == nil {
		t.Fatalf("expected an error on -3 throttle response")
	}
	if completed {
		t.Fatalf("command should not complete on a throttled batch, it should be requeued")
	}
	d.mu.Lock()
	requeued := len(d.pending)
	d.mu.Unlock()
	if requeued != 1 {
		t.Fatalf("pending queue after throttle = %d, want 1 (requeued)", requeued)
	}
}

func TestDispatchESIDMarksSessionDead(t *testing.T) {
	http := &scriptedHTTP{responses: []scriptedResponse{{body: `{"err":-15}`, status: 200}}}
	d := newTestDispatcher(t, http)

	var gotErr error
	d.Enqueue(&Command{Body: json.RawMessage(`{"a":"g"}`), Complete: func(_ json.RawMessage, err error) { gotErr = err }})

	if err := d.Dispatch(context.Background()); err == nil {
		t.Fatalf("expected an error on ESID")
	}
	if gotErr == nil {
		t.Fatalf("expected the pending command to be completed with an error")
	}
	if d.State() != StateSessionDead {
		t.Fatalf("state = %v, want StateSessionDead", d.State())
	}
}

func TestDispatchConnectivityFailureRequeues(t *testing.T) {
	http := &scriptedHTTP{responses: []scriptedResponse{{status: 0, body: ""}}}
	d := newTestDispatcher(t, http)
	d.Enqueue(&Command{Body: json.RawMessage(`{"a":"g"}`), Complete: func(json.RawMessage, error) {}})

	if err := d.Dispatch(context.Background()); err == nil {
		t.Fatalf("expected an error on HTTP status 0")
	}
	d.mu.Lock()
	requeued := len(d.pending)
	d.mu.Unlock()
	if requeued != 1 {
		t.Fatalf("pending after connectivity failure = %d, want 1", requeued)
	}
}

func TestReportBadHosts(t *testing.T) {
	http := &scriptedHTTP{}
	d := newTestDispatcher(t, http)
	if err := d.ReportBadHosts(context.Background(), []string{"g.api.mega.co.nz"}); err != nil {
		t.Fatalf("ReportBadHosts: %v", err)
	}
	hosts := d.BadHosts()
	if len(hosts) != 1 || hosts[0] != "g.api.mega.co.nz" {
		t.Fatalf("BadHosts() = %v, want [g.api.mega.co.nz]", hosts)
	}
	if len(http.posts) != 1 || !strings.Contains(http.posts[0], "pf?h=") {
		t.Fatalf("posts = %v, want a pf?h= request", http.posts)
	}
}
