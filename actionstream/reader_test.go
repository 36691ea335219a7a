package actionstream

import (
	"context"
	"io"
	"strings"
	"testing"

	"cryptdrive.io/clock"
	"cryptdrive.io/scsn"
)

type scriptedSCHTTP struct {
	bodies []string
	status []int
	calls  int
}

func (s *scriptedSCHTTP) Post(ctx context.Context, url string, body io.Reader) (io.ReadCloser, int, error) {
	i := s.calls
	s.calls++
	if i >= len(s.bodies) {
		return io.NopCloser(strings.NewReader("0")), 200, nil
	}
	st := 200
	if i < len(s.status) {
		st = s.status[i]
	}
	return io.NopCloser(strings.NewReader(s.bodies[i])), st, nil
}
func (s *scriptedSCHTTP) Get(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, int, error) {
	return nil, 0, nil
}
func (s *scriptedSCHTTP) Ready() <-chan struct{} { return nil }

type countingHandler struct {
	applied  int
	commits  int
	yieldOn  string
}

func (h *countingHandler) Apply(p Packet) (bool, error) {
	h.applied++
	return p.Action == h.yieldOn, nil
}
func (h *countingHandler) CommitBatch() error {
	h.commits++
	return nil
}

func newTestReader(t *testing.T, http *scriptedSCHTTP, handler Handler) *Reader {
	t.Helper()
	c := clock.New()
	b := clock.NewBackoff(c, 1, 600, 1)
	cursor := scsn.NewCursor(scsn.Zero)
	return New("https://g.api.mega.co.nz/", func() string { return "&sid=x" }, http, c, b, cursor, handler, "sess1")
}

func TestPollAppliesPacketsAndCommitsOnEOO(t *testing.T) {
	http := &scriptedSCHTTP{bodies: []string{`{"w":"","ir":0,"sn":"s1","a":[{"a":"u","n":"AAAAAAAAAA"},{"a":"c","u":"AAAAAAAAAA"}]}`}}
	h := &countingHandler{}
	r := newTestReader(t, http, h)

	if err := r.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if h.applied != 2 {
		t.Fatalf("applied = %d, want 2", h.applied)
	}
	if h.commits != 1 {
		t.Fatalf("commits = %d, want 1 on ir:0", h.commits)
	}
	if !r.StateCurrent() {
		t.Fatalf("expected StateCurrent after first ir:0 batch")
	}
	if r.cursor.Cached().String() != "s1" {
		t.Fatalf("cached cursor = %q, want s1", r.cursor.Cached().String())
	}
}

func TestPollIncompleteRangeDoesNotCommit(t *testing.T) {
	http := &scriptedSCHTTP{bodies: []string{`{"w":"","ir":1,"sn":"s1","a":[{"a":"u","n":"AAAAAAAAAA"}]}`}}
	h := &countingHandler{}
	r := newTestReader(t, http, h)

	if err := r.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if h.commits != 0 {
		t.Fatalf("commits = %d, want 0 while ir:1", h.commits)
	}
	if r.StateCurrent() {
		t.Fatalf("should not be StateCurrent yet")
	}
	if r.cursor.Current().String() != "s1" {
		t.Fatalf("current cursor should still advance to s1 even mid-batch")
	}
}

func TestPollKeepAliveResetsBackoff(t *testing.T) {
	http := &scriptedSCHTTP{bodies: []string{"0"}}
	h := &countingHandler{}
	r := newTestReader(t, http, h)
	r.backoff.Backoff()
	if err := r.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if r.State() != Idle {
		t.Fatalf("state after keep-alive = %v, want Idle", r.State())
	}
	if d := r.backoff.CurrentDelay(); d != 0 {
		t.Fatalf("backoff delay after keep-alive = %v, want 0", d)
	}
	if nf := r.backoff.NextFire(); nf != clock.Never {
		t.Fatalf("backoff next fire after keep-alive = %v, want Never", nf)
	}
}

func TestPollETOOMANYSignalsRestart(t *testing.T) {
	http := &scriptedSCHTTP{bodies: []string{"-6"}}
	h := &countingHandler{}
	r := newTestReader(t, http, h)
	if err := r.Poll(context.Background()); err == nil {
		t.Fatalf("expected an error signaling ETOOMANY restart")
	}
	if r.StateCurrent() {
		t.Fatalf("ETOOMANY should reset StateCurrent")
	}
}

func TestApplyPacketsIsIdempotentOnOwnSession(t *testing.T) {
	// A packet whose origin session matches our own is skipped outside a
	// bulk fetch, but applied during one (§4.3's fetchnodes exception).
	http := &scriptedSCHTTP{bodies: []string{`{"w":"","ir":0,"sn":"s1","a":[{"a":"u","n":"AAAAAAAAAA","i":"sess1"}]}`}}
	h := &countingHandler{}
	r := newTestReader(t, http, h)
	if err := r.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if h.applied != 0 {
		t.Fatalf("self-originated packet should be skipped outside bulk fetch, applied = %d", h.applied)
	}

	http2 := &scriptedSCHTTP{bodies: []string{`{"w":"","ir":0,"sn":"s2","a":[{"a":"u","n":"AAAAAAAAAA","i":"sess1"}]}`}}
	r2 := newTestReader(t, http2, h)
	r2.SetBulkFetch(true)
	if err := r2.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if h.applied != 1 {
		t.Fatalf("self-originated packet should apply during bulk fetch, applied = %d", h.applied)
	}
}
