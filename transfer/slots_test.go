package transfer

import (
	"testing"

	"cryptdrive.io/clock"
	"cryptdrive.io/core"
	"cryptdrive.io/cryptoimpl"
)

type fakeSender struct {
	putNodesCalls int
}

func (f *fakeSender) RequestTransferURLs(t *Transfer, complete func(urls []string, retryInSecs int, err error)) {
	complete([]string{"https://example.invalid/url"}, 0, nil)
}

func (f *fakeSender) PutNodes(t *Transfer, complete func(node core.NodeHandle, err error)) {
	f.putNodesCalls++
	complete(core.NodeHandle(1000+core.Handle(t.ID)), nil)
}

func newTestEngine() *Engine {
	c := clock.New()
	return New(cryptoimpl.New(), nil, nil, &fakeSender{}, c)
}

func noopSetup(t *Transfer) error {
	t.Key = []byte("0123456789abcdef")
	return nil
}

// TestSlotCountInvariants covers §8 property 3: slot counts never exceed
// their caps regardless of how many transfers are queued.
func TestSlotCountInvariants(t *testing.T) {
	e := newTestEngine()
	for i := 0; i < 100; i++ {
		e.Enqueue(&Transfer{Direction: Put, Size: 10, Backoff: clock.NewBackoff(e.clock, 1, 100, 1)})
	}
	for i := 0; i < 100; i++ {
		e.Enqueue(&Transfer{Direction: Get, Size: 10, Backoff: clock.NewBackoff(e.clock, 1, 100, 1)})
	}

	for tick := 0; tick < 10; tick++ {
		e.Dispatch(e.clock.Now(), noopSetup)
		active := e.Active()
		total := len(active)
		var puts, gets int
		for _, tr := range active {
			if tr.Direction == Put {
				puts++
			} else {
				gets++
			}
		}
		if total > MaxTotalTransfers {
			t.Fatalf("tick %d: total active = %d, want <= %d", tick, total, MaxTotalTransfers)
		}
		if puts > MaxTransfersPerDirection {
			t.Fatalf("tick %d: active PUTs = %d, want <= %d", tick, puts, MaxTransfersPerDirection)
		}
		if gets > MaxTransfersPerDirection {
			t.Fatalf("tick %d: active GETs = %d, want <= %d", tick, gets, MaxTransfersPerDirection)
		}
		// Complete everything so the next tick can start more, exercising
		// the loop across many ticks instead of settling immediately.
		for _, tr := range active {
			e.finish(tr, core.UndefinedNode)
		}
	}
}

// TestSoftPauseLeavesOtherDirectionAlone covers the second half of §8
// property 3: soft-pausing PUT must not change slots_get.
func TestSoftPauseLeavesOtherDirectionAlone(t *testing.T) {
	e := newTestEngine()
	for i := 0; i < 5; i++ {
		e.Enqueue(&Transfer{Direction: Get, Size: 10, Backoff: clock.NewBackoff(e.clock, 1, 100, 1)})
	}
	e.Dispatch(e.clock.Now(), noopSetup)
	before := e.countActive(Get)

	e.Pause(Put, false, nil)
	e.Enqueue(&Transfer{Direction: Get, Size: 10, Backoff: clock.NewBackoff(e.clock, 1, 100, 1)})
	e.Dispatch(e.clock.Now(), noopSetup)
	after := e.countActive(Get)

	if after <= before {
		t.Fatalf("GET slots did not grow after enqueue+dispatch while PUT was soft-paused: before=%d after=%d", before, after)
	}
}

// TestDispatchOrderPrefersLargePuts checks the (PUT,LARGE) > (GET,LARGE) >
// (PUT,SMALL) > (GET,SMALL) priority of §4.5.1 when every category has a
// waiting transfer: the first transfer started is (PUT,LARGE).
func TestDispatchOrderPrefersLargePuts(t *testing.T) {
	e := newTestEngine()
	e.speed[Put] = 0
	e.speed[Get] = 0

	big := int64(sizeCategoryThreshold + 1)
	small := int64(10)
	e.Enqueue(&Transfer{Direction: Get, Size: small, Backoff: clock.NewBackoff(e.clock, 1, 100, 1)})
	e.Enqueue(&Transfer{Direction: Put, Size: small, Backoff: clock.NewBackoff(e.clock, 1, 100, 1)})
	e.Enqueue(&Transfer{Direction: Get, Size: big, Backoff: clock.NewBackoff(e.clock, 1, 100, 1)})
	e.Enqueue(&Transfer{Direction: Put, Size: big, Backoff: clock.NewBackoff(e.clock, 1, 100, 1)})

	started := e.Dispatch(e.clock.Now(), noopSetup)
	if len(started) == 0 {
		t.Fatal("expected at least one transfer to start")
	}
	if started[0].Direction != Put || started[0].Category != Large {
		t.Fatalf("first started transfer = (%v,%v), want (Put,Large)", started[0].Direction, started[0].Category)
	}
}

// TestFAQueueJamHaltsUploads covers §4.5.1's "halt new uploads" rule.
func TestFAQueueJamHaltsUploads(t *testing.T) {
	e := newTestEngine()
	e.SetFAQueueLen(MaxQueuedFA + 1)
	e.Enqueue(&Transfer{Direction: Put, Size: 10, Backoff: clock.NewBackoff(e.clock, 1, 100, 1)})

	started := e.Dispatch(e.clock.Now(), noopSetup)
	for _, tr := range started {
		if tr.Direction == Put {
			t.Fatalf("PUT started while FA queue jammed")
		}
	}
	if len(e.Queued()) != 1 {
		t.Fatalf("expected the PUT to remain queued")
	}
}

// TestBigFileDominanceBlocksMoreOfCategory covers the "one very big file
// dominates" rule of §4.5.1.
func TestBigFileDominanceBlocksMoreOfCategory(t *testing.T) {
	e := newTestEngine()
	dominant := &Transfer{
		ID: 1, Direction: Get, Category: Large,
		Size: sizeCategoryThreshold + 10*1024*1024,
	}
	e.active[dominant.ID] = dominant

	e.Enqueue(&Transfer{Direction: Get, Size: sizeCategoryThreshold + 1, Backoff: clock.NewBackoff(e.clock, 1, 100, 1)})
	e.Dispatch(e.clock.Now(), noopSetup)

	if len(e.Queued()) != 1 {
		t.Fatalf("expected the second large GET to stay queued behind the dominant transfer")
	}
}
