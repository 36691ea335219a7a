package transfer

import (
	"testing"

	"cryptdrive.io/clock"
)

type countingSlot struct {
	disconnects *int
}

func (s countingSlot) Disconnect() error {
	*s.disconnects++
	return nil
}

// TestHardPauseDisconnectsOnlyThatDirection covers §4.5.4: a hard pause
// disconnects every active slot of the paused direction and leaves the
// other direction untouched.
func TestHardPauseDisconnectsOnlyThatDirection(t *testing.T) {
	e := newTestEngine()
	put := &Transfer{ID: 1, Direction: Put}
	get := &Transfer{ID: 2, Direction: Get}
	e.active[put.ID] = put
	e.active[get.ID] = get

	var disconnects int
	e.Pause(Put, true, func(tr *Transfer) Slot { return countingSlot{&disconnects} })

	if disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", disconnects)
	}
	if put.State != Retrying {
		t.Fatalf("PUT state = %v, want Retrying", put.State)
	}
	if get.State == Retrying {
		t.Fatal("GET was disturbed by a PUT-direction hard pause")
	}
}

// TestSoftPauseDoesNotDisconnect covers §4.5.4: soft pause only freezes
// dispatch, in-flight slots continue.
func TestSoftPauseDoesNotDisconnect(t *testing.T) {
	e := newTestEngine()
	get := &Transfer{ID: 1, Direction: Get, State: Active}
	e.active[get.ID] = get

	called := false
	e.Pause(Get, false, func(tr *Transfer) Slot {
		called = true
		return nil
	})

	if called {
		t.Fatal("soft pause should not touch any slot")
	}
	if get.State != Active {
		t.Fatalf("State = %v, want unchanged Active", get.State)
	}
}

// TestUnpauseRearmsBackoff covers §4.5.4's unpause contract.
func TestUnpauseRearmsBackoff(t *testing.T) {
	e := newTestEngine()
	bo := clock.NewBackoff(e.clock, 1, 100, 1)
	bo.Set(1000) // far in the future
	tr := &Transfer{ID: 1, Direction: Get, State: Retrying, Backoff: bo}
	e.active[tr.ID] = tr
	e.pausedHard[Get] = true
	e.pausedSoft[Get] = true

	e.Unpause(Get)

	if !bo.Armed() {
		t.Fatal("expected backoff to be armed (fire immediately) after Unpause")
	}
	if tr.State != Active {
		t.Fatalf("State = %v, want Active after Unpause", tr.State)
	}
	if e.pausedSoft[Get] || e.pausedHard[Get] {
		t.Fatal("Unpause should clear both pause flags")
	}
}
