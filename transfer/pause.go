// Pause semantics for a transfer direction (§4.5.4).
package transfer

// Slot is the subset of a Transfer's connection state a hard pause needs
// to tear down. Real transports (chunked HTTP PUT/GET, RAID-shard
// fetches) implement it; tests use a counting fake.
type Slot interface {
	Disconnect() error
}

// Pause freezes dispatch of new transfers in direction d. A soft pause
// leaves in-flight slots running; a hard pause additionally disconnects
// every active slot in that direction, aborting in-flight chunks cleanly
// (§4.5.4).
func (e *Engine) Pause(d Direction, hard bool, slots func(t *Transfer) Slot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pausedSoft[d] = true
	if !hard {
		return
	}
	e.pausedHard[d] = true
	for _, t := range e.active {
		if t.Direction != d {
			continue
		}
		if slots != nil {
			if s := slots(t); s != nil {
				s.Disconnect()
			}
		}
		t.State = Retrying
	}
}

// Unpause re-arms every active transfer's backoff in direction d so the
// next doio() resumes it, and lets dispatch resume filling that
// direction's slots (§4.5.4).
func (e *Engine) Unpause(d Direction) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pausedSoft[d] = false
	e.pausedHard[d] = false
	for _, t := range e.active {
		if t.Direction != d {
			continue
		}
		if t.Backoff != nil {
			t.Backoff.Arm()
		}
		if t.State == Retrying {
			t.State = Active
		}
	}
}
