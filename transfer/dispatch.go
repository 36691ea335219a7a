package transfer

import "cryptdrive.io/clock"

// category pairs a direction with a size bucket; Dispatch walks
// these in the fixed priority order of §4.5.1.
type category struct {
	dir Direction
	cat SizeCategory
}

var dispatchOrder = []category{
	{Put, Large},
	{Get, Large},
	{Put, Small},
	{Get, Small},
}

// Dispatch runs one scheduling tick (§4.5.1's dispatchTransfers): it moves
// as many queued transfers into active slots as the invariants allow and
// returns the ones it started, in start order. setup is invoked
// synchronously for each one before it is counted as active; if setup
// returns an error the transfer is left Queued and dispatch moves on.
func (e *Engine) Dispatch(now clock.DS, setup func(t *Transfer) error) []*Transfer {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.active) >= MaxTotalTransfers {
		return nil
	}

	haltUploads := e.faQueueLen > MaxQueuedFA

	var started []*Transfer
	var newStarts [2]int

	for _, c := range dispatchOrder {
		if e.pausedSoft[c.dir] {
			continue
		}
		if c.dir == Put && haltUploads {
			continue
		}
		e.fillCategory(c, now, &newStarts, &started, setup)
		if len(e.active) >= MaxTotalTransfers {
			break
		}
	}
	return started
}

func (e *Engine) fillCategory(c category, now clock.DS, newStarts *[2]int, started *[]*Transfer, setup func(t *Transfer) error) {
	dirActive := e.countActive(c.dir)
	remaining := e.remainingBytesActive(c.dir, c.cat)
	target := e.enqueueTarget(c.dir)

	if c.cat == Large && e.dominanceActive(c.dir) {
		return
	}

	for remaining < target {
		if len(e.active) >= MaxTotalTransfers {
			return
		}
		if dirActive >= MaxTransfersPerDirection {
			return
		}
		if newStarts[c.dir] >= MaxNewStartsPerTick {
			return
		}
		t := e.popQueued(c.dir, c.cat)
		if t == nil {
			return
		}
		if setup != nil {
			if err := setup(t); err != nil {
				// Leave the transfer queued; the caller's setup is
				// responsible for logging and, for a hard failure,
				// removing it from the queue itself.
				e.queued = append([]*Transfer{t}, e.queued...)
				return
			}
		}
		t.State = Active
		e.active[t.ID] = t
		*started = append(*started, t)
		dirActive++
		newStarts[c.dir]++
		remaining += t.remainingBytes()
	}
}

func (e *Engine) countActive(d Direction) int {
	n := 0
	for _, t := range e.active {
		if t.Direction == d {
			n++
		}
	}
	return n
}

func (e *Engine) remainingBytesActive(d Direction, c SizeCategory) int64 {
	var sum int64
	for _, t := range e.active {
		if t.Direction == d && t.Category == c {
			sum += t.remainingBytes()
		}
	}
	return sum
}

func (e *Engine) dominanceActive(d Direction) bool {
	for _, t := range e.active {
		if t.Direction == d && t.dominates() {
			return true
		}
	}
	return false
}

// enqueueTarget implements §4.5.1's "remaining bytes ≥ max(2 MiB,
// min(100 MiB, 30 × current_direction_speed))".
func (e *Engine) enqueueTarget(d Direction) int64 {
	target := int64(speedLookaheadDS) * int64(e.speed[d])
	if target > maxEnqueueBytes {
		target = maxEnqueueBytes
	}
	if target < minEnqueueBytes {
		target = minEnqueueBytes
	}
	return target
}

// popQueued removes and returns the first queued transfer matching
// (dir, cat), or nil if none is waiting.
func (e *Engine) popQueued(dir Direction, cat SizeCategory) *Transfer {
	for i, t := range e.queued {
		if t.Direction == dir && t.Category == cat {
			e.queued = append(e.queued[:i], e.queued[i+1:]...)
			return t
		}
	}
	return nil
}
