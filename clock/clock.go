// Package clock implements the engine's monotonic decisecond clock and the
// exponential backoff timer built on it (§4.1, C1).
//
// There is no direct teacher analogue for a decisecond backoff timer; it is
// built fresh in the surrounding packages' idiom (small struct, minimal
// doc comments matching cache/lru.go's density, no dependency pulled in
// for what is a few lines of arithmetic).
package clock

import (
	"math/rand"
	"sync"
	"time"
)

// DS is a duration measured in deciseconds (tenths of a second), the
// engine's native tick unit (§4.1).
type DS uint32

// Never is the maximum representable DS value, used as a timer's next-fire
// time when it is disarmed.
const Never DS = ^DS(0)

// Clock is a monotonic decisecond clock whose epoch is the instant New was
// called. Values from different Clocks are not comparable.
type Clock struct {
	start time.Time
}

// New returns a Clock whose epoch is the current instant.
func New() *Clock {
	return &Clock{start: time.Now()}
}

// Now returns deciseconds elapsed since the Clock was created.
func (c *Clock) Now() DS {
	return DS(time.Since(c.start) / (100 * time.Millisecond))
}

// Backoff holds an "armed/next-fire" retry schedule against a Clock,
// implementing §4.1's backoff(d)/backoff()/arm()/armed()/reset() contract.
type Backoff struct {
	mu sync.Mutex

	clock       *Clock
	nextFire    DS
	currentDS   DS
	minDS       DS
	maxDS       DS
	rnd         *rand.Rand
}

// NewBackoff returns a Backoff timer disarmed (next fire at Never), whose
// no-arg Backoff() call grows current_delay_ds by doubling, capped at
// maxDS, starting from minDS, with up to 50% multiplicative jitter drawn
// from the given PRNG seed.
func NewBackoff(clock *Clock, minDS, maxDS DS, seed int64) *Backoff {
	if minDS == 0 {
		minDS = 1
	}
	return &Backoff{
		clock:    clock,
		nextFire: Never,
		minDS:    minDS,
		maxDS:    maxDS,
		rnd:      rand.New(rand.NewSource(seed)),
	}
}

// Set arms the timer to fire after delay d, recording d as the current
// delay so a subsequent no-arg Backoff() grows from it.
func (b *Backoff) Set(d DS) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLocked(d)
}

func (b *Backoff) setLocked(d DS) {
	b.currentDS = d
	b.nextFire = b.clock.Now() + d
}

// Backoff grows current_delay_ds by capped exponential doubling with
// jitter and arms the timer to fire after the new delay. Successive calls
// with no intervening Reset yield a non-decreasing current_delay_ds up to
// maxDS (§8 property 6).
func (b *Backoff) Backoff() DS {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.currentDS * 2
	if next < b.minDS {
		next = b.minDS
	}
	if next > b.maxDS {
		next = b.maxDS
	}
	// Jitter within [next/2, next] so the delay never decreases below
	// half the deterministic schedule, keeping monotonicity of the
	// schedule itself even though the observed delay has jitter.
	jitterFloor := next / 2
	if jitterFloor == 0 {
		jitterFloor = 1
	}
	span := next - jitterFloor
	jittered := jitterFloor
	if span > 0 {
		jittered += DS(b.rnd.Intn(int(span) + 1))
	}
	// Clamp to be non-decreasing relative to the previous delay: jitter
	// must never make consecutive backoffs appear to shrink (§8 property 6).
	if jittered < b.currentDS {
		jittered = b.currentDS
	}
	if jittered > b.maxDS {
		jittered = b.maxDS
	}
	b.setLocked(jittered)
	return jittered
}

// Arm forces the timer to fire immediately.
func (b *Backoff) Arm() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextFire = b.clock.Now()
}

// Armed reports whether the timer's next-fire instant has passed.
func (b *Backoff) Armed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clock.Now() >= b.nextFire
}

// Reset disarms the timer and clears the current delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextFire = Never
	b.currentDS = 0
}

// NextFire returns the timer's next-fire instant, Never if disarmed.
func (b *Backoff) NextFire() DS {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextFire
}

// CurrentDelay returns the current (last-armed) delay in deciseconds.
func (b *Backoff) CurrentDelay() DS {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentDS
}

// MinOf returns the smallest of a set of DS values, treating an empty set
// as Never. The main loop uses this each iteration to recompute the
// minimum next_fire_ds across all live timers (§4.1).
func MinOf(values ...DS) DS {
	min := Never
	for _, v := range values {
		if v < min {
			min = v
		}
	}
	return min
}
