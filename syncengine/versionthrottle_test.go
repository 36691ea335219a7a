package syncengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionThrottleDelaySecs(t *testing.T) {
	cases := []struct {
		name          string
		v             int
		prevCtimeSecs int64
		nowSecs       int64
		want          int64
	}{
		{"at threshold", 10, 1000, 1000, 0},
		{"below threshold", 3, 1000, 1000, 0},
		{"just over threshold, not yet due", 11, 1000, 1000, 7*1*1 + 1000 - 1000},
		{"already past fire time", 20, 1000, 5000, 0},
		{"future fire time", 30, 1000, 1000, 7 * 3 * 20},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := versionThrottleDelaySecs(c.v, c.prevCtimeSecs, c.nowSecs)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestVersionThrottleDelayNeverNegative(t *testing.T) {
	for v := 11; v < 200; v++ {
		got := versionThrottleDelaySecs(v, 0, 1<<40)
		assert.GreaterOrEqual(t, got, int64(0))
	}
}

func TestRecentVersionCount(t *testing.T) {
	now := int64(10_000)
	times := []int64{now - 100, now - RecentVersionIntervalSecs, now - RecentVersionIntervalSecs - 1, now - 5}
	assert.Equal(t, 3, recentVersionCount(times, now))
}

func TestRecentVersionCountEmpty(t *testing.T) {
	assert.Equal(t, 0, recentVersionCount(nil, 12345))
}
