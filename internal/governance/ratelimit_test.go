package governance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) (*time.Time, func() time.Time) {
	now := start
	return &now, func() time.Time { return now }
}

func TestKeyedLimiterBurstPerKey(t *testing.T) {
	l := NewKeyedLimiter(LimiterConfig{RequestsPerSecond: 1, BurstSize: 2})
	cur, clock := fixedClock(time.Unix(1_700_000_000, 0))
	l.now = clock

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"), "burst exhausted")
	assert.True(t, l.Allow("b"), "keys are independent")

	*cur = cur.Add(time.Second)
	assert.True(t, l.Allow("a"), "one token refilled")
	assert.False(t, l.Allow("a"))
}

func TestKeyedLimiterDefaults(t *testing.T) {
	l := NewKeyedLimiter(LimiterConfig{})
	st := l.Stats("unknown")
	assert.InDelta(t, 100, st.Limit, 0.001)
	assert.Equal(t, 100, st.BurstSize)
	assert.InDelta(t, 100, st.Available, 0.001)
}

func TestKeyedLimiterSweepsIdleBuckets(t *testing.T) {
	l := NewKeyedLimiter(LimiterConfig{RequestsPerSecond: 5, IdleTTL: time.Minute})
	cur, clock := fixedClock(time.Unix(1_700_000_000, 0))
	l.now = clock

	require.True(t, l.Allow("a"))
	require.True(t, l.Allow("b"))
	require.Equal(t, 2, l.Len())

	*cur = cur.Add(2 * time.Minute)
	require.True(t, l.Allow("c"))
	assert.Equal(t, 1, l.Len())
}
