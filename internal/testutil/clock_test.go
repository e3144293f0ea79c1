package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DirkWillem/HAL2/internal/sim"
)

func TestVirtualClock_StartsAtZero(t *testing.T) {
	clock := NewVirtualClock()
	assert.Equal(t, sim.Timestamp(0), clock.Now())
	assert.Equal(t, 0, clock.Pending())

	_, ok := clock.Next()
	assert.False(t, ok)
}

func TestVirtualClock_RunUntilProcessesDueEventsInOrder(t *testing.T) {
	clock := NewVirtualClock()
	var order []string

	clock.Schedule(300, func() { order = append(order, "c") })
	clock.Schedule(100, func() { order = append(order, "a") })
	clock.Schedule(100, func() { order = append(order, "b") })
	clock.Schedule(900, func() { order = append(order, "late") })

	require.True(t, clock.RunUntil(500))

	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, sim.Timestamp(500), clock.Now())
	assert.Equal(t, 1, clock.Pending())
}

func TestVirtualClock_RunUntilRejectsPast(t *testing.T) {
	clock := NewVirtualClock()
	require.True(t, clock.RunUntil(1000))

	assert.False(t, clock.RunUntil(999))
	assert.Equal(t, sim.Timestamp(1000), clock.Now())
}

func TestVirtualClock_EventSeesItsOwnTimestamp(t *testing.T) {
	clock := NewVirtualClock()
	var seen sim.Timestamp
	clock.Schedule(250, func() { seen = clock.Now() })

	clock.RunUntil(1000)

	assert.Equal(t, sim.Timestamp(250), seen)
}

func TestVirtualClock_RunNext(t *testing.T) {
	clock := NewVirtualClock()
	var fired []sim.Timestamp
	record := func() { fired = append(fired, clock.Now()) }

	clock.Schedule(10, record)
	clock.Schedule(10, record)
	clock.Schedule(20, record)

	assert.True(t, clock.RunNext(100))
	assert.Equal(t, []sim.Timestamp{10, 10}, fired)
	assert.Equal(t, sim.Timestamp(10), clock.Now())

	assert.True(t, clock.RunNext(100))
	assert.Equal(t, sim.Timestamp(20), clock.Now())

	assert.False(t, clock.RunNext(100))
	assert.Equal(t, sim.Timestamp(100), clock.Now())
}

func TestVirtualClock_RunNextStopsAtUpperBound(t *testing.T) {
	clock := NewVirtualClock()
	called := false
	clock.Schedule(500, func() { called = true })

	assert.False(t, clock.RunNext(200))
	assert.False(t, called)
	assert.Equal(t, sim.Timestamp(200), clock.Now())
	assert.Equal(t, 1, clock.Pending())
}

func TestVirtualClock_ScheduleInPastIsClamped(t *testing.T) {
	clock := NewVirtualClock()
	clock.RunUntil(100)

	clock.Schedule(50, func() {})
	next, ok := clock.Next()
	require.True(t, ok)
	assert.Equal(t, sim.Timestamp(100), next)
}

func TestVirtualClock_EventsScheduledDuringRunAreProcessed(t *testing.T) {
	clock := NewVirtualClock()
	count := 0
	var tick func()
	tick = func() {
		count++
		clock.Schedule(clock.Now()+100, tick)
	}
	clock.Schedule(0, tick)

	clock.RunUntil(1000)

	// 0, 100, ..., 1000
	assert.Equal(t, 11, count)
}

func TestVirtualClock_Reset(t *testing.T) {
	clock := NewVirtualClock()
	clock.Schedule(10, func() {})
	clock.RunUntil(5)

	clock.Reset()

	assert.Equal(t, sim.Timestamp(0), clock.Now())
	assert.Equal(t, 0, clock.Pending())
}
