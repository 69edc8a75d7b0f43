package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestTurnTimer_FiresOnce(t *testing.T) {
	t.Parallel()

	fc := clockwork.NewFakeClock()
	timer := NewTurnTimer(fc, 15*time.Second)

	var fired atomic.Int32
	seq, deadline := timer.Start(func(uint64) { fired.Add(1) })

	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, fc.Now().Add(15*time.Second), deadline)
	assert.True(t, timer.Live())

	fc.Advance(14 * time.Second)
	assert.Never(t, func() bool { return fired.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	fc.Advance(time.Second)
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)

	fc.Advance(time.Minute)
	assert.Never(t, func() bool { return fired.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestTurnTimer_RestartCancelsPrevious(t *testing.T) {
	t.Parallel()

	fc := clockwork.NewFakeClock()
	timer := NewTurnTimer(fc, 10*time.Second)

	var mu sync.Mutex
	var seen []uint64
	record := func(seq uint64) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, seq)
	}

	timer.Start(record)
	fc.Advance(5 * time.Second)
	second, _ := timer.Start(record)
	assert.Equal(t, uint64(2), second)

	// 第一轮的截止时间已过，但它已被取消
	fc.Advance(5 * time.Second)
	assert.Never(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)

	fc.Advance(5 * time.Second)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0] == second
	}, time.Second, 5*time.Millisecond)
}

func TestTurnTimer_Stop(t *testing.T) {
	t.Parallel()

	fc := clockwork.NewFakeClock()
	timer := NewTurnTimer(fc, time.Second)

	assert.False(t, timer.Stop(), "未启动的计时器无法取消")

	var fired atomic.Bool
	timer.Start(func(uint64) { fired.Store(true) })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Live())

	fc.Advance(time.Hour)
	assert.Never(t, fired.Load, 50*time.Millisecond, 5*time.Millisecond)
}

func TestTurnTimer_DefaultDuration(t *testing.T) {
	t.Parallel()

	timer := NewTurnTimer(clockwork.NewFakeClock(), 0)
	assert.Equal(t, DefaultTurnTimeout, timer.Duration())
	assert.False(t, timer.Live())
}
