package session

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTurnTimeout 每回合时长
const DefaultTurnTimeout = 15 * time.Second

// TurnTimer 一次性、可取消的回合计时器。
// 不自带锁，由 Coordinator 在持锁状态下调用。
type TurnTimer struct {
	clock    clockwork.Clock
	duration time.Duration
	timer    clockwork.Timer
	seq      uint64
}

// NewTurnTimer 创建回合计时器
func NewTurnTimer(clock clockwork.Clock, d time.Duration) *TurnTimer {
	if d <= 0 {
		d = DefaultTurnTimeout
	}
	return &TurnTimer{clock: clock, duration: d}
}

// Start 先取消正在运行的计时器，再开始新的一轮。
// onFire 收到本轮序号，用于识别过期的触发。
func (t *TurnTimer) Start(onFire func(seq uint64)) (uint64, time.Time) {
	t.Stop()

	t.seq++
	seq := t.seq
	deadline := t.clock.Now().Add(t.duration)
	t.timer = t.clock.AfterFunc(t.duration, func() {
		onFire(seq)
	})
	return seq, deadline
}

// Stop 取消计时器，返回是否确实取消了一个尚未触发的计时器
func (t *TurnTimer) Stop() bool {
	if t.timer == nil {
		return false
	}
	stopped := t.timer.Stop()
	t.timer = nil
	return stopped
}

// Live 本轮计时器是否仍处于挂起状态（未被取消）
func (t *TurnTimer) Live() bool {
	return t.timer != nil
}

// Duration 回合时长
func (t *TurnTimer) Duration() time.Duration {
	return t.duration
}
