package session

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/palemoky/memory-duel/internal/apperrors"
	"github.com/palemoky/memory-duel/internal/game/card"
)

// 计分规则
const (
	basePoints      = 100
	pointsPerSecond = 5
	minPoints       = 10
)

// Config 协调器配置
type Config struct {
	TurnTimeout time.Duration
	Symbols     []string
	Clock       clockwork.Clock
	Shuffle     card.ShuffleFunc
}

// Coordinator 对局的唯一权威，所有状态变更都经过这里
type Coordinator struct {
	mu sync.Mutex

	clock   clockwork.Clock
	symbols []string
	shuffle card.ShuffleFunc
	timer   *TurnTimer

	seats   [2]*Player
	deck    card.Deck
	active  bool
	current Seat
	pending []*card.Card

	turn        uint64    // 当前回合序号，与计时器序号一致
	turnStart   time.Time // 本回合开始时间
	firstFlipAt time.Time // 本组第一张牌翻开时间
	deadline    time.Time // 本回合截止时间
	startedAt   time.Time // 本局开始时间

	onExpire func(turn uint64)
}

// NewCoordinator 创建协调器
func NewCoordinator(cfg Config) (*Coordinator, error) {
	symbols := cfg.Symbols
	if len(symbols) == 0 {
		symbols = card.DefaultSymbols
	}
	if err := card.ValidateSymbols(symbols); err != nil {
		return nil, fmt.Errorf("invalid symbols: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Coordinator{
		clock:   clock,
		symbols: append([]string(nil), symbols...),
		shuffle: cfg.Shuffle,
		timer:   NewTurnTimer(clock, cfg.TurnTimeout),
	}, nil
}

// SetExpiryHandler 设置回合超时回调。
// 回调拿到触发时的回合序号后应调用 ExpireTurn；未设置时协调器自行调用。
func (c *Coordinator) SetExpiryHandler(fn func(turn uint64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpire = fn
}

// AddPlayer 入座：一号位为空则坐一号位，否则坐二号位
func (c *Coordinator) AddPlayer(id, name string) (Seat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.findLocked(id) != nil {
		return SeatNone, apperrors.ErrAlreadySeated
	}

	for i, p := range c.seats {
		if p == nil {
			seat := seatAt(i)
			c.seats[i] = &Player{ID: id, Name: name, Seat: seat}
			return seat, nil
		}
	}
	return SeatNone, apperrors.ErrRoomFull
}

// RemovePlayer 离座。对局中离开则对手不战而胜。
func (c *Coordinator) RemovePlayer(id string) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.findLocked(id)
	if p == nil {
		return Ignored
	}
	c.seats[p.Seat.index()] = nil

	if !c.active {
		return Left
	}

	c.finishLocked()
	return ForcedWin
}

// SetReady 标记准备。
// allReady 表示两个座位均已准备；dealNow 仅在准备人数首次达到二时为 true，调用方据此开局。
func (c *Coordinator) SetReady(id string) (allReady, dealNow bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.findLocked(id)
	if p == nil || c.active {
		return false, false
	}

	wasReady := p.Ready
	p.Ready = true

	allReady = c.seats[0] != nil && c.seats[1] != nil && c.seats[0].Ready && c.seats[1].Ready
	return allReady, allReady && !wasReady
}

// StartGame 发一副新洗好的牌，一号位先手并开始计时。座位未满时返回 false。
func (c *Coordinator) StartGame() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seats[0] == nil || c.seats[1] == nil {
		return false
	}

	deck, err := card.NewDeck(c.symbols, c.shuffle)
	if err != nil {
		// 图案在构造时已校验
		log.Error().Err(err).Msg("生成牌组失败")
		return false
	}

	c.deck = deck
	c.pending = nil
	for _, p := range c.seats {
		p.Score = 0
	}
	c.active = true
	c.startedAt = c.clock.Now()
	c.startTurnLocked(SeatOne)

	log.Debug().
		Int("cards", len(c.deck)).
		Dur("turn_timeout", c.timer.Duration()).
		Msg("🃏 发牌")
	return true
}

// FlipCard 翻牌。非当前座位、未知/已翻开/已配对的牌、或已有两张待比较时一律忽略。
func (c *Coordinator) FlipCard(cardID int, callerID string) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return Ignored
	}
	p := c.seats[c.current.index()]
	if p == nil || p.ID != callerID {
		return Ignored
	}
	if len(c.pending) >= 2 {
		return Ignored
	}
	cd, ok := c.deck.Get(cardID)
	if !ok || cd.FaceUp || cd.Matched {
		return Ignored
	}

	cd.FaceUp = true
	c.pending = append(c.pending, cd)

	if len(c.pending) == 1 {
		c.firstFlipAt = c.clock.Now()
		return WaitingSecond
	}

	c.timer.Stop()

	first, second := c.pending[0], c.pending[1]
	if first.Symbol != second.Symbol {
		// 保持翻开，由调用方延时后调用 ResetAndAdvance
		return Mismatch
	}

	first.Matched = true
	second.Matched = true
	p.Score += MatchPoints(c.clock.Since(c.firstFlipAt))
	c.pending = nil

	if c.deck.AllMatched() {
		c.finishLocked()
		return GameOver
	}

	// 配对成功，同一座位继续
	c.startTurnLocked(c.current)
	return Match
}

// ResetAndAdvance 盖回待比较的牌，换对手并重新计时
func (c *Coordinator) ResetAndAdvance() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return false
	}
	c.resetAndAdvanceLocked()
	return true
}

// ExpireTurn 计时器到期入口，行为同 ResetAndAdvance。
// turn 不是当前回合、或本回合计时器已被取消时视为过期触发，不做任何事。
func (c *Coordinator) ExpireTurn(turn uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active || turn != c.turn || !c.timer.Live() {
		return false
	}

	log.Debug().
		Uint64("turn", turn).
		Str("seat", c.current.String()).
		Int("pending", len(c.pending)).
		Msg("⏰ 回合超时")

	c.resetAndAdvanceLocked()
	return true
}

// Winner 仅在对局结束后有定义：单人在座即为胜者，双人比分高者胜，平分无胜者
func (c *Coordinator) Winner() *Player {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w := c.winnerLocked(); w != nil {
		cp := *w
		return &cp
	}
	return nil
}

// Turn 当前回合序号
func (c *Coordinator) Turn() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn
}

// Active 对局是否进行中
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// CurrentSeat 当前回合座位
func (c *Coordinator) CurrentSeat() Seat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// PendingCount 待比较的牌数
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Player 按 id 查找玩家（副本）
func (c *Coordinator) Player(id string) (Player, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p := c.findLocked(id); p != nil {
		return *p, true
	}
	return Player{}, false
}

// Players 在座玩家（副本），按座位排序
func (c *Coordinator) Players() []Player {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Player, 0, 2)
	for _, p := range c.seats {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// StartedAt 本局开始时间
func (c *Coordinator) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

// MatchPoints 配对得分：max(10, floor(100 - 秒数 × 5))
func MatchPoints(elapsed time.Duration) int {
	if elapsed < 0 {
		elapsed = 0
	}
	points := int(math.Floor(basePoints - elapsed.Seconds()*pointsPerSecond))
	return max(minPoints, points)
}

// --- 以下方法要求调用方已持有 c.mu ---

func (c *Coordinator) findLocked(id string) *Player {
	for _, p := range c.seats {
		if p != nil && p.ID == id {
			return p
		}
	}
	return nil
}

func (c *Coordinator) startTurnLocked(seat Seat) {
	c.current = seat
	c.turnStart = c.clock.Now()
	c.turn, c.deadline = c.timer.Start(c.fire)
}

func (c *Coordinator) resetAndAdvanceLocked() {
	for _, cd := range c.pending {
		cd.FaceUp = false
	}
	c.pending = nil
	c.startTurnLocked(c.current.Other())
}

// finishLocked 结束对局：取消计时、清空准备状态
func (c *Coordinator) finishLocked() {
	c.timer.Stop()
	c.active = false
	log.Debug().
		Int("matched_pairs", c.deck.MatchedCount()/2).
		Int("pairs", len(c.deck)/2).
		Dur("elapsed", c.clock.Since(c.startedAt)).
		Msg("🏁 对局结束")
	for _, p := range c.seats {
		if p != nil {
			p.Ready = false
		}
	}
}

func (c *Coordinator) occupancyLocked() occupancy {
	switch {
	case c.seats[0] != nil && c.seats[1] != nil:
		return occupancyTwo
	case c.seats[0] != nil || c.seats[1] != nil:
		return occupancyOne
	default:
		return occupancyEmpty
	}
}

func (c *Coordinator) winnerLocked() *Player {
	if c.active {
		return nil
	}

	switch c.occupancyLocked() {
	case occupancyOne:
		if c.seats[0] != nil {
			return c.seats[0]
		}
		return c.seats[1]
	case occupancyTwo:
		one, two := c.seats[0], c.seats[1]
		switch {
		case one.Score > two.Score:
			return one
		case two.Score > one.Score:
			return two
		}
		return nil
	default:
		return nil
	}
}

// fire 计时器回调，在计时器自己的 goroutine 中运行，不能持锁调用外部回调
func (c *Coordinator) fire(turn uint64) {
	c.mu.Lock()
	handler := c.onExpire
	c.mu.Unlock()

	if handler != nil {
		handler(turn)
		return
	}
	c.ExpireTurn(turn)
}
