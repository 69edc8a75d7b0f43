package handler

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/palemoky/memory-duel/internal/game/session"
	"github.com/palemoky/memory-duel/internal/protocol"
	"github.com/palemoky/memory-duel/internal/protocol/codec"
	"github.com/palemoky/memory-duel/internal/server/types"
)

// DefaultMismatchDelay 翻错后两张牌保持翻开的时间
const DefaultMismatchDelay = 1500 * time.Millisecond

// Deps 处理器依赖
type Deps struct {
	Server        types.ServerInterface // 可为 nil
	Coordinator   *session.Coordinator
	Clock         clockwork.Clock
	MismatchDelay time.Duration
	Recorder      types.ResultRecorder // 可为 nil，未启用战绩存储
	Publisher     types.EventPublisher // 可为 nil，未启用事件推送
}

// Handler 把客户端事件翻译为协调器调用，并把结果广播给在座玩家。
// 每次协调器变更和随后的广播都在 mu 内完成，客户端收到的快照顺序与变更顺序一致。
type Handler struct {
	mu sync.Mutex

	server        types.ServerInterface
	coord         *session.Coordinator
	clock         clockwork.Clock
	mismatchDelay time.Duration
	recorder      types.ResultRecorder
	publisher     types.EventPublisher

	seated map[string]types.ClientInterface

	background sync.WaitGroup // 异步归档
}

// NewHandler 创建处理器，并接管协调器的回合超时回调
func NewHandler(deps Deps) *Handler {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	delay := deps.MismatchDelay
	if delay <= 0 {
		delay = DefaultMismatchDelay
	}

	h := &Handler{
		server:        deps.Server,
		coord:         deps.Coordinator,
		clock:         clock,
		mismatchDelay: delay,
		recorder:      deps.Recorder,
		publisher:     deps.Publisher,
		seated:        make(map[string]types.ClientInterface),
	}
	h.coord.SetExpiryHandler(h.onTurnExpired)
	return h
}

// Handle 处理消息
func (h *Handler) Handle(client types.ClientInterface, msg *protocol.Message) {
	switch msg.Type {
	case protocol.MsgPing:
		h.handlePing(client, msg)

	// 对局操作
	case protocol.MsgReady:
		h.handleReady(client)
	case protocol.MsgFlipCard:
		h.handleFlipCard(client, msg)

	// 排行榜
	case protocol.MsgGetLeaderboard:
		h.handleGetLeaderboard(client, msg)

	default:
		log.Warn().
			Str("type", string(msg.Type)).
			Str("player_id", client.GetID()).
			Int("payload_bytes", len(msg.Payload)).
			Msg("⚠️ 未知消息类型")
		client.SendMessage(codec.NewErrorMessage(protocol.ErrCodeInvalidMsg))
	}
}

// Wait 等待后台归档完成，关闭服务器时调用
func (h *Handler) Wait() {
	h.background.Wait()
}

// SeatedCount 在座连接数
func (h *Handler) SeatedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seated)
}

// broadcastLocked 发给所有在座玩家，调用方持有 h.mu
func (h *Handler) broadcastLocked(msg *protocol.Message) {
	for _, c := range h.seated {
		c.SendMessage(msg)
	}
}

func (h *Handler) broadcastStateLocked() {
	h.broadcastLocked(codec.MustNewMessage(protocol.MsgStateUpdate, h.coord.Snapshot()))
}

func (h *Handler) broadcastLobbyLocked() {
	h.broadcastLocked(codec.MustNewMessage(protocol.MsgLobbyUpdate, h.coord.Lobby()))
}

// publish 推送失败只记日志
func (h *Handler) publish(eventType string, payload any) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(eventType, payload); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("📡 事件推送失败")
	}
}
