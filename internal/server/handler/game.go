package handler

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/palemoky/memory-duel/internal/game/session"
	"github.com/palemoky/memory-duel/internal/protocol"
	"github.com/palemoky/memory-duel/internal/protocol/codec"
	"github.com/palemoky/memory-duel/internal/server/events"
	"github.com/palemoky/memory-duel/internal/server/types"
)

// handleReady 准备。两人首次都准备好时发牌开局，每轮准备只发一次
func (h *Handler) handleReady(client types.ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.seated[client.GetID()]; !ok || h.coord.Active() {
		return
	}
	if h.server != nil && h.server.IsMaintenanceMode() {
		client.SendMessage(codec.NewErrorMessage(protocol.ErrCodeServerMaintenance))
		return
	}

	allReady, dealNow := h.coord.SetReady(client.GetID())
	h.broadcastLobbyLocked()

	if p, ok := h.coord.Player(client.GetID()); ok {
		log.Debug().
			Str("name", p.Name).
			Str("seat", p.Seat.String()).
			Bool("all_ready", allReady).
			Msg("✋ 玩家准备")
	}

	if !dealNow || !h.coord.StartGame() {
		return
	}

	state := h.coord.Snapshot()
	h.broadcastLocked(codec.MustNewMessage(protocol.MsgGameStarted, protocol.GameStartedPayload{
		Message: "🎴 游戏开始！",
		State:   state,
	}))
	h.publish(events.EventGameStarted, state)

	log.Info().Int("cards", len(state.Board)).Msg("🎮 对局开始")
}

// handleFlipCard 翻牌。无效操作不回任何消息
func (h *Handler) handleFlipCard(client types.ClientInterface, msg *protocol.Message) {
	payload, err := codec.ParsePayload[protocol.FlipCardPayload](msg)
	if err != nil {
		client.SendMessage(codec.NewErrorMessage(protocol.ErrCodeInvalidMsg))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	startedAt := h.coord.StartedAt()
	outcome := h.coord.FlipCard(payload.CardID, client.GetID())
	if outcome == session.Ignored {
		return
	}

	log.Debug().
		Str("player_id", client.GetID()).
		Int("card_id", payload.CardID).
		Str("outcome", outcome.String()).
		Msg("🃏 翻牌")

	switch outcome {
	case session.GameOver:
		h.broadcastStateLocked()
		h.finishGameLocked(protocol.GameOverCompleted, h.coord.Players(), startedAt)
	case session.Mismatch:
		h.broadcastStateLocked()
		h.scheduleMismatchReset(h.coord.Turn())
	default:
		h.broadcastStateLocked()
	}
}

// scheduleMismatchReset 展示翻错的两张牌一段时间后盖回并换人。
// 期间回合若已改变（对手离开、新开一局），则放弃。
func (h *Handler) scheduleMismatchReset(turn uint64) {
	h.clock.AfterFunc(h.mismatchDelay, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if h.coord.Turn() != turn || h.coord.PendingCount() != 2 {
			return
		}
		if h.coord.ResetAndAdvance() {
			h.broadcastStateLocked()
		}
	})
}

// onTurnExpired 回合计时器回调，在计时器 goroutine 中运行
func (h *Handler) onTurnExpired(turn uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.coord.ExpireTurn(turn) {
		return
	}

	h.broadcastLocked(codec.MustNewMessage(protocol.MsgTurnExpired, protocol.TurnExpiredPayload{
		Message: "⏰ 时间到！轮到对手",
	}))
	state := h.coord.Snapshot()
	h.broadcastLocked(codec.MustNewMessage(protocol.MsgStateUpdate, state))
	h.publish(events.EventTurnExpired, map[string]any{
		"turn":        turn,
		"currentSeat": state.CurrentSeat,
	})
}

// finishGameLocked 广播结果、归档、推送事件
func (h *Handler) finishGameLocked(reason string, players []session.Player, startedAt time.Time) {
	state := h.coord.Snapshot()
	payload := protocol.GameOverPayload{
		Reason: reason,
		Winner: state.Winner,
		State:  state,
	}
	h.broadcastLocked(codec.MustNewMessage(protocol.MsgGameOver, payload))
	// 准备状态已清空
	h.broadcastLobbyLocked()

	h.publish(events.EventGameOver, payload)
	h.recordMatch(reason, players, state.Winner, startedAt)

	logEvent := log.Info().Str("reason", reason)
	if state.Winner != nil {
		logEvent = logEvent.Str("winner", state.Winner.Name).Int("score", state.Winner.Score)
	}
	logEvent.Msg("🏁 对局结束")
}
