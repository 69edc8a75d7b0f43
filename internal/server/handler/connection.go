package handler

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/palemoky/memory-duel/internal/apperrors"
	"github.com/palemoky/memory-duel/internal/game/session"
	"github.com/palemoky/memory-duel/internal/protocol"
	"github.com/palemoky/memory-duel/internal/protocol/codec"
	"github.com/palemoky/memory-duel/internal/server/types"
)

// OnConnect 新连接入座。座位已满时单播 room_full 并返回 false，由调用方断开连接
func (h *Handler) OnConnect(client types.ClientInterface) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	seat, err := h.coord.AddPlayer(client.GetID(), client.GetName())
	if err != nil {
		var ge *apperrors.GameError
		if errors.As(err, &ge) && ge.Code == protocol.ErrCodeRoomFull {
			log.Info().Str("player_id", client.GetID()).Msg("🚪 座位已满，拒绝入座")
			client.SendMessage(codec.MustNewMessage(protocol.MsgRoomFull, protocol.RoomFullPayload{
				Message: ge.Message,
			}))
			return false
		}
		log.Error().Err(err).Str("player_id", client.GetID()).Msg("入座失败")
		client.SendMessage(codec.NewErrorMessageWithText(protocol.ErrCodeUnknown, err.Error()))
		return false
	}

	h.seated[client.GetID()] = client
	client.SendMessage(codec.MustNewMessage(protocol.MsgJoined, protocol.JoinedPayload{
		PlayerID: client.GetID(),
		Name:     client.GetName(),
		Seat:     int(seat),
	}))
	h.broadcastLobbyLocked()

	log.Info().
		Str("player_id", client.GetID()).
		Str("name", client.GetName()).
		Str("seat", seat.String()).
		Msg("🪑 玩家入座")
	return true
}

// OnDisconnect 连接断开后离座。对局中离开则对手不战而胜
func (h *Handler) OnDisconnect(client types.ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.seated[client.GetID()]; !ok {
		return
	}
	delete(h.seated, client.GetID())

	// 离座前的比分用于归档
	players := h.coord.Players()
	startedAt := h.coord.StartedAt()

	outcome := h.coord.RemovePlayer(client.GetID())
	log.Info().
		Str("player_id", client.GetID()).
		Str("outcome", outcome.String()).
		Msg("👋 玩家离座")

	switch outcome {
	case session.ForcedWin:
		h.finishGameLocked(protocol.GameOverWalkover, players, startedAt)
	case session.Left:
		h.broadcastLobbyLocked()
	}
}

// handlePing 心跳
func (h *Handler) handlePing(client types.ClientInterface, msg *protocol.Message) {
	var clientTS int64
	if payload, err := codec.ParsePayload[protocol.PingPayload](msg); err == nil {
		clientTS = payload.Timestamp
	}
	client.SendMessage(codec.MustNewMessage(protocol.MsgPong, protocol.PongPayload{
		ClientTimestamp: clientTS,
		ServerTimestamp: h.clock.Now().UnixMilli(),
	}))
}
