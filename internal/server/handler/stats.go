package handler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/palemoky/memory-duel/internal/game/session"
	"github.com/palemoky/memory-duel/internal/protocol"
	"github.com/palemoky/memory-duel/internal/protocol/codec"
	"github.com/palemoky/memory-duel/internal/server/storage"
	"github.com/palemoky/memory-duel/internal/server/types"
)

const (
	storageTimeout = 3 * time.Second
	recentShown    = 5 // 排行榜附带的最近对局数
)

// recordMatch 异步归档，不阻塞对局流程
func (h *Handler) recordMatch(reason string, players []session.Player, winner *protocol.PlayerState, startedAt time.Time) {
	if h.recorder == nil {
		return
	}

	result := &storage.MatchResult{
		ID:        uuid.NewString(),
		Reason:    reason,
		Players:   make([]storage.MatchPlayer, 0, len(players)),
		StartedAt: startedAt.UnixMilli(),
		EndedAt:   h.clock.Now().UnixMilli(),
	}
	if winner != nil {
		result.WinnerID = winner.PlayerID
	}
	for _, p := range players {
		result.Players = append(result.Players, storage.MatchPlayer{
			ID:    p.ID,
			Name:  p.Name,
			Seat:  int(p.Seat),
			Score: p.Score,
		})
	}

	h.background.Add(1)
	go func() {
		defer h.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
		defer cancel()
		if err := h.recorder.RecordMatch(ctx, result); err != nil {
			log.Error().Err(err).Str("match_id", result.ID).Msg("💾 对局归档失败")
		}
	}()
}

// handleGetLeaderboard 获取排行榜
func (h *Handler) handleGetLeaderboard(client types.ClientInterface, msg *protocol.Message) {
	if h.recorder == nil {
		client.SendMessage(codec.NewErrorMessage(protocol.ErrCodeStatsUnavailable))
		return
	}

	payload, err := codec.ParsePayload[protocol.GetLeaderboardPayload](msg)
	if err != nil {
		// 默认总榜前 10
		payload = &protocol.GetLeaderboardPayload{Type: storage.LeaderboardTotal}
	}
	if payload.Type == "" {
		payload.Type = storage.LeaderboardTotal
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	entries, err := h.recorder.Leaderboard(ctx, payload.Type, payload.Limit)
	if err != nil {
		if errors.Is(err, storage.ErrUnknownLeaderboard) {
			client.SendMessage(codec.NewErrorMessage(protocol.ErrCodeInvalidMsg))
			return
		}
		log.Error().Err(err).Msg("读取排行榜失败")
		client.SendMessage(codec.NewErrorMessageWithText(protocol.ErrCodeUnknown, "获取排行榜失败"))
		return
	}

	totals, err := h.recorder.Totals(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("读取累计统计失败")
	}

	recent, err := h.recorder.RecentMatches(ctx, recentShown)
	if err != nil {
		log.Warn().Err(err).Msg("读取最近对局失败")
	}

	client.SendMessage(codec.MustNewMessage(protocol.MsgLeaderboardResult, protocol.LeaderboardResultPayload{
		Type:    payload.Type,
		Entries: entries,
		Totals:  totals,
		Recent:  summarize(recent),
	}))
}

// summarize 归档记录转为下发给客户端的摘要，不暴露连接 id
func summarize(results []*storage.MatchResult) []protocol.MatchSummary {
	out := make([]protocol.MatchSummary, 0, len(results))
	for _, r := range results {
		s := protocol.MatchSummary{Reason: r.Reason, EndedAt: r.EndedAt}
		for _, p := range r.Players {
			if p.ID == r.WinnerID {
				s.Winner = p.Name
			}
			s.Players = append(s.Players, protocol.PlayerState{Seat: p.Seat, Name: p.Name, Score: p.Score})
		}
		out = append(out, s)
	}
	return out
}
