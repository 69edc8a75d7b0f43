package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
)

// --- 客户端请求 Payloads ---

// PingPayload 心跳请求
type PingPayload struct {
	Timestamp int64 `json:"timestamp"` // 客户端时间戳（毫秒）
}

// FlipCardPayload 翻牌请求
type FlipCardPayload struct {
	CardID int `json:"cardId"`
}

// ErrMissingCardID 翻牌请求缺少 cardId
var ErrMissingCardID = errors.New("flip_card 缺少 cardId")

// UnmarshalJSON 兼容旧客户端直接发送数字 cardId 的写法。
// 缺少 cardId 的对象和 null 都视为非法请求，不能落到零值牌上。
func (p *FlipCardPayload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)

	var id *int
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var v struct {
			CardID *int `json:"cardId"`
		}
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return err
		}
		id = v.CardID
	} else if err := json.Unmarshal(trimmed, &id); err != nil {
		return err
	}

	if id == nil {
		return ErrMissingCardID
	}
	p.CardID = *id
	return nil
}

// GetLeaderboardPayload 获取排行榜请求
type GetLeaderboardPayload struct {
	Type  string `json:"type"`  // total/daily
	Limit int    `json:"limit"` // 数量
}

// --- 服务端响应 Payloads ---

// JoinedPayload 入座成功
type JoinedPayload struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Seat     int    `json:"seat"`
}

// RoomFullPayload 座位已满
type RoomFullPayload struct {
	Message string `json:"message"`
}

// LobbySeat 大厅中的一个座位
type LobbySeat struct {
	Seat  int    `json:"seat"`
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

// LobbyUpdatePayload 大厅状态
type LobbyUpdatePayload struct {
	Players     []LobbySeat `json:"players"`
	SeatsFilled int         `json:"seatsFilled"`
}

// PlayerState 快照中的玩家
type PlayerState struct {
	Seat     int    `json:"seat"`
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}

// CardState 快照中的牌，未翻开时不下发 symbol
type CardState struct {
	ID      int    `json:"id"`
	Symbol  string `json:"symbol,omitempty"`
	FaceUp  bool   `json:"faceUp"`
	Matched bool   `json:"matched"`
}

// GameState 权威状态快照
type GameState struct {
	Players      []PlayerState `json:"players"`      // 按座位排序
	Board        []CardState   `json:"board"`        // 按 id 排序
	Active       bool          `json:"active"`       // 对局进行中
	CurrentSeat  int           `json:"currentSeat"`  // 当前回合座位
	TurnDeadline int64         `json:"turnDeadline"` // 回合截止时间（毫秒时间戳）
	Winner       *PlayerState  `json:"winner,omitempty"`
}

// GameStartedPayload 开局通知
type GameStartedPayload struct {
	Message string    `json:"message"`
	State   GameState `json:"state"`
}

// TurnExpiredPayload 回合超时通知
type TurnExpiredPayload struct {
	Message string `json:"message"`
}

// 对局结束原因
const (
	GameOverCompleted = "completed" // 全部配对
	GameOverWalkover  = "walkover"  // 对手离开
)

// GameOverPayload 对局结束通知，Winner 为空表示平局
type GameOverPayload struct {
	Reason string       `json:"reason"`
	Winner *PlayerState `json:"winner,omitempty"`
	State  GameState    `json:"state"`
}

// PongPayload 心跳响应
type PongPayload struct {
	ClientTimestamp int64 `json:"clientTimestamp"` // 客户端发送的时间戳
	ServerTimestamp int64 `json:"serverTimestamp"` // 服务器时间戳（毫秒）
}

// LeaderboardEntry 排行榜条目
type LeaderboardEntry struct {
	Rank      int    `json:"rank"`
	Name      string `json:"name"`
	BestScore int    `json:"bestScore"`
}

// MatchTotals 累计对局统计
type MatchTotals struct {
	Games     int64 `json:"games"`
	Completed int64 `json:"completed"`
	Walkovers int64 `json:"walkovers"`
	Draws     int64 `json:"draws"`
}

// MatchSummary 最近对局摘要
type MatchSummary struct {
	Reason  string        `json:"reason"`
	Winner  string        `json:"winner,omitempty"` // 胜者昵称，平局为空
	Players []PlayerState `json:"players"`
	EndedAt int64         `json:"endedAt"`
}

// LeaderboardResultPayload 排行榜结果
type LeaderboardResultPayload struct {
	Type    string             `json:"type"`
	Entries []LeaderboardEntry `json:"entries"`
	Totals  MatchTotals        `json:"totals"`
	Recent  []MatchSummary     `json:"recent"`
}

// ErrorPayload 错误响应
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
