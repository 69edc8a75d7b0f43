package protocol

import "encoding/json"

// Message 基础消息结构
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MessageType 消息类型
type MessageType string

// 客户端 → 服务端 消息类型
const (
	// 连接操作
	MsgPing MessageType = "ping" // 心跳 ping

	// 对局操作
	MsgReady    MessageType = "ready"     // 准备就绪
	MsgFlipCard MessageType = "flip_card" // 翻牌

	// 排行榜
	MsgGetLeaderboard MessageType = "get_leaderboard" // 获取排行榜
)

// 服务端 → 客户端 消息类型
const (
	// 连接相关
	MsgJoined   MessageType = "joined"    // 入座成功（单播）
	MsgRoomFull MessageType = "room_full" // 座位已满（单播后断开）
	MsgPong     MessageType = "pong"      // 心跳 pong

	// 大厅
	MsgLobbyUpdate MessageType = "lobby_update" // 座位与准备状态

	// 对局流程
	MsgGameStarted MessageType = "game_started" // 发牌开局
	MsgStateUpdate MessageType = "state_update" // 每次有效变更后的快照
	MsgTurnExpired MessageType = "turn_expired" // 回合超时
	MsgGameOver    MessageType = "game_over"    // 对局结束（含胜者）

	// 排行榜
	MsgLeaderboardResult MessageType = "leaderboard_result" // 排行榜结果

	// 错误
	MsgError MessageType = "error" // 错误消息
)
