package types

import (
	"context"

	"github.com/palemoky/memory-duel/internal/protocol"
	"github.com/palemoky/memory-duel/internal/server/storage"
)

// ClientInterface 一条已建立的连接
type ClientInterface interface {
	GetID() string
	GetName() string
	SendMessage(msg *protocol.Message)
	Close()
}

// ServerInterface 处理器需要的服务器能力（用于打破循环依赖）
type ServerInterface interface {
	IsMaintenanceMode() bool
	GetOnlineCount() int
	Broadcast(msg *protocol.Message)
}

// ResultRecorder 战绩归档与查询
type ResultRecorder interface {
	RecordMatch(ctx context.Context, result *storage.MatchResult) error
	Leaderboard(ctx context.Context, kind string, limit int) ([]protocol.LeaderboardEntry, error)
	Totals(ctx context.Context) (protocol.MatchTotals, error)
	RecentMatches(ctx context.Context, limit int) ([]*storage.MatchResult, error)
}

// EventPublisher 对局事件推送
type EventPublisher interface {
	Publish(eventType string, payload any) error
}
