package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/palemoky/memory-duel/internal/protocol"
)

const (
	// Redis key
	recentMatchesKey = "memory:matches:recent"
	matchTotalsKey   = "memory:matches:totals"
	bestScoreKey     = "memory:leaderboard:best"
	dailyBestPrefix  = "memory:leaderboard:daily:"

	recentMatchesLimit = 50
	dailyKeyTTL        = 48 * time.Hour

	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// 排行榜类型
const (
	LeaderboardTotal = "total"
	LeaderboardDaily = "daily"
)

// ErrUnknownLeaderboard 不支持的排行榜类型
var ErrUnknownLeaderboard = errors.New("unknown leaderboard type")

// MatchPlayer 对局中的一名玩家
type MatchPlayer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Seat  int    `json:"seat"`
	Score int    `json:"score"`
}

// MatchResult 一局结束后的归档记录，只记录结果，不记录对局过程
type MatchResult struct {
	ID        string        `json:"id"`
	Reason    string        `json:"reason"` // completed / walkover
	WinnerID  string        `json:"winner_id,omitempty"`
	Players   []MatchPlayer `json:"players"`
	StartedAt int64         `json:"started_at"` // 毫秒
	EndedAt   int64         `json:"ended_at"`   // 毫秒
}

// Draw 是否平局
func (r *MatchResult) Draw() bool {
	return r.WinnerID == ""
}

// ResultStore 战绩存储：最近对局、累计统计、最高分排行榜
type ResultStore struct {
	redis *redis.Client
	clock clockwork.Clock
}

// NewResultStore 创建战绩存储
func NewResultStore(client *redis.Client, clock clockwork.Clock) *ResultStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ResultStore{redis: client, clock: clock}
}

// RecordMatch 归档一局结果并更新排行榜
func (s *ResultStore) RecordMatch(ctx context.Context, result *MatchResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal match result: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.LPush(ctx, recentMatchesKey, data)
	pipe.LTrim(ctx, recentMatchesKey, 0, recentMatchesLimit-1)
	pipe.HIncrBy(ctx, matchTotalsKey, "games", 1)
	switch {
	case result.Reason == protocol.GameOverWalkover:
		pipe.HIncrBy(ctx, matchTotalsKey, "walkovers", 1)
	case result.Draw():
		pipe.HIncrBy(ctx, matchTotalsKey, "completed", 1)
		pipe.HIncrBy(ctx, matchTotalsKey, "draws", 1)
	default:
		pipe.HIncrBy(ctx, matchTotalsKey, "completed", 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("archive match: %w", err)
	}

	// 弃权局的比分不计入排行榜
	if result.Reason == protocol.GameOverWalkover {
		return nil
	}

	// ZADD GT 只在新分数更高时写入，并发归档也不会覆盖更高的成绩
	dailyKey := s.dailyKey()
	pipe = s.redis.TxPipeline()
	for _, p := range result.Players {
		best := redis.Z{Score: float64(p.Score), Member: p.Name}
		pipe.ZAddGT(ctx, bestScoreKey, best)
		pipe.ZAddGT(ctx, dailyKey, best)
	}
	pipe.Expire(ctx, dailyKey, dailyKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update best score: %w", err)
	}
	return nil
}

// Leaderboard 获取最高分排行榜
func (s *ResultStore) Leaderboard(ctx context.Context, kind string, limit int) ([]protocol.LeaderboardEntry, error) {
	var key string
	switch kind {
	case "", LeaderboardTotal:
		key = bestScoreKey
	case LeaderboardDaily:
		key = s.dailyKey()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLeaderboard, kind)
	}

	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	limit = min(limit, maxLeaderboardLimit)

	zs, err := s.redis.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}

	entries := make([]protocol.LeaderboardEntry, 0, len(zs))
	for i, z := range zs {
		name, _ := z.Member.(string)
		entries = append(entries, protocol.LeaderboardEntry{
			Rank:      i + 1,
			Name:      name,
			BestScore: int(z.Score),
		})
	}
	return entries, nil
}

// RecentMatches 最近的对局，新的在前
func (s *ResultStore) RecentMatches(ctx context.Context, limit int) ([]*MatchResult, error) {
	if limit <= 0 || limit > recentMatchesLimit {
		limit = recentMatchesLimit
	}

	raw, err := s.redis.LRange(ctx, recentMatchesKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent matches: %w", err)
	}

	results := make([]*MatchResult, 0, len(raw))
	for _, item := range raw {
		var r MatchResult
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("decode match result: %w", err)
		}
		results = append(results, &r)
	}
	return results, nil
}

// Totals 累计对局统计
func (s *ResultStore) Totals(ctx context.Context) (protocol.MatchTotals, error) {
	fields, err := s.redis.HGetAll(ctx, matchTotalsKey).Result()
	if err != nil {
		return protocol.MatchTotals{}, fmt.Errorf("read match totals: %w", err)
	}

	parse := func(name string) int64 {
		n, _ := strconv.ParseInt(fields[name], 10, 64)
		return n
	}
	return protocol.MatchTotals{
		Games:     parse("games"),
		Completed: parse("completed"),
		Walkovers: parse("walkovers"),
		Draws:     parse("draws"),
	}, nil
}

func (s *ResultStore) dailyKey() string {
	return dailyBestPrefix + s.clock.Now().UTC().Format("2006-01-02")
}
