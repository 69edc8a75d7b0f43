//go:build !production

package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/palemoky/memory-duel/internal/protocol"
	"github.com/palemoky/memory-duel/internal/server/storage"
)

// MockRecorder 实现 types.ResultRecorder 的 mock
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordMatch(ctx context.Context, result *storage.MatchResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

func (m *MockRecorder) Leaderboard(ctx context.Context, kind string, limit int) ([]protocol.LeaderboardEntry, error) {
	args := m.Called(ctx, kind, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]protocol.LeaderboardEntry), args.Error(1)
}

func (m *MockRecorder) Totals(ctx context.Context) (protocol.MatchTotals, error) {
	args := m.Called(ctx)
	return args.Get(0).(protocol.MatchTotals), args.Error(1)
}

func (m *MockRecorder) RecentMatches(ctx context.Context, limit int) ([]*storage.MatchResult, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*storage.MatchResult), args.Error(1)
}

// MockPublisher 实现 types.EventPublisher 的 mock
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(eventType string, payload any) error {
	args := m.Called(eventType, payload)
	return args.Error(0)
}
