package handler

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/palemoky/memory-duel/internal/game/session"
	"github.com/palemoky/memory-duel/internal/protocol"
	"github.com/palemoky/memory-duel/internal/protocol/codec"
	"github.com/palemoky/memory-duel/internal/server/events"
	"github.com/palemoky/memory-duel/internal/server/storage"
	"github.com/palemoky/memory-duel/internal/testutil"
)

const (
	testTurnTimeout   = 15 * time.Second
	testMismatchDelay = 1500 * time.Millisecond
)

// 不洗牌：牌 i 与牌 i+8 为一对
func noShuffle(int, func(i, j int)) {}

type fixture struct {
	h      *Handler
	coord  *session.Coordinator
	fc     *clockwork.FakeClock
	p1, p2 *testutil.SimpleClient
	pub    *testutil.MockPublisher
	rec    *testutil.MockRecorder
	srv    *testutil.MockServer
}

type fixtureOpts struct {
	recorder    bool
	maintenance bool
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()

	fc := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	coord, err := session.NewCoordinator(session.Config{
		TurnTimeout: testTurnTimeout,
		Clock:       fc,
		Shuffle:     noShuffle,
	})
	require.NoError(t, err)

	f := &fixture{
		coord: coord,
		fc:    fc,
		p1:    testutil.NewSimpleClient("p1", "Alice"),
		p2:    testutil.NewSimpleClient("p2", "Bob"),
		pub:   &testutil.MockPublisher{},
		srv:   &testutil.MockServer{},
	}
	f.pub.On("Publish", mock.Anything, mock.Anything).Return(nil)
	f.srv.On("IsMaintenanceMode").Return(opts.maintenance)

	deps := Deps{
		Server:        f.srv,
		Coordinator:   coord,
		Clock:         fc,
		MismatchDelay: testMismatchDelay,
		Publisher:     f.pub,
	}
	if opts.recorder {
		f.rec = &testutil.MockRecorder{}
		deps.Recorder = f.rec
	}
	f.h = NewHandler(deps)
	return f
}

// seatBoth 两人入座
func (f *fixture) seatBoth(t *testing.T) {
	t.Helper()
	require.True(t, f.h.OnConnect(f.p1))
	require.True(t, f.h.OnConnect(f.p2))
}

// start 两人入座并准备，清空之前的消息
func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.seatBoth(t)
	f.h.Handle(f.p1, msg(protocol.MsgReady, nil))
	f.h.Handle(f.p2, msg(protocol.MsgReady, nil))
	require.True(t, f.coord.Active())
	f.p1.Reset()
	f.p2.Reset()
}

func (f *fixture) flip(c *testutil.SimpleClient, id int) {
	f.h.Handle(c, msg(protocol.MsgFlipCard, protocol.FlipCardPayload{CardID: id}))
}

func msg(t protocol.MessageType, payload any) *protocol.Message {
	return codec.MustNewMessage(t, payload)
}

func payloadOf[T any](t *testing.T, m *protocol.Message) T {
	t.Helper()
	require.NotNil(t, m)
	p, err := codec.ParsePayload[T](m)
	require.NoError(t, err)
	return *p
}

func TestOnConnect_SeatsTwoThenRejects(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	f.seatBoth(t)

	joined := payloadOf[protocol.JoinedPayload](t, f.p1.Last(protocol.MsgJoined))
	assert.Equal(t, protocol.JoinedPayload{PlayerID: "p1", Name: "Alice", Seat: 1}, joined)
	joined = payloadOf[protocol.JoinedPayload](t, f.p2.Last(protocol.MsgJoined))
	assert.Equal(t, 2, joined.Seat)

	lobby := payloadOf[protocol.LobbyUpdatePayload](t, f.p1.Last(protocol.MsgLobbyUpdate))
	assert.Equal(t, 2, lobby.SeatsFilled)

	p3 := testutil.NewSimpleClient("p3", "Carol")
	assert.False(t, f.h.OnConnect(p3))
	assert.Equal(t, []protocol.MessageType{protocol.MsgRoomFull}, p3.Types())
	assert.NotEmpty(t, payloadOf[protocol.RoomFullPayload](t, p3.Last(protocol.MsgRoomFull)).Message)
	assert.Equal(t, 2, f.h.SeatedCount())

	// 被拒绝的连接断开不影响在座玩家
	f.p1.Reset()
	f.h.OnDisconnect(p3)
	assert.Empty(t, f.p1.Messages())
	assert.Len(t, f.coord.Players(), 2)
}

func TestReady_DealsExactlyOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	f.seatBoth(t)

	f.h.Handle(f.p1, msg(protocol.MsgReady, nil))
	f.h.Handle(f.p1, msg(protocol.MsgReady, nil))
	assert.Zero(t, f.p1.Count(protocol.MsgGameStarted))

	f.h.Handle(f.p2, msg(protocol.MsgReady, nil))
	f.h.Handle(f.p2, msg(protocol.MsgReady, nil))
	f.h.Handle(f.p1, msg(protocol.MsgReady, nil))

	assert.Equal(t, 1, f.p1.Count(protocol.MsgGameStarted))
	assert.Equal(t, 1, f.p2.Count(protocol.MsgGameStarted))

	started := payloadOf[protocol.GameStartedPayload](t, f.p2.Last(protocol.MsgGameStarted))
	assert.True(t, started.State.Active)
	assert.Equal(t, 1, started.State.CurrentSeat)
	assert.Len(t, started.State.Board, 16)
	for _, c := range started.State.Board {
		assert.Empty(t, c.Symbol, "开局时牌面不可见")
	}
	f.pub.AssertNumberOfCalls(t, "Publish", 1)
	f.pub.AssertCalled(t, "Publish", events.EventGameStarted, mock.Anything)
}

func TestReady_MaintenanceMode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{maintenance: true})
	f.seatBoth(t)
	f.p1.Reset()

	f.h.Handle(f.p1, msg(protocol.MsgReady, nil))

	errPayload := payloadOf[protocol.ErrorPayload](t, f.p1.Last(protocol.MsgError))
	assert.Equal(t, protocol.ErrCodeServerMaintenance, errPayload.Code)
	p, _ := f.coord.Player("p1")
	assert.False(t, p.Ready)
}

func TestFlipCard_MatchScoresAndKeepsTurn(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	f.start(t)

	f.flip(f.p1, 0)
	f.fc.Advance(2 * time.Second)
	f.flip(f.p1, 8)

	require.Equal(t, 2, f.p2.Count(protocol.MsgStateUpdate))
	state := payloadOf[protocol.GameState](t, f.p2.Last(protocol.MsgStateUpdate))
	assert.Equal(t, 1, state.CurrentSeat)
	assert.Equal(t, 90, state.Players[0].Score)
	assert.True(t, state.Board[0].Matched)
	assert.True(t, state.Board[8].Matched)
	assert.Equal(t, state.Board[0].Symbol, state.Board[8].Symbol)
}

func TestFlipCard_MismatchRevealsThenAdvances(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	f.start(t)

	f.flip(f.p1, 0)
	f.flip(f.p1, 1)

	state := payloadOf[protocol.GameState](t, f.p1.Last(protocol.MsgStateUpdate))
	assert.True(t, state.Board[0].FaceUp)
	assert.True(t, state.Board[1].FaceUp)
	assert.NotEmpty(t, state.Board[1].Symbol)
	assert.Equal(t, 1, state.CurrentSeat)

	// 展示期间再翻无效
	f.flip(f.p1, 2)
	assert.Equal(t, 2, f.p1.Count(protocol.MsgStateUpdate))

	f.fc.Advance(testMismatchDelay)
	assert.Eventually(t, func() bool {
		return f.p1.Count(protocol.MsgStateUpdate) == 3
	}, time.Second, 5*time.Millisecond)

	state = payloadOf[protocol.GameState](t, f.p1.Last(protocol.MsgStateUpdate))
	assert.Equal(t, 2, state.CurrentSeat)
	assert.False(t, state.Board[0].FaceUp)
	assert.False(t, state.Board[1].FaceUp)
	assert.Empty(t, state.Board[0].Symbol)
	assert.Zero(t, state.Players[0].Score)
}

func TestFlipCard_IgnoredIsSilent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	f.start(t)

	f.flip(f.p2, 0)  // 不是自己的回合
	f.flip(f.p1, 99) // 不存在的牌
	f.flip(f.p1, -1)
	f.flip(f.p1, 3)
	f.flip(f.p1, 3) // 已翻开

	assert.Equal(t, 1, f.p1.Count(protocol.MsgStateUpdate))
	assert.Zero(t, f.p1.Count(protocol.MsgError))
	assert.Zero(t, f.p2.Count(protocol.MsgError))
}

func TestFlipCard_MalformedPayload(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	f.start(t)

	f.h.Handle(f.p1, &protocol.Message{Type: protocol.MsgFlipCard, Payload: []byte(`"abc"`)})
	errPayload := payloadOf[protocol.ErrorPayload](t, f.p1.Last(protocol.MsgError))
	assert.Equal(t, protocol.ErrCodeInvalidMsg, errPayload.Code)
	assert.Zero(t, f.p2.Count(protocol.MsgStateUpdate))

	// 兼容直接发送数字
	f.h.Handle(f.p1, &protocol.Message{Type: protocol.MsgFlipCard, Payload: []byte(`4`)})
	state := payloadOf[protocol.GameState](t, f.p2.Last(protocol.MsgStateUpdate))
	assert.True(t, state.Board[4].FaceUp)
}

func TestFlipCard_MissingCardIDLeavesBoardUntouched(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{`{}`, `null`, `{"id":5}`, `{"cardId":null}`} {
		t.Run(raw, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, fixtureOpts{})
			f.start(t)
			before := f.coord.Snapshot()

			f.h.Handle(f.p1, &protocol.Message{Type: protocol.MsgFlipCard, Payload: []byte(raw)})

			errPayload := payloadOf[protocol.ErrorPayload](t, f.p1.Last(protocol.MsgError))
			assert.Equal(t, protocol.ErrCodeInvalidMsg, errPayload.Code)
			assert.Zero(t, f.p2.Count(protocol.MsgStateUpdate))
			assert.Zero(t, f.coord.PendingCount())
			assert.Equal(t, before, f.coord.Snapshot())
		})
	}
}

func TestTurnExpiry_BroadcastsAndAdvances(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	f.start(t)

	f.flip(f.p1, 5)
	f.fc.Advance(testTurnTimeout)

	assert.Eventually(t, func() bool {
		return f.p2.Count(protocol.MsgTurnExpired) == 1
	}, time.Second, 5*time.Millisecond)

	types := f.p2.Types()
	assert.Equal(t, []protocol.MessageType{
		protocol.MsgStateUpdate,
		protocol.MsgTurnExpired,
		protocol.MsgStateUpdate,
	}, types)

	state := payloadOf[protocol.GameState](t, f.p2.Last(protocol.MsgStateUpdate))
	assert.Equal(t, 2, state.CurrentSeat)
	assert.False(t, state.Board[5].FaceUp)
	assert.Equal(t, f.fc.Now().Add(testTurnTimeout).UnixMilli(), state.TurnDeadline)

	// 等超时回调释放分发锁，事件已在锁内推送
	f.h.SeatedCount()
	f.pub.AssertCalled(t, "Publish", events.EventTurnExpired, mock.Anything)
}

func TestTurnExpiry_NotDuringMismatchReveal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	f.start(t)

	f.fc.Advance(14 * time.Second)
	f.flip(f.p1, 0)
	f.flip(f.p1, 1)

	// 原回合的截止时间在展示期间到达，但计时器已停止
	f.fc.Advance(time.Second)
	assert.Never(t, func() bool {
		return f.p1.Count(protocol.MsgTurnExpired) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)

	f.fc.Advance(testMismatchDelay)
	assert.Eventually(t, func() bool {
		return f.coord.CurrentSeat() == session.SeatTwo
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, f.p1.Count(protocol.MsgTurnExpired))
}

func TestDisconnect_MidGameForcedWin(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{recorder: true})
	f.rec.On("RecordMatch", mock.Anything, mock.MatchedBy(func(r *storage.MatchResult) bool {
		return r.Reason == protocol.GameOverWalkover && r.WinnerID == "p2" && len(r.Players) == 2
	})).Return(nil).Once()
	f.start(t)

	f.flip(f.p1, 0)
	f.flip(f.p1, 8)
	f.h.OnDisconnect(f.p1)
	f.h.Wait()

	over := payloadOf[protocol.GameOverPayload](t, f.p2.Last(protocol.MsgGameOver))
	assert.Equal(t, protocol.GameOverWalkover, over.Reason)
	require.NotNil(t, over.Winner)
	assert.Equal(t, "p2", over.Winner.PlayerID)
	assert.False(t, over.State.Active)

	f.rec.AssertExpectations(t)
	f.pub.AssertCalled(t, "Publish", events.EventGameOver, mock.Anything)

	// 对局已结束，超时不再触发
	f.fc.Advance(time.Minute)
	assert.Never(t, func() bool {
		return f.p2.Count(protocol.MsgTurnExpired) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestDisconnect_LobbyOnlyUpdates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	f.seatBoth(t)
	f.p2.Reset()

	f.h.OnDisconnect(f.p1)

	assert.Equal(t, []protocol.MessageType{protocol.MsgLobbyUpdate}, f.p2.Types())
	lobby := payloadOf[protocol.LobbyUpdatePayload](t, f.p2.Last(protocol.MsgLobbyUpdate))
	assert.Equal(t, 1, lobby.SeatsFilled)
	f.pub.AssertNotCalled(t, "Publish", events.EventGameOver, mock.Anything)

	// 空出的座位可以再入座
	p3 := testutil.NewSimpleClient("p3", "Carol")
	assert.True(t, f.h.OnConnect(p3))
	assert.Equal(t, 1, payloadOf[protocol.JoinedPayload](t, p3.Last(protocol.MsgJoined)).Seat)
}

func TestMismatchReset_SkippedAfterOpponentLeaves(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	f.start(t)

	f.flip(f.p1, 0)
	f.flip(f.p1, 1)
	f.h.OnDisconnect(f.p2)
	f.p1.Reset()

	f.fc.Advance(testMismatchDelay)
	assert.Never(t, func() bool {
		return f.p1.Count(protocol.MsgStateUpdate) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestGameOver_CompletedAndReadyAgain(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{recorder: true})
	f.rec.On("RecordMatch", mock.Anything, mock.MatchedBy(func(r *storage.MatchResult) bool {
		return r.Reason == protocol.GameOverCompleted && r.WinnerID == "p1" && r.Players[0].Score == 800
	})).Return(nil).Once()
	f.start(t)

	for i := range 8 {
		f.flip(f.p1, i)
		f.flip(f.p1, i+8)
	}
	f.h.Wait()

	types := f.p2.Types()
	require.GreaterOrEqual(t, len(types), 3)
	assert.Equal(t, []protocol.MessageType{
		protocol.MsgStateUpdate,
		protocol.MsgGameOver,
		protocol.MsgLobbyUpdate,
	}, types[len(types)-3:])

	over := payloadOf[protocol.GameOverPayload](t, f.p2.Last(protocol.MsgGameOver))
	assert.Equal(t, protocol.GameOverCompleted, over.Reason)
	require.NotNil(t, over.Winner)
	assert.Equal(t, 800, over.Winner.Score)
	f.rec.AssertExpectations(t)

	lobby := payloadOf[protocol.LobbyUpdatePayload](t, f.p2.Last(protocol.MsgLobbyUpdate))
	for _, s := range lobby.Players {
		assert.False(t, s.Ready)
	}

	// 新一轮需要两人重新准备
	f.h.Handle(f.p1, msg(protocol.MsgReady, nil))
	assert.False(t, f.coord.Active())
	f.h.Handle(f.p2, msg(protocol.MsgReady, nil))
	assert.True(t, f.coord.Active())
	assert.Equal(t, 1, f.p1.Count(protocol.MsgGameStarted))
}

func TestGameOver_RecorderFailureDoesNotBlock(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{recorder: true})
	f.rec.On("RecordMatch", mock.Anything, mock.Anything).Return(errors.New("redis down")).Once()
	f.start(t)

	f.h.OnDisconnect(f.p2)
	f.h.Wait()

	assert.Equal(t, 1, f.p1.Count(protocol.MsgGameOver))
	f.rec.AssertExpectations(t)
}

func TestHandle_UnknownType(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	f.seatBoth(t)
	f.p1.Reset()

	f.h.Handle(f.p1, &protocol.Message{Type: "play_cards"})
	errPayload := payloadOf[protocol.ErrorPayload](t, f.p1.Last(protocol.MsgError))
	assert.Equal(t, protocol.ErrCodeInvalidMsg, errPayload.Code)
}

func TestHandle_Ping(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	f.h.Handle(f.p1, msg(protocol.MsgPing, protocol.PingPayload{Timestamp: 42}))

	pong := payloadOf[protocol.PongPayload](t, f.p1.Last(protocol.MsgPong))
	assert.Equal(t, int64(42), pong.ClientTimestamp)
	assert.Equal(t, f.fc.Now().UnixMilli(), pong.ServerTimestamp)
}

func TestLeaderboard_Unavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	f.h.Handle(f.p1, msg(protocol.MsgGetLeaderboard, nil))

	errPayload := payloadOf[protocol.ErrorPayload](t, f.p1.Last(protocol.MsgError))
	assert.Equal(t, protocol.ErrCodeStatsUnavailable, errPayload.Code)
}

func TestLeaderboard_Result(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{recorder: true})
	entries := []protocol.LeaderboardEntry{{Rank: 1, Name: "Alice", BestScore: 800}}
	totals := protocol.MatchTotals{Games: 3, Completed: 2, Walkovers: 1}
	f.rec.On("Leaderboard", mock.Anything, storage.LeaderboardDaily, 5).Return(entries, nil)
	f.rec.On("Totals", mock.Anything).Return(totals, nil)
	f.rec.On("RecentMatches", mock.Anything, recentShown).Return([]*storage.MatchResult{
		{
			ID:       "m2",
			Reason:   protocol.GameOverWalkover,
			WinnerID: "p2",
			Players:  []storage.MatchPlayer{{ID: "p2", Name: "Bob", Seat: 2, Score: 90}},
			EndedAt:  2000,
		},
		{
			ID:     "m1",
			Reason: protocol.GameOverCompleted,
			Players: []storage.MatchPlayer{
				{ID: "p1", Name: "Alice", Seat: 1, Score: 300},
				{ID: "p2", Name: "Bob", Seat: 2, Score: 300},
			},
			EndedAt: 1000,
		},
	}, nil)

	f.h.Handle(f.p1, msg(protocol.MsgGetLeaderboard, protocol.GetLeaderboardPayload{Type: "daily", Limit: 5}))

	result := payloadOf[protocol.LeaderboardResultPayload](t, f.p1.Last(protocol.MsgLeaderboardResult))
	assert.Equal(t, "daily", result.Type)
	assert.Equal(t, entries, result.Entries)
	assert.Equal(t, totals, result.Totals)

	require.Len(t, result.Recent, 2)
	assert.Equal(t, protocol.MatchSummary{
		Reason:  protocol.GameOverWalkover,
		Winner:  "Bob",
		Players: []protocol.PlayerState{{Seat: 2, Name: "Bob", Score: 90}},
		EndedAt: 2000,
	}, result.Recent[0])
	assert.Empty(t, result.Recent[1].Winner, "平局没有胜者")
	assert.Len(t, result.Recent[1].Players, 2)
}

func TestLeaderboard_RecentFailureStillAnswers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{recorder: true})
	f.rec.On("Leaderboard", mock.Anything, storage.LeaderboardTotal, 0).Return([]protocol.LeaderboardEntry{}, nil)
	f.rec.On("Totals", mock.Anything).Return(protocol.MatchTotals{}, nil)
	f.rec.On("RecentMatches", mock.Anything, recentShown).Return(nil, errors.New("redis down"))

	f.h.Handle(f.p1, msg(protocol.MsgGetLeaderboard, nil))

	result := payloadOf[protocol.LeaderboardResultPayload](t, f.p1.Last(protocol.MsgLeaderboardResult))
	assert.Equal(t, storage.LeaderboardTotal, result.Type)
	assert.NotNil(t, result.Recent)
	assert.Empty(t, result.Recent)
}

func TestLeaderboard_UnknownType(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{recorder: true})
	f.rec.On("Leaderboard", mock.Anything, "weekly", 0).Return(nil, storage.ErrUnknownLeaderboard)

	f.h.Handle(f.p1, msg(protocol.MsgGetLeaderboard, protocol.GetLeaderboardPayload{Type: "weekly"}))

	errPayload := payloadOf[protocol.ErrorPayload](t, f.p1.Last(protocol.MsgError))
	assert.Equal(t, protocol.ErrCodeInvalidMsg, errPayload.Code)
}
