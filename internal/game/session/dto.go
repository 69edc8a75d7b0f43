package session

import (
	"github.com/palemoky/memory-duel/internal/protocol"
)

// Snapshot 生成权威状态快照
func (c *Coordinator) Snapshot() protocol.GameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() protocol.GameState {
	state := protocol.GameState{
		Players:     make([]protocol.PlayerState, 0, 2),
		Board:       make([]protocol.CardState, len(c.deck)),
		Active:      c.active,
		CurrentSeat: int(c.current),
	}
	if !c.deadline.IsZero() {
		state.TurnDeadline = c.deadline.UnixMilli()
	}

	for _, p := range c.seats {
		if p != nil {
			state.Players = append(state.Players, playerState(p))
		}
	}

	for i := range c.deck {
		cd := &c.deck[i]
		cs := protocol.CardState{ID: cd.ID, FaceUp: cd.FaceUp, Matched: cd.Matched}
		if !cd.Hidden() {
			cs.Symbol = cd.Symbol
		}
		state.Board[i] = cs
	}

	// 只有发过牌的对局结束后才有胜者
	if len(c.deck) > 0 {
		if w := c.winnerLocked(); w != nil {
			ws := playerState(w)
			state.Winner = &ws
		}
	}
	return state
}

// Lobby 大厅视图：座位与准备状态
func (c *Coordinator) Lobby() protocol.LobbyUpdatePayload {
	c.mu.Lock()
	defer c.mu.Unlock()

	lobby := protocol.LobbyUpdatePayload{Players: make([]protocol.LobbySeat, 0, 2)}
	for _, p := range c.seats {
		if p == nil {
			continue
		}
		lobby.Players = append(lobby.Players, protocol.LobbySeat{
			Seat:  int(p.Seat),
			Name:  p.Name,
			Ready: p.Ready,
		})
		lobby.SeatsFilled++
	}
	return lobby
}

func playerState(p *Player) protocol.PlayerState {
	return protocol.PlayerState{
		Seat:     int(p.Seat),
		PlayerID: p.ID,
		Name:     p.Name,
		Score:    p.Score,
	}
}
