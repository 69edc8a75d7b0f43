package session

import "fmt"

// Seat 固定的两个座位之一
type Seat int

const (
	SeatNone Seat = iota
	SeatOne
	SeatTwo
)

func (s Seat) String() string {
	switch s {
	case SeatOne:
		return "One"
	case SeatTwo:
		return "Two"
	default:
		return "None"
	}
}

// Other 对手座位
func (s Seat) Other() Seat {
	if s == SeatOne {
		return SeatTwo
	}
	return SeatOne
}

func (s Seat) index() int { return int(s) - 1 }

func seatAt(i int) Seat { return Seat(i + 1) }

// Player 入座玩家
type Player struct {
	ID    string
	Name  string
	Seat  Seat
	Score int
	Ready bool
}

// Outcome 协调器操作的结果标签
type Outcome int

const (
	Ignored Outcome = iota
	WaitingSecond
	Match
	Mismatch
	GameOver
	Left
	ForcedWin
)

var outcomeNames = map[Outcome]string{
	Ignored:       "ignored",
	WaitingSecond: "waiting_second",
	Match:         "match",
	Mismatch:      "mismatch",
	GameOver:      "game_over",
	Left:          "left",
	ForcedWin:     "forced_win",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// occupancy 座位占用情况，胜负判定在这三种情况上是全函数
type occupancy int

const (
	occupancyEmpty occupancy = iota
	occupancyOne
	occupancyTwo
)
