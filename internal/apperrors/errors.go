package apperrors

import (
	"github.com/palemoky/memory-duel/internal/protocol"
)

// GameError 对局错误，携带下发给客户端的错误码
type GameError struct {
	Code    int
	Message string
}

func (e *GameError) Error() string {
	return e.Message
}

// 预定义错误
var (
	ErrRoomFull      = &GameError{Code: protocol.ErrCodeRoomFull, Message: "房间已满，请稍后再试"}
	ErrAlreadySeated = &GameError{Code: protocol.ErrCodeAlreadySeated, Message: "您已经入座"}
	ErrNotSeated     = &GameError{Code: protocol.ErrCodeNotSeated, Message: "您不在座位上"}
)
