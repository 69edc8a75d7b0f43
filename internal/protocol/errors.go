package protocol

// 错误码
const (
	ErrCodeUnknown           = 1000
	ErrCodeInvalidMsg        = 1001
	ErrCodeRateLimit         = 1002 // 速率限制
	ErrCodeRoomFull          = 2002
	ErrCodeAlreadySeated     = 2003
	ErrCodeNotSeated         = 2004
	ErrCodeStatsUnavailable  = 4001 // 未启用战绩存储
	ErrCodeServerMaintenance = 5003 // 服务器维护中
)

// ErrorMessages 错误码对应的消息
var ErrorMessages = map[int]string{
	ErrCodeUnknown:           "未知错误",
	ErrCodeInvalidMsg:        "无效的消息格式",
	ErrCodeRateLimit:         "请求过于频繁",
	ErrCodeRoomFull:          "房间已满，请稍后再试",
	ErrCodeAlreadySeated:     "您已经入座",
	ErrCodeNotSeated:         "您不在座位上",
	ErrCodeStatsUnavailable:  "战绩服务未启用",
	ErrCodeServerMaintenance: "服务器维护中",
}
