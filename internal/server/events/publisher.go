package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// 对局生命周期事件
const (
	EventGameStarted = "game_started"
	EventTurnExpired = "turn_expired"
	EventGameOver    = "game_over"
)

const (
	natsMaxReconnects = 10
	natsReconnectWait = 2 * time.Second
)

// Envelope 推送到 NATS 的事件格式
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	Timestamp int64           `json:"timestamp"` // 毫秒
	Payload   json.RawMessage `json:"payload"`
}

// natsConn 发布所需的最小连接接口，测试时替换
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher 将对局事件发布到 "<prefix>.<eventType>"
type Publisher struct {
	conn   natsConn
	prefix string
	clock  clockwork.Clock
}

// Connect 连接 NATS 并创建发布者
func Connect(url, prefix string) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("memory-duel"),
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("📡 NATS 连接断开")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("📡 NATS 已重连")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newPublisher(nc, prefix, clockwork.NewRealClock()), nil
}

func newPublisher(conn natsConn, prefix string, clock clockwork.Clock) *Publisher {
	return &Publisher{conn: conn, prefix: prefix, clock: clock}
}

// Publish 发布一个事件。失败只返回错误，不影响对局
func (p *Publisher) Publish(eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	env, err := json.Marshal(Envelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: p.clock.Now().UnixMilli(),
		Payload:   data,
	})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}

	if err := p.conn.Publish(p.Subject(eventType), env); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// Subject 事件对应的主题
func (p *Publisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

// Close 发送完缓冲中的消息后关闭连接
func (p *Publisher) Close() error {
	return p.conn.Drain()
}
