//go:build !production

package testutil

import (
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/palemoky/memory-duel/internal/protocol"
)

// MockClient 实现 types.ClientInterface 的 mock
type MockClient struct {
	mock.Mock
}

func (m *MockClient) GetID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockClient) GetName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockClient) SendMessage(msg *protocol.Message) {
	m.Called(msg)
}

func (m *MockClient) Close() {
	m.Called()
}

// SimpleClient 记录收到消息的客户端，可在计时器 goroutine 中并发使用
type SimpleClient struct {
	ID   string
	Name string

	mu       sync.Mutex
	messages []*protocol.Message
	closed   bool
}

// NewSimpleClient 创建客户端
func NewSimpleClient(id, name string) *SimpleClient {
	return &SimpleClient{ID: id, Name: name}
}

func (c *SimpleClient) GetID() string   { return c.ID }
func (c *SimpleClient) GetName() string { return c.Name }

func (c *SimpleClient) SendMessage(msg *protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

func (c *SimpleClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Closed 是否已关闭
func (c *SimpleClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Messages 收到的全部消息（副本）
func (c *SimpleClient) Messages() []*protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*protocol.Message(nil), c.messages...)
}

// Types 收到的消息类型序列
func (c *SimpleClient) Types() []protocol.MessageType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.MessageType, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Type
	}
	return out
}

// Last 最近一条指定类型的消息
func (c *SimpleClient) Last(t protocol.MessageType) *protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Type == t {
			return c.messages[i]
		}
	}
	return nil
}

// Count 指定类型的消息数量
func (c *SimpleClient) Count(t protocol.MessageType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.messages {
		if m.Type == t {
			n++
		}
	}
	return n
}

// Reset 清空已收到的消息
func (c *SimpleClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}
