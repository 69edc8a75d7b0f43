package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/palemoky/memory-duel/internal/config"
	"github.com/palemoky/memory-duel/internal/game/card"
	"github.com/palemoky/memory-duel/internal/game/session"
	"github.com/palemoky/memory-duel/internal/protocol"
	"github.com/palemoky/memory-duel/internal/server/events"
	"github.com/palemoky/memory-duel/internal/server/handler"
	"github.com/palemoky/memory-duel/internal/server/storage"
	"github.com/palemoky/memory-duel/internal/server/types"
)

// Server WebSocket 服务器，托管唯一的一张对局桌
type Server struct {
	config *config.Config
	clock  clockwork.Clock

	redis     *redis.Client     // 未启用时为 nil
	results   *storage.ResultStore
	publisher *events.Publisher // 未启用时为 nil

	coord   *session.Coordinator
	handler *handler.Handler

	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 安全组件
	rateLimiter    *RateLimiter
	originChecker  *OriginChecker
	messageLimiter *MessageRateLimiter

	// 连接控制
	maxConnections int
	semaphore      chan struct{}

	maintenanceMode bool
	maintenanceMu   sync.RWMutex

	httpServer *http.Server
	done       chan struct{}
	closeOnce  sync.Once
}

// Option 服务器选项
type Option func(*serverOptions)

type serverOptions struct {
	clock   clockwork.Clock
	shuffle card.ShuffleFunc
	redis   *redis.Client
}

// WithClock 指定时钟
func WithClock(clock clockwork.Clock) Option {
	return func(o *serverOptions) { o.clock = clock }
}

// WithShuffle 指定洗牌函数
func WithShuffle(shuffle card.ShuffleFunc) Option {
	return func(o *serverOptions) { o.shuffle = shuffle }
}

// WithRedisClient 使用已有的 Redis 客户端，忽略 redis.enabled
func WithRedisClient(client *redis.Client) Option {
	return func(o *serverOptions) { o.redis = client }
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	o := serverOptions{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}

	coord, err := session.NewCoordinator(session.Config{
		TurnTimeout: cfg.Game.TurnTimeoutDuration(),
		Symbols:     cfg.Game.Symbols,
		Clock:       o.clock,
		Shuffle:     o.shuffle,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:  cfg,
		clock:   o.clock,
		coord:   coord,
		clients: make(map[string]*Client),
		rateLimiter: NewRateLimiter(o.clock,
			cfg.Security.RateLimit.MaxPerSecond,
			cfg.Security.RateLimit.MaxPerMinute,
			cfg.Security.RateLimit.BanDurationTime(),
		),
		originChecker:  NewOriginChecker(cfg.Security.AllowedOrigins),
		messageLimiter: NewMessageRateLimiter(o.clock, cfg.Security.MessageLimit.MaxPerSecond),
		maxConnections: cfg.Server.MaxConnections,
		semaphore:      make(chan struct{}, cfg.Server.MaxConnections),
		done:           make(chan struct{}),
	}

	// 战绩存储
	s.redis = o.redis
	if s.redis == nil && cfg.Redis.Enabled {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.redis.Ping(ctx).Err(); err != nil {
			_ = s.redis.Close()
			return nil, fmt.Errorf("redis 连接失败: %w", err)
		}
	}

	deps := handler.Deps{
		Server:        s,
		Coordinator:   coord,
		Clock:         o.clock,
		MismatchDelay: cfg.Game.MismatchDelayDuration(),
	}
	if s.redis != nil {
		s.results = storage.NewResultStore(s.redis, o.clock)
		deps.Recorder = s.results
	}

	// 事件推送
	if cfg.NATS.URL != "" {
		pub, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			s.closeStores()
			return nil, err
		}
		s.publisher = pub
		deps.Publisher = pub
	}

	s.handler = handler.NewHandler(deps)

	log.Info().
		Int("rate_per_second", cfg.Security.RateLimit.MaxPerSecond).
		Int("message_per_second", cfg.Security.MessageLimit.MaxPerSecond).
		Int("max_connections", cfg.Server.MaxConnections).
		Bool("results", s.results != nil).
		Bool("events", s.publisher != nil).
		Msg("🔒 服务器配置")

	return s, nil
}

// Handler HTTP 路由（含 CORS）
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	c := cors.New(cors.Options{
		AllowedOrigins: s.config.Security.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
	})
	return c.Handler(mux)
}

// Start 启动服务器，阻塞直到关闭
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go s.monitorStats(30 * time.Second)

	log.Info().Str("addr", addr).Int("cpus", runtime.NumCPU()).Msgf("🚀 服务器启动在 ws://%s/ws", addr)
	return s.httpServer.ListenAndServe()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWebSocket 建立连接并尝试入座
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := GetClientIP(r)

	if s.IsMaintenanceMode() {
		log.Info().Str("ip", clientIP).Msg("🔧 维护模式，拒绝新连接")
		http.Error(w, "Server is under maintenance, please try again later", http.StatusServiceUnavailable)
		return
	}

	if !s.originChecker.Check(r) {
		log.Warn().Str("origin", r.Header.Get("Origin")).Str("ip", clientIP).Msg("🚫 来源验证失败")
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	// 封禁期内的请求不再计数，封禁不会因持续重试而延长
	if s.rateLimiter.IsBanned(clientIP) {
		log.Debug().Str("ip", clientIP).Msg("封禁中，拒绝连接")
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}
	if !s.rateLimiter.Allow(clientIP) {
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	// 连接数限制，连接断开时释放
	select {
	case s.semaphore <- struct{}{}:
	default:
		log.Warn().Int("max", s.maxConnections).Str("ip", clientIP).Msg("🚫 达到最大连接数")
		http.Error(w, "Server Full", http.StatusServiceUnavailable)
		return
	}

	// 来源已由 originChecker 校验
	up := upgrader
	up.CheckOrigin = func(*http.Request) bool { return true }
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		<-s.semaphore
		log.Warn().Err(err).Str("ip", clientIP).Msg("WebSocket 升级失败")
		return
	}

	client := NewClient(s, conn, uniqueNickname(s.nameTaken))
	client.IP = clientIP

	if !s.handler.OnConnect(client) {
		// 只写出 room_full，随后关闭
		client.Close()
		go func() {
			client.WritePump()
			<-s.semaphore
		}()
		return
	}

	s.registerClient(client)
	log.Info().Str("player_id", client.ID).Str("name", client.Name).Str("ip", clientIP).Msg("✅ 玩家已连接")

	go client.ReadPump()
	go client.WritePump()
}

// handleDisconnect ReadPump 退出时调用
func (s *Server) handleDisconnect(c *Client) {
	s.handler.OnDisconnect(c)
	s.messageLimiter.RemoveClient(c.ID)
	c.Close()
	if s.unregisterClient(c) {
		<-s.semaphore
	}
}

// handleHealth 健康检查
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.IsMaintenanceMode() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("MAINTENANCE"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) registerClient(c *Client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c.ID] = c
}

func (s *Server) unregisterClient(c *Client) bool {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if _, ok := s.clients[c.ID]; !ok {
		return false
	}
	delete(s.clients, c.ID)
	log.Info().Str("player_id", c.ID).Str("name", c.Name).Msg("❌ 玩家已断开")
	return true
}

func (s *Server) nameTaken(name string) bool {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		if c.Name == name {
			return true
		}
	}
	return false
}

// GetOnlineCount 在线连接数
func (s *Server) GetOnlineCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast 发给所有连接
func (s *Server) Broadcast(msg *protocol.Message) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		if c.Closed() {
			continue
		}
		c.SendMessage(msg)
	}
}

var _ types.ServerInterface = (*Server)(nil)
