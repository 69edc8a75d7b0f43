package server

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/palemoky/memory-duel/internal/protocol"
	"github.com/palemoky/memory-duel/internal/protocol/codec"
)

const rateRecordIdle = 10 * time.Minute

// monitorStats 定期输出服务器状态并清理限流记录
func (s *Server) monitorStats(interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.Chan():
			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			removed := s.rateLimiter.Cleanup(rateRecordIdle)
			log.Info().
				Int("online", s.GetOnlineCount()).
				Int("goroutines", runtime.NumGoroutine()).
				Int("connections", len(s.semaphore)).
				Int("seated", s.handler.SeatedCount()).
				Int("max_connections", s.maxConnections).
				Bool("game_active", s.coord.Active()).
				Int("rate_records_removed", removed).
				Float64("mem_mb", float64(m.Alloc)/1024/1024).
				Msg("📊 [监控]")
		}
	}
}

// EnterMaintenanceMode 进入维护模式：拒绝新连接与新对局，进行中的对局继续
func (s *Server) EnterMaintenanceMode() {
	s.maintenanceMu.Lock()
	s.maintenanceMode = true
	s.maintenanceMu.Unlock()

	s.Broadcast(codec.MustNewMessage(protocol.MsgError, protocol.ErrorPayload{
		Code:    protocol.ErrCodeServerMaintenance,
		Message: "👷🏻‍♂️ 维护模式：当前对局结束后服务器将关闭",
	}))

	log.Info().Msg("🔧 进入维护模式：停止新连接和新对局")
}

// IsMaintenanceMode 是否在维护模式
func (s *Server) IsMaintenanceMode() bool {
	s.maintenanceMu.RLock()
	defer s.maintenanceMu.RUnlock()
	return s.maintenanceMode
}

// GracefulShutdown 进入维护模式，等待当前对局结束（最多 timeout）后关闭
func (s *Server) GracefulShutdown(timeout time.Duration) {
	s.EnterMaintenanceMode()

	deadline := s.clock.Now().Add(timeout)
	ticker := s.clock.NewTicker(s.config.Game.ShutdownCheckIntervalDuration())
	defer ticker.Stop()

	for s.coord.Active() && s.clock.Now().Before(deadline) {
		log.Info().Msg("⏳ 等待当前对局结束...")
		<-ticker.Chan()
	}

	if s.coord.Active() {
		log.Warn().Msg("⚠️ 超时，对局仍在进行，强制关闭")
	} else {
		log.Info().Msg("✅ 没有进行中的对局")
	}

	s.Shutdown()
}

// Shutdown 关闭监听、断开所有连接、释放外部资源。可重复调用
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("HTTP 服务关闭失败")
			}
		}

		s.clientsMu.RLock()
		for _, c := range s.clients {
			c.Close()
		}
		s.clientsMu.RUnlock()

		// 等待异步归档写完
		s.handler.Wait()
		s.closeStores()

		log.Info().Msg("服务器已关闭")
	})
}

func (s *Server) closeStores() {
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("NATS 关闭失败")
		}
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}
