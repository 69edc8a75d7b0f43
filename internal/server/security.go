package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RateLimiter 按 IP 的建连速率限制（每秒、每分钟两个令牌桶），超限后封禁一段时间
type RateLimiter struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	records map[string]*ipRate

	perSecond   rate.Limit
	perMinute   rate.Limit
	burstSecond int
	burstMinute int
	banDuration time.Duration
}

type ipRate struct {
	second      *rate.Limiter
	minute      *rate.Limiter
	lastSeen    time.Time
	bannedUntil time.Time
}

// NewRateLimiter 创建速率限制器
func NewRateLimiter(clock clockwork.Clock, maxPerSecond, maxPerMinute int, banDuration time.Duration) *RateLimiter {
	return &RateLimiter{
		clock:       clock,
		records:     make(map[string]*ipRate),
		perSecond:   perWindow(maxPerSecond, time.Second),
		perMinute:   perWindow(maxPerMinute, time.Minute),
		burstSecond: maxPerSecond,
		burstMinute: maxPerMinute,
		banDuration: banDuration,
	}
}

// perWindow 把「窗口内最多 n 次」换算成令牌速率，n <= 0 表示不限制
func perWindow(n int, window time.Duration) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Every(window / time.Duration(n))
}

func hasToken(l *rate.Limiter, now time.Time) bool {
	return l.Limit() == rate.Inf || l.TokensAt(now) >= 1
}

// Allow 记录一次请求并判断是否放行
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	r, ok := rl.records[ip]
	if !ok {
		r = &ipRate{
			second: rate.NewLimiter(rl.perSecond, rl.burstSecond),
			minute: rate.NewLimiter(rl.perMinute, rl.burstMinute),
		}
		rl.records[ip] = r
	}
	r.lastSeen = now

	if now.Before(r.bannedUntil) {
		return false
	}

	// 两个桶都有令牌才同时扣减
	if !hasToken(r.second, now) || !hasToken(r.minute, now) {
		r.bannedUntil = now.Add(rl.banDuration)
		log.Warn().Str("ip", ip).Dur("ban", rl.banDuration).Msg("⚠️ 请求过于频繁，暂时封禁")
		return false
	}
	r.second.AllowN(now, 1)
	r.minute.AllowN(now, 1)
	return true
}

// IsBanned 是否处于封禁期
func (rl *RateLimiter) IsBanned(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	r, ok := rl.records[ip]
	return ok && rl.clock.Now().Before(r.bannedUntil)
}

// Cleanup 删除长时间无请求且未封禁的记录，返回删除数量
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	removed := 0
	for ip, r := range rl.records {
		if now.Sub(r.lastSeen) > idle && !now.Before(r.bannedUntil) {
			delete(rl.records, ip)
			removed++
		}
	}
	return removed
}

// --- 来源验证 ---

// OriginChecker 来源验证器
type OriginChecker struct {
	allowed  map[string]bool
	allowAll bool
}

// NewOriginChecker 创建来源验证器，"*" 表示全部放行
func NewOriginChecker(origins []string) *OriginChecker {
	oc := &OriginChecker{allowed: make(map[string]bool)}
	for _, origin := range origins {
		if origin == "*" {
			oc.allowAll = true
			continue
		}
		oc.allowed[strings.ToLower(strings.TrimRight(origin, "/"))] = true
	}
	return oc
}

// Check 检查来源。没有 Origin 头的请求（非浏览器客户端）直接放行
func (oc *OriginChecker) Check(r *http.Request) bool {
	if oc.allowAll {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return oc.allowed[strings.ToLower(strings.TrimRight(origin, "/"))]
}

// --- 消息速率限制 ---

// MessageRateLimiter 已建立连接的消息速率限制，每个连接一个令牌桶
type MessageRateLimiter struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	limits map[string]*messageRate

	maxPerSecond     int
	warningThreshold int
}

type messageRate struct {
	limiter  *rate.Limiter
	warnings int
}

// NewMessageRateLimiter 创建消息速率限制器
func NewMessageRateLimiter(clock clockwork.Clock, maxPerSecond int) *MessageRateLimiter {
	return &MessageRateLimiter{
		clock:            clock,
		limits:           make(map[string]*messageRate),
		maxPerSecond:     maxPerSecond,
		warningThreshold: maxPerSecond * 4 / 5,
	}
}

// AllowMessage 判断是否放行；warning 为 true 表示桶内令牌已用去八成以上或已超限
func (ml *MessageRateLimiter) AllowMessage(clientID string) (allowed, warning bool) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := ml.clock.Now()
	r, ok := ml.limits[clientID]
	if !ok {
		r = &messageRate{limiter: rate.NewLimiter(perWindow(ml.maxPerSecond, time.Second), ml.maxPerSecond)}
		ml.limits[clientID] = r
	}

	if !r.limiter.AllowN(now, 1) {
		r.warnings++
		return false, true
	}
	return true, r.limiter.TokensAt(now) < float64(ml.maxPerSecond-ml.warningThreshold)
}

// WarningCount 超限次数
func (ml *MessageRateLimiter) WarningCount(clientID string) int {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if r, ok := ml.limits[clientID]; ok {
		return r.warnings
	}
	return 0
}

// RemoveClient 移除客户端记录
func (ml *MessageRateLimiter) RemoveClient(clientID string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	delete(ml.limits, clientID)
}

// GetClientIP 获取客户端真实 IP
func GetClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
