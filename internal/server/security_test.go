package server

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	t.Parallel()

	fc := clockwork.NewFakeClock()
	rl := NewRateLimiter(fc, 5, 10, time.Second)
	ip := "127.0.0.1"

	for i := range 5 {
		assert.True(t, rl.Allow(ip), "Request %d should be allowed", i)
	}

	assert.False(t, rl.Allow(ip), "6th request should be blocked")
	assert.True(t, rl.IsBanned(ip))
}

func TestRateLimiter_BanExpires(t *testing.T) {
	t.Parallel()

	fc := clockwork.NewFakeClock()
	rl := NewRateLimiter(fc, 10, 50, 2*time.Second)
	ip := "192.168.1.1"

	for range 10 {
		assert.True(t, rl.Allow(ip))
	}
	assert.False(t, rl.Allow(ip))

	fc.Advance(time.Second)
	assert.True(t, rl.IsBanned(ip))
	assert.False(t, rl.Allow(ip))

	fc.Advance(1100 * time.Millisecond)
	assert.False(t, rl.IsBanned(ip))
	assert.True(t, rl.Allow(ip))
}

func TestRateLimiter_MinuteLimit(t *testing.T) {
	t.Parallel()

	fc := clockwork.NewFakeClock()
	rl := NewRateLimiter(fc, 100, 5, time.Second)
	ip := "10.0.0.1"

	for range 5 {
		assert.True(t, rl.Allow(ip))
		fc.Advance(2 * time.Second)
	}
	assert.False(t, rl.Allow(ip))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	t.Parallel()

	fc := clockwork.NewFakeClock()
	rl := NewRateLimiter(fc, 1, 10, time.Hour)

	rl.Allow("idle")
	rl.Allow("banned")
	rl.Allow("banned")

	fc.Advance(11 * time.Minute)
	assert.Equal(t, 1, rl.Cleanup(10*time.Minute))
	assert.True(t, rl.IsBanned("banned"))
}

func TestRateLimiter_Concurrency(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(clockwork.NewFakeClock(), 20, 200, time.Second)
	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("concurrent-test") {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, success)
}

func TestRateLimiter_TokensRefillGradually(t *testing.T) {
	t.Parallel()

	fc := clockwork.NewFakeClock()
	rl := NewRateLimiter(fc, 100, 6, 0)
	ip := "10.0.0.8"

	for range 6 {
		assert.True(t, rl.Allow(ip))
	}
	assert.False(t, rl.Allow(ip))

	// 每分钟 6 次，即每 10 秒补一个令牌
	fc.Advance(10 * time.Second)
	assert.True(t, rl.Allow(ip))
	assert.False(t, rl.Allow(ip))
}

func TestRateLimiter_ZeroMeansUnlimited(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(clockwork.NewFakeClock(), 0, 0, time.Minute)
	for range 1000 {
		require.True(t, rl.Allow("10.0.0.9"))
	}
	assert.False(t, rl.IsBanned("10.0.0.9"))
}

func TestOriginChecker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"allow all", []string{"*"}, "http://evil.com", true},
		{"listed", []string{"http://localhost:3000"}, "http://localhost:3000", true},
		{"case and slash", []string{"https://Example.com/"}, "https://example.com", true},
		{"not listed", []string{"http://localhost:3000"}, "http://evil.com", false},
		{"no origin header", []string{"http://localhost:3000"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, NewOriginChecker(tt.allowed).Check(r))
		})
	}
}

func TestMessageRateLimiter(t *testing.T) {
	t.Parallel()

	fc := clockwork.NewFakeClock()
	ml := NewMessageRateLimiter(fc, 10)

	for i := 1; i <= 8; i++ {
		allowed, warning := ml.AllowMessage("c1")
		assert.True(t, allowed)
		assert.False(t, warning, "message %d", i)
	}

	allowed, warning := ml.AllowMessage("c1")
	assert.True(t, allowed)
	assert.True(t, warning)

	ml.AllowMessage("c1")
	allowed, _ = ml.AllowMessage("c1")
	assert.False(t, allowed)
	assert.Equal(t, 1, ml.WarningCount("c1"))

	fc.Advance(time.Second)
	allowed, warning = ml.AllowMessage("c1")
	assert.True(t, allowed)
	assert.False(t, warning)
	assert.Equal(t, 1, ml.WarningCount("c1"), "超限次数跨窗口累计")

	ml.RemoveClient("c1")
	assert.Zero(t, ml.WarningCount("c1"))
}

func TestMessageRateLimiter_PartialRefill(t *testing.T) {
	t.Parallel()

	fc := clockwork.NewFakeClock()
	ml := NewMessageRateLimiter(fc, 10)

	for range 10 {
		allowed, _ := ml.AllowMessage("c1")
		require.True(t, allowed)
	}

	// 300ms 补回 3 个令牌
	fc.Advance(300 * time.Millisecond)
	for range 3 {
		allowed, _ := ml.AllowMessage("c1")
		assert.True(t, allowed)
	}
	allowed, warning := ml.AllowMessage("c1")
	assert.True(t, warning)
	assert.False(t, allowed)
	assert.Equal(t, 1, ml.WarningCount("c1"))
}

func TestGetClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "10.0.0.2:1234", "1.2.3.4"},
		{"real ip", map[string]string{"X-Real-IP": "5.6.7.8"}, "10.0.0.2:1234", "5.6.7.8"},
		{"remote addr", nil, "9.9.9.9:5555", "9.9.9.9"},
		{"remote addr without port", nil, "9.9.9.9", "9.9.9.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}
