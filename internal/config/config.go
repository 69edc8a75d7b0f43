package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/palemoky/memory-duel/internal/game/card"
)

// 默认值
const (
	defaultHost             = "0.0.0.0"
	defaultPort             = 3000
	defaultMaxConnections   = 64
	defaultRedisAddr        = "localhost:6379"
	defaultNATSSubject      = "memory"
	defaultTurnTimeout      = 15   // 秒
	defaultMismatchDelay    = 1500 // 毫秒
	defaultShutdownTimeout  = 10   // 分钟
	defaultShutdownInterval = 5    // 秒
	defaultRateMaxPerSecond = 10
	defaultRateMaxPerMinute = 60
	defaultBanDuration      = 60 // 秒
	defaultMsgMaxPerSecond  = 20
	defaultLogLevel         = "info"
)

// Config 服务端配置
type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Redis    RedisConfig    `yaml:"redis" envPrefix:"REDIS_"`
	NATS     NATSConfig     `yaml:"nats" envPrefix:"NATS_"`
	Game     GameConfig     `yaml:"game" envPrefix:"GAME_"`
	Security SecurityConfig `yaml:"security" envPrefix:"SECURITY_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
}

// ServerConfig WebSocket 服务器配置
type ServerConfig struct {
	Host           string `yaml:"host" env:"HOST"`
	Port           int    `yaml:"port" env:"PORT"`
	MaxConnections int    `yaml:"max_connections" env:"MAX_CONNECTIONS"`
}

// RedisConfig Redis 配置，未启用时不记录战绩
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// NATSConfig 对局事件推送，URL 为空则不推送
type NATSConfig struct {
	URL           string `yaml:"url" env:"URL"`
	SubjectPrefix string `yaml:"subject_prefix" env:"SUBJECT_PREFIX"`
}

// GameConfig 游戏配置
type GameConfig struct {
	TurnTimeout           int      `yaml:"turn_timeout" env:"TURN_TIMEOUT"`                       // 回合超时（秒）
	MismatchDelay         int      `yaml:"mismatch_delay" env:"MISMATCH_DELAY"`                   // 翻错后盖回前的展示时间（毫秒）
	Symbols               []string `yaml:"symbols" env:"SYMBOLS" envSeparator:","`                // 牌面图案，每个图案两张
	ShutdownTimeout       int      `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`               // 优雅关闭等待对局结束的超时（分钟）
	ShutdownCheckInterval int      `yaml:"shutdown_check_interval" env:"SHUTDOWN_CHECK_INTERVAL"` // 优雅关闭检查间隔（秒）
}

// TurnTimeoutDuration 返回回合超时时长
func (c *GameConfig) TurnTimeoutDuration() time.Duration {
	return time.Duration(c.TurnTimeout) * time.Second
}

// MismatchDelayDuration 返回翻错展示时长
func (c *GameConfig) MismatchDelayDuration() time.Duration {
	return time.Duration(c.MismatchDelay) * time.Millisecond
}

// ShutdownTimeoutDuration 返回优雅关闭超时时长
func (c *GameConfig) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Minute
}

// ShutdownCheckIntervalDuration 返回优雅关闭检查间隔
func (c *GameConfig) ShutdownCheckIntervalDuration() time.Duration {
	return time.Duration(c.ShutdownCheckInterval) * time.Second
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	AllowedOrigins []string           `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	RateLimit      RateLimitConfig    `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	MessageLimit   MessageLimitConfig `yaml:"message_limit" envPrefix:"MESSAGE_LIMIT_"`
}

// RateLimitConfig 连接速率限制
type RateLimitConfig struct {
	MaxPerSecond int `yaml:"max_per_second" env:"MAX_PER_SECOND"`
	MaxPerMinute int `yaml:"max_per_minute" env:"MAX_PER_MINUTE"`
	BanDuration  int `yaml:"ban_duration" env:"BAN_DURATION"` // 秒
}

// BanDurationTime 返回封禁时长
func (c *RateLimitConfig) BanDurationTime() time.Duration {
	return time.Duration(c.BanDuration) * time.Second
}

// MessageLimitConfig 单连接消息速率限制
type MessageLimitConfig struct {
	MaxPerSecond int `yaml:"max_per_second" env:"MAX_PER_SECOND"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Pretty bool   `yaml:"pretty" env:"PRETTY"`
}

// Load 加载配置文件，环境变量优先于文件，最后补齐默认值
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv 用环境变量覆盖已有配置，未设置的变量不影响原值
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Default 返回默认配置
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Validate 校验无法通过默认值修正的配置
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if err := card.ValidateSymbols(c.Game.Symbols); err != nil {
		return fmt.Errorf("invalid game symbols: %w", err)
	}
	return nil
}

// Addr 监听地址
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = defaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.MaxConnections == 0 {
		c.Server.MaxConnections = defaultMaxConnections
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = defaultNATSSubject
	}
	if c.Game.TurnTimeout == 0 {
		c.Game.TurnTimeout = defaultTurnTimeout
	}
	if c.Game.MismatchDelay == 0 {
		c.Game.MismatchDelay = defaultMismatchDelay
	}
	if len(c.Game.Symbols) == 0 {
		c.Game.Symbols = append([]string(nil), card.DefaultSymbols...)
	}
	if c.Game.ShutdownTimeout == 0 {
		c.Game.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Game.ShutdownCheckInterval == 0 {
		c.Game.ShutdownCheckInterval = defaultShutdownInterval
	}
	if len(c.Security.AllowedOrigins) == 0 {
		c.Security.AllowedOrigins = []string{"*"}
	}
	if c.Security.RateLimit.MaxPerSecond == 0 {
		c.Security.RateLimit.MaxPerSecond = defaultRateMaxPerSecond
	}
	if c.Security.RateLimit.MaxPerMinute == 0 {
		c.Security.RateLimit.MaxPerMinute = defaultRateMaxPerMinute
	}
	if c.Security.RateLimit.BanDuration == 0 {
		c.Security.RateLimit.BanDuration = defaultBanDuration
	}
	if c.Security.MessageLimit.MaxPerSecond == 0 {
		c.Security.MessageLimit.MaxPerSecond = defaultMsgMaxPerSecond
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
}
