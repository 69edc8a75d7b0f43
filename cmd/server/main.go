package main

import (
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/palemoky/memory-duel/internal/config"
	"github.com/palemoky/memory-duel/internal/logger"
	"github.com/palemoky/memory-duel/internal/server"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	// .env 可选
	envErr := godotenv.Load()

	cfg, cfgErr := config.Load(*configPath)
	if cfgErr != nil {
		cfg = config.Default()
		if err := config.ApplyEnv(cfg); err != nil {
			logger.Init("info", true)
			log.Fatal().Err(err).Msg("环境变量配置无效")
		}
	}

	logger.Init(cfg.Log.Level, cfg.Log.Pretty)
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		log.Warn().Err(envErr).Msg("读取 .env 失败")
	}
	if cfgErr != nil {
		log.Warn().Err(cfgErr).Str("path", *configPath).Msg("加载配置文件失败，使用默认配置")
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("创建服务器失败")
	}

	// 第一次信号等待对局结束，第二次立即关闭
	quit := make(chan os.Signal, 2)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("正在关闭服务器，等待当前对局结束...")
		go func() {
			<-quit
			log.Warn().Msg("再次收到信号，立即关闭")
			srv.Shutdown()
			os.Exit(1)
		}()
		srv.GracefulShutdown(cfg.Game.ShutdownTimeoutDuration())
		os.Exit(0)
	}()

	log.Info().Msg("🎴 翻牌对战服务器启动中...")
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("服务器启动失败")
	}
	select {}
}
