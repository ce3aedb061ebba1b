package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"otp_bot/internal/app"
	"otp_bot/internal/config"
	"otp_bot/internal/logger"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatalf("加载配置失败: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		logger.L().Fatalf("初始化应用失败: %v", err)
	}

	// 启动前探测平台可用性，失败只告警不退出
	healthCtx, healthCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := application.Provider.Health(healthCtx); err != nil {
		logger.L().Warnf("Provider health check failed: %v", err)
	}
	healthCancel()

	runCtx, runCancel := context.WithCancel(context.Background())
	application.Start(runCtx)
	logger.L().Info("OTP relay bot is running")

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.L().Info("Shutting down...")
	runCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := application.Close(shutdownCtx); err != nil {
		logger.L().Errorf("关闭应用失败: %v", err)
	}
	logger.L().Info("Shutdown complete")
}
