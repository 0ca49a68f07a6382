// cmd/server/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Corphon/PersonaKit/internal/app"
	"github.com/Corphon/PersonaKit/internal/config"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	log.Println("🚀 启动 PersonaKit 服务器...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("初始化服务失败: %v", err)
	}

	// 等待中断信号以进行优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("🌐 服务器启动在端口 %s", cfg.Server.Port)
	if err := application.Run(ctx); err != nil {
		log.Printf("❌ 服务器异常退出: %v", err)
		os.Exit(1)
	}
	log.Println("✅ 服务器已关闭")
}
