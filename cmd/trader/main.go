package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"trader-go/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/trader.yaml", "配置文件路径")
	envFile := flag.String("env", ".env", "可选的 .env 文件，不存在则忽略")
	dryRun := flag.Bool("dryRun", false, "仅日志输出，不真正下单")
	brokers := flag.String("brokers", "", "覆盖 kafka.brokers（逗号分隔）")
	groupID := flag.String("group-id", "", "覆盖 kafka.groupId")
	metricsAddr := flag.String("metricsAddr", "", "覆盖管理端口地址（/metrics /healthz /stats）")
	flag.Parse()

	c, err := container.New(container.Options{
		ConfigPath:  *cfgPath,
		EnvFile:     *envFile,
		DryRun:      *dryRun,
		Brokers:     *brokers,
		GroupID:     *groupID,
		MetricsAddr: *metricsAddr,
	})
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		log.Fatalf("启动失败: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-c.Done():
		// 消息流结束（例如 websocket 源被关闭）
	}
	stop()

	if err := c.Stop(); err != nil {
		log.Printf("退出时出现错误: %v", err)
		os.Exit(1)
	}
}
