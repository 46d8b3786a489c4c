package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/granola/granola/internal/orderserver"
	"github.com/granola/granola/pkg/config"
	"github.com/granola/granola/pkg/logger"
)

func main() {
	// .env 可选，不存在时直接用真实环境变量
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
		addr       = flag.String("addr", "", "监听地址（默认 127.0.0.1:8080）")
		backend    = flag.String("backend", "", "存储后端: sqlite | badger")
		dbPath     = flag.String("db", "", "sqlite 文件路径 / badger 目录")
		seed       = flag.Int("seed", 0, "启动时写入的假订单数量（默认取配置，0 表示不写入）")
	)
	flag.Parse()

	config.SetConfigPath(*configPath)
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 命令行显式给出的参数覆盖配置
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = *addr
		case "backend":
			cfg.Server.Backend = *backend
		case "db":
			cfg.Server.DBPath = *dbPath
		case "seed":
			cfg.Server.SeedCount = *seed
		}
	})

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	err = run(cfg.Server)
	_ = logger.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "订单服务异常退出: %v\n", err)
		os.Exit(1)
	}
}

func run(sc config.ServerConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	repo, err := orderserver.OpenRepository(orderserver.StorageConfig{
		Backend: sc.Backend,
		Path:    sc.DBPath,
	})
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	defer repo.Close()

	if sc.SeedCount > 0 {
		if err := orderserver.Seed(ctx, repo, sc.SeedCount, nil); err != nil {
			return err
		}
		logrus.Infof("[订单] 已写入 %d 个假订单", sc.SeedCount)
	}

	if err := orderserver.New(repo).Run(ctx, sc.Addr); err != nil {
		return err
	}
	logrus.Info("订单服务已停止")
	return nil
}
