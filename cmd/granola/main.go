package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/granola/granola/internal/ledger"
	"github.com/granola/granola/internal/metrics"
	"github.com/granola/granola/internal/orderstore"
	"github.com/granola/granola/internal/ordersvc"
	"github.com/granola/granola/internal/relay"
	"github.com/granola/granola/internal/tui"
	"github.com/granola/granola/pkg/config"
	"github.com/granola/granola/pkg/logger"
	"github.com/granola/granola/pkg/shutdown"
)

// 终端界面占用 stdout 时日志只写文件
const defaultTUILogFile = "logs/granola.log"

func firstExistingFile(paths ...string) (string, bool) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	headless := flag.Bool("headless", false, "不启动终端界面，只输出日志")
	flag.Parse()

	// .env 可选，不存在时直接用真实环境变量
	_ = godotenv.Load()

	if *configPath != "" {
		config.SetConfigPath(*configPath)
	} else if p, ok := firstExistingFile("granola.yaml", "granola.yml", "granola.json"); ok {
		config.SetConfigPath(p)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}
	if !*headless {
		logCfg.DisableConsole = true
		if logCfg.OutputFile == "" {
			logCfg.OutputFile = defaultTUILogFile
		}
	}
	if err := logger.Init(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	if p := config.GetConfigPath(); p != "" {
		logrus.Infof("使用配置文件: %s", p)
	}

	err = run(cfg, *headless)
	_ = logger.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "granola 异常退出: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, headless bool) error {
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	l, err := ledger.New(cfg.InitialBalances, cfg.ReserveMinimums)
	if err != nil {
		return fmt.Errorf("初始化余额失败: %w", err)
	}

	svcCfg := ordersvc.DefaultConfig()
	svcCfg.Timeout = cfg.OrderService.Timeout
	svcCfg.RetryCount = cfg.OrderService.RetryCount
	svcCfg.RateLimit = cfg.OrderService.RateLimit
	client := ordersvc.NewClientWithConfig(cfg.OrderService.BaseURL, svcCfg)

	store := orderstore.New(l, client, orderstore.Config{
		PollInterval:   cfg.Store.PollInterval,
		GraceWindow:    cfg.Store.GraceWindow,
		RequestTimeout: cfg.Store.RequestTimeout,
	})

	relays := relay.NewManager(relay.Config{
		ReconnectDelay: cfg.Relay.ReconnectDelay,
		DialTimeout:    cfg.Relay.DialTimeout,
		Handshake:      cfg.Relay.Handshake,
	})
	relays.OnMessage(func(url string, msg json.RawMessage) {
		logrus.WithField("relay", url).Debugf("[relay] 收到消息 %d 字节", len(msg))
	})

	sm := shutdown.NewManager()
	sm.OnShutdown("orderstore", func(ctx context.Context) { store.Stop() })
	sm.OnShutdown("relay", func(ctx context.Context) { relays.Close() })

	publishMetrics(store, relays)
	if cfg.MetricsAddr != "" {
		if _, err := metrics.StartAsync(rootCtx, cfg.MetricsAddr); err != nil {
			logrus.Warnf("metrics 服务启动失败: %v", err)
		}
	}

	for _, u := range cfg.Relay.Defaults {
		if err := relays.AddEndpoint(u); err != nil {
			logrus.Warnf("默认 relay 无效 %s: %v", u, err)
		}
	}
	store.Start(rootCtx)
	logrus.Infof("granola 已启动: 订单服务 %s, relay %d 个", cfg.OrderService.BaseURL, len(cfg.Relay.Defaults))

	g, gctx := errgroup.WithContext(rootCtx)
	if headless {
		g.Go(func() error { return watch(gctx, store.Changes, func() { reportStore(store) }) })
		g.Go(func() error { return watch(gctx, relays.Changes, func() { reportRelays(relays) }) })
	} else {
		g.Go(func() error {
			// 用户按 q 退出界面即结束整个进程
			defer rootCancel()
			return tui.Run(gctx, store, relays)
		})
	}
	err = g.Wait()

	logrus.Info("收到停止信号，正在关闭...")
	rootCancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	sm.Shutdown(shutdownCtx)
	logrus.Info("granola 已停止")
	return err
}

// watch 每收到一次变化信号调用一次 report，直到 ctx 结束
func watch(ctx context.Context, subscribe func() (<-chan struct{}, func()), report func()) error {
	ch, unsubscribe := subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			report()
		}
	}
}

func reportStore(store *orderstore.Store) {
	orders := store.Orders()
	own := 0
	for _, o := range orders {
		if store.IsOwn(o.ID) {
			own++
		}
	}
	var parts []string
	for _, b := range store.Balances() {
		parts = append(parts, fmt.Sprintf("%s=%s/%s", b.Currency, b.Available, b.Locked))
	}
	logrus.Infof("[状态] 开放订单 %d 个（自己 %d 个），余额(可用/冻结) %s", len(orders), own, strings.Join(parts, " "))
}

func reportRelays(relays *relay.Manager) {
	eps := relays.Endpoints()
	connected := 0
	for _, e := range eps {
		if e.Status == relay.StatusConnected {
			connected++
		}
	}
	logrus.Infof("[relay] 已连接 %d/%d", connected, len(eps))
}

func publishMetrics(store *orderstore.Store, relays *relay.Manager) {
	metrics.Publish("balances", func() any {
		out := make(map[string]map[string]string)
		for _, b := range store.Balances() {
			out[b.Currency.String()] = map[string]string{
				"available": b.Available.String(),
				"locked":    b.Locked.String(),
			}
		}
		return out
	})
	metrics.Publish("open_orders", func() any {
		return len(store.Orders())
	})
	metrics.Publish("grace_window", func() any {
		taken, created := store.GraceStats()
		return map[string]int{"taken": taken, "created": created}
	})
	metrics.Publish("relays", func() any {
		out := make(map[string]string)
		for _, e := range relays.Endpoints() {
			out[e.URL] = string(e.Status)
		}
		return out
	})
}
