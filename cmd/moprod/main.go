package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"Mopro-Bridge/internal/bridge"
	"Mopro-Bridge/internal/config"
	"Mopro-Bridge/internal/journal"
	"Mopro-Bridge/internal/observability/alerting"
	"Mopro-Bridge/internal/observability/metrics"
	"Mopro-Bridge/internal/proofs/subprocess"
	"Mopro-Bridge/internal/transport/amqprpc"
	"Mopro-Bridge/internal/transport/httpapi"
	"Mopro-Bridge/internal/transport/redisq"
	"Mopro-Bridge/pkg/logger"
)

// main 是 Mopro 桥接守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("moprod 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	l := logger.Named("moprod")

	engine, err := subprocess.New(
		subprocess.ResolveExecutable(cfg.BaseDir, cfg.Engine.Executable),
		subprocess.WithWorkingDir(cfg.Engine.WorkingDir),
		subprocess.WithEnv(engineEnv(cfg.Engine.Env)...),
		subprocess.WithBaseContext(ctx),
	)
	if err != nil {
		return err
	}

	store, err := openJournal(ctx, cfg.Journal)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Warn("关闭调用日志失败", slog.Any("error", err))
		}
	}()

	collector := metrics.New()

	notifiers := []alerting.Notifier{}
	if cfg.Alerting.Log {
		notifiers = append(notifiers, &alerting.LogNotifier{})
	}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}
	alerts := alerting.NewFanout(notifiers...)
	l.Info("告警渠道", slog.Any("channels", alerts.Channels()))

	dispatcher := bridge.NewDispatcher(engine,
		bridge.HostPlatform{Documents: cfg.Platform.DocumentsDir},
		bridge.WithObserver(collector),
		bridge.WithJournal(store),
		bridge.WithAlertDispatcher(alerts),
	)

	pool := bridge.NewPool(cfg.Bridge.Workers, cfg.Bridge.QueueSize)
	defer pool.Close()
	collector.TrackQueueDepth(pool.Pending)

	loop := bridge.NewLoop(cfg.Bridge.LoopSize)
	defer loop.Close()

	b := bridge.New(dispatcher, pool, loop)

	services := map[string]func(context.Context) error{}

	if cfg.Transport.HTTP.Enabled {
		rl := cfg.Transport.HTTP.RateLimit
		server := httpapi.NewServer(cfg.Transport.HTTP.Address, b,
			httpapi.WithJournal(store),
			httpapi.WithMetrics(collector),
			httpapi.WithRateLimit(rl.RequestsPerSecond, rl.Burst, rl.IdleTTL),
		)
		services["http"] = server.Start
	}

	if cfg.Transport.Redis.Enabled {
		rc := cfg.Transport.Redis
		server, err := redisq.New(redisq.Config{
			Address:      rc.Address,
			Password:     rc.Password,
			DB:           rc.DB,
			RequestQueue: rc.RequestQueue,
			ReplyPrefix:  rc.ReplyPrefix,
			ReplyTTL:     rc.ReplyTTL,
			BlockTimeout: rc.BlockTimeout,
			Consumers:    cfg.Bridge.Workers,
		}, b)
		if err != nil {
			return err
		}
		defer server.Close()
		services["redis"] = server.Serve
	}

	if cfg.Transport.RabbitMQ.Enabled {
		rc := cfg.Transport.RabbitMQ
		server, err := amqprpc.New(amqprpc.Config{
			URL:      rc.URL,
			Queue:    rc.Queue,
			Prefetch: rc.Prefetch,
			Durable:  rc.Durable,
			Workers:  cfg.Bridge.Workers,
		}, b)
		if err != nil {
			return err
		}
		defer server.Close()
		services["rabbitmq"] = server.Serve
	}

	if cfg.Metrics.Address != "" {
		addr := cfg.Metrics.Address
		services["metrics"] = func(ctx context.Context) error {
			return collector.StartServer(ctx, addr)
		}
	}

	if len(services) == 0 {
		return errors.New("没有启用任何对外通道")
	}

	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(services))
	for _, name := range names {
		start := services[name]
		go func(name string) {
			err := start(serveCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				err = fmt.Errorf("%s: %w", name, err)
			} else {
				err = nil
			}
			errCh <- err
		}(name)
	}
	l.Info("moprod 已启动", slog.Any("services", names), slog.Int("workers", cfg.Bridge.Workers))

	// 任一通道异常退出都会停止其余通道。
	var firstErr error
	for range names {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			l.Error("通道异常退出", slog.Any("error", err))
			cancel()
		}
	}
	l.Info("moprod 正在退出")
	return firstErr
}

func openJournal(ctx context.Context, cfg config.JournalConfig) (journal.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return journal.NewMemoryStore(cfg.Capacity), nil
	case "mysql":
		store, err := journal.NewMySQLStore(ctx, journal.MySQLConfig{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("未知的调用日志驱动: %s", cfg.Driver)
	}
}

func engineEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
