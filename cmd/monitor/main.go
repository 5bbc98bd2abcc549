// Package main 是持仓量监控器的入口。
// 监控器按固定周期从 Binance 与 Bybit 拉取 USDT 永续合约持仓量，
// 检测单次跳变、偏离均值与 15 分钟窗口均值突增，并通过 Telegram 推送去重后的告警。
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"open-interest-monitor/internal/admin"
	"open-interest-monitor/internal/config"
	"open-interest-monitor/internal/core/dedup"
	"open-interest-monitor/internal/core/detect"
	"open-interest-monitor/internal/core/model"
	"open-interest-monitor/internal/core/store"
	"open-interest-monitor/internal/core/window"
	"open-interest-monitor/internal/exchange"
	"open-interest-monitor/internal/exchange/binance"
	"open-interest-monitor/internal/exchange/bybit"
	"open-interest-monitor/internal/logging"
	"open-interest-monitor/internal/metadata"
	"open-interest-monitor/internal/metrics"
	"open-interest-monitor/internal/monitor"
	"open-interest-monitor/internal/notify"
	"open-interest-monitor/internal/notify/kafka"
	"open-interest-monitor/internal/notify/telegram"
	"open-interest-monitor/internal/output/csvexport"
	"open-interest-monitor/internal/output/jsonl"
	"open-interest-monitor/internal/output/snapshot"
	"open-interest-monitor/internal/storage/windowdb"
	"open-interest-monitor/internal/util/timeutil"
)

type options struct {
	configPath string
	tokensPath string
	envFile    string
	once       bool
}

func main() {
	var opts options
	pflag.StringVar(&opts.configPath, "config", "config.yaml", "配置文件路径")
	pflag.StringVar(&opts.tokensPath, "tokens", "", "交易对 JSON 文件（覆盖 symbols.tokens_file）")
	pflag.StringVar(&opts.envFile, "env-file", ".env", "环境变量文件")
	pflag.BoolVar(&opts.once, "once", false, "只执行一个周期后退出")
	pflag.Parse()

	os.Exit(run(opts))
}

func run(opts options) int {
	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "加载环境变量文件失败: %v\n", err)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.App.LogLevel,
		Format: cfg.App.LogFormat,
		File:   cfg.App.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		return 1
	}
	defer logger.Sync()
	logger = logger.With(zap.String("app", cfg.App.Name))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，当前周期结束后退出")
		cancel()
	}()

	// 交易所拉取器
	bybitREST := bybit.NewRESTFetcher(bybit.RESTConfig{
		BaseURL:         cfg.Exchanges.Bybit.BaseURL,
		Timeout:         time.Duration(cfg.Exchanges.Bybit.TimeoutSec) * time.Second,
		RequestInterval: time.Duration(cfg.Exchanges.Bybit.RequestIntervalMs) * time.Millisecond,
	}, logger)
	binanceClient := binance.NewClient(binance.Config{
		APIKey:          cfg.Exchanges.Binance.APIKey,
		APISecret:       cfg.Exchanges.Binance.APISecret,
		BaseURL:         cfg.Exchanges.Binance.BaseURL,
		RequestInterval: time.Duration(cfg.Exchanges.Binance.RequestIntervalMs) * time.Millisecond,
	}, logger)

	fetchers := map[model.Exchange]exchange.Fetcher{
		model.ExchangeBinance: binanceClient,
		model.ExchangeBybit:   bybitREST,
	}
	if cfg.Exchanges.Bybit.Mode == "ws" {
		fetchers[model.ExchangeBybit] = bybit.NewWSFetcher(bybit.StreamConfig{
			URL:            cfg.Exchanges.Bybit.WSURL,
			PingInterval:   time.Duration(cfg.Exchanges.Bybit.PingIntervalSec) * time.Second,
			CollectTimeout: time.Duration(cfg.Exchanges.Bybit.CollectTimeoutSec) * time.Second,
		}, logger)
	}

	// 交易对
	symbols, err := loadSymbols(ctx, cfg, opts.tokensPath, []metadata.InstrumentSource{binanceClient, bybitREST}, logger)
	if err != nil {
		logger.Error("加载交易对失败", zap.Error(err))
		return 1
	}

	targets := make([]exchange.Target, 0, len(symbols))
	for _, ex := range cfg.EnabledExchanges() {
		targets = append(targets, exchange.Target{Fetcher: fetchers[ex], Symbols: symbols[ex]})
		logger.Info("监控交易对", zap.String("exchange", string(ex)), zap.Int("count", len(symbols[ex])))
	}

	// 历史观测
	obsStore := store.New(cfg.MaxPerSeries())
	snapFile := snapshot.File{Path: cfg.Output.Path(cfg.Output.SnapshotFile)}
	restoreSnapshot(obsStore, snapFile, logger)

	// 去重
	cooldown, closeCooldown, err := newCooldownStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("初始化去重存储失败", zap.Error(err))
		return 1
	}
	defer closeCooldown()
	deduper := dedup.New(cooldown, dedup.WithCooldown(cfg.Cooldown()), dedup.WithLogger(logger))

	// 通知
	notifier := telegram.New(telegram.Config{
		Token:   cfg.Telegram.Token,
		ChatID:  cfg.Telegram.ChatID,
		TopicID: cfg.Telegram.TopicID,
		BaseURL: cfg.Telegram.BaseURL,
		Timeout: time.Duration(cfg.Telegram.TimeoutSec) * time.Second,
	}, logger)

	var sinks notify.Sinks
	if path := cfg.Output.Path(cfg.Output.JournalFile); path != "" {
		journal, err := jsonl.NewWriter(path, cfg.Output.BufferSize, logger)
		if err != nil {
			logger.Error("创建告警流水失败", zap.Error(err))
			return 1
		}
		defer journal.Close()
		sinks = append(sinks, journal)
	}
	if cfg.Kafka.Enabled {
		pub, err := kafka.NewPublisher(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: time.Duration(cfg.Kafka.WriteTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Error("创建 Kafka 发布器失败", zap.Error(err))
			return 1
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	// 窗口导出
	var windowSinks []monitor.WindowSink
	if path := cfg.Output.Path(cfg.Output.CSVFile); path != "" {
		windowSinks = append(windowSinks, csvexport.New(path))
	}
	if cfg.WindowDB.Enabled {
		openCtx, openCancel := context.WithTimeout(ctx, 30*time.Second)
		db, err := windowdb.Open(openCtx, windowdb.Config{Driver: cfg.WindowDB.Driver, DSN: cfg.WindowDB.DSN}, logger)
		openCancel()
		if err != nil {
			logger.Error("打开窗口数据库失败", zap.Error(err))
			return 1
		}
		defer db.Close()
		windowSinks = append(windowSinks, db)
	}

	recorder := metrics.New(nil)
	clock := timeutil.SystemClock{}

	orch := monitor.New(monitor.Config{
		Retention:   cfg.Retention(),
		SendSummary: cfg.Monitor.SendSummaryEnabled(),
	}, monitor.Deps{
		Targets:    targets,
		Store:      obsStore,
		Detector:   detect.New(cfg.Monitor.ThresholdPct),
		Aggregator: window.NewAggregator(cfg.Monitor.WindowSpikeRatio),
		Dedup:      deduper,
		Notifier:   notifier,
		Sinks:      sinks,
		Snapshot:   snapFile,
		Windows:    windowSinks,
		Metrics:    recorder,
		Clock:      clock,
		Logger:     logger,
	})

	sched := monitor.NewScheduler(monitor.SchedulerConfig{
		Interval:        cfg.Interval(),
		CycleTimeout:    cfg.CycleTimeout(),
		ThresholdPct:    cfg.Monitor.ThresholdPct,
		NotifyLifecycle: cfg.Monitor.NotifyLifecycleEnabled(),
	}, orch, notifier, clock, logger)

	if opts.once {
		if err := sched.RunOnce(ctx); err != nil {
			logger.Error("周期执行失败", zap.Error(err))
			return 1
		}
		return 0
	}

	var adminSrv *admin.Server
	if cfg.Admin.Enabled {
		adminSrv = admin.NewServer(orch,
			admin.WithAddr(cfg.Admin.Addr),
			admin.WithStaleAfter(3*cfg.Interval()),
			admin.WithLogger(logger))
		adminSrv.Start()
	}

	if err := sched.Run(ctx); err != nil {
		logger.Error("调度器退出", zap.Error(err))
	}

	// 优雅关闭（10s 超时）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if adminSrv != nil {
		if err := adminSrv.Stop(shutdownCtx); err != nil {
			logger.Warn("关闭管理接口失败", zap.Error(err))
		}
	}
	logger.Info("关闭完成")
	return 0
}

// loadSymbols 合并 YAML 与 JSON 文件中的交易对，按需依据交易所元数据校验
func loadSymbols(ctx context.Context, cfg *config.Config, tokensPath string, sources []metadata.InstrumentSource, logger *zap.Logger) (map[model.Exchange][]string, error) {
	list := cfg.Tokens()
	if tokensPath == "" {
		tokensPath = cfg.Symbols.TokensFile
	}
	if tokensPath != "" {
		fromFile, err := metadata.LoadTokens(tokensPath)
		if err != nil {
			return nil, err
		}
		list = list.Merge(fromFile)
	}
	if list.Empty() {
		return nil, errors.New("未配置任何交易对")
	}

	symbols := metadata.Resolve(list, cfg.EnabledExchanges())
	for ex, s := range symbols {
		if len(s) == 0 {
			return nil, fmt.Errorf("交易所 %s 没有可监控的交易对", ex)
		}
	}
	if !cfg.Symbols.Validate {
		return symbols, nil
	}

	vctx, vcancel := context.WithTimeout(ctx, 30*time.Second)
	defer vcancel()
	return metadata.ValidateSymbols(vctx, symbols, sources, logger)
}

// restoreSnapshot 启动时加载历史观测，失败时以空状态启动
func restoreSnapshot(s *store.Store, f snapshot.File, logger *zap.Logger) {
	data, err := f.Load()
	if err != nil {
		if snapshot.IsNotExist(err) {
			logger.Info("未找到历史快照，从空状态启动", zap.String("path", f.Path))
			return
		}
		logger.Error("加载历史快照失败，从空状态启动", zap.String("path", f.Path), zap.Error(err))
		return
	}
	loaded, skipped := s.Restore(data)
	logger.Info("历史快照已加载",
		zap.Int("observations", loaded),
		zap.Int("skipped", skipped),
		zap.Int("series", len(s.Keys())))
}

// newCooldownStore 按配置创建冷却存储
func newCooldownStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (dedup.CooldownStore, func(), error) {
	if cfg.Dedup.Backend != "redis" {
		return dedup.NewMemoryStore(), func() {}, nil
	}

	rctx, rcancel := context.WithTimeout(ctx, 10*time.Second)
	defer rcancel()
	rs, err := dedup.NewRedisStore(rctx,
		dedup.WithRedisAddr(cfg.Dedup.Redis.Addr),
		dedup.WithRedisPassword(cfg.Dedup.Redis.Password),
		dedup.WithRedisDB(cfg.Dedup.Redis.DB),
		dedup.WithRedisPrefix(cfg.Dedup.Redis.Prefix))
	if err != nil {
		return nil, nil, err
	}
	logger.Info("使用 Redis 去重存储", zap.String("addr", cfg.Dedup.Redis.Addr))
	return rs, func() { _ = rs.Close() }, nil
}
