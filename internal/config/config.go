// Package config 负责加载和验证 YAML 配置文件。
// 提供监控器所需的全部配置项：采样周期、阈值、交易所、通知、存储与管理端口。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"open-interest-monitor/internal/core/model"
	"open-interest-monitor/internal/metadata"
)

// Config 应用配置根结构
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Monitor 采样与检测参数
	Monitor MonitorConfig `yaml:"monitor"`
	// Symbols 监控交易对
	Symbols SymbolsConfig `yaml:"symbols"`
	// Exchanges 交易所连接配置
	Exchanges ExchangesConfig `yaml:"exchanges"`
	// Telegram 告警推送
	Telegram TelegramConfig `yaml:"telegram"`
	// Dedup 告警去重
	Dedup DedupConfig `yaml:"dedup"`
	// Kafka 告警流
	Kafka KafkaConfig `yaml:"kafka"`
	// WindowDB 窗口均值入库
	WindowDB WindowDBConfig `yaml:"window_db"`
	// Output 文件输出
	Output OutputConfig `yaml:"output"`
	// Admin 管理端口
	Admin AdminConfig `yaml:"admin"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name" default:"open-interest-monitor"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level" default:"info"`
	// LogFormat 日志格式: json, console
	LogFormat string `yaml:"log_format" default:"json" validate:"oneof=json console"`
	// LogFile 日志文件路径，为空时只输出到标准输出
	LogFile string `yaml:"log_file"`
}

// MonitorConfig 采样与检测参数
type MonitorConfig struct {
	// ThresholdPct 变化百分比阈值
	ThresholdPct float64 `yaml:"threshold_pct" default:"30" validate:"gt=0"`
	// IntervalSec 采样周期（秒）
	IntervalSec int `yaml:"interval_sec" default:"900" validate:"gt=0"`
	// CycleTimeoutSec 单个周期的最长执行时间（秒）
	CycleTimeoutSec int `yaml:"cycle_timeout_sec" default:"300" validate:"gt=0"`
	// RetentionHours 历史保留时长（小时），0 表示不限
	RetentionHours *int `yaml:"retention_hours" default:"24" validate:"omitempty,gte=0"`
	// MaxPerSeries 每个序列保留的最大观测数，0 表示不限
	MaxPerSeries *int `yaml:"max_per_series" default:"10" validate:"omitempty,gte=0"`
	// WindowSpikeRatio 窗口均值比例阈值
	WindowSpikeRatio float64 `yaml:"window_spike_ratio" default:"50" validate:"gt=1"`
	// SendSummary 有告警时是否额外发送汇总消息
	SendSummary *bool `yaml:"send_summary" default:"true"`
	// NotifyLifecycle 是否发送启动/停止消息
	NotifyLifecycle *bool `yaml:"notify_lifecycle" default:"true"`
}

// SymbolsConfig 监控交易对配置
type SymbolsConfig struct {
	// List 所有交易所共用的交易对
	List []string `yaml:"list"`
	// Binance 仅用于 Binance 的交易对，配置后覆盖 List
	Binance []string `yaml:"binance"`
	// Bybit 仅用于 Bybit 的交易对，配置后覆盖 List
	Bybit []string `yaml:"bybit"`
	// TokensFile 交易对 JSON 文件
	TokensFile string `yaml:"tokens_file"`
	// Validate 启动时是否依据交易所合约列表校验
	Validate bool `yaml:"validate"`
}

// ExchangesConfig 交易所连接配置
type ExchangesConfig struct {
	Binance BinanceConfig `yaml:"binance"`
	Bybit   BybitConfig   `yaml:"bybit"`
}

// BinanceConfig Binance U 本位合约配置
type BinanceConfig struct {
	Enabled *bool `yaml:"enabled" default:"true"`
	// BaseURL 为空时使用 SDK 默认地址
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	// RequestIntervalMs 请求最小间隔（毫秒）
	RequestIntervalMs int `yaml:"request_interval_ms" default:"100" validate:"gt=0"`
	// APIKey 来自环境变量 BINANCE_API_KEY
	APIKey string `yaml:"-"`
	// APISecret 来自环境变量 BINANCE_API_SECRET
	APISecret string `yaml:"-"`
}

// BybitConfig Bybit linear 合约配置
type BybitConfig struct {
	Enabled *bool `yaml:"enabled" default:"true"`
	// Mode 采集方式: rest, ws
	Mode string `yaml:"mode" default:"rest" validate:"oneof=rest ws"`
	// BaseURL REST 地址
	BaseURL string `yaml:"base_url" default:"https://api.bybit.com" validate:"url"`
	// WSURL 公共行情 WS 地址
	WSURL string `yaml:"ws_url" default:"wss://stream.bybit.com/v5/public/linear" validate:"url"`
	// RequestIntervalMs REST 请求最小间隔（毫秒）
	RequestIntervalMs int `yaml:"request_interval_ms" default:"100" validate:"gt=0"`
	// TimeoutSec REST 请求超时（秒）
	TimeoutSec int `yaml:"timeout_sec" default:"10" validate:"gt=0"`
	// CollectTimeoutSec WS 单次采集超时（秒）
	CollectTimeoutSec int `yaml:"collect_timeout_sec" default:"30" validate:"gt=0"`
	// PingIntervalSec WS 心跳间隔（秒）
	PingIntervalSec int `yaml:"ping_interval_sec" default:"20" validate:"gt=0"`
}

// TelegramConfig Telegram 推送配置
// Token 与 ChatID 通常来自环境变量，缺失时推送被禁用。
type TelegramConfig struct {
	Token   string `yaml:"token"`
	// ChatID 数字 ID 或 @频道用户名
	ChatID  string `yaml:"chat_id"`
	TopicID int64  `yaml:"topic_id"`
	BaseURL string `yaml:"base_url" default:"https://api.telegram.org" validate:"url"`
	// TimeoutSec 请求超时（秒）
	TimeoutSec int `yaml:"timeout_sec" default:"10" validate:"gt=0"`
}

// DedupConfig 告警去重配置
type DedupConfig struct {
	// Backend 冷却存储: memory, redis
	Backend string `yaml:"backend" default:"memory" validate:"oneof=memory redis"`
	// CooldownMin 冷却时长（分钟）
	CooldownMin int `yaml:"cooldown_min" default:"60" validate:"gt=0"`
	// Redis Backend=redis 时使用
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr string `yaml:"addr" default:"localhost:6379"`
	// Password 来自环境变量 REDIS_PASSWORD
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Prefix   string `yaml:"prefix" default:"oimon:cooldown"`
}

// KafkaConfig 告警流配置
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic" default:"open-interest-alerts"`
	// WriteTimeoutSec 写入超时（秒）
	WriteTimeoutSec int `yaml:"write_timeout_sec" default:"10" validate:"gt=0"`
}

// WindowDBConfig 窗口均值入库配置
type WindowDBConfig struct {
	Enabled bool `yaml:"enabled"`
	// Driver 数据库驱动: sqlite, postgres
	Driver string `yaml:"driver" default:"sqlite" validate:"oneof=sqlite postgres"`
	// DSN 连接串，可由环境变量 DATABASE_DSN 覆盖
	DSN string `yaml:"dsn" default:"windows.db"`
}

// OutputConfig 文件输出配置
type OutputConfig struct {
	// Dir 输出目录，相对路径的文件均位于该目录下
	Dir string `yaml:"dir" default:"./data"`
	// SnapshotFile 历史观测快照
	SnapshotFile string `yaml:"snapshot_file" default:"open_interest_data.json"`
	// CSVFile 窗口均值导出文件，为空时不导出
	CSVFile string `yaml:"csv_file" default:"open_interest_windows.csv"`
	// JournalFile 告警流水文件，为空时不记录
	JournalFile string `yaml:"journal_file" default:"open_interest_alerts.jsonl"`
	// BufferSize 告警流水异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size" default:"1000" validate:"gt=0"`
}

// AdminConfig 管理端口配置
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" default:":9090"`
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 先填默认值再解析，文件中显式写出的零值（如 csv_file: ""）不会被默认值覆盖
	var cfg Config
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	cfg.normalize()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// Default 返回仅包含默认值的配置
func Default() *Config {
	var cfg Config
	_ = cfg.setDefaults()
	return &cfg
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("设置默认值失败: %w", err)
	}
	return nil
}

func (c *Config) normalize() {
	c.App.LogLevel = strings.ToLower(c.App.LogLevel)
	c.Exchanges.Bybit.Mode = strings.ToLower(c.Exchanges.Bybit.Mode)
	c.Dedup.Backend = strings.ToLower(c.Dedup.Backend)
}

// applyEnv 使用环境变量覆盖敏感配置
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	i64 := func(key string, dst *int64) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("环境变量 %s 不是整数: %q", key, v))
			return
		}
		*dst = n
	}

	str("TELEGRAM_BOT_TOKEN", &c.Telegram.Token)
	str("TELEGRAM_CHAT_ID", &c.Telegram.ChatID)
	// TOPIC_ID 为旧版 .env 的写法，TELEGRAM_TOPIC_ID 优先
	i64("TOPIC_ID", &c.Telegram.TopicID)
	i64("TELEGRAM_TOPIC_ID", &c.Telegram.TopicID)
	str("BINANCE_API_KEY", &c.Exchanges.Binance.APIKey)
	str("BINANCE_API_SECRET", &c.Exchanges.Binance.APISecret)
	str("REDIS_PASSWORD", &c.Dedup.Redis.Password)
	str("DATABASE_DSN", &c.WindowDB.DSN)

	return errors.Join(errs...)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// 错误信息使用 yaml 字段名
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate 验证配置合法性
// 先检查字段标签约束，再检查跨字段规则
// 返回: 若配置无效则返回描述性错误
func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, describe(fe))
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.App.LogLevel] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(c.EnabledExchanges()) == 0 {
		errs = append(errs, "exchanges: 至少需要启用一个交易所")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, "kafka.brokers: 启用 Kafka 时至少需要一个 broker")
	}
	if c.Dedup.Backend == "redis" && c.Dedup.Redis.Addr == "" {
		errs = append(errs, "dedup.redis.addr: 使用 Redis 去重时地址不能为空")
	}
	if c.WindowDB.Enabled && c.WindowDB.DSN == "" {
		errs = append(errs, "window_db.dsn: 启用窗口入库时 DSN 不能为空")
	}
	if c.Admin.Enabled && c.Admin.Addr == "" {
		errs = append(errs, "admin.addr: 启用管理端口时地址不能为空")
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// describe 将字段校验错误转换为可读描述
func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "gt":
		return fmt.Sprintf("%s: 必须大于 %s，当前值: %v", field, fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s: 不能小于 %s，当前值: %v", field, fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("%s: 无效值 '%v'，有效值: %s", field, fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url":
		return fmt.Sprintf("%s: 无效的地址 '%v'", field, fe.Value())
	default:
		return fmt.Sprintf("%s: 校验失败 (%s)", field, fe.Tag())
	}
}

// Interval 采样周期
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Monitor.IntervalSec) * time.Second
}

// CycleTimeout 单个周期超时
func (c *Config) CycleTimeout() time.Duration {
	return time.Duration(c.Monitor.CycleTimeoutSec) * time.Second
}

// Retention 历史保留时长，0 表示不限
func (c *Config) Retention() time.Duration {
	if c.Monitor.RetentionHours == nil {
		return 0
	}
	return time.Duration(*c.Monitor.RetentionHours) * time.Hour
}

// MaxPerSeries 每个序列的观测上限，0 表示不限
func (c *Config) MaxPerSeries() int {
	if c.Monitor.MaxPerSeries == nil {
		return 0
	}
	return *c.Monitor.MaxPerSeries
}

// Cooldown 告警冷却时长
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Dedup.CooldownMin) * time.Minute
}

// EnabledExchanges 按固定顺序返回启用的交易所
func (c *Config) EnabledExchanges() []model.Exchange {
	var out []model.Exchange
	if enabled(c.Exchanges.Binance.Enabled) {
		out = append(out, model.ExchangeBinance)
	}
	if enabled(c.Exchanges.Bybit.Enabled) {
		out = append(out, model.ExchangeBybit)
	}
	return out
}

// Tokens 返回 YAML 中配置的交易对
func (c *Config) Tokens() metadata.TokenList {
	list := metadata.TokenList{Shared: c.Symbols.List}
	if len(c.Symbols.Binance) > 0 || len(c.Symbols.Bybit) > 0 {
		list.PerExchange = map[model.Exchange][]string{
			model.ExchangeBinance: c.Symbols.Binance,
			model.ExchangeBybit:   c.Symbols.Bybit,
		}
	}
	return list
}

// Path 返回输出文件的完整路径，file 为空时返回空字符串
func (o OutputConfig) Path(file string) string {
	if file == "" || filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(o.Dir, file)
}

// SendSummaryEnabled 是否发送汇总
func (m MonitorConfig) SendSummaryEnabled() bool { return enabled(m.SendSummary) }

// NotifyLifecycleEnabled 是否发送启动/停止消息
func (m MonitorConfig) NotifyLifecycleEnabled() bool { return enabled(m.NotifyLifecycle) }

func enabled(b *bool) bool {
	return b != nil && *b
}
