// Package windowdb 将已结束的 15 分钟窗口均值写入关系数据库。
// 支持 sqlite 与 postgres，按 (symbol, window_start, window_end) 幂等写入。
package windowdb

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"open-interest-monitor/internal/core/model"
	"open-interest-monitor/internal/util/backoff"
)

// Record 窗口均值表记录
type Record struct {
	ID uint `gorm:"primaryKey"`

	// 唯一索引
	Exchange    string    `gorm:"type:varchar(32);not null;index:idx_window_key,unique"`
	Symbol      string    `gorm:"type:varchar(64);not null;index:idx_window_key,unique"`
	WindowStart time.Time `gorm:"not null;index:idx_window_key,unique"`
	WindowEnd   time.Time `gorm:"not null;index:idx_window_key,unique"`

	AverageOpenInterest float64 `gorm:"not null"`
	Count               int     `gorm:"not null"`
	UpdatedAt           time.Time
}

// TableName 表名
func (Record) TableName() string { return "open_interest_windows" }

// Config 数据库配置
type Config struct {
	// Driver sqlite 或 postgres
	Driver string
	DSN    string
	// OpenAttempts 连接失败时的最大尝试次数
	OpenAttempts int
}

// Sink 窗口均值入库
type Sink struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open 连接数据库并迁移表结构
// 连接失败时按指数退避重试。
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("windowdb")

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %q", cfg.Driver)
	}
	if cfg.OpenAttempts <= 0 {
		cfg.OpenAttempts = 3
	}

	var db *gorm.DB
	policy := backoff.Policy{Base: 500 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.2}
	err := backoff.Retry(ctx, policy, cfg.OpenAttempts, func() error {
		var err error
		db, err = gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
		if err != nil {
			return err
		}
		return ping(ctx, db)
	}, func(attempt int, delay time.Duration, err error) {
		logger.Warn("连接数据库失败，准备重试", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("迁移窗口表失败: %w", err)
	}

	logger.Info("窗口数据库已就绪", zap.String("driver", cfg.Driver))
	return &Sink{db: db, logger: logger}, nil
}

func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Name 实现 monitor.WindowSink
func (s *Sink) Name() string { return "windowdb" }

// Write 写入窗口均值
// 已存在的窗口更新均值与样本数，重复写入不产生新行。
func (s *Sink) Write(ctx context.Context, windows []model.Window) error {
	if len(windows) == 0 {
		return nil
	}
	records := make([]Record, 0, len(windows))
	for _, w := range windows {
		records = append(records, toRecord(w))
	}

	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "exchange"},
			{Name: "symbol"},
			{Name: "window_start"},
			{Name: "window_end"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"average_open_interest", "count", "updated_at"}),
	}).Create(&records)
	if tx.Error != nil {
		return fmt.Errorf("写入窗口均值失败: %w", tx.Error)
	}
	return nil
}

// List 查询某序列（exchange:SYMBOL）的全部窗口，按开始时间升序
func (s *Sink) List(ctx context.Context, key string) ([]model.Window, error) {
	ex, symbol, ok := model.SplitSeriesKey(key)
	if !ok {
		return nil, fmt.Errorf("非法序列 key: %q", key)
	}
	var records []Record
	err := s.db.WithContext(ctx).
		Where("exchange = ? AND symbol = ?", string(ex), symbol).
		Order("window_start").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.Window, 0, len(records))
	for _, r := range records {
		out = append(out, model.Window{
			Key:     model.SeriesKey(model.Exchange(r.Exchange), r.Symbol),
			Start:   r.WindowStart.UTC(),
			End:     r.WindowEnd.UTC(),
			Average: r.AverageOpenInterest,
			Count:   r.Count,
		})
	}
	return out, nil
}

// Close 关闭连接
func (s *Sink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(w model.Window) Record {
	ex, symbol, ok := model.SplitSeriesKey(w.Key)
	if !ok {
		symbol = w.Key
	}
	return Record{
		Exchange:            string(ex),
		Symbol:              symbol,
		WindowStart:         w.Start.UTC(),
		WindowEnd:           w.End.UTC(),
		AverageOpenInterest: w.Average,
		Count:               w.Count,
	}
}
