// Package jsonl 把每条已发出的告警追加到 JSONL 文件。
// 文件由单个后台 goroutine 独占，投递方只通过 channel 交付批次。
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"open-interest-monitor/internal/core/model"
)

// ErrClosed 写入器已关闭
var ErrClosed = errors.New("告警日志已关闭")

// request 后台 goroutine 处理的一批记录
// close 为 true 时写完后刷盘并退出。
type request struct {
	records []Record
	close   bool
	done    chan error
}

// Record 告警日志中的一行
type Record struct {
	// CycleID 产生该告警的周期
	CycleID string `json:"cycle_id"`
	// EmittedAt 告警发出时间
	EmittedAt time.Time `json:"emitted_at"`
	// Alert 告警内容
	Alert model.Alert `json:"alert"`
}

// Writer 告警日志写入器
// 每个周期的告警作为一批投递，后台 goroutine 编码、追加并刷盘。
type Writer struct {
	// path 输出文件路径
	path string
	// ch 待写批次
	ch chan request
	// logger 编码/写入失败时记录
	logger *zap.Logger
	// dropped 编码失败的记录数
	dropped atomic.Int64

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool

	sendMu sync.Mutex

	wg sync.WaitGroup
}

// NewWriter 创建 JSONL 写入器
// 参数 path: 输出文件路径（追加写入）
// 参数 bufferSize: 排队批次数上限
// 参数 logger: 可为 nil
func NewWriter(path string, bufferSize int, logger *zap.Logger) (*Writer, error) {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开输出文件失败: %w", err)
	}

	w := &Writer{
		path:   path,
		ch:     make(chan request, bufferSize),
		logger: logger.Named("journal"),
	}

	w.wg.Add(1)
	go w.loop(f)

	return w, nil
}

// Name 实现 notify.AlertSink
func (w *Writer) Name() string { return "journal" }

// Publish 实现 notify.AlertSink，每条告警写一行，返回刷盘结果
func (w *Writer) Publish(ctx context.Context, cycleID string, alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	now := time.Now().UTC()
	records := make([]Record, len(alerts))
	for i := range alerts {
		records[i] = Record{CycleID: cycleID, EmittedAt: now, Alert: alerts[i]}
	}
	done, err := w.enqueue(ctx, request{records: records})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) enqueue(ctx context.Context, req request) (chan error, error) {
	if w == nil {
		return nil, errors.New("告警日志未初始化")
	}
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if w.closed.Load() {
		return nil, ErrClosed
	}
	req.done = make(chan error, 1)
	select {
	case w.ch <- req:
		return req.done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dropped 返回编码失败被丢弃的记录数
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Close 写完排队中的批次后关闭文件，可重复调用
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.closeOnce.Do(func() {
		done := make(chan error, 1)
		w.sendMu.Lock()
		w.closed.Store(true)
		w.ch <- request{close: true, done: done}
		w.sendMu.Unlock()
		w.closeErr = <-done
	})
	w.wg.Wait()
	return w.closeErr
}

func (w *Writer) loop(f *os.File) {
	defer w.wg.Done()
	defer f.Close()

	bw := bufio.NewWriterSize(f, 64<<10)
	for req := range w.ch {
		for i := range req.records {
			b, err := json.Marshal(req.records[i])
			if err != nil {
				w.dropped.Add(1)
				w.logger.Warn("告警编码失败", zap.String("symbol", req.records[i].Alert.Symbol), zap.Error(err))
				continue
			}
			bw.Write(append(b, '\n'))
		}
		err := bw.Flush()
		if err != nil {
			w.logger.Warn("告警日志写入失败", zap.String("path", w.path), zap.Error(err))
		}
		req.done <- err
		if req.close {
			return
		}
	}
}
