// Package csvexport 实现已关闭窗口的 CSV 导出。
// 列: symbol, window_start, window_end, average_open_interest, count, exchange。
// symbol 为纯交易对（如 BTCUSDT），来源交易所写在末列。
// 导出为追加去重语义：按 (symbol, exchange, window_start, window_end) 去重，冲突时新值覆盖旧值，
// 结果按 (symbol, window_start, exchange) 排序；重复导出相同数据不会改变文件。
package csvexport

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"open-interest-monitor/internal/core/model"
	"open-interest-monitor/internal/util/timeutil"
)

// Header CSV 表头
var Header = []string{"symbol", "window_start", "window_end", "average_open_interest", "count", "exchange"}

// legacyColumns 旧版文件没有 exchange 列，symbol 列为 exchange:SYMBOL
const legacyColumns = 5

type rowKey struct {
	symbol, exchange, start, end string
}

func keyOf(r []string) rowKey {
	return rowKey{symbol: r[0], exchange: r[5], start: r[1], end: r[2]}
}

// Row 将窗口转为 CSV 行
func Row(w model.Window) []string {
	ex, symbol, ok := model.SplitSeriesKey(w.Key)
	if !ok {
		symbol = w.Key
	}
	return []string{
		symbol,
		timeutil.FormatISO(w.Start),
		timeutil.FormatISO(w.End),
		strconv.FormatFloat(w.Average, 'f', -1, 64),
		strconv.Itoa(w.Count),
		string(ex),
	}
}

// Exporter CSV 导出器
type Exporter struct {
	path string
}

// New 创建导出器
func New(path string) *Exporter {
	return &Exporter{path: path}
}

// Path 返回输出文件路径
func (e *Exporter) Path() string {
	return e.path
}

// Name 下游名称
func (e *Exporter) Name() string { return "csv" }

// Write 写入窗口，忽略行数
func (e *Exporter) Write(_ context.Context, windows []model.Window) error {
	_, err := e.Export(windows)
	return err
}

// Export 合并写入窗口
// 参数 windows: 本次计算出的已关闭窗口
// 返回: 写入后的总行数
func (e *Exporter) Export(windows []model.Window) (int, error) {
	rows, err := readRows(e.path)
	if err != nil {
		return 0, err
	}
	for _, w := range windows {
		r := Row(w)
		rows[keyOf(r)] = r
	}

	keys := make([]rowKey, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].symbol != keys[j].symbol {
			return keys[i].symbol < keys[j].symbol
		}
		if keys[i].start != keys[j].start {
			return keys[i].start < keys[j].start
		}
		if keys[i].exchange != keys[j].exchange {
			return keys[i].exchange < keys[j].exchange
		}
		return keys[i].end < keys[j].end
	})

	out := make([][]string, 0, len(keys)+1)
	out = append(out, Header)
	for _, k := range keys {
		out = append(out, rows[k])
	}
	if err := writeAtomic(e.path, out); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func readRows(path string) (map[rowKey][]string, error) {
	rows := make(map[rowKey][]string)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return rows, nil
		}
		return nil, fmt.Errorf("打开导出文件失败: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("解析导出文件失败: %w", err)
	}
	if len(records) == 0 {
		return rows, nil
	}
	width := len(records[0])
	if width != len(Header) && width != legacyColumns {
		return nil, fmt.Errorf("解析导出文件失败: 列数 %d 不符合预期", width)
	}
	for i, rec := range records {
		if len(rec) != width {
			return nil, fmt.Errorf("解析导出文件失败: 第 %d 行列数 %d，期望 %d", i+1, len(rec), width)
		}
		if i == 0 && rec[0] == Header[0] {
			continue
		}
		if width == legacyColumns {
			rec = upgradeLegacy(rec)
		}
		rows[keyOf(rec)] = rec
	}
	return rows, nil
}

// upgradeLegacy 将旧版行的 exchange:SYMBOL 拆为两列
func upgradeLegacy(rec []string) []string {
	ex, symbol, ok := model.SplitSeriesKey(rec[0])
	if !ok {
		symbol = rec[0]
	}
	return []string{symbol, rec[1], rec[2], rec[3], rec[4], string(ex)}
}

func writeAtomic(path string, records [][]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建导出目录失败: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(records); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("写入导出文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("写入导出文件失败: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("替换导出文件失败: %w", err)
	}
	return nil
}
