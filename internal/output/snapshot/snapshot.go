// Package snapshot 实现观测日志的 JSON 快照保存与加载。
// 文件格式: {"<exchange>:<SYMBOL>": [Observation, ...]}，时间为 ISO-8601。
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"open-interest-monitor/internal/core/model"
)

// Data 快照内容: 序列 key -> 时间升序观测
type Data = map[string][]model.Observation

// Save 原子写入快照
// 先写临时文件再重命名，写入中途失败不会破坏已有快照。
func Save(path string, data Data) error {
	if data == nil {
		data = Data{}
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("编码快照失败: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建快照目录失败: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("写入快照失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("写入快照失败: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("替换快照文件失败: %w", err)
	}
	return nil
}

// Load 读取快照
// 文件不存在时返回的错误满足 errors.Is(err, fs.ErrNotExist)。
func Load(path string) (Data, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取快照失败: %w", err)
	}
	var data Data
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("解析快照失败: %w", err)
	}
	if data == nil {
		data = Data{}
	}
	return data, nil
}

// IsNotExist 判断是否为快照文件不存在
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// File 绑定路径的快照文件
type File struct {
	Path string
}

// Save 保存快照
func (f File) Save(data Data) error {
	return Save(f.Path, data)
}

// Load 读取快照
func (f File) Load() (Data, error) {
	return Load(f.Path)
}
