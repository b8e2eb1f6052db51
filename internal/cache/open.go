package cache

import (
	"context"
	"fmt"
	"strings"
)

// 支持的存储驱动。
const (
	DriverFS     = "fs"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// NewStorage 根据驱动名构建 Storage，空驱动名等同于 fs。
func NewStorage(driver, basePath string) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverFS:
		return NewFSStorage(basePath)
	case DriverSQLite:
		return NewSQLiteStorage(basePath)
	case DriverMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}

// Stats 汇总单个 store 的条目数与正文大小，供诊断接口使用。
type Stats struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
}

// Collect 遍历所有 store 统计条目；读取失败的条目计入条目数但不计大小。
func Collect(ctx context.Context, storage Storage) ([]Stats, error) {
	names, err := storage.Names(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]Stats, 0, len(names))
	for _, name := range names {
		store, ok, err := storage.Lookup(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		keys, err := store.Keys(ctx)
		if err != nil {
			return nil, err
		}
		stats := Stats{Name: name, Entries: len(keys)}
		for _, key := range keys {
			if resp, err := store.Match(ctx, key); err == nil {
				stats.Bytes += resp.Size()
			}
		}
		result = append(result, stats)
	}
	return result, nil
}
