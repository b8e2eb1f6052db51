package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Storage 是注入给缓存管理器的存储能力：按名称打开/枚举/删除 store，并支持跨 store 查找。
type Storage interface {
	// Open 打开指定名称的 store，不存在时创建。
	Open(ctx context.Context, name string) (Store, error)

	// Lookup 打开已存在的 store，不存在时返回 ok=false 且不会创建。
	Lookup(ctx context.Context, name string) (store Store, ok bool, err error)

	// Has 判断指定名称的 store 是否存在。
	Has(ctx context.Context, name string) (bool, error)

	// Names 返回全部 store 名称（按名称排序）。
	Names(ctx context.Context) ([]string, error)

	// Delete 删除整个 store，返回是否真的删除了内容。
	Delete(ctx context.Context, name string) (bool, error)

	// DeleteFunc 删除所有满足 pred 的 store。单个删除失败不会中断，
	// 所有失败通过 errors.Join 合并返回，deleted 只包含成功删除的名称。
	DeleteFunc(ctx context.Context, pred func(name string) bool) (deleted []string, err error)

	// Match 按 Names 的顺序在所有 store 中查找 key，未命中返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Response, error)

	// Close 释放底层资源。
	Close() error
}

// Store 是单个命名缓存，key 仅允许 GET 请求。
type Store interface {
	Name() string

	// Match 返回缓存响应的副本，未命中返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Response, error)

	// Put 以单 key 原子写入的方式保存 resp 的副本，非 GET key 返回 ErrMethodNotCacheable。
	// store 已被删除时返回 ErrStoreNotFound，不会重建 store。
	Put(ctx context.Context, key Key, resp *Response) error

	// Delete 删除单个条目。
	Delete(ctx context.Context, key Key) (bool, error)

	// Keys 返回当前 store 的全部 key。
	Keys(ctx context.Context) ([]Key, error)
}

// Key 是请求身份：METHOD + 空格 + URL（不含 fragment）。
type Key string

// KeyFor 根据请求构建 Key。
func KeyFor(req *http.Request) Key {
	if req == nil || req.URL == nil {
		return ""
	}
	return NewKey(req.Method, req.URL.String())
}

// NewKey 规范化 method 与 URL 并拼接成 Key。
func NewKey(method, rawURL string) Key {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if idx := strings.Index(rawURL, "#"); idx >= 0 {
		rawURL = rawURL[:idx]
	}
	return Key(method + " " + rawURL)
}

// Method 返回 Key 中的 HTTP 方法。
func (k Key) Method() string {
	method, _, _ := strings.Cut(string(k), " ")
	return method
}

// URL 返回 Key 中的 URL 部分。
func (k Key) URL() string {
	_, rawURL, _ := strings.Cut(string(k), " ")
	return rawURL
}

// Cacheable 仅 GET 请求可以读写缓存。
func (k Key) Cacheable() bool {
	return k.Method() == http.MethodGet && k.URL() != ""
}

// StoreName 按 <prefix>-<version> 拼接 store 名称。
func StoreName(prefix, version string) string {
	return prefix + "-" + version
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrMethodNotCacheable 表示尝试写入非 GET 请求。
	ErrMethodNotCacheable = errors.New("only GET requests are cacheable")
	// ErrStoreNotFound 表示 store 不存在或已被删除。
	ErrStoreNotFound = errors.New("cache store not found")
	// ErrInvalidName 表示 store 名称不合法。
	ErrInvalidName = errors.New("invalid store name")
)

func validateName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return ErrInvalidName
	}
	return nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
