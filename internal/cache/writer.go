package cache

import (
	"context"
	"errors"
)

// ErrStoreUnavailable 表示当前未能打开缓存 store。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// SuccessWriter 只持久化状态码精确等于 StatusSuccess 的响应，写入的永远是副本。
type SuccessWriter struct {
	store  Store
	status int
}

// NewSuccessWriter 构造写入器，store 可以为 nil（此时所有写入都返回 ErrStoreUnavailable）。
func NewSuccessWriter(store Store) SuccessWriter {
	return SuccessWriter{store: store, status: StatusSuccess}
}

// Enabled 返回当前是否具备缓存写入能力。
func (w SuccessWriter) Enabled() bool {
	return w.store != nil
}

// ShouldStore 判断 key/resp 组合是否允许落盘。
func (w SuccessWriter) ShouldStore(key Key, resp *Response) bool {
	return key.Cacheable() && resp != nil && resp.Status == w.status
}

// Put 在满足条件时写入 resp 的副本，返回是否真正写入。
func (w SuccessWriter) Put(ctx context.Context, key Key, resp *Response) (bool, error) {
	if w.store == nil {
		return false, ErrStoreUnavailable
	}
	if !w.ShouldStore(key, resp) {
		return false, nil
	}
	if err := w.store.Put(ctx, key, resp.Clone()); err != nil {
		return false, err
	}
	return true, nil
}
