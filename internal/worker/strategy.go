package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/cervello/swcache/internal/cache"
	"github.com/cervello/swcache/internal/classify"
)

// FetchEvent 是 fetch 事件：同步结果 + 仍在进行的后台任务（重新验证、写缓存）。
type FetchEvent struct {
	*Event
	Request *http.Request
	Class   classify.Class
	// Version 是处理该请求的管理器版本。
	Version string

	handled bool
	resp    *cache.Response
	source  Source
	err     error
}

// Handled 为 false 时表示请求未被拦截，调用方应原样访问网络。
func (fe *FetchEvent) Handled() bool {
	return fe.handled
}

// Response 返回交给页面的响应；err 非空时等价于一次未缓存的网络失败。
func (fe *FetchEvent) Response() (*cache.Response, Source, error) {
	return fe.resp, fe.source, fe.err
}

func (fe *FetchEvent) respond(resp *cache.Response, source Source, err error) {
	fe.resp = resp
	fe.source = source
	fe.err = err
}

// respondNetworkOnly 用于统计类请求：总是走网络，失败时返回空的成功响应。
func (m *Manager) respondNetworkOnly(ctx context.Context, fe *FetchEvent) {
	resp, err := m.fetcher.Fetch(ctx, fe.Request)
	if err != nil {
		m.logger.WithError(err).WithFields(m.fetchFields(fe, SourceEmpty)).Debug("analytics_swallowed")
		fe.respond(cache.EmptyResponse(), SourceEmpty, nil)
		return
	}
	fe.respond(resp, SourceNetwork, nil)
}

// respondCacheFirst 用于字体：命中直接返回，未命中回源并在 200 时写入副本，无后台更新。
func (m *Manager) respondCacheFirst(ctx context.Context, fe *FetchEvent) {
	key := cache.KeyFor(fe.Request)

	store, err := m.ownStore(ctx)
	if err != nil {
		m.logger.WithError(err).WithFields(m.fetchFields(fe, SourceNetwork)).Warn("cache_open_failed")
	}
	if store != nil {
		cached, err := store.Match(ctx, key)
		switch {
		case err == nil:
			fe.respond(cached, SourceCache, nil)
			return
		case errors.Is(err, cache.ErrNotFound):
		default:
			m.logger.WithError(err).WithFields(m.fetchFields(fe, SourceNetwork)).Warn("cache_match_failed")
		}
	}

	resp, err := m.fetcher.Fetch(ctx, fe.Request)
	if err != nil {
		fe.respond(nil, SourceNetwork, err)
		return
	}
	if store != nil && m.writable() {
		m.put(ctx, fe, store, key, resp)
	}
	fe.respond(resp, SourceNetwork, nil)
}

// respondStaleWhileRevalidate 用于其它资源：命中立即返回并后台刷新；
// 未命中回源，成功则写入副本；导航请求在网络失败时回退到根页面。
func (m *Manager) respondStaleWhileRevalidate(ctx context.Context, fe *FetchEvent) {
	key := cache.KeyFor(fe.Request)

	cached, err := m.storage.Match(ctx, key)
	switch {
	case err == nil:
		fe.respond(cached, SourceCache, nil)
		fe.WaitUntil(func() error {
			m.revalidate(ctx, fe, key)
			return nil
		})
		return
	case errors.Is(err, cache.ErrNotFound):
	default:
		m.logger.WithError(err).WithFields(m.fetchFields(fe, SourceNetwork)).Warn("cache_match_failed")
	}

	resp, err := m.fetcher.Fetch(ctx, fe.Request)
	if err != nil {
		if IsNavigation(fe.Request) {
			if fallback := m.offlineFallback(ctx, fe); fallback != nil {
				fe.respond(fallback, SourceFallback, nil)
				return
			}
		}
		fe.respond(nil, SourceNetwork, err)
		return
	}

	if resp.OK() && isHTTPURL(fe.Request) {
		stored := resp.Clone()
		fe.WaitUntil(func() error {
			bg, cancel := m.detached(ctx)
			defer cancel()
			m.store(bg, fe, key, stored)
			return nil
		})
	}
	fe.respond(resp, SourceNetwork, nil)
}

// revalidate 后台回源；只有精确 200 才覆盖缓存，失败只写日志。
func (m *Manager) revalidate(ctx context.Context, fe *FetchEvent, key cache.Key) {
	bg, cancel := m.detached(ctx)
	defer cancel()

	resp, err := m.fetcher.Fetch(bg, fe.Request.Clone(bg))
	if err != nil {
		m.logger.WithError(err).WithFields(m.fetchFields(fe, SourceCache)).Debug("revalidate_failed")
		return
	}
	if !resp.OK() {
		fields := m.fetchFields(fe, SourceCache)
		fields["upstream_status"] = resp.Status
		m.logger.WithFields(fields).Debug("revalidate_skipped")
		return
	}
	m.store(bg, fe, key, resp.Clone())
}

// store 写入当前版本的 store；版本已被取代或 store 已被删除时放弃写入，不会重建 store。
func (m *Manager) store(ctx context.Context, fe *FetchEvent, key cache.Key, resp *cache.Response) {
	if !m.writable() {
		m.logger.WithFields(m.fetchFields(fe, SourceNetwork)).Debug("cache_put_skipped")
		return
	}
	store, err := m.ownStore(ctx)
	if err != nil {
		m.logger.WithError(err).WithFields(m.fetchFields(fe, SourceNetwork)).Warn("cache_open_failed")
		return
	}
	if store == nil {
		m.logger.WithFields(m.fetchFields(fe, SourceNetwork)).Debug("cache_put_skipped")
		return
	}
	m.put(ctx, fe, store, key, resp)
}

func (m *Manager) put(ctx context.Context, fe *FetchEvent, store cache.Store, key cache.Key, resp *cache.Response) {
	_, err := cache.NewSuccessWriter(store).Put(ctx, key, resp)
	switch {
	case err == nil:
	case errors.Is(err, cache.ErrStoreNotFound):
		m.logger.WithFields(m.fetchFields(fe, SourceNetwork)).Debug("cache_put_skipped")
	default:
		m.logger.WithError(err).WithFields(m.fetchFields(fe, SourceNetwork)).Warn("cache_put_failed")
	}
}

// ownStore 查找当前版本的 store，不存在时返回 nil。
func (m *Manager) ownStore(ctx context.Context) (cache.Store, error) {
	store, ok, err := m.storage.Lookup(ctx, m.CacheName())
	if err != nil || !ok {
		return nil, err
	}
	return store, nil
}

// writable 为 false 表示更新的版本已经接管，本版本的 store 不应再出现。
func (m *Manager) writable() bool {
	switch m.State() {
	case StateSuperseded, StateRedundant:
		return false
	default:
		return true
	}
}

func (m *Manager) offlineFallback(ctx context.Context, fe *FetchEvent) *cache.Response {
	if m.opts.FallbackURL == "" {
		return nil
	}
	resp, err := m.storage.Match(ctx, cache.NewKey(http.MethodGet, m.opts.FallbackURL))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			m.logger.WithError(err).WithFields(m.fetchFields(fe, SourceFallback)).Warn("fallback_match_failed")
		}
		return nil
	}
	return resp
}
