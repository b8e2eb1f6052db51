package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cervello/swcache/internal/cache"
	"github.com/cervello/swcache/internal/classify"
	"github.com/cervello/swcache/internal/logging"
)

// ErrAssetFailed 表示安装阶段某个静态资源抓取或写入失败，整个安装随之失败。
var ErrAssetFailed = errors.New("static asset population failed")

// Fetcher 负责真正访问网络，返回已读取完正文的响应。
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*cache.Response, error)
}

// Clients 由宿主实现：Claim 把当前所有打开的客户端交给 m 控制。
type Clients interface {
	Claim(m *Manager)
}

// Options 描述一个版本的固定配置，部署期间不可变。
type Options struct {
	Prefix  string
	Version string
	// StaticAssets 是安装时必须全部成功写入的绝对 URL 列表。
	StaticAssets []string
	// ExternalAssets 在安装成功后尽力预热，失败只记录日志。
	ExternalAssets []string
	// FallbackURL 是离线导航回退页（通常是站点根 "/"）的绝对 URL。
	FallbackURL        string
	Classifier         *classify.Classifier
	RevalidateTimeout  time.Duration
	InstallConcurrency int
}

// Manager 是单个版本的资源缓存管理器，三个事件处理函数共享同一个 Storage。
type Manager struct {
	opts    Options
	storage cache.Storage
	fetcher Fetcher
	clients Clients
	logger  *logrus.Logger

	mu          sync.RWMutex
	state       State
	skipWaiting bool
}

// New 校验依赖并构造 Manager，clients 可以为空（此时 Claim 不生效）。
func New(storage cache.Storage, fetcher Fetcher, clients Clients, logger *logrus.Logger, opts Options) (*Manager, error) {
	if storage == nil {
		return nil, errors.New("storage is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if strings.TrimSpace(opts.Prefix) == "" {
		return nil, errors.New("cache prefix is required")
	}
	if strings.TrimSpace(opts.Version) == "" {
		return nil, errors.New("cache version is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.Classifier == nil {
		opts.Classifier = classify.New()
	}
	if opts.RevalidateTimeout <= 0 {
		opts.RevalidateTimeout = 15 * time.Second
	}
	if opts.InstallConcurrency <= 0 {
		opts.InstallConcurrency = 4
	}
	opts.StaticAssets = append([]string(nil), opts.StaticAssets...)
	opts.ExternalAssets = append([]string(nil), opts.ExternalAssets...)

	return &Manager{
		opts:    opts,
		storage: storage,
		fetcher: fetcher,
		clients: clients,
		logger:  logger,
		state:   StateParsed,
	}, nil
}

// Version 返回部署版本号。
func (m *Manager) Version() string {
	return m.opts.Version
}

// CacheName 返回当前版本的 store 名称：<prefix>-<version>。
func (m *Manager) CacheName() string {
	return cache.StoreName(m.opts.Prefix, m.opts.Version)
}

// State 返回当前生命周期状态。
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SkipWaiting 声明该版本希望跳过“等待旧客户端关闭”的交接阶段。
func (m *Manager) SkipWaiting() {
	m.mu.Lock()
	m.skipWaiting = true
	m.mu.Unlock()
}

// SkipWaitingRequested 返回是否调用过 SkipWaiting。
func (m *Manager) SkipWaitingRequested() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.skipWaiting
}

// MarkSuperseded 在更新版本激活后由宿主调用。
func (m *Manager) MarkSuperseded() {
	m.setState(StateSuperseded)
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// Install 打开（或创建）当前版本 store 并写入全部静态资源，全部成功或全部失败。
func (m *Manager) Install(ctx context.Context) *Event {
	ev := NewEvent(EventInstall)
	m.setState(StateInstalling)
	ev.WaitUntil(func() error {
		started := time.Now()
		fields := logging.VersionFields("install", m.Version(), m.CacheName())
		if err := m.install(ctx); err != nil {
			m.setState(StateRedundant)
			fields["elapsed_ms"] = time.Since(started).Milliseconds()
			m.logger.WithError(err).WithFields(fields).Error("install_failed")
			return err
		}
		m.setState(StateWaiting)
		fields["assets"] = len(m.opts.StaticAssets)
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		m.logger.WithFields(fields).Info("install_complete")
		return nil
	})
	return ev
}

func (m *Manager) install(ctx context.Context) error {
	name := m.CacheName()
	existed, err := m.storage.Has(ctx, name)
	if err != nil {
		return fmt.Errorf("inspect store %s: %w", name, err)
	}
	store, err := m.storage.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("open store %s: %w", name, err)
	}

	if err := m.addAll(ctx, store, m.opts.StaticAssets); err != nil {
		if !existed {
			// 新建的 store 不保留半成品。
			if _, delErr := m.storage.Delete(context.WithoutCancel(ctx), name); delErr != nil {
				m.logger.WithError(delErr).WithFields(logging.VersionFields("install", m.Version(), name)).
					Warn("install_cleanup_failed")
			}
		}
		return err
	}

	m.warm(ctx, store, m.opts.ExternalAssets)
	m.SkipWaiting()
	return nil
}

// addAll 并发抓取所有 URL，任一失败则不写入任何条目。
func (m *Manager) addAll(ctx context.Context, store cache.Store, urls []string) error {
	keys := make([]cache.Key, len(urls))
	responses := make([]*cache.Response, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.InstallConcurrency)
	for i, raw := range urls {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, raw, nil)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrAssetFailed, raw, err)
			}
			resp, err := m.fetcher.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrAssetFailed, raw, err)
			}
			if !resp.OK() {
				return fmt.Errorf("%w: %s: status %d", ErrAssetFailed, raw, resp.Status)
			}
			keys[i] = cache.KeyFor(req)
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range urls {
		if err := store.Put(ctx, keys[i], responses[i]); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrAssetFailed, urls[i], err)
		}
	}
	return nil
}

// warm 尽力预热外部资源，失败不影响安装结果。
func (m *Manager) warm(ctx context.Context, store cache.Store, urls []string) {
	writer := cache.NewSuccessWriter(store)
	for _, raw := range urls {
		fields := logging.VersionFields("install_warm", m.Version(), m.CacheName())
		fields["target"] = raw
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
		if err != nil {
			m.logger.WithError(err).WithFields(fields).Warn("warm_failed")
			continue
		}
		resp, err := m.fetcher.Fetch(ctx, req)
		if err != nil {
			m.logger.WithError(err).WithFields(fields).Warn("warm_failed")
			continue
		}
		stored, err := writer.Put(ctx, cache.KeyFor(req), resp)
		if err != nil {
			m.logger.WithError(err).WithFields(fields).Warn("warm_failed")
			continue
		}
		fields["stored"] = stored
		fields["upstream_status"] = resp.Status
		m.logger.WithFields(fields).Debug("warm_complete")
	}
}

// Activate 删除同前缀的旧 store，然后接管所有已打开的客户端。
func (m *Manager) Activate(ctx context.Context) *Event {
	ev := NewEvent(EventActivate)
	m.setState(StateActivating)
	ev.WaitUntil(func() error {
		current := m.CacheName()
		prefix := m.opts.Prefix + "-"
		fields := logging.VersionFields("activate", m.Version(), current)

		deleted, err := m.storage.DeleteFunc(ctx, func(name string) bool {
			return strings.HasPrefix(name, prefix) && name != current
		})
		if err != nil {
			m.logger.WithError(err).WithFields(fields).Warn("cache_cleanup_partial")
		}

		if m.clients != nil {
			m.clients.Claim(m)
		}
		m.setState(StateActive)

		fields["deleted"] = deleted
		m.logger.WithFields(fields).Info("activate_complete")
		return nil
	})
	return ev
}

// Fetch 拦截一次请求。非 GET 请求不处理，由调用方直接访问网络。
func (m *Manager) Fetch(ctx context.Context, req *http.Request) *FetchEvent {
	fe := &FetchEvent{Event: NewEvent(EventFetch), Request: req, Version: m.Version()}
	if req == nil || req.Method != http.MethodGet {
		return fe
	}
	fe.handled = true
	fe.Class = m.opts.Classifier.Classify(req.URL)

	switch fe.Class {
	case classify.Analytics:
		m.respondNetworkOnly(ctx, fe)
	case classify.Font:
		m.respondCacheFirst(ctx, fe)
	default:
		m.respondStaleWhileRevalidate(ctx, fe)
	}
	return fe
}

// detached 返回脱离请求取消信号、带超时的上下文，用于后台任务。
func (m *Manager) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.opts.RevalidateTimeout)
}

func (m *Manager) fetchFields(fe *FetchEvent, source Source) logrus.Fields {
	target := ""
	if fe.Request != nil && fe.Request.URL != nil {
		target = fe.Request.URL.String()
	}
	return logging.FetchFields(m.Version(), string(fe.Class), target, string(source), source == SourceCache)
}
