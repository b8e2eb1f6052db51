package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/cervello/swcache/internal/cache"
	"github.com/cervello/swcache/internal/logging"
	"github.com/cervello/swcache/internal/worker"
)

// ErrNoController 表示当前没有激活的版本，请求应直接访问网络。
var ErrNoController = errors.New("no active cache manager")

// historyLimit 限制状态接口中保留的已退役版本数量。
const historyLimit = 8

// Options 是所有版本共享的部署模板，Version 字段由 Deploy 填充。
type Options struct {
	Manager           worker.Options
	ClientIdleTimeout time.Duration
}

// Host 负责版本部署与请求派发。
type Host struct {
	storage cache.Storage
	fetcher worker.Fetcher
	logger  *logrus.Logger
	opts    Options
	now     func() time.Time

	deployMu sync.Mutex
	target   string

	mu        sync.RWMutex
	active    *worker.Manager
	waiting   *worker.Manager
	history   []*worker.Manager
	clients   map[string]*client
	lastPrune time.Time

	pending conc.WaitGroup
}

// New 构造宿主；此时没有任何激活版本，需要调用 Deploy。
func New(storage cache.Storage, fetcher worker.Fetcher, logger *logrus.Logger, opts Options) (*Host, error) {
	if storage == nil {
		return nil, errors.New("storage is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Host{
		storage: storage,
		fetcher: fetcher,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
		clients: make(map[string]*client),
	}, nil
}

// Deploy 为 version 创建管理器并派发 install；安装失败时保持现有激活版本不变。
// 安装成功且请求了 skipWaiting（或尚无激活版本）时立即派发 activate。
func (h *Host) Deploy(ctx context.Context, version string) (*worker.Manager, error) {
	h.deployMu.Lock()
	defer h.deployMu.Unlock()

	h.target = version

	opts := h.opts.Manager
	opts.Version = version
	m, err := worker.New(h.storage, h.fetcher, h, h.logger, opts)
	if err != nil {
		return nil, err
	}
	h.remember(m)

	if err := m.Install(ctx).Wait(); err != nil {
		return m, fmt.Errorf("install %s: %w", version, err)
	}

	h.mu.RLock()
	hasActive := h.active != nil
	h.mu.RUnlock()

	if !m.SkipWaitingRequested() && hasActive {
		h.mu.Lock()
		h.waiting = m
		h.mu.Unlock()
		h.logger.WithFields(logging.VersionFields("deploy", version, m.CacheName())).Info("version_waiting")
		return m, nil
	}
	if err := h.activate(ctx, m); err != nil {
		return m, err
	}
	return m, nil
}

// Update 对应注册更新：有等待中的版本时激活它，否则重新部署最近一次请求的版本。
func (h *Host) Update(ctx context.Context) (*worker.Manager, error) {
	h.deployMu.Lock()
	h.mu.RLock()
	waiting := h.waiting
	target := h.target
	h.mu.RUnlock()
	if waiting != nil {
		defer h.deployMu.Unlock()
		return waiting, h.activate(ctx, waiting)
	}
	h.deployMu.Unlock()

	if target == "" {
		return nil, ErrNoController
	}
	return h.Deploy(ctx, target)
}

func (h *Host) activate(ctx context.Context, m *worker.Manager) error {
	if err := m.Activate(ctx).Wait(); err != nil {
		return fmt.Errorf("activate %s: %w", m.Version(), err)
	}

	h.mu.Lock()
	previous := h.active
	h.active = m
	if h.waiting == m {
		h.waiting = nil
	}
	h.mu.Unlock()

	if previous != nil && previous != m {
		previous.MarkSuperseded()
	}
	fields := logging.VersionFields("deploy", m.Version(), m.CacheName())
	if previous != nil {
		fields["previous"] = previous.Version()
	}
	h.logger.WithFields(fields).Info("version_active")
	return nil
}

func (h *Host) remember(m *worker.Manager) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, m)
	if len(h.history) > historyLimit {
		h.history = h.history[len(h.history)-historyLimit:]
	}
}

// Active 返回当前激活的管理器，可能为 nil。
func (h *Host) Active() *worker.Manager {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active
}

// Dispatch 把请求交给客户端的控制者，并登记事件遗留的后台任务。
func (h *Host) Dispatch(ctx context.Context, clientID string, req *http.Request) (*worker.FetchEvent, error) {
	m := h.Controller(clientID)
	if m == nil {
		return nil, ErrNoController
	}
	fe := m.Fetch(ctx, req)
	h.pending.Go(func() {
		if err := fe.Wait(); err != nil {
			h.logger.WithError(err).WithFields(logrus.Fields{
				"action":  "fetch_obligation",
				"version": m.Version(),
			}).Warn("fetch_obligation_failed")
		}
	})
	return fe, nil
}

// Passthrough 处理未被拦截的请求：原样访问网络。
func (h *Host) Passthrough(ctx context.Context, req *http.Request) (*cache.Response, error) {
	return h.fetcher.Fetch(ctx, req)
}

// Shutdown 等待所有后台任务结束，或 ctx 到期。
func (h *Host) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		var err error
		if recovered := h.pending.WaitAndRecover(); recovered != nil {
			err = recovered.AsError()
		}
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetManagerOptions 替换后续部署使用的模板，已创建的管理器不受影响。
func (h *Host) SetManagerOptions(opts worker.Options) {
	h.deployMu.Lock()
	h.opts.Manager = opts
	h.deployMu.Unlock()
}
