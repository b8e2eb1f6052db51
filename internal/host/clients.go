package host

import (
	"time"

	"github.com/google/uuid"

	"github.com/cervello/swcache/internal/worker"
)

// client 记录一个打开的页面当前由哪个版本控制。
type client struct {
	id         string
	controller *worker.Manager
	lastSeen   time.Time
}

// NewClientID 生成新的客户端标识。
func NewClientID() string {
	return uuid.NewString()
}

// ValidClientID 只接受 uuid 格式，防止任意 cookie 值撑大客户端表。
func ValidClientID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Controller 返回 clientID 对应的控制者；未知客户端绑定到当前激活版本。
// 没有激活版本时返回 nil，调用方应直接访问网络。
func (h *Host) Controller(clientID string) *worker.Manager {
	now := h.now()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.pruneLocked(now)
	if clientID == "" {
		return h.active
	}
	c, ok := h.clients[clientID]
	if !ok {
		c = &client{id: clientID, controller: h.active}
		h.clients[clientID] = c
	}
	if c.controller == nil {
		c.controller = h.active
	}
	c.lastSeen = now
	return c.controller
}

// Claim 把所有已知客户端交给 m 控制。
func (h *Host) Claim(m *worker.Manager) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		c.controller = m
	}
}

// Forget 移除客户端，相当于页面关闭。
func (h *Host) Forget(clientID string) {
	h.mu.Lock()
	delete(h.clients, clientID)
	h.mu.Unlock()
}

// ClientCount 返回当前跟踪的客户端数量。
func (h *Host) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Host) pruneLocked(now time.Time) {
	if h.opts.ClientIdleTimeout <= 0 || now.Sub(h.lastPrune) < h.opts.ClientIdleTimeout/2 {
		return
	}
	h.lastPrune = now
	for id, c := range h.clients {
		if now.Sub(c.lastSeen) > h.opts.ClientIdleTimeout {
			delete(h.clients, id)
		}
	}
}
