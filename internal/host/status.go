package host

import (
	"context"

	"github.com/cervello/swcache/internal/cache"
	"github.com/cervello/swcache/internal/worker"
)

// Registration 描述一个版本的生命周期快照。
type Registration struct {
	Version string       `json:"version"`
	State   worker.State `json:"state"`
	Store   string       `json:"store"`
}

// Status 是宿主的诊断快照。
type Status struct {
	ActiveVersion  string         `json:"active_version"`
	WaitingVersion string         `json:"waiting_version,omitempty"`
	Registrations  []Registration `json:"registrations"`
	Stores         []cache.Stats  `json:"stores"`
	Clients        int            `json:"clients"`
}

// Status 汇总版本、store 与客户端信息。
func (h *Host) Status(ctx context.Context) (Status, error) {
	h.mu.RLock()
	var status Status
	if h.active != nil {
		status.ActiveVersion = h.active.Version()
	}
	if h.waiting != nil {
		status.WaitingVersion = h.waiting.Version()
	}
	status.Registrations = make([]Registration, 0, len(h.history))
	for _, m := range h.history {
		status.Registrations = append(status.Registrations, Registration{
			Version: m.Version(),
			State:   m.State(),
			Store:   m.CacheName(),
		})
	}
	status.Clients = len(h.clients)
	h.mu.RUnlock()

	stores, err := cache.Collect(ctx, h.storage)
	if err != nil {
		return status, err
	}
	status.Stores = stores
	return status, nil
}
