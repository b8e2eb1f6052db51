package routes

import (
	"context"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"

	"github.com/cervello/swcache/internal/host"
	"github.com/cervello/swcache/internal/server"
	"github.com/cervello/swcache/internal/worker"
)

// StatusSource 由 host.Host 实现。
type StatusSource interface {
	Status(ctx context.Context) (host.Status, error)
}

// Updater 由 host.Host 实现。
type Updater interface {
	Update(ctx context.Context) (*worker.Manager, error)
}

// RegisterStatusRoutes 暴露 /-/sw/status 诊断接口与 /-/sw/update 注册更新。
func RegisterStatusRoutes(app *fiber.App, source StatusSource, updater Updater, routes *server.Routes) {
	if app == nil || source == nil {
		return
	}

	app.Get("/-/sw/status", func(c fiber.Ctx) error {
		status, err := source.Status(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "status_unavailable"})
		}
		return c.JSON(encodeStatus(status, routes.List()))
	})

	if updater == nil {
		return
	}
	app.Post("/-/sw/update", func(c fiber.Ctx) error {
		m, err := updater.Update(c.Context())
		if err != nil {
			payload := fiber.Map{"error": "update_failed", "reason": err.Error()}
			if m != nil {
				payload["version"] = m.Version()
				payload["state"] = m.State()
			}
			return c.Status(fiber.StatusBadGateway).JSON(payload)
		}
		return c.JSON(host.Registration{Version: m.Version(), State: m.State(), Store: m.CacheName()})
	})
}

type statusPayload struct {
	ActiveVersion  string              `json:"active_version"`
	WaitingVersion string              `json:"waiting_version,omitempty"`
	Registrations  []host.Registration `json:"registrations"`
	Stores         []storePayload      `json:"stores"`
	Clients        int                 `json:"clients"`
	Hosts          []hostPayload       `json:"hosts"`
	GeneratedAt    time.Time           `json:"generated_at"`
}

type storePayload struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
	Size    string `json:"size"`
}

type hostPayload struct {
	Host   string `json:"host"`
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

func encodeStatus(status host.Status, routes []server.Route) statusPayload {
	payload := statusPayload{
		ActiveVersion:  status.ActiveVersion,
		WaitingVersion: status.WaitingVersion,
		Registrations:  status.Registrations,
		Clients:        status.Clients,
		GeneratedAt:    time.Now().UTC(),
	}
	for _, stats := range status.Stores {
		payload.Stores = append(payload.Stores, storePayload{
			Name:    stats.Name,
			Entries: stats.Entries,
			Bytes:   stats.Bytes,
			Size:    humanize.IBytes(uint64(max(stats.Bytes, 0))),
		})
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Host < routes[j].Host
	})
	for _, route := range routes {
		payload.Hosts = append(payload.Hosts, hostPayload{
			Host:   route.Host,
			Kind:   string(route.Kind),
			Target: route.Target.String(),
		})
	}
	return payload
}
