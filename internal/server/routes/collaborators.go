package routes

import (
	"encoding/json"

	"github.com/gofiber/fiber/v3"

	"github.com/cervello/swcache/internal/server"
	"github.com/cervello/swcache/internal/shield"
	"github.com/cervello/swcache/internal/vitals"
)

// RegisterVitalsRoute 暴露 POST /-/vitals，接收页面的 web-vitals 上报。
func RegisterVitalsRoute(app *fiber.App, reporter *vitals.Reporter) {
	if app == nil || reporter == nil {
		return
	}
	app.Post("/-/vitals", func(c fiber.Ctx) error {
		var report vitals.Report
		if err := json.Unmarshal(c.Body(), &report); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_report"})
		}
		if report.Page == "" {
			report.Page = c.Get(fiber.HeaderReferer)
		}
		// 输出端失败已由 Reporter 逐条记录，不影响页面。
		reporter.Submit(c.Context(), report)
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// RegisterShieldRoutes 暴露邮箱混淆的交互接口，按客户端 cookie 区分会话。
func RegisterShieldRoutes(app *fiber.App, s *shield.Shield) {
	if app == nil || s == nil {
		return
	}

	app.Post("/-/shield/contact", func(c fiber.Ctx) error {
		var signals shield.Signals
		if body := c.Body(); len(body) > 0 {
			if err := json.Unmarshal(body, &signals); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signals"})
			}
		}
		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.JSON(s.Interact(server.ClientID(c), signals))
	})

	app.Post("/-/shield/copy", func(c fiber.Ctx) error {
		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.SendString(s.CopyText(server.ClientID(c)))
	})

	app.Post("/-/shield/honeypot", func(c fiber.Ctx) error {
		s.MarkBot(server.ClientID(c))
		return c.SendStatus(fiber.StatusNoContent)
	})
}
