package main

import (
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/cervello/swcache/internal/classify"
	"github.com/cervello/swcache/internal/config"
	"github.com/cervello/swcache/internal/host"
	"github.com/cervello/swcache/internal/proxy"
	"github.com/cervello/swcache/internal/server"
	"github.com/cervello/swcache/internal/server/routes"
	"github.com/cervello/swcache/internal/shield"
	"github.com/cervello/swcache/internal/vitals"
	"github.com/cervello/swcache/internal/worker"
)

// hostOptions 把站点配置转换为部署模板。
func hostOptions(cfg *config.Config) host.Options {
	return host.Options{
		Manager: worker.Options{
			Prefix:            cfg.Site.CachePrefix,
			StaticAssets:      cfg.Site.StaticAssetURLs(),
			ExternalAssets:    cfg.Site.ExternalAssets,
			FallbackURL:       cfg.Site.OriginURL("/"),
			Classifier:        classify.Default(cfg.Site.AnalyticsHosts, cfg.Site.FontHosts),
			RevalidateTimeout: cfg.Global.RevalidateTimeout.DurationValue(),
		},
		ClientIdleTimeout: cfg.Global.ClientIdleTimeout.DurationValue(),
	}
}

// buildApp 组装 Fiber 应用：主机路由 → fetch handler，以及诊断与协作接口。
func buildApp(cfg *config.Config, h *host.Host, logger *logrus.Logger) (*fiber.App, error) {
	siteRoutes, err := server.NewRoutes(cfg)
	if err != nil {
		return nil, err
	}

	forwarder := proxy.NewForwarder(proxy.NewHandler(h, logger), logger)
	app, err := server.NewApp(server.AppOptions{
		Logger:        logger,
		Routes:        siteRoutes,
		Proxy:         forwarder,
		ListenPort:    cfg.Global.ListenPort,
		ClientIDValid: host.ValidClientID,
		NewClientID:   host.NewClientID,
	})
	if err != nil {
		return nil, err
	}

	var sink vitals.Sink
	if cfg.Vitals.Sink == config.VitalsSinkLog {
		sink = vitals.LogSink{Logger: logger}
	}

	routes.RegisterStatusRoutes(app, h, h, siteRoutes)
	routes.RegisterVitalsRoute(app, vitals.NewReporter(sink, logger))
	routes.RegisterShieldRoutes(app, shield.New(shield.Options{
		Fragments:    cfg.Shield.Fragments,
		Subject:      cfg.Shield.Subject,
		Window:       cfg.Shield.Window.DurationValue(),
		FallbackPath: cfg.Shield.FallbackPath,
		BotThreshold: cfg.Shield.BotThreshold,
	}))
	return app, nil
}
