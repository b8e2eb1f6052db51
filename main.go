package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/cervello/swcache/internal/cache"
	"github.com/cervello/swcache/internal/config"
	"github.com/cervello/swcache/internal/host"
	"github.com/cervello/swcache/internal/logging"
	"github.com/cervello/swcache/internal/upstream"
	"github.com/cervello/swcache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const shutdownTimeout = 10 * time.Second

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["store"] = cfg.StoreName()
		fields["storage_driver"] = cfg.Global.StorageDriver
		fields["static_assets"] = len(cfg.Site.StaticAssets)
		fields["external_hosts"] = len(cfg.Site.ExternalHosts)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 存储 → 上游客户端 → 宿主部署 → Fiber server。
	storage, err := cache.NewStorage(cfg.Global.StorageDriver, cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}
	defer storage.Close()

	client, err := upstream.NewClient(cfg.Global, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化上游客户端失败: %v\n", err)
		return 1
	}

	h, err := host.New(storage, client, logger, hostOptions(cfg))
	if err != nil {
		fmt.Fprintf(stdErr, "初始化宿主失败: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deploy(ctx, h, cfg.Site.CacheVersion, logger)

	if cfg.Global.WatchConfig {
		if err := watchConfig(ctx, opts.configPath, h, cfg, logger); err != nil {
			fmt.Fprintf(stdErr, "监听配置失败: %v\n", err)
			return 1
		}
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["store"] = cfg.StoreName()
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, cfg, h, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("swcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SWCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("SWCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// deploy 安装并激活版本；失败时保留旧版本（或无版本时直接访问网络）继续服务。
func deploy(ctx context.Context, h *host.Host, cacheVersion string, logger *logrus.Logger) {
	if _, err := h.Deploy(ctx, cacheVersion); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"action":  "deploy",
			"version": cacheVersion,
		}).Error("deploy_failed")
	}
}

// watchConfig 在配置文件变化时更新部署模板，CacheVersion 变化会触发新版本部署。
func watchConfig(ctx context.Context, path string, h *host.Host, current *config.Config, logger *logrus.Logger) error {
	deployed := current.Site.CacheVersion
	_, err := config.Watch(path, func(next *config.Config, err error) {
		fields := logging.BaseFields("config_reload", path)
		if err != nil {
			logger.WithError(err).WithFields(fields).Warn("config_reload_failed")
			return
		}
		h.SetManagerOptions(hostOptions(next).Manager)
		if next.Site.CacheVersion == deployed {
			logger.WithFields(fields).Debug("config_reloaded")
			return
		}
		fields["previous"] = deployed
		fields["version"] = next.Site.CacheVersion
		logger.WithFields(fields).Info("version_changed")
		deployed = next.Site.CacheVersion
		deploy(ctx, h, deployed, logger)
	})
	return err
}

func startHTTPServer(ctx context.Context, cfg *config.Config, h *host.Host, logger *logrus.Logger) error {
	app, err := buildApp(cfg, h, logger)
	if err != nil {
		return err
	}

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.WithError(err).WithField("action", "shutdown").Warn("fiber_shutdown_failed")
	}
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).WithField("action", "shutdown").Warn("pending_obligations_abandoned")
	}
	logger.WithField("action", "shutdown").Info("服务已停止")
	return nil
}
