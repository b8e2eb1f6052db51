package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ListenPort != 5080 {
		t.Fatalf("ListenPort 应当被解析, got %d", cfg.Global.ListenPort)
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) {
		t.Fatalf("StoragePath 应转换为绝对路径: %s", cfg.Global.StoragePath)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 45*time.Second {
		t.Fatalf("整数秒应解析为 Duration, got %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Global.RevalidateTimeout.DurationValue() != 5*time.Second {
		t.Fatalf("RevalidateTimeout 解析错误: %s", cfg.Global.RevalidateTimeout.DurationValue())
	}
	if cfg.Global.InitialBackoff.DurationValue() != time.Second {
		t.Fatalf("InitialBackoff 应使用默认值")
	}
	if cfg.Site.CachePrefix != "cervello-cache" {
		t.Fatalf("CachePrefix 应使用默认值, got %q", cfg.Site.CachePrefix)
	}
	if cfg.StoreName() != "cervello-cache-v2.0.0" {
		t.Fatalf("StoreName 拼接错误: %s", cfg.StoreName())
	}
	if cfg.Site.Origin != "https://origin.cervello.me" {
		t.Fatalf("Origin 末尾斜杠应被去除: %s", cfg.Site.Origin)
	}
	if cfg.Site.ExternalHosts[1] != "fonts.gstatic.com" {
		t.Fatalf("ExternalHosts 应转为小写: %v", cfg.Site.ExternalHosts)
	}
	if len(cfg.Site.AnalyticsHosts) == 0 || len(cfg.Site.FontHosts) == 0 {
		t.Fatalf("分类主机列表应有默认值")
	}
	if cfg.Shield.Address() != "hi@example.com" {
		t.Fatalf("Fragments 拼接错误: %s", cfg.Shield.Address())
	}
	if cfg.Shield.Window.DurationValue() != 10*time.Second {
		t.Fatalf("Shield.Window 解析错误")
	}
	if cfg.Shield.BotThreshold != 100 || cfg.Shield.FallbackPath != "/contact.html" {
		t.Fatalf("Shield 默认值缺失: %+v", cfg.Shield)
	}
	if cfg.Vitals.Sink != VitalsSinkNone {
		t.Fatalf("Vitals.Sink 应为 none")
	}
}

func TestValidateRejectsMissingSite(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "ListenPort" {
		t.Fatalf("ListenPort 超出范围应当报错, got %v", err)
	}
}

func TestStorageDriverValidation(t *testing.T) {
	testCases := []struct {
		name      string
		driver    string
		path      string
		shouldErr bool
	}{
		{"fs ok", StorageDriverFS, "./data", false},
		{"sqlite ok", StorageDriverSQLite, "./data", false},
		{"memory without path", StorageDriverMemory, "", false},
		{"fs without path", StorageDriverFS, "", true},
		{"unsupported driver", "redis", "./data", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.StorageDriver = tc.driver
			cfg.Global.StoragePath = tc.path
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for driver %q", tc.driver)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for driver %q: %v", tc.driver, err)
			}
		})
	}
}

func TestValidateRejectsBadSite(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"domain with scheme", func(c *Config) { c.Site.Domain = "https://cervello.me" }},
		{"origin without scheme", func(c *Config) { c.Site.Origin = "cervello.me" }},
		{"version with slash", func(c *Config) { c.Site.CacheVersion = "v1/../x" }},
		{"empty prefix", func(c *Config) { c.Site.CachePrefix = "" }},
		{"relative external asset", func(c *Config) { c.Site.ExternalAssets = []string{"/local.css"} }},
		{"external equals domain", func(c *Config) { c.Site.ExternalHosts = []string{"cervello.me"} }},
		{"bad scheme", func(c *Config) { c.Site.ExternalScheme = "ftp" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("%s 应返回错误", tc.name)
			}
		})
	}
}

func TestValidateShield(t *testing.T) {
	cfg := validConfig()
	cfg.Shield.Fragments = [][]int{{104, 105}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("不含 @ 的地址应报错")
	}

	cfg = validConfig()
	cfg.Shield.FallbackPath = "contact.html"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("FallbackPath 必须是绝对路径")
	}
}

func TestOriginURL(t *testing.T) {
	site := SiteConfig{Origin: "https://cervello.me"}
	cases := []struct {
		in   string
		want string
	}{
		{"/", "https://cervello.me/"},
		{"index.html", "https://cervello.me/index.html"},
		{"https://cdn.example.com/a.js", "https://cdn.example.com/a.js"},
	}
	for _, tc := range cases {
		if got := site.OriginURL(tc.in); got != tc.want {
			t.Fatalf("OriginURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func validConfig() *Config {
	cfg := &Config{
		Global: GlobalConfig{
			ListenPort:        5000,
			LogLevel:          "info",
			StorageDriver:     StorageDriverFS,
			StoragePath:       "./data",
			MaxRetries:        1,
			InitialBackoff:    Duration(time.Second),
			UpstreamTimeout:   Duration(time.Second),
			RevalidateTimeout: Duration(time.Second),
			ClientIdleTimeout: Duration(time.Minute),
		},
		Site: SiteConfig{
			Domain:         "cervello.me",
			Origin:         "https://cervello.me",
			CachePrefix:    "cervello-cache",
			CacheVersion:   "v1.0.0",
			StaticAssets:   []string{"/", "/index.html"},
			ExternalScheme: "https",
		},
		Vitals: VitalsConfig{Sink: VitalsSinkLog},
	}
	applyShieldDefaults(&cfg.Shield)
	return cfg
}
