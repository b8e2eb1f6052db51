package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 支持的存储驱动。
const (
	StorageDriverFS     = "fs"
	StorageDriverSQLite = "sqlite"
	StorageDriverMemory = "memory"
)

// 支持的 vitals 输出。
const (
	VitalsSinkLog  = "log"
	VitalsSinkNone = "none"
)

// GlobalConfig 描述进程级运行参数：监听、日志、存储与上游访问。
type GlobalConfig struct {
	ListenPort        int      `mapstructure:"ListenPort"`
	LogLevel          string   `mapstructure:"LogLevel"`
	LogFilePath       string   `mapstructure:"LogFilePath"`
	LogMaxSize        int      `mapstructure:"LogMaxSize"`
	LogMaxBackups     int      `mapstructure:"LogMaxBackups"`
	LogCompress       bool     `mapstructure:"LogCompress"`
	StorageDriver     string   `mapstructure:"StorageDriver"`
	StoragePath       string   `mapstructure:"StoragePath"`
	MaxRetries        int      `mapstructure:"MaxRetries"`
	InitialBackoff    Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout   Duration `mapstructure:"UpstreamTimeout"`
	RevalidateTimeout Duration `mapstructure:"RevalidateTimeout"`
	ClientIdleTimeout Duration `mapstructure:"ClientIdleTimeout"`
	WatchConfig       bool     `mapstructure:"WatchConfig"`
}

// SiteConfig 描述被缓存的站点：版本、预缓存清单与请求分类用的主机列表。
type SiteConfig struct {
	Domain         string   `mapstructure:"Domain"`
	Origin         string   `mapstructure:"Origin"`
	CachePrefix    string   `mapstructure:"CachePrefix"`
	CacheVersion   string   `mapstructure:"CacheVersion"`
	StaticAssets   []string `mapstructure:"StaticAssets"`
	ExternalAssets []string `mapstructure:"ExternalAssets"`
	AnalyticsHosts []string `mapstructure:"AnalyticsHosts"`
	FontHosts      []string `mapstructure:"FontHosts"`
	ExternalHosts  []string `mapstructure:"ExternalHosts"`
	ExternalScheme string   `mapstructure:"ExternalScheme"`
}

// ShieldConfig 控制邮箱混淆组件。Fragments 以字符码分段保存，不落地完整地址。
type ShieldConfig struct {
	Fragments    [][]int  `mapstructure:"Fragments"`
	Subject      string   `mapstructure:"Subject"`
	Window       Duration `mapstructure:"Window"`
	FallbackPath string   `mapstructure:"FallbackPath"`
	BotThreshold int      `mapstructure:"BotThreshold"`
}

// VitalsConfig 控制 web-vitals 上报的输出位置。
type VitalsConfig struct {
	Sink string `mapstructure:"Sink"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Site   SiteConfig   `mapstructure:",squash"`
	Shield ShieldConfig `mapstructure:"Shield"`
	Vitals VitalsConfig `mapstructure:"Vitals"`
}

// StoreName 返回当前版本对应的 store 名称。
func (c *Config) StoreName() string {
	return c.Site.CachePrefix + "-" + c.Site.CacheVersion
}

// OriginURL 把站点相对路径解析为源站绝对 URL；已是绝对地址时原样返回。
func (s SiteConfig) OriginURL(path string) string {
	trimmed := strings.TrimSpace(path)
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return trimmed
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return strings.TrimRight(s.Origin, "/") + trimmed
}

// StaticAssetURLs 返回展开为绝对 URL 的静态资源清单。
func (s SiteConfig) StaticAssetURLs() []string {
	urls := make([]string, 0, len(s.StaticAssets))
	for _, asset := range s.StaticAssets {
		urls = append(urls, s.OriginURL(asset))
	}
	return urls
}

// Address 按顺序拼接字符码分段，仅在需要时调用。
func (s ShieldConfig) Address() string {
	var b strings.Builder
	for _, fragment := range s.Fragments {
		for _, code := range fragment {
			b.WriteRune(rune(code))
		}
	}
	return b.String()
}
