package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	v, err := read(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch 加载配置并监听文件变化；每次变化都会重新解析并回调 onChange。
// 解析失败时 cfg 为 nil、err 非空，调用方应继续使用旧配置。
func Watch(path string, onChange func(cfg *Config, err error)) (*Config, error) {
	v, err := read(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}
		onChange(decode(v))
	})
	v.WatchConfig()
	return cfg, nil
}

func read(path string) (*viper.Viper, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applySiteDefaults(&cfg.Site)
	applyShieldDefaults(&cfg.Shield)
	applyVitalsDefaults(&cfg.Vitals)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StorageDriver != StorageDriverMemory {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StorageDriver", StorageDriverFS)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("RevalidateTimeout", "15s")
	v.SetDefault("ClientIdleTimeout", "30m")
	v.SetDefault("CachePrefix", "cervello-cache")
	v.SetDefault("CacheVersion", "v1.0.0")
	v.SetDefault("StaticAssets", []string{"/", "/index.html", "/manifest.json", "/favicon.ico", "/src/email-shield.js"})
	v.SetDefault("AnalyticsHosts", []string{"googletagmanager", "google-analytics"})
	v.SetDefault("FontHosts", []string{"fonts.googleapis", "fonts.gstatic"})
	v.SetDefault("ExternalScheme", "https")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StorageDriver = strings.ToLower(strings.TrimSpace(g.StorageDriver))
	if g.StorageDriver == "" {
		g.StorageDriver = StorageDriverFS
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(time.Second)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.RevalidateTimeout.DurationValue() == 0 {
		g.RevalidateTimeout = Duration(15 * time.Second)
	}
	if g.ClientIdleTimeout.DurationValue() == 0 {
		g.ClientIdleTimeout = Duration(30 * time.Minute)
	}
}

func applySiteDefaults(s *SiteConfig) {
	s.Domain = strings.ToLower(strings.TrimSpace(s.Domain))
	s.Origin = strings.TrimRight(strings.TrimSpace(s.Origin), "/")
	s.CachePrefix = strings.TrimSpace(s.CachePrefix)
	s.CacheVersion = strings.TrimSpace(s.CacheVersion)
	s.ExternalScheme = strings.ToLower(strings.TrimSpace(s.ExternalScheme))
	if s.ExternalScheme == "" {
		s.ExternalScheme = "https"
	}
	for i, host := range s.ExternalHosts {
		s.ExternalHosts[i] = strings.ToLower(strings.TrimSpace(host))
	}
}

func applyShieldDefaults(s *ShieldConfig) {
	if len(s.Fragments) == 0 {
		s.Fragments = [][]int{
			{101, 100, 100, 105, 101},
			{64},
			{99, 101, 114, 118, 101, 108, 108, 111},
			{46, 109, 101},
		}
	}
	if s.Subject == "" {
		s.Subject = "Hello from cervello.me"
	}
	if s.Window.DurationValue() == 0 {
		s.Window = Duration(30 * time.Second)
	}
	if s.FallbackPath == "" {
		s.FallbackPath = "/contact.html"
	}
	if s.BotThreshold == 0 {
		s.BotThreshold = 100
	}
}

func applyVitalsDefaults(v *VitalsConfig) {
	v.Sink = strings.ToLower(strings.TrimSpace(v.Sink))
	if v.Sink == "" {
		v.Sink = VitalsSinkLog
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
