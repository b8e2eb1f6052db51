package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

const supportedDriverList = "fs|sqlite|memory"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("LogLevel", fmt.Sprintf("无法识别: %s", g.LogLevel))
	}
	switch g.StorageDriver {
	case StorageDriverFS, StorageDriverSQLite:
		if g.StoragePath == "" {
			return newFieldError("StoragePath", "不能为空")
		}
	case StorageDriverMemory:
	default:
		return newFieldError("StorageDriver", "仅支持 "+supportedDriverList)
	}
	if g.MaxRetries < 0 {
		return newFieldError("MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}
	if g.RevalidateTimeout.DurationValue() <= 0 {
		return newFieldError("RevalidateTimeout", "必须大于 0")
	}
	if g.ClientIdleTimeout.DurationValue() <= 0 {
		return newFieldError("ClientIdleTimeout", "必须大于 0")
	}

	if err := c.validateSite(); err != nil {
		return err
	}
	if err := c.validateShield(); err != nil {
		return err
	}

	switch c.Vitals.Sink {
	case VitalsSinkLog, VitalsSinkNone:
	default:
		return newFieldError("Vitals.Sink", "仅支持 log|none")
	}
	return nil
}

func (c *Config) validateSite() error {
	s := c.Site
	if err := validateDomain(s.Domain); err != nil {
		return fmt.Errorf("Domain: %w", err)
	}
	if err := validateUpstream(s.Origin); err != nil {
		return fmt.Errorf("Origin: %w", err)
	}
	if s.CachePrefix == "" {
		return newFieldError("CachePrefix", "不能为空")
	}
	if strings.ContainsAny(s.CachePrefix, `/\`) {
		return newFieldError("CachePrefix", "不允许包含路径分隔符")
	}
	if s.CacheVersion == "" {
		return newFieldError("CacheVersion", "不能为空")
	}
	if strings.ContainsAny(s.CacheVersion, `/\`) {
		return newFieldError("CacheVersion", "不允许包含路径分隔符")
	}
	for i, asset := range s.StaticAssets {
		if strings.TrimSpace(asset) == "" {
			return newFieldError(listField("StaticAssets", i), "不能为空")
		}
		if err := validateUpstream(s.OriginURL(asset)); err != nil {
			return fmt.Errorf("%s: %w", listField("StaticAssets", i), err)
		}
	}
	for i, asset := range s.ExternalAssets {
		if err := validateUpstream(asset); err != nil {
			return fmt.Errorf("%s: %w", listField("ExternalAssets", i), err)
		}
	}
	for i, host := range s.ExternalHosts {
		if err := validateDomain(host); err != nil {
			return fmt.Errorf("%s: %w", listField("ExternalHosts", i), err)
		}
		if host == s.Domain {
			return newFieldError(listField("ExternalHosts", i), "不能与 Domain 相同")
		}
	}
	if s.ExternalScheme != "http" && s.ExternalScheme != "https" {
		return newFieldError("ExternalScheme", "仅支持 http/https")
	}
	return nil
}

func (c *Config) validateShield() error {
	s := c.Shield
	for i, fragment := range s.Fragments {
		if len(fragment) == 0 {
			return newFieldError(listField("Shield.Fragments", i), "不能为空")
		}
		for _, code := range fragment {
			if code <= 0 || code > 0x10FFFF {
				return newFieldError(listField("Shield.Fragments", i), fmt.Sprintf("非法字符码: %d", code))
			}
		}
	}
	if !strings.Contains(s.Address(), "@") {
		return newFieldError("Shield.Fragments", "拼接结果不是邮箱地址")
	}
	if s.Window.DurationValue() <= 0 {
		return newFieldError("Shield.Window", "必须大于 0")
	}
	if !strings.HasPrefix(s.FallbackPath, "/") {
		return newFieldError("Shield.FallbackPath", "必须以 / 开头")
	}
	if s.BotThreshold <= 0 {
		return newFieldError("Shield.BotThreshold", "必须大于 0")
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
