package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// VersionFields 描述一次生命周期事件涉及的版本与 store。
func VersionFields(action, version, store string) logrus.Fields {
	return logrus.Fields{
		"action":  action,
		"version": version,
		"store":   store,
	}
}

// FetchFields 提供 version/class/来源字段，供请求日志复用。
func FetchFields(version, class, target, source string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"action":    "fetch",
		"version":   version,
		"class":     class,
		"target":    target,
		"source":    source,
		"cache_hit": cacheHit,
	}
}
