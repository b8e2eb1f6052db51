// Package classify maps request URLs to resource classes. Rules are evaluated
// in order and the first match wins; anything unmatched is Generic.
package classify

import (
	"net/url"
	"strings"
)

// Class 决定一个请求使用的缓存策略。
type Class string

const (
	Analytics Class = "analytics"
	Font      Class = "font"
	Generic   Class = "generic"
)

// Predicate 判断 URL 是否命中规则。
type Predicate func(u *url.URL) bool

// Rule 是一条 (predicate, class) 规则。
type Rule struct {
	Name  string
	Match Predicate
	Class Class
}

// Classifier 按顺序评估规则，无状态且可并发使用。
type Classifier struct {
	rules []Rule
}

// New 以给定顺序构建 Classifier，Match 为空的规则会被忽略。
func New(rules ...Rule) *Classifier {
	kept := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if rule.Match != nil {
			kept = append(kept, rule)
		}
	}
	return &Classifier{rules: kept}
}

// Default 构建 analytics → font 的默认规则链。
func Default(analyticsHosts, fontHosts []string) *Classifier {
	return New(
		Rule{Name: "analytics", Match: HostContains(analyticsHosts...), Class: Analytics},
		Rule{Name: "font", Match: HostContains(fontHosts...), Class: Font},
	)
}

// Classify 返回 URL 的资源类别，未命中任何规则时为 Generic。
func (c *Classifier) Classify(u *url.URL) Class {
	class, _ := c.Explain(u)
	return class
}

// Explain 同 Classify，同时返回命中的规则名（未命中为空）。
func (c *Classifier) Explain(u *url.URL) (Class, string) {
	if c == nil || u == nil {
		return Generic, ""
	}
	for _, rule := range c.rules {
		if rule.Match(u) {
			return rule.Class, rule.Name
		}
	}
	return Generic, ""
}

// Rules 返回规则副本，便于诊断输出。
func (c *Classifier) Rules() []Rule {
	if c == nil {
		return nil
	}
	return append([]Rule(nil), c.rules...)
}

// HostContains 在主机名（小写）中查找任一子串。
func HostContains(substrings ...string) Predicate {
	needles := make([]string, 0, len(substrings))
	for _, s := range substrings {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			needles = append(needles, s)
		}
	}
	return func(u *url.URL) bool {
		if u == nil || len(needles) == 0 {
			return false
		}
		host := strings.ToLower(u.Hostname())
		for _, needle := range needles {
			if strings.Contains(host, needle) {
				return true
			}
		}
		return false
	}
}
