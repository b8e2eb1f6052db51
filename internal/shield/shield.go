// Package shield 实现邮箱混淆：地址以字符码分段保存，只有通过机器人检测的
// 第一次点击才会临时拼出 mailto 链接，链接在有效期后失效。
package shield

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// 交互结果。
const (
	ActionMailto   = "mailto"
	ActionRedirect = "redirect"
	ActionNone     = "none"
)

// CopyPlaceholder 是地址未拼出时复制得到的文本。
const CopyPlaceholder = "contact via website"

// doubleClickWindow 内的第二次交互视为脚本点击。
const doubleClickWindow = 100 * time.Millisecond

// Options 配置混淆组件。
type Options struct {
	Fragments    [][]int
	Subject      string
	Window       time.Duration
	FallbackPath string
	BotThreshold int
}

// Signals 是页面采集的自动化特征。
type Signals struct {
	Webdriver      bool `json:"webdriver"`
	Phantom        bool `json:"phantom"`
	Plugins        int  `json:"plugins"`
	ColorDepth     int  `json:"color_depth"`
	HoneypotCopied bool `json:"honeypot_copied"`
}

// Score 计算机器人分数：明确的自动化特征直接 100 分，无插件或色深为 0 加 50 分。
func (s Signals) Score() int {
	if s.Webdriver || s.Phantom || s.HoneypotCopied {
		return 100
	}
	score := 0
	if s.Plugins == 0 || s.ColorDepth == 0 {
		score += 50
	}
	return score
}

// Outcome 是一次交互的处理结果。
type Outcome struct {
	Action    string    `json:"action"`
	Href      string    `json:"href,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

type session struct {
	firstInteraction time.Time
	clicks           int
	bot              bool
	assembledUntil   time.Time
	lastSeen         time.Time
}

// Shield 按客户端维护交互状态。
type Shield struct {
	opts Options
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// New 构造 Shield，未设置的选项使用默认值。
func New(opts Options) *Shield {
	if opts.Window <= 0 {
		opts.Window = 30 * time.Second
	}
	if opts.FallbackPath == "" {
		opts.FallbackPath = "/contact.html"
	}
	if opts.BotThreshold <= 0 {
		opts.BotThreshold = 100
	}
	return &Shield{opts: opts, now: time.Now, sessions: make(map[string]*session)}
}

// Interact 处理一次点击。机器人得到回退页；人类的第一次点击得到新拼出的 mailto，
// 有效期内的后续点击复用同一链接，过期后不再拼接。
func (s *Shield) Interact(clientID string, signals Signals) Outcome {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	sess := s.sessionLocked(clientID, now)

	if signals.Score() >= s.opts.BotThreshold {
		sess.bot = true
	}
	if sess.firstInteraction.IsZero() {
		sess.firstInteraction = now
	} else if now.Sub(sess.firstInteraction) < doubleClickWindow {
		sess.bot = true
	}
	sess.clicks++

	if sess.bot {
		sess.assembledUntil = time.Time{}
		return Outcome{Action: ActionRedirect, Href: s.opts.FallbackPath}
	}
	if now.Before(sess.assembledUntil) {
		return Outcome{Action: ActionMailto, Href: s.mailto(), ExpiresAt: sess.assembledUntil}
	}
	if sess.clicks == 1 {
		sess.assembledUntil = now.Add(s.opts.Window)
		return Outcome{Action: ActionMailto, Href: s.mailto(), ExpiresAt: sess.assembledUntil}
	}
	return Outcome{Action: ActionNone}
}

// CopyText 返回复制链接时得到的文本：地址有效期内为地址本身，否则为占位文本。
func (s *Shield) CopyText(clientID string) string {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[clientID]
	if !ok || sess.bot || !now.Before(sess.assembledUntil) {
		return CopyPlaceholder
	}
	return s.address()
}

// MarkBot 记录页面报告的蜜罐复制等事件。
func (s *Shield) MarkBot(clientID string) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessionLocked(clientID, now)
	sess.bot = true
	sess.assembledUntil = time.Time{}
}

func (s *Shield) sessionLocked(clientID string, now time.Time) *session {
	sess, ok := s.sessions[clientID]
	if !ok {
		sess = &session{}
		s.sessions[clientID] = sess
	}
	sess.lastSeen = now
	return sess
}

// pruneLocked 清理长时间无交互的会话。
func (s *Shield) pruneLocked(now time.Time) {
	idle := 10 * s.opts.Window
	for id, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > idle {
			delete(s.sessions, id)
		}
	}
}

func (s *Shield) mailto() string {
	href := "mailto:" + s.address()
	if s.opts.Subject != "" {
		href += "?subject=" + strings.ReplaceAll(url.QueryEscape(s.opts.Subject), "+", "%20")
	}
	return href
}

// address 每次调用时临时拼接，不缓存结果。
func (s *Shield) address() string {
	var b strings.Builder
	for _, fragment := range s.opts.Fragments {
		for _, code := range fragment {
			b.WriteRune(rune(code))
		}
	}
	return b.String()
}
