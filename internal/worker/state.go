package worker

// State 描述一个版本在生命周期中的位置。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateWaiting    State = "waiting"
	StateActivating State = "activating"
	StateActive     State = "active"
	StateSuperseded State = "superseded"
	// StateRedundant 表示安装失败，该版本永远不会被激活。
	StateRedundant State = "redundant"
)

// Source 标记一次 fetch 响应的来源。
type Source string

const (
	SourceCache    Source = "cache"
	SourceNetwork  Source = "network"
	SourceFallback Source = "fallback"
	SourceEmpty    Source = "empty"
)
