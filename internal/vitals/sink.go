package vitals

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSink 把事件写成结构化日志。
type LogSink struct {
	Logger *logrus.Logger
}

// Emit 实现 Sink。
func (s LogSink) Emit(_ context.Context, event Event) error {
	s.Logger.WithFields(logrus.Fields{
		"action":       "vitals",
		"metric":       event.Name,
		"value":        event.Value,
		"metric_value": event.MetricValue,
		"metric_delta": event.MetricDelta,
		"page":         event.Page,
	}).Info("web_vital")
	return nil
}
