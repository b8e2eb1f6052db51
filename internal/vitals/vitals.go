// Package vitals 接收页面上报的 Core Web Vitals，规范化后转发给可选的输出端。
package vitals

import (
	"context"
	"errors"
	"math"

	"github.com/sirupsen/logrus"
)

// Report 是页面一次上报的指标；毫秒值之外 CLS 无单位。缺失的指标为 nil。
type Report struct {
	FCP  *float64 `json:"fcp,omitempty"`
	LCP  *float64 `json:"lcp,omitempty"`
	FID  *float64 `json:"fid,omitempty"`
	CLS  *float64 `json:"cls,omitempty"`
	TTFB *float64 `json:"ttfb,omitempty"`
	Page string   `json:"page,omitempty"`
}

// Event 是发送给 Sink 的单条指标事件。
type Event struct {
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	MetricValue float64 `json:"metric_value"`
	MetricDelta float64 `json:"metric_delta"`
	Page        string  `json:"page,omitempty"`
}

// Sink 接收指标事件。
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// Reporter 把规范化后的报告拆成事件交给 Sink；没有 Sink 时只做规范化。
type Reporter struct {
	sink   Sink
	logger *logrus.Logger
}

// NewReporter 构造 Reporter，sink 可以为 nil。
func NewReporter(sink Sink, logger *logrus.Logger) *Reporter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reporter{sink: sink, logger: logger}
}

// Normalize 将毫秒指标取整，CLS 保留三位小数。
func (r Report) Normalize() Report {
	out := r
	out.FCP = roundPtr(r.FCP, 0)
	out.LCP = roundPtr(r.LCP, 0)
	out.FID = roundPtr(r.FID, 0)
	out.TTFB = roundPtr(r.TTFB, 0)
	out.CLS = roundPtr(r.CLS, 3)
	return out
}

// Meaningful 表示报告至少带有 LCP 或 FCP。
func (r Report) Meaningful() bool {
	return present(r.LCP) || present(r.FCP)
}

// Events 按 LCP、FID、CLS 的顺序生成事件；CLS 的 value 放大 1000 倍。
func (r Report) Events() []Event {
	var events []Event
	if present(r.LCP) {
		events = append(events, Event{Name: "LCP", Value: *r.LCP, MetricValue: *r.LCP, MetricDelta: *r.LCP, Page: r.Page})
	}
	if present(r.FID) {
		events = append(events, Event{Name: "FID", Value: *r.FID, MetricValue: *r.FID, MetricDelta: *r.FID, Page: r.Page})
	}
	if present(r.CLS) {
		events = append(events, Event{Name: "CLS", Value: *r.CLS * 1000, MetricValue: *r.CLS, MetricDelta: *r.CLS, Page: r.Page})
	}
	return events
}

// Submit 规范化报告并逐条发送事件；没有 LCP/FCP 时直接跳过。
// 返回实际生成的事件，Sink 的错误会合并返回但不中断后续事件。
func (rep *Reporter) Submit(ctx context.Context, report Report) ([]Event, error) {
	normalized := report.Normalize()
	if !normalized.Meaningful() {
		return nil, nil
	}
	events := normalized.Events()
	if rep.sink == nil {
		return events, nil
	}

	var errs []error
	for _, event := range events {
		if err := rep.sink.Emit(ctx, event); err != nil {
			rep.logger.WithError(err).WithField("metric", event.Name).Warn("vitals_emit_failed")
			errs = append(errs, err)
		}
	}
	return events, errors.Join(errs...)
}

// present 与页面脚本的真值判断一致：0 视为未采集。
func present(v *float64) bool {
	return v != nil && *v != 0 && !math.IsNaN(*v)
}

func roundPtr(v *float64, places int) *float64 {
	if v == nil {
		return nil
	}
	scale := math.Pow(10, float64(places))
	rounded := math.Round(*v*scale) / scale
	return &rounded
}
