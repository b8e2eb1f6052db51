package worker

import (
	"errors"
	"sync"

	"github.com/sourcegraph/conc"
)

// EventType 区分生命周期事件。
type EventType string

const (
	EventInstall  EventType = "install"
	EventActivate EventType = "activate"
	EventFetch    EventType = "fetch"
)

// Event 是一次事件的待办登记表：WaitUntil 延长事件生命周期，Wait 等待全部完成。
type Event struct {
	Type EventType

	wg   conc.WaitGroup
	mu   sync.Mutex
	errs []error
}

// NewEvent 创建指定类型的事件。
func NewEvent(typ EventType) *Event {
	return &Event{Type: typ}
}

// WaitUntil 登记一个异步任务；任务 panic 会在 Wait 时转换为 error。
// 只能在事件处理函数返回前调用。
func (e *Event) WaitUntil(fn func() error) {
	e.wg.Go(func() {
		if err := fn(); err != nil {
			e.record(err)
		}
	})
}

// Wait 阻塞直到所有已登记任务结束，返回合并后的错误。
func (e *Event) Wait() error {
	if recovered := e.wg.WaitAndRecover(); recovered != nil {
		e.record(recovered.AsError())
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return errors.Join(e.errs...)
}

func (e *Event) record(err error) {
	e.mu.Lock()
	e.errs = append(e.errs, err)
	e.mu.Unlock()
}
