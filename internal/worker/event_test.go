package worker

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestEventWaitCollectsErrors(t *testing.T) {
	ev := NewEvent(EventFetch)
	first := errors.New("first")
	second := errors.New("second")
	ev.WaitUntil(func() error { return first })
	ev.WaitUntil(func() error { return nil })
	ev.WaitUntil(func() error { return second })

	err := ev.Wait()
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("expected both errors joined, got %v", err)
	}
}

func TestEventWaitBlocksUntilTasksFinish(t *testing.T) {
	ev := NewEvent(EventInstall)
	var finished atomic.Bool
	ev.WaitUntil(func() error {
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	if err := ev.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !finished.Load() {
		t.Fatalf("Wait 返回前任务应已完成")
	}
}

func TestEventWaitRecoversPanic(t *testing.T) {
	ev := NewEvent(EventActivate)
	ev.WaitUntil(func() error { panic("boom") })
	if err := ev.Wait(); err == nil {
		t.Fatalf("panic 应转换为 error")
	}
}

func TestEventWithoutTasks(t *testing.T) {
	if err := NewEvent(EventFetch).Wait(); err != nil {
		t.Fatalf("空事件不应返回错误: %v", err)
	}
}
