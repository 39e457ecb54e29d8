// Scheduler implementation for flowgo
// 调度器实现，SubscribeOn/ObserveOn的执行底座
package flowgo

import (
	"context"
)

// ============================================================================
// 新线程调度器 - New Thread Scheduler
// ============================================================================

// newThreadScheduler 为每个任务创建新的goroutine
type newThreadScheduler struct{}

// NewNewThreadScheduler 创建新线程调度器
func NewNewThreadScheduler() Scheduler {
	return &newThreadScheduler{}
}

// Schedule 在新goroutine中执行任务
func (s *newThreadScheduler) Schedule(action func()) Disposable {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		select {
		case <-ctx.Done():
			return
		default:
			action()
		}
	}()

	return NewBaseDisposable(cancel)
}

// ============================================================================
// 默认调度器实例
// ============================================================================

var (
	// NewThreadScheduler 新线程调度器实例
	NewThreadScheduler Scheduler = NewNewThreadScheduler()
)
