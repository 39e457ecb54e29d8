// Hooks for flowgo
// 全局钩子与上下文携带的丢弃回调，用于取消时的元素处置与终止后信号的兜底
package flowgo

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ============================================================================
// 上下文携带的丢弃回调
// ============================================================================

// ContextHolder 可携带上下文的订阅者透出接口
// 操作符通过它读取下游订阅者的上下文，上下文中可携带丢弃回调
type ContextHolder interface {
	// Context 返回订阅者携带的上下文
	Context() context.Context
}

// discardKey 丢弃回调在上下文中的键
type discardKey struct{}

// WithOnDiscard 在上下文中携带丢弃回调
// 操作符在取消时丢弃的每个元素都会经过该回调
func WithOnDiscard(ctx context.Context, onDiscard func(interface{})) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if onDiscard == nil {
		return ctx
	}
	return context.WithValue(ctx, discardKey{}, onDiscard)
}

// OnDiscard 将被丢弃的元素交给上下文中的丢弃回调
func OnDiscard(ctx context.Context, value interface{}) {
	if ctx == nil || value == nil {
		return
	}
	if fn, ok := ctx.Value(discardKey{}).(func(interface{})); ok {
		// 丢弃回调是用户代码，panic不能破坏排空循环
		SafeExecute(func() {
			fn(value)
		})
	}
}

// subscriberContext 读取订阅者携带的上下文
func subscriberContext(subscriber Subscriber) context.Context {
	if holder, ok := subscriber.(ContextHolder); ok {
		if ctx := holder.Context(); ctx != nil {
			return ctx
		}
	}
	return context.Background()
}

// ============================================================================
// 终止后信号的全局钩子
// ============================================================================

var (
	hooksMu          sync.RWMutex
	hooksLogger      = zap.NewNop()
	onErrorDroppedFn func(err error)
	onNextDroppedFn  func(value interface{})
)

// SetLogger 设置丢弃信号的默认日志器
func SetLogger(logger *zap.Logger) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if logger != nil {
		hooksLogger = logger
	}
}

// SetOnErrorDropped 设置被丢弃错误的钩子，传nil恢复默认日志行为
func SetOnErrorDropped(fn func(err error)) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	onErrorDroppedFn = fn
}

// SetOnNextDropped 设置被丢弃数据的钩子，传nil恢复默认日志行为
func SetOnNextDropped(fn func(value interface{})) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	onNextDroppedFn = fn
}

// OnErrorDropped 处理终止之后到达的错误
// 错误只保留第一个，后续错误一律进入该钩子
func OnErrorDropped(err error) {
	if err == nil {
		return
	}
	hooksMu.RLock()
	fn := onErrorDroppedFn
	logger := hooksLogger
	hooksMu.RUnlock()

	if fn != nil {
		fn(err)
		return
	}
	logger.Warn("终止后丢弃的错误", zap.Error(err))
}

// OnNextDropped 处理终止之后到达的数据项
func OnNextDropped(value interface{}) {
	if value == nil {
		return
	}
	hooksMu.RLock()
	fn := onNextDroppedFn
	logger := hooksLogger
	hooksMu.RUnlock()

	if fn != nil {
		fn(value)
		return
	}
	logger.Warn("终止后丢弃的数据项", zap.Any("value", value))
}
