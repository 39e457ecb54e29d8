// Flowable contracts for flowgo
// 支持背压处理的数据流接口定义，基于Reactive Streams规范
package flowgo

import (
	"math"
	"sync"
	"sync/atomic"
)

// RequestUnbounded 无界请求量，等价于Reactive Streams的Long.MAX_VALUE
const RequestUnbounded = int64(math.MaxInt64)

// PrefetchUnbounded prefetch取该值时向上游发出一次无界请求
const PrefetchUnbounded = int(math.MaxInt32)

// ============================================================================
// Subscriber 接口定义
// ============================================================================

// FlowableSubscription 订阅接口，支持请求管理
type FlowableSubscription interface {
	// Request 请求指定数量的数据项
	Request(n int64)
	// Cancel 取消订阅
	Cancel()
	// IsCancelled 检查是否已取消
	IsCancelled() bool
}

// Subscriber Flowable的订阅者接口
type Subscriber interface {
	// OnSubscribe 订阅开始时调用
	OnSubscribe(subscription FlowableSubscription)
	// OnNext 接收到新数据时调用
	OnNext(item Item)
	// OnError 发生错误时调用
	OnError(err error)
	// OnComplete 数据流完成时调用
	OnComplete()
}

// Publisher 发布者接口，符合Reactive Streams规范
type Publisher interface {
	// Subscribe 订阅Subscriber
	Subscribe(subscriber Subscriber)
}

// ============================================================================
// Flowable 接口定义
// ============================================================================

// Flowable 支持背压的响应式数据流接口
type Flowable interface {
	Publisher

	// SubscribeWithCallbacks 使用回调函数订阅
	SubscribeWithCallbacks(onNext OnNext, onError OnError, onComplete OnComplete) FlowableSubscription

	// SubscribeOn 指定订阅操作运行的调度器
	SubscribeOn(scheduler Scheduler) Flowable

	// ObserveOn 指定观察操作运行的调度器
	ObserveOn(scheduler Scheduler) Flowable

	// ============================================================================
	// 转换操作符
	// ============================================================================

	// Map 转换每个数据项
	Map(transformer Transformer) Flowable

	// Filter 过滤数据项
	Filter(predicate Predicate) Flowable

	// Take 取前N个数据项
	Take(count int64) Flowable

	// Skip 跳过前N个数据项
	Skip(count int64) Flowable

	// ============================================================================
	// 谓词分窗操作符
	// ============================================================================

	// WindowUntil 按谓词切分窗口，边界元素包含在被关闭的窗口末尾
	WindowUntil(predicate Predicate) Flowable

	// WindowUntilCutBefore 按谓词切分窗口，边界元素作为下一个窗口的首元素
	WindowUntilCutBefore(predicate Predicate) Flowable

	// WindowUntilWithPrefetch 指定边界方向与prefetch的WindowUntil
	WindowUntilWithPrefetch(predicate Predicate, cutBefore bool, prefetch int) Flowable

	// WindowWhile 谓词为真时窗口保持打开，分隔元素被丢弃
	WindowWhile(predicate Predicate) Flowable

	// WindowWhileWithPrefetch 指定prefetch的WindowWhile
	WindowWhileWithPrefetch(predicate Predicate, prefetch int) Flowable

	// WindowUntilChanged 相邻元素键发生变化时切分窗口
	WindowUntilChanged() Flowable

	// WindowUntilChangedWith 使用自定义键选择器与键比较器的WindowUntilChanged
	WindowUntilChangedWith(keySelector func(interface{}) interface{}, keyComparator func(a, b interface{}) bool) Flowable

	// ============================================================================
	// 终止操作
	// ============================================================================

	// ToSlice 阻塞收集所有数据项到切片
	ToSlice() ([]interface{}, error)

	// BlockingFirst 阻塞获取第一个数据项
	BlockingFirst() (interface{}, error)
}

// ============================================================================
// 内部实现结构
// ============================================================================

// subscriptionImpl FlowableSubscription的基础实现
type subscriptionImpl struct {
	requested int64
	cancelled int32
	onRequest func(int64)
	onCancel  func()
	mu        sync.Mutex
}

// NewFlowableSubscription 创建新的FlowableSubscription
func NewFlowableSubscription(onRequest func(int64), onCancel func()) FlowableSubscription {
	return &subscriptionImpl{
		onRequest: onRequest,
		onCancel:  onCancel,
	}
}

// Request 请求指定数量的数据项
func (s *subscriptionImpl) Request(n int64) {
	if n <= 0 || s.IsCancelled() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 防止溢出
	if s.requested == RequestUnbounded {
		return
	}

	newRequested := s.requested + n
	if newRequested < 0 {
		newRequested = RequestUnbounded
	}
	s.requested = newRequested

	if s.onRequest != nil {
		s.onRequest(n)
	}
}

// Cancel 取消订阅
func (s *subscriptionImpl) Cancel() {
	if atomic.CompareAndSwapInt32(&s.cancelled, 0, 1) {
		if s.onCancel != nil {
			s.onCancel()
		}
	}
}

// IsCancelled 检查是否已取消
func (s *subscriptionImpl) IsCancelled() bool {
	return atomic.LoadInt32(&s.cancelled) == 1
}

// emptySubscription 空订阅，用于在OnSubscribe之后立即终止的场景
type emptySubscription struct{}

func (emptySubscription) Request(n int64) {}

func (emptySubscription) Cancel() {}

func (emptySubscription) IsCancelled() bool { return false }

// EmptySubscription 返回不做任何事情的订阅
func EmptySubscription() FlowableSubscription {
	return emptySubscription{}
}

// ============================================================================
// BaseSubscriber 基础订阅者实现
// ============================================================================

// BaseSubscriber 基础订阅者，提供常用功能
type BaseSubscriber struct {
	subscription FlowableSubscription
	mu           sync.RWMutex
}

// OnSubscribe 订阅开始时调用
func (b *BaseSubscriber) OnSubscribe(subscription FlowableSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscription != nil {
		subscription.Cancel()
		return
	}

	b.subscription = subscription
}

// Request 请求指定数量的数据项
func (b *BaseSubscriber) Request(n int64) {
	b.mu.RLock()
	subscription := b.subscription
	b.mu.RUnlock()

	if subscription != nil {
		subscription.Request(n)
	}
}

// Cancel 取消订阅
func (b *BaseSubscriber) Cancel() {
	b.mu.RLock()
	subscription := b.subscription
	b.mu.RUnlock()

	if subscription != nil {
		subscription.Cancel()
	}
}

// IsCancelled 检查是否已取消
func (b *BaseSubscriber) IsCancelled() bool {
	b.mu.RLock()
	subscription := b.subscription
	b.mu.RUnlock()

	if subscription != nil {
		return subscription.IsCancelled()
	}
	return false
}

// OnNext 默认实现（子类需要重写）
func (b *BaseSubscriber) OnNext(item Item) {
	// 默认空实现
}

// OnError 默认实现（子类需要重写）
func (b *BaseSubscriber) OnError(err error) {
	// 默认空实现
}

// OnComplete 默认实现（子类需要重写）
func (b *BaseSubscriber) OnComplete() {
	// 默认空实现
}
