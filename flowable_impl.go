// Flowable core implementation for flowgo
// Flowable核心实现，支持背压处理的响应式数据流
package flowgo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ============================================================================
// Flowable 核心实现
// ============================================================================

// flowableImpl Flowable的核心实现
type flowableImpl struct {
	source     func(subscriber Subscriber)
	config     *Config
	disposed   int32
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// NewFlowable 创建新的Flowable
func NewFlowable(source func(subscriber Subscriber), options ...Option) Flowable {
	config := DefaultConfig()
	for _, opt := range options {
		opt.Apply(config)
	}

	ctx, cancel := context.WithCancel(config.Context)

	return &flowableImpl{
		source:     source,
		config:     config,
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Subscribe 订阅Subscriber
func (f *flowableImpl) Subscribe(subscriber Subscriber) {
	if f.IsDisposed() {
		// 如果已释放，立即发送错误
		subscriber.OnSubscribe(EmptySubscription())
		subscriber.OnError(errors.New("flowable已释放"))
		return
	}

	// 创建带上下文的Subscriber包装器
	wrappedSubscriber := &contextSubscriber{
		delegate: subscriber,
		ctx:      f.ctx,
	}

	f.source(wrappedSubscriber)
}

// SubscribeWithCallbacks 使用回调函数订阅
func (f *flowableImpl) SubscribeWithCallbacks(onNext OnNext, onError OnError, onComplete OnComplete) FlowableSubscription {
	var subscription FlowableSubscription

	subscriber := &callbackSubscriber{
		onNext:     onNext,
		onError:    onError,
		onComplete: onComplete,
	}

	// 包装订阅者以捕获subscription
	wrappedSubscriber := &subscriptionCapturingSubscriber{
		delegate: subscriber,
		onSubscribe: func(s FlowableSubscription) {
			subscription = s
			subscriber.OnSubscribe(s)
		},
	}

	f.Subscribe(wrappedSubscriber)
	// NOTE: 这里可能存在竞态条件，但为了避免死锁暂时接受
	return subscription
}

// SubscribeOn 指定订阅操作运行的调度器
func (f *flowableImpl) SubscribeOn(scheduler Scheduler) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		disposable := scheduler.Schedule(func() {
			f.Subscribe(subscriber)
		})

		subscription := NewFlowableSubscription(
			func(n int64) {
				// 请求操作在调度器上执行
			},
			func() {
				disposable.Dispose()
			},
		)

		subscriber.OnSubscribe(subscription)
	})
}

// ObserveOn 指定观察操作运行的调度器
func (f *flowableImpl) ObserveOn(scheduler Scheduler) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		observeOnSubscriber := &observeOnSubscriber{
			downstream: subscriber,
			scheduler:  scheduler,
			buffer:     make(chan Item, f.config.BufferSize),
			done:       make(chan struct{}),
		}

		f.Subscribe(observeOnSubscriber)
	})
}

// IsDisposed 检查是否已释放
func (f *flowableImpl) IsDisposed() bool {
	return atomic.LoadInt32(&f.disposed) == 1
}

// Dispose 释放资源
func (f *flowableImpl) Dispose() {
	if atomic.CompareAndSwapInt32(&f.disposed, 0, 1) {
		if f.cancelFunc != nil {
			f.cancelFunc()
		}
	}
}

// ============================================================================
// 转换操作符实现
// ============================================================================

// Map 转换每个数据项
func (f *flowableImpl) Map(transformer Transformer) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		mapSubscriber := &mapSubscriber{
			downstream:  subscriber,
			transformer: transformer,
		}
		f.Subscribe(mapSubscriber)
	})
}

// Filter 过滤数据项
func (f *flowableImpl) Filter(predicate Predicate) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		filterSubscriber := &filterSubscriber{
			downstream: subscriber,
			predicate:  predicate,
		}
		f.Subscribe(filterSubscriber)
	})
}

// Take 取前N个数据项
func (f *flowableImpl) Take(count int64) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		takeSubscriber := &takeSubscriber{
			downstream: subscriber,
			remaining:  count,
		}
		f.Subscribe(takeSubscriber)
	})
}

// Skip 跳过前N个数据项
func (f *flowableImpl) Skip(count int64) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		skipSubscriber := &skipSubscriber{
			downstream: subscriber,
			toSkip:     count,
		}
		f.Subscribe(skipSubscriber)
	})
}

// ============================================================================
// 谓词分窗操作符实现
// ============================================================================

// WindowUntil 按谓词切分窗口，边界元素包含在被关闭的窗口末尾
func (f *flowableImpl) WindowUntil(predicate Predicate) Flowable {
	return f.WindowUntilWithPrefetch(predicate, false, f.config.BufferSize)
}

// WindowUntilCutBefore 按谓词切分窗口，边界元素作为下一个窗口的首元素
func (f *flowableImpl) WindowUntilCutBefore(predicate Predicate) Flowable {
	return f.WindowUntilWithPrefetch(predicate, true, f.config.BufferSize)
}

// WindowUntilWithPrefetch 指定边界方向与prefetch的WindowUntil
func (f *flowableImpl) WindowUntilWithPrefetch(predicate Predicate, cutBefore bool, prefetch int) Flowable {
	mode := ModeUntil
	if cutBefore {
		mode = ModeUntilCutBefore
	}
	return NewFlowableWindowPredicate(f,
		QueueSupplierUnbounded(f.config.BufferSize),
		QueueSupplierUnbounded(f.config.BufferSize),
		prefetch, predicate, mode)
}

// WindowWhile 谓词为真时窗口保持打开，分隔元素被丢弃
func (f *flowableImpl) WindowWhile(predicate Predicate) Flowable {
	return f.WindowWhileWithPrefetch(predicate, f.config.BufferSize)
}

// WindowWhileWithPrefetch 指定prefetch的WindowWhile
func (f *flowableImpl) WindowWhileWithPrefetch(predicate Predicate, prefetch int) Flowable {
	return NewFlowableWindowPredicate(f,
		QueueSupplierUnbounded(f.config.BufferSize),
		QueueSupplierUnbounded(f.config.BufferSize),
		prefetch, predicate, ModeWhile)
}

// WindowUntilChanged 相邻元素键发生变化时切分窗口
func (f *flowableImpl) WindowUntilChanged() Flowable {
	return windowUntilChanged(f, f.config.BufferSize, identityKeySelector, defaultKeyComparator)
}

// WindowUntilChangedWith 使用自定义键选择器与键比较器的WindowUntilChanged
func (f *flowableImpl) WindowUntilChangedWith(keySelector func(interface{}) interface{}, keyComparator func(a, b interface{}) bool) Flowable {
	if keySelector == nil {
		keySelector = identityKeySelector
	}
	if keyComparator == nil {
		keyComparator = defaultKeyComparator
	}
	return windowUntilChanged(f, f.config.BufferSize, keySelector, keyComparator)
}

// ============================================================================
// 终止操作
// ============================================================================

// ToSlice 阻塞收集所有数据项到切片
func (f *flowableImpl) ToSlice() ([]interface{}, error) {
	var items []interface{}
	var resultErr error
	var mu sync.Mutex
	done := make(chan struct{})

	subscription := f.SubscribeWithCallbacks(
		func(value interface{}) {
			mu.Lock()
			items = append(items, value)
			mu.Unlock()
		},
		func(err error) {
			mu.Lock()
			resultErr = err
			mu.Unlock()
			close(done)
		},
		func() {
			close(done)
		},
	)

	if subscription != nil {
		subscription.Request(RequestUnbounded)
	}

	<-done

	mu.Lock()
	defer mu.Unlock()
	return items, resultErr
}

// BlockingFirst 阻塞获取第一个数据项
func (f *flowableImpl) BlockingFirst() (interface{}, error) {
	done := make(chan struct{})
	var once sync.Once
	var result interface{}
	var err error

	subscription := f.SubscribeWithCallbacks(
		func(value interface{}) {
			once.Do(func() {
				result = value
				close(done)
			})
		},
		func(e error) {
			once.Do(func() {
				err = e
				close(done)
			})
		},
		func() {
			once.Do(func() {
				err = errors.New("flowable为空，没有数据项")
				close(done)
			})
		},
	)

	// 立即请求第一个元素
	if subscription != nil {
		subscription.Request(1)
	}

	<-done
	if subscription != nil {
		subscription.Cancel()
	}

	return result, err
}

// ============================================================================
// 辅助结构体
// ============================================================================

// contextSubscriber 带上下文的订阅者包装器
type contextSubscriber struct {
	delegate Subscriber
	ctx      context.Context
}

func (cs *contextSubscriber) OnSubscribe(subscription FlowableSubscription) {
	// 包装subscription以支持上下文取消
	wrappedSubscription := &contextSubscription{
		delegate: subscription,
		ctx:      cs.ctx,
	}
	cs.delegate.OnSubscribe(wrappedSubscription)
}

func (cs *contextSubscriber) OnNext(item Item) {
	select {
	case <-cs.ctx.Done():
		return
	default:
		cs.delegate.OnNext(item)
	}
}

func (cs *contextSubscriber) OnError(err error) {
	select {
	case <-cs.ctx.Done():
		return
	default:
		cs.delegate.OnError(err)
	}
}

func (cs *contextSubscriber) OnComplete() {
	select {
	case <-cs.ctx.Done():
		return
	default:
		cs.delegate.OnComplete()
	}
}

// Context 透出被包装订阅者携带的上下文
func (cs *contextSubscriber) Context() context.Context {
	if holder, ok := cs.delegate.(ContextHolder); ok {
		return holder.Context()
	}
	return cs.ctx
}

// contextSubscription 带上下文的订阅包装器
type contextSubscription struct {
	delegate FlowableSubscription
	ctx      context.Context
}

func (cs *contextSubscription) Request(n int64) {
	select {
	case <-cs.ctx.Done():
		return
	default:
		cs.delegate.Request(n)
	}
}

func (cs *contextSubscription) Cancel() {
	cs.delegate.Cancel()
}

func (cs *contextSubscription) IsCancelled() bool {
	return cs.delegate.IsCancelled()
}

// callbackSubscriber 回调订阅者
type callbackSubscriber struct {
	BaseSubscriber
	onNext     OnNext
	onError    OnError
	onComplete OnComplete
}

func (cs *callbackSubscriber) OnNext(item Item) {
	if item.IsError() {
		if cs.onError != nil {
			cs.onError(item.Error)
		}
	} else if item.Value == nil {
		if cs.onComplete != nil {
			cs.onComplete()
		}
	} else {
		if cs.onNext != nil {
			cs.onNext(item.Value)
		}
	}
}

func (cs *callbackSubscriber) OnError(err error) {
	if cs.onError != nil {
		cs.onError(err)
	}
}

func (cs *callbackSubscriber) OnComplete() {
	if cs.onComplete != nil {
		cs.onComplete()
	}
}

// subscriptionCapturingSubscriber 捕获订阅的订阅者
type subscriptionCapturingSubscriber struct {
	delegate    Subscriber
	onSubscribe func(FlowableSubscription)
}

func (scs *subscriptionCapturingSubscriber) OnSubscribe(subscription FlowableSubscription) {
	if scs.onSubscribe != nil {
		scs.onSubscribe(subscription)
	} else {
		scs.delegate.OnSubscribe(subscription)
	}
}

func (scs *subscriptionCapturingSubscriber) OnNext(item Item) {
	scs.delegate.OnNext(item)
}

func (scs *subscriptionCapturingSubscriber) OnError(err error) {
	scs.delegate.OnError(err)
}

func (scs *subscriptionCapturingSubscriber) OnComplete() {
	scs.delegate.OnComplete()
}
