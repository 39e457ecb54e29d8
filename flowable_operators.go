// Flowable operators implementation for flowgo
// Flowable操作符的具体实现，包含背压处理的订阅者
package flowgo

import (
	"context"
	"sync"
	"sync/atomic"
)

// ============================================================================
// Map操作符订阅者
// ============================================================================

// mapSubscriber Map操作符的订阅者实现
type mapSubscriber struct {
	BaseSubscriber
	downstream  Subscriber
	transformer Transformer
}

func (ms *mapSubscriber) OnSubscribe(subscription FlowableSubscription) {
	ms.BaseSubscriber.OnSubscribe(subscription)
	ms.downstream.OnSubscribe(subscription)
}

func (ms *mapSubscriber) OnNext(item Item) {
	if item.IsError() {
		ms.downstream.OnError(item.Error)
		return
	}

	if item.Value == nil {
		ms.downstream.OnComplete()
		return
	}

	if result, err := ms.transformer(item.Value); err != nil {
		ms.downstream.OnError(err)
	} else {
		ms.downstream.OnNext(CreateItem(result))
	}
}

func (ms *mapSubscriber) OnError(err error) {
	ms.downstream.OnError(err)
}

// Context 透传下游订阅者的上下文
func (ms *mapSubscriber) Context() context.Context {
	return subscriberContext(ms.downstream)
}

func (ms *mapSubscriber) OnComplete() {
	ms.downstream.OnComplete()
}

// ============================================================================
// Filter操作符订阅者
// ============================================================================

// filterSubscriber Filter操作符的订阅者实现
type filterSubscriber struct {
	BaseSubscriber
	downstream Subscriber
	predicate  Predicate
}

func (fs *filterSubscriber) OnSubscribe(subscription FlowableSubscription) {
	fs.BaseSubscriber.OnSubscribe(subscription)
	fs.downstream.OnSubscribe(subscription)
}

func (fs *filterSubscriber) OnNext(item Item) {
	if item.IsError() {
		fs.downstream.OnError(item.Error)
		return
	}

	if item.Value == nil {
		fs.downstream.OnComplete()
		return
	}

	if fs.predicate(item.Value) {
		fs.downstream.OnNext(item)
	}
	// 如果谓词为false，忽略该项目；被过滤的项目不会触发向上游的补充请求
}

func (fs *filterSubscriber) OnError(err error) {
	fs.downstream.OnError(err)
}

// Context 透传下游订阅者的上下文
func (fs *filterSubscriber) Context() context.Context {
	return subscriberContext(fs.downstream)
}

func (fs *filterSubscriber) OnComplete() {
	fs.downstream.OnComplete()
}

// ============================================================================
// Take操作符订阅者
// ============================================================================

// takeSubscriber Take操作符的订阅者实现
type takeSubscriber struct {
	BaseSubscriber
	downstream Subscriber
	remaining  int64
	mu         sync.Mutex
}

func (ts *takeSubscriber) OnSubscribe(subscription FlowableSubscription) {
	ts.BaseSubscriber.OnSubscribe(subscription)
	ts.downstream.OnSubscribe(subscription)
}

func (ts *takeSubscriber) OnNext(item Item) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.remaining <= 0 {
		return
	}

	if item.IsError() {
		ts.downstream.OnError(item.Error)
		return
	}

	if item.Value == nil {
		ts.downstream.OnComplete()
		return
	}

	ts.remaining--
	ts.downstream.OnNext(item)

	if ts.remaining <= 0 {
		ts.downstream.OnComplete()
		ts.Cancel()
	}
}

func (ts *takeSubscriber) OnError(err error) {
	ts.downstream.OnError(err)
}

// Context 透传下游订阅者的上下文
func (ts *takeSubscriber) Context() context.Context {
	return subscriberContext(ts.downstream)
}

func (ts *takeSubscriber) OnComplete() {
	ts.downstream.OnComplete()
}

// ============================================================================
// Skip操作符订阅者
// ============================================================================

// skipSubscriber Skip操作符的订阅者实现
type skipSubscriber struct {
	BaseSubscriber
	downstream Subscriber
	toSkip     int64
	mu         sync.Mutex
}

func (ss *skipSubscriber) OnSubscribe(subscription FlowableSubscription) {
	ss.BaseSubscriber.OnSubscribe(subscription)
	ss.downstream.OnSubscribe(subscription)
}

func (ss *skipSubscriber) OnNext(item Item) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if item.IsError() {
		ss.downstream.OnError(item.Error)
		return
	}

	if item.Value == nil {
		ss.downstream.OnComplete()
		return
	}

	if ss.toSkip > 0 {
		ss.toSkip--
		return // 跳过此项目
	}

	ss.downstream.OnNext(item)
}

func (ss *skipSubscriber) OnError(err error) {
	ss.downstream.OnError(err)
}

// Context 透传下游订阅者的上下文
func (ss *skipSubscriber) Context() context.Context {
	return subscriberContext(ss.downstream)
}

func (ss *skipSubscriber) OnComplete() {
	ss.downstream.OnComplete()
}

// ============================================================================
// ObserveOn操作符订阅者
// ============================================================================

// observeOnSubscriber ObserveOn操作符的订阅者实现
type observeOnSubscriber struct {
	BaseSubscriber
	downstream Subscriber
	scheduler  Scheduler
	buffer     chan Item
	done       chan struct{}
	started    int32
}

func (oos *observeOnSubscriber) OnSubscribe(subscription FlowableSubscription) {
	oos.BaseSubscriber.OnSubscribe(subscription)

	// 启动调度器工作
	if atomic.CompareAndSwapInt32(&oos.started, 0, 1) {
		go oos.scheduleWork()
	}

	oos.downstream.OnSubscribe(subscription)
}

func (oos *observeOnSubscriber) scheduleWork() {
	oos.scheduler.Schedule(func() {
		for {
			select {
			case item, ok := <-oos.buffer:
				if !ok {
					return
				}
				if item.IsError() {
					oos.downstream.OnError(item.Error)
				} else if item.Value == nil {
					oos.downstream.OnComplete()
				} else {
					oos.downstream.OnNext(item)
				}
			case <-oos.done:
				return
			}
		}
	})
}

func (oos *observeOnSubscriber) OnNext(item Item) {
	select {
	case oos.buffer <- item:
	case <-oos.done:
	}
}

func (oos *observeOnSubscriber) OnError(err error) {
	select {
	case oos.buffer <- CreateErrorItem(err):
	case <-oos.done:
	}
}

func (oos *observeOnSubscriber) OnComplete() {
	select {
	case oos.buffer <- CreateItem(nil):
	case <-oos.done:
	}
	close(oos.buffer)
}

// ============================================================================
// 背压异常
// ============================================================================

// BackpressureException 背压协议异常
// 操作符把非法请求量等背压协议违规包装为该类型发给违规的订阅者
type BackpressureException struct {
	message string
	cause   error
}

// NewBackpressureException 创建背压异常
func NewBackpressureException(message string) *BackpressureException {
	return &BackpressureException{message: message}
}

func (e *BackpressureException) Error() string {
	return "BackpressureException: " + e.message
}

// Unwrap 返回底层原因，支持errors.Is判定
func (e *BackpressureException) Unwrap() error {
	return e.cause
}
