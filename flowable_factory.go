// Flowable factory functions for flowgo
// Flowable工厂函数，提供各种创建Flowable的方法
package flowgo

import (
	"context"
	"sync"
	"sync/atomic"
)

// ============================================================================
// 基础工厂函数
// ============================================================================

// FlowableJust 从给定的值创建Flowable
func FlowableJust(values ...interface{}) Flowable {
	return FlowableFromSlice(values)
}

// FlowableEmpty 创建一个空的Flowable，立即完成
func FlowableEmpty() Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		completed := false
		var mu sync.Mutex

		subscription := NewFlowableSubscription(
			func(n int64) {
				// 任何请求都立即完成
				go func() {
					mu.Lock()
					defer mu.Unlock()
					if !completed {
						completed = true
						subscriber.OnComplete()
					}
				}()
			},
			func() {
				// 取消操作
			},
		)

		subscriber.OnSubscribe(subscription)
	})
}

// FlowableNever 创建一个永不发射任何值的Flowable
func FlowableNever() Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		subscription := NewFlowableSubscription(
			func(n int64) {
				// 什么都不做，永远不发射值
			},
			func() {
				// 取消操作
			},
		)

		subscriber.OnSubscribe(subscription)
	})
}

// FlowableError 创建一个立即发射错误的Flowable
func FlowableError(err error) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		emitted := false
		var mu sync.Mutex

		subscription := NewFlowableSubscription(
			func(n int64) {
				// 任何请求都立即发送错误
				go func() {
					mu.Lock()
					defer mu.Unlock()
					if !emitted {
						emitted = true
						subscriber.OnError(err)
					}
				}()
			},
			func() {
				// 取消操作
			},
		)

		subscriber.OnSubscribe(subscription)
	})
}

// FlowableRange 创建发射指定范围整数的Flowable
func FlowableRange(start int, count int) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		currentIndex := int64(0)
		completed := false
		var mu sync.Mutex
		// cancelled 无锁标志：取消可能发生在OnNext的同步调用链内
		var cancelled int32

		subscription := NewFlowableSubscription(
			func(n int64) {
				// 请求时发送数据
				go func() {
					mu.Lock()
					defer mu.Unlock()

					for i := int64(0); i < n && currentIndex < int64(count) && atomic.LoadInt32(&cancelled) == 0; i++ {
						value := start + int(currentIndex)
						currentIndex++
						subscriber.OnNext(CreateItem(value))
					}

					if currentIndex >= int64(count) && !completed && atomic.LoadInt32(&cancelled) == 0 {
						completed = true
						subscriber.OnComplete()
					}
				}()
			},
			func() {
				atomic.StoreInt32(&cancelled, 1)
			},
		)

		subscriber.OnSubscribe(subscription)
	})
}

// ============================================================================
// 从数据源创建
// ============================================================================

// FlowableFromSlice 从切片创建Flowable
func FlowableFromSlice(slice []interface{}) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		currentIndex := int64(0)
		completed := false
		var mu sync.Mutex
		// cancelled 无锁标志：取消可能发生在OnNext的同步调用链内
		var cancelled int32

		subscription := NewFlowableSubscription(
			func(n int64) {
				// 根据请求发送数据
				go func() {
					mu.Lock()
					defer mu.Unlock()

					for i := int64(0); i < n && currentIndex < int64(len(slice)) && atomic.LoadInt32(&cancelled) == 0; i++ {
						value := slice[currentIndex]
						currentIndex++
						subscriber.OnNext(CreateItem(value))
					}

					if currentIndex >= int64(len(slice)) && !completed && atomic.LoadInt32(&cancelled) == 0 {
						completed = true
						subscriber.OnComplete()
					}
				}()
			},
			func() {
				atomic.StoreInt32(&cancelled, 1)
			},
		)

		subscriber.OnSubscribe(subscription)
	})
}

// FlowableDefer 在每次订阅时通过工厂函数创建新的Flowable
// 用于携带每订阅独立状态的操作符，例如WindowUntilChanged
func FlowableDefer(factory func() Flowable) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		factory().Subscribe(subscriber)
	})
}

// ============================================================================
// 创建操作符
// ============================================================================

// FlowableCreate 使用自定义发射器创建Flowable
func FlowableCreate(emitter func(FlowableEmitter), strategy BackpressureStrategy) Flowable {
	return NewFlowable(func(subscriber Subscriber) {
		ctx, cancel := context.WithCancel(context.Background())

		flowableEmitter := &flowableEmitterImpl{
			subscriber: subscriber,
			ctx:        ctx,
			strategy:   strategy,
			requested:  0,
			buffer:     make([]Item, 0),
		}

		subscription := NewFlowableSubscription(
			func(n int64) {
				flowableEmitter.addRequest(n)
			},
			func() {
				cancel()
			},
		)

		subscriber.OnSubscribe(subscription)

		// 在新的协程中执行emitter
		go func() {
			defer cancel()
			emitter(flowableEmitter)
		}()
	})
}

// FlowableEmitter Flowable发射器接口
type FlowableEmitter interface {
	// OnNext 发射下一个值
	OnNext(value interface{})
	// OnError 发射错误
	OnError(err error)
	// OnComplete 发射完成信号
	OnComplete()
	// IsCancelled 检查是否已取消
	IsCancelled() bool
	// GetRequested 获取当前请求数量
	GetRequested() int64
}

// flowableEmitterImpl FlowableEmitter的实现
type flowableEmitterImpl struct {
	subscriber Subscriber
	ctx        context.Context
	strategy   BackpressureStrategy
	requested  int64
	buffer     []Item
	completed  bool
	mu         sync.Mutex
}

func (fe *flowableEmitterImpl) OnNext(value interface{}) {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.completed || fe.IsCancelled() {
		return
	}

	item := CreateItem(value)

	if fe.requested > 0 {
		fe.requested--
		fe.subscriber.OnNext(item)
	} else {
		// 处理背压
		fe.handleBackpressure(item)
	}
}

func (fe *flowableEmitterImpl) OnError(err error) {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.completed || fe.IsCancelled() {
		return
	}

	fe.completed = true
	fe.subscriber.OnError(err)
}

func (fe *flowableEmitterImpl) OnComplete() {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.completed || fe.IsCancelled() {
		return
	}

	fe.completed = true
	fe.subscriber.OnComplete()
}

func (fe *flowableEmitterImpl) IsCancelled() bool {
	select {
	case <-fe.ctx.Done():
		return true
	default:
		return false
	}
}

func (fe *flowableEmitterImpl) GetRequested() int64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.requested
}

func (fe *flowableEmitterImpl) addRequest(n int64) {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	fe.requested += n

	// 处理缓冲区中的数据
	for len(fe.buffer) > 0 && fe.requested > 0 {
		item := fe.buffer[0]
		fe.buffer = fe.buffer[1:]
		fe.requested--
		fe.subscriber.OnNext(item)
	}
}

func (fe *flowableEmitterImpl) handleBackpressure(item Item) {
	switch fe.strategy {
	case BufferStrategy:
		fe.buffer = append(fe.buffer, item)
	case DropStrategy:
		// 丢弃项目，什么都不做
	case BlockStrategy:
		// 简化实现：转为缓冲策略
		fe.buffer = append(fe.buffer, item)
	}
}
