// Predicate windowing operator for flowgo
// 谓词分窗操作符：将上游数据流按谓词边界切分为一系列子流窗口
// 主订阅者与各窗口订阅者各自维护独立的背压域，通过wip排空循环协同推进
package flowgo

import (
	"context"
	"errors"
	"fmt"

	uatomic "go.uber.org/atomic"
)

// WindowMode 分窗边界策略
type WindowMode int

const (
	// ModeUntil 谓词为真时关闭窗口，边界元素包含在被关闭窗口的末尾
	ModeUntil WindowMode = iota
	// ModeUntilCutBefore 谓词为真时在边界元素之前关闭窗口，边界元素进入下一个窗口
	ModeUntilCutBefore
	// ModeWhile 谓词为真时窗口保持打开；为假时关闭窗口，该分隔元素不进入任何窗口
	ModeWhile
)

var (
	// ErrWindowAlreadySubscribed 窗口只允许一个订阅者
	ErrWindowAlreadySubscribed = errors.New("窗口已有订阅者，不允许重复订阅")
	// ErrInvalidRequest 请求数量必须为正数
	ErrInvalidRequest = errors.New("请求数量必须为正数")
)

// ============================================================================
// 操作符入口
// ============================================================================

// FlowableWindowPredicate 谓词分窗操作符
// 每次订阅创建一个windowPredicateMain消费上游并向下游发射窗口
type FlowableWindowPredicate struct {
	Flowable

	source             Flowable
	mainQueueSupplier  QueueSupplier
	groupQueueSupplier QueueSupplier
	prefetch           int
	predicate          Predicate
	mode               WindowMode

	// onTerminate 带状态谓词（如WindowUntilChanged）的清理回调
	onTerminate func()
}

// NewFlowableWindowPredicate 创建谓词分窗操作符
// prefetch为上游批量请求大小，PrefetchUnbounded表示一次性无界请求
func NewFlowableWindowPredicate(source Flowable, mainQueueSupplier, groupQueueSupplier QueueSupplier,
	prefetch int, predicate Predicate, mode WindowMode) *FlowableWindowPredicate {
	if source == nil {
		panic("flowgo: source不能为nil")
	}
	if predicate == nil {
		panic("flowgo: predicate不能为nil")
	}
	if prefetch < 1 {
		panic(fmt.Sprintf("flowgo: prefetch必须为正数: %d", prefetch))
	}
	if mainQueueSupplier == nil {
		mainQueueSupplier = QueueSupplierUnbounded(defaultChunkSize(prefetch))
	}
	if groupQueueSupplier == nil {
		groupQueueSupplier = QueueSupplierUnbounded(defaultChunkSize(prefetch))
	}

	fwp := &FlowableWindowPredicate{
		source:             source,
		mainQueueSupplier:  mainQueueSupplier,
		groupQueueSupplier: groupQueueSupplier,
		prefetch:           prefetch,
		predicate:          predicate,
		mode:               mode,
	}
	fwp.Flowable = NewFlowable(func(subscriber Subscriber) {
		main := newWindowPredicateMain(subscriber, fwp)
		fwp.source.Subscribe(main)
	})
	return fwp
}

// defaultChunkSize 队列链块大小，无界prefetch退回小块
func defaultChunkSize(prefetch int) int {
	if prefetch == PrefetchUnbounded {
		return 16
	}
	return prefetch
}

// Scan 读取操作符的可观测状态
func (fwp *FlowableWindowPredicate) Scan(attr ScanAttr) interface{} {
	switch attr {
	case ScanParent:
		return fwp.source
	case ScanPrefetch:
		return fwp.prefetch
	case ScanRunStyle:
		return RunStyleSync
	}
	return nil
}

// ============================================================================
// 主订阅者：消费上游、判定边界、向下游发射窗口
// ============================================================================

// windowPredicateMain 分窗操作符的主状态机
// 同时是上游的Subscriber与下游的FlowableSubscription
type windowPredicateMain struct {
	actual    Subscriber
	ctx       context.Context
	predicate Predicate
	mode      WindowMode
	prefetch  int
	// limit 上游补充配额的批量阈值
	limit int64

	// queue 等待发射给下游的窗口
	queue *Queue
	// window 当前打开的窗口，仅在上游串行信号侧访问
	window             *windowFlux
	groupQueueSupplier QueueSupplier
	onTerminate        func()

	// windowCount 主引用(+1)与未释放窗口的合计，归零时取消上游
	windowCount *uatomic.Int32
	requested   *uatomic.Int64
	wip         *uatomic.Int32
	// produced 已消费上游元素的补充配额累计
	produced *uatomic.Int64

	done       *uatomic.Bool
	cancelled  *uatomic.Bool
	errOnce    *uatomic.Bool
	errValue   *uatomic.Error
	terminated *uatomic.Bool
	// upstreamOnce 上游只取消一次
	upstreamOnce *uatomic.Bool
	cleanupOnce  *uatomic.Bool

	upstream FlowableSubscription
}

// newWindowPredicateMain 创建主订阅者
func newWindowPredicateMain(actual Subscriber, fwp *FlowableWindowPredicate) *windowPredicateMain {
	limit := int64(fwp.prefetch - (fwp.prefetch >> 2))
	if limit < 1 {
		limit = 1
	}
	return &windowPredicateMain{
		actual:             actual,
		ctx:                subscriberContext(actual),
		predicate:          fwp.predicate,
		mode:               fwp.mode,
		prefetch:           fwp.prefetch,
		limit:              limit,
		queue:              fwp.mainQueueSupplier(),
		groupQueueSupplier: fwp.groupQueueSupplier,
		onTerminate:        fwp.onTerminate,
		windowCount:        uatomic.NewInt32(1),
		requested:          uatomic.NewInt64(0),
		wip:                uatomic.NewInt32(0),
		produced:           uatomic.NewInt64(0),
		done:               uatomic.NewBool(false),
		cancelled:          uatomic.NewBool(false),
		errOnce:            uatomic.NewBool(false),
		errValue:           uatomic.NewError(nil),
		terminated:         uatomic.NewBool(false),
		upstreamOnce:       uatomic.NewBool(false),
		cleanupOnce:        uatomic.NewBool(false),
	}
}

// OnSubscribe 记录上游订阅并向上游发起首批请求
func (m *windowPredicateMain) OnSubscribe(subscription FlowableSubscription) {
	m.upstream = subscription
	m.actual.OnSubscribe(m)

	if m.cancelled.Load() {
		return
	}
	if m.prefetch == PrefetchUnbounded {
		subscription.Request(RequestUnbounded)
	} else {
		subscription.Request(int64(m.prefetch))
	}
}

// OnNext 按边界策略将上游元素路由到窗口
func (m *windowPredicateMain) OnNext(item Item) {
	if item.IsError() {
		m.OnError(item.Error)
		return
	}
	if item.Value == nil {
		m.OnComplete()
		return
	}
	if m.done.Load() {
		OnNextDropped(item.Value)
		return
	}
	value := item.Value

	w := m.window
	if w == nil {
		w = m.openWindow()
		if w == nil {
			// 主链已取消且没有打开的窗口：元素丢弃并补充上游
			OnDiscard(m.ctx, value)
			m.replenish(1)
			return
		}
	}

	match, err := m.testPredicate(value)
	if err != nil {
		// 谓词失败视为终止错误：先释放上游，再沿窗口与主链双向传播
		m.cancelUpstream()
		m.OnError(err)
		return
	}

	switch {
	case m.mode == ModeUntil && match:
		m.emitToWindow(w, value)
		m.closeWindow(w)

	case m.mode == ModeUntilCutBefore && match:
		m.closeWindow(w)
		if next := m.openWindow(); next != nil {
			m.emitToWindow(next, value)
		} else {
			OnDiscard(m.ctx, value)
			m.replenish(1)
		}

	case m.mode == ModeWhile && !match:
		m.closeWindow(w)
		// 分隔元素不进入任何窗口
		OnDiscard(m.ctx, value)
		m.replenish(1)

	default:
		m.emitToWindow(w, value)
	}
}

// OnError 上游错误：先路由到打开的窗口，再终止主链
func (m *windowPredicateMain) OnError(err error) {
	if m.done.Load() || !m.errOnce.CAS(false, true) {
		OnErrorDropped(err)
		return
	}
	m.errValue.Store(err)

	if w := m.window; w != nil {
		m.window = nil
		w.signalError(err)
	}
	m.runCleanup()
	m.done.Store(true)
	m.drain()
}

// OnComplete 上游完成：正常关闭打开的窗口后终止主链
func (m *windowPredicateMain) OnComplete() {
	if m.done.Load() {
		return
	}
	if w := m.window; w != nil {
		m.window = nil
		w.signalComplete()
	}
	m.runCleanup()
	m.done.Store(true)
	m.drain()
}

// ============================================================================
// 面向下游的订阅接口
// ============================================================================

// Request 下游请求n个窗口
func (m *windowPredicateMain) Request(n int64) {
	if n <= 0 {
		m.invalidRequest(n)
		return
	}
	addCap(m.requested, n)
	m.drain()
}

// Cancel 下游取消：移除主引用并排空未发射的窗口
func (m *windowPredicateMain) Cancel() {
	if !m.cancelled.CAS(false, true) {
		return
	}
	m.runCleanup()
	if m.windowCount.Dec() == 0 {
		m.cancelUpstream()
	}
	m.drain()
}

// IsCancelled 检查主链是否已取消
func (m *windowPredicateMain) IsCancelled() bool {
	return m.cancelled.Load()
}

// invalidRequest 非法请求量作为协议错误发给下游
func (m *windowPredicateMain) invalidRequest(n int64) {
	err := invalidRequestError(n)
	if m.done.Load() || !m.errOnce.CAS(false, true) {
		OnErrorDropped(err)
		return
	}
	m.errValue.Store(err)
	m.runCleanup()
	m.done.Store(true)
	m.drain()
}

// ============================================================================
// 窗口生命周期
// ============================================================================

// openWindow 打开新窗口：入队等待发射并增加窗口计数
func (m *windowPredicateMain) openWindow() *windowFlux {
	if m.cancelled.Load() || m.done.Load() {
		return nil
	}
	m.windowCount.Inc()
	w := newWindowFlux(m.groupQueueSupplier(), m)
	m.window = w
	m.queue.Offer(w)
	m.drain()
	return w
}

// closeWindow 关闭窗口并清空当前打开槽位
func (m *windowPredicateMain) closeWindow(w *windowFlux) {
	if m.window == w {
		m.window = nil
	}
	w.signalComplete()
}

// emitToWindow 向窗口投递元素
// 窗口已被其订阅者取消时，元素按主链上下文丢弃并补充上游
func (m *windowPredicateMain) emitToWindow(w *windowFlux, value interface{}) {
	if !w.accept(value) {
		OnDiscard(m.ctx, value)
		m.replenish(1)
	}
}

// testPredicate 执行谓词并捕获panic
func (m *windowPredicateMain) testPredicate(value interface{}) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("谓词执行失败: %v", r)
			}
		}
	}()
	return m.predicate(value), nil
}

// windowReleased 窗口释放回调，计数归零时取消上游
func (m *windowPredicateMain) windowReleased() {
	if m.windowCount.Dec() == 0 {
		m.cancelUpstream()
	}
}

// cancelUpstream 取消上游，恰好一次
func (m *windowPredicateMain) cancelUpstream() {
	if m.upstreamOnce.CAS(false, true) {
		if s := m.upstream; s != nil {
			s.Cancel()
		}
	}
}

// replenish 累计补充配额，达到批量阈值后向上游请求
func (m *windowPredicateMain) replenish(n int64) {
	if m.prefetch == PrefetchUnbounded {
		return
	}
	for {
		current := m.produced.Load()
		next := current + n
		if next < m.limit {
			if m.produced.CAS(current, next) {
				return
			}
		} else {
			if m.produced.CAS(current, 0) {
				if s := m.upstream; s != nil {
					s.Request(next)
				}
				return
			}
		}
	}
}

// runCleanup 执行带状态谓词的清理，恰好一次
func (m *windowPredicateMain) runCleanup() {
	if m.onTerminate != nil && m.cleanupOnce.CAS(false, true) {
		m.onTerminate()
	}
}

// ============================================================================
// 主排空循环
// ============================================================================

// drain wip序列化的主排空循环：向下游发射窗口直到请求耗尽或队列为空
func (m *windowPredicateMain) drain() {
	if m.wip.Inc() != 1 {
		return
	}
	missed := int32(1)
	for {
		if m.cancelled.Load() {
			m.clearCancelled()
		} else if m.drainPass() {
			return
		}

		missed = m.wip.Sub(missed)
		if missed == 0 {
			return
		}
	}
}

// drainPass 执行一轮发射，返回true表示主链已终止
func (m *windowPredicateMain) drainPass() bool {
	r := m.requested.Load()
	e := int64(0)

	for r == RequestUnbounded || e < r {
		if m.cancelled.Load() {
			return false
		}
		d := m.done.Load()
		if d {
			if err := m.errValue.Load(); err != nil {
				m.queue.Clear(nil)
				m.signalTerminal(err)
				return true
			}
		}
		v, ok := m.queue.Poll()
		if !ok {
			if d {
				m.signalTerminal(nil)
				return true
			}
			break
		}
		w := v.(*windowFlux)
		m.actual.OnNext(CreateItem(w.flowable))
		e++
	}

	if m.cancelled.Load() {
		return false
	}

	// 请求耗尽时也要观察终止条件
	if m.done.Load() {
		if err := m.errValue.Load(); err != nil {
			m.queue.Clear(nil)
			m.signalTerminal(err)
			return true
		}
		if m.queue.IsEmpty() {
			m.signalTerminal(nil)
			return true
		}
	}

	if e != 0 && r != RequestUnbounded {
		m.requested.Sub(e)
	}
	return false
}

// clearCancelled 取消后清理尚未发射的窗口
func (m *windowPredicateMain) clearCancelled() {
	for {
		v, ok := m.queue.Poll()
		if !ok {
			return
		}
		v.(*windowFlux).cancelFromMain()
	}
}

// signalTerminal 向下游发出终止信号，恰好一次
func (m *windowPredicateMain) signalTerminal(err error) {
	if !m.terminated.CAS(false, true) {
		return
	}
	if err != nil {
		m.actual.OnError(err)
	} else {
		m.actual.OnComplete()
	}
}

// ============================================================================
// 可观测状态
// ============================================================================

// Scan 读取主订阅者的可观测状态
func (m *windowPredicateMain) Scan(attr ScanAttr) interface{} {
	switch attr {
	case ScanParent:
		return m.upstream
	case ScanActual:
		return m.actual
	case ScanPrefetch:
		return m.prefetch
	case ScanRequestedFromDownstream:
		return m.requested.Load()
	case ScanBuffered:
		return m.queue.Size()
	case ScanError:
		return m.errValue.Load()
	case ScanTerminated:
		return m.done.Load()
	case ScanCancelled:
		return m.cancelled.Load()
	case ScanRunStyle:
		return RunStyleSync
	}
	return nil
}

// ============================================================================
// 窗口子流
// ============================================================================

// windowFlux 单订阅者窗口子流
// 持有自己的元素队列、请求计数与排空循环；通过非拥有的parent引用
// 进行上游补充与窗口计数
type windowFlux struct {
	parent *windowPredicateMain
	queue  *Queue

	// flowable 面向下游的包装，每次订阅转发到subscribeWith
	flowable Flowable

	requested *uatomic.Int64
	wip       *uatomic.Int32
	done      *uatomic.Bool
	cancelled *uatomic.Bool
	errValue  *uatomic.Error
	// subscribedOnce 只允许一个订阅者
	subscribedOnce *uatomic.Bool
	// hasSubscriber actual与ctx通过该标志发布
	hasSubscriber *uatomic.Bool
	terminated    *uatomic.Bool
	// released 窗口计数只释放一次
	released *uatomic.Bool

	// actual 与 ctx 在订阅时写入一次，经hasSubscriber发布
	actual Subscriber
	ctx    context.Context
}

// newWindowFlux 创建窗口子流
func newWindowFlux(queue *Queue, parent *windowPredicateMain) *windowFlux {
	w := &windowFlux{
		parent:         parent,
		queue:          queue,
		requested:      uatomic.NewInt64(0),
		wip:            uatomic.NewInt32(0),
		done:           uatomic.NewBool(false),
		cancelled:      uatomic.NewBool(false),
		errValue:       uatomic.NewError(nil),
		subscribedOnce: uatomic.NewBool(false),
		hasSubscriber:  uatomic.NewBool(false),
		terminated:     uatomic.NewBool(false),
		released:       uatomic.NewBool(false),
	}
	w.flowable = NewFlowable(func(subscriber Subscriber) {
		w.subscribeWith(subscriber)
	})
	return w
}

// subscribeWith 接受窗口的唯一订阅者，重复订阅只对后来者报错
func (w *windowFlux) subscribeWith(subscriber Subscriber) {
	if !w.subscribedOnce.CAS(false, true) {
		subscriber.OnSubscribe(EmptySubscription())
		subscriber.OnError(ErrWindowAlreadySubscribed)
		return
	}
	w.actual = subscriber
	w.ctx = subscriberContext(subscriber)
	w.hasSubscriber.Store(true)
	subscriber.OnSubscribe(w)
	w.drain()
}

// accept 来自主订阅者的元素投递，窗口已取消或已关闭时拒绝
func (w *windowFlux) accept(value interface{}) bool {
	if w.cancelled.Load() || w.done.Load() {
		return false
	}
	w.queue.Offer(value)
	w.drain()
	return true
}

// signalComplete 来自主订阅者的关闭信号
func (w *windowFlux) signalComplete() {
	if w.done.CAS(false, true) {
		w.drain()
	}
}

// signalError 来自主订阅者的错误信号
func (w *windowFlux) signalError(err error) {
	if w.done.Load() {
		OnErrorDropped(err)
		return
	}
	w.errValue.Store(err)
	if w.done.CAS(false, true) {
		w.drain()
	}
}

// Request 窗口订阅者请求n个元素
func (w *windowFlux) Request(n int64) {
	if n <= 0 {
		w.invalidRequest(n)
		return
	}
	addCap(w.requested, n)
	w.drain()
}

// Cancel 窗口订阅者取消：排空队列并释放窗口计数
func (w *windowFlux) Cancel() {
	if !w.cancelled.CAS(false, true) {
		return
	}
	w.drain()
}

// IsCancelled 检查窗口是否已取消
func (w *windowFlux) IsCancelled() bool {
	return w.cancelled.Load()
}

// invalidRequest 非法请求量作为协议错误发给窗口订阅者
func (w *windowFlux) invalidRequest(n int64) {
	err := invalidRequestError(n)
	if w.done.Load() {
		OnErrorDropped(err)
		return
	}
	w.errValue.Store(err)
	if w.done.CAS(false, true) {
		w.drain()
	}
}

// cancelFromMain 主链取消时回收尚未发射的窗口
func (w *windowFlux) cancelFromMain() {
	if w.cancelled.CAS(false, true) {
		w.drain()
	}
}

// ============================================================================
// 窗口排空循环
// ============================================================================

// drain wip序列化的窗口排空循环
func (w *windowFlux) drain() {
	if w.wip.Inc() != 1 {
		return
	}
	missed := int32(1)
	for {
		if w.cancelled.Load() {
			w.clearAndRelease()
		} else if w.hasSubscriber.Load() {
			if w.drainPass() {
				return
			}
		}

		missed = w.wip.Sub(missed)
		if missed == 0 {
			return
		}
	}
}

// drainPass 执行一轮元素发射，返回true表示窗口已终止
func (w *windowFlux) drainPass() bool {
	a := w.actual
	r := w.requested.Load()
	e := int64(0)

	for r == RequestUnbounded || e < r {
		if w.cancelled.Load() {
			w.consumed(e, r)
			return false
		}
		d := w.done.Load()
		if d {
			// 错误优先于缓冲元素
			if err := w.errValue.Load(); err != nil {
				w.queue.Clear(nil)
				w.consumed(e, r)
				w.signalTerminal(a, err)
				return true
			}
		}
		value, ok := w.queue.Poll()
		if !ok {
			if d {
				w.consumed(e, r)
				w.signalTerminal(a, nil)
				return true
			}
			break
		}
		a.OnNext(CreateItem(value))
		e++
	}

	if w.cancelled.Load() {
		w.consumed(e, r)
		return false
	}

	// 请求耗尽时也要观察终止条件
	if w.done.Load() {
		if err := w.errValue.Load(); err != nil {
			w.queue.Clear(nil)
			w.consumed(e, r)
			w.signalTerminal(a, err)
			return true
		}
		if w.queue.IsEmpty() {
			w.consumed(e, r)
			w.signalTerminal(a, nil)
			return true
		}
	}

	w.consumed(e, r)
	return false
}

// consumed 扣减窗口请求并向上游补充已消费的元素数
func (w *windowFlux) consumed(e int64, r int64) {
	if e == 0 {
		return
	}
	if r != RequestUnbounded {
		w.requested.Sub(e)
	}
	w.parent.replenish(e)
}

// clearAndRelease 取消路径：丢弃队列中的元素并释放窗口计数
// 丢弃经由窗口订阅者的上下文，未订阅的窗口退回主链上下文
func (w *windowFlux) clearAndRelease() {
	ctx := w.discardContext()
	cleared := w.queue.Clear(func(value interface{}) {
		OnDiscard(ctx, value)
	})
	if cleared > 0 {
		w.parent.replenish(int64(cleared))
	}
	w.release()
}

// discardContext 丢弃元素使用的上下文
func (w *windowFlux) discardContext() context.Context {
	if w.hasSubscriber.Load() {
		return w.ctx
	}
	return w.parent.ctx
}

// signalTerminal 向窗口订阅者发出终止信号并释放窗口计数
func (w *windowFlux) signalTerminal(a Subscriber, err error) {
	if w.terminated.CAS(false, true) {
		if err != nil {
			a.OnError(err)
		} else {
			a.OnComplete()
		}
	}
	w.release()
}

// release 释放对主链的窗口计数，恰好一次
func (w *windowFlux) release() {
	if w.released.CAS(false, true) {
		w.parent.windowReleased()
	}
}

// Scan 读取窗口的可观测状态
func (w *windowFlux) Scan(attr ScanAttr) interface{} {
	switch attr {
	case ScanParent:
		return w.parent
	case ScanActual:
		if w.hasSubscriber.Load() {
			return w.actual
		}
		return nil
	case ScanRequestedFromDownstream:
		return w.requested.Load()
	case ScanBuffered:
		return w.queue.Size()
	case ScanError:
		return w.errValue.Load()
	case ScanTerminated:
		return w.done.Load()
	case ScanCancelled:
		return w.cancelled.Load()
	case ScanRunStyle:
		return RunStyleSync
	}
	return nil
}

// ============================================================================
// 工具
// ============================================================================

// invalidRequestError 非法请求量的背压协议错误
func invalidRequestError(n int64) error {
	err := NewBackpressureException(fmt.Sprintf("请求数量必须为正数: %d", n))
	err.cause = ErrInvalidRequest
	return err
}

// addCap 饱和累加请求计数，RequestUnbounded为终态
func addCap(counter *uatomic.Int64, n int64) {
	for {
		current := counter.Load()
		if current == RequestUnbounded {
			return
		}
		next := current + n
		if next < 0 {
			next = RequestUnbounded
		}
		if counter.CAS(current, next) {
			return
		}
	}
}
