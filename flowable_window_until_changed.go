// WindowUntilChanged operator for flowgo
// 键变化分窗：相邻元素的键不同时切分窗口，边界元素进入新窗口
package flowgo

import (
	"sync"
)

// identityKeySelector 默认键选择器，元素本身即键
func identityKeySelector(value interface{}) interface{} {
	return value
}

// defaultKeyComparator 默认键比较器
func defaultKeyComparator(a, b interface{}) bool {
	return a == b
}

// changedKeyPredicate 键变化谓词
// 持有上一个键的槽位；终止或取消时必须清空，使被引用对象可回收
type changedKeyPredicate struct {
	keySelector   func(interface{}) interface{}
	keyComparator func(a, b interface{}) bool

	mu      sync.Mutex
	hasKey  bool
	lastKey interface{}
}

// test 键与上一个键不同时返回true（切分边界）
func (p *changedKeyPredicate) test(value interface{}) bool {
	key := p.keySelector(value)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.hasKey {
		p.hasKey = true
		p.lastKey = key
		return false
	}
	if p.keyComparator(p.lastKey, key) {
		return false
	}
	p.lastKey = key
	return true
}

// clear 清空键槽位
func (p *changedKeyPredicate) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasKey = false
	p.lastKey = nil
}

// windowUntilChanged 构建键变化分窗
// 谓词状态是每次订阅独立的，因此通过FlowableDefer延迟创建操作符
func windowUntilChanged(source Flowable, prefetch int,
	keySelector func(interface{}) interface{}, keyComparator func(a, b interface{}) bool) Flowable {
	return FlowableDefer(func() Flowable {
		predicate := &changedKeyPredicate{
			keySelector:   keySelector,
			keyComparator: keyComparator,
		}
		fwp := NewFlowableWindowPredicate(source,
			QueueSupplierUnbounded(prefetch),
			QueueSupplierUnbounded(prefetch),
			prefetch, predicate.test, ModeUntilCutBefore)
		fwp.onTerminate = predicate.clear
		return fwp
	})
}
