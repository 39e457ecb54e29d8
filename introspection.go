// Introspection for flowgo
// 操作符运行状态的只读观测接口
package flowgo

// ScanAttr 可观测状态属性
type ScanAttr int

const (
	// ScanParent 上游（操作符的源或订阅者的上游订阅）
	ScanParent ScanAttr = iota
	// ScanActual 下游订阅者
	ScanActual
	// ScanPrefetch 上游批量请求大小
	ScanPrefetch
	// ScanRequestedFromDownstream 下游未满足的请求量
	ScanRequestedFromDownstream
	// ScanBuffered 队列中缓冲的数量
	ScanBuffered
	// ScanError 终止错误
	ScanError
	// ScanTerminated 是否已收到终止信号
	ScanTerminated
	// ScanCancelled 是否已取消
	ScanCancelled
	// ScanRunStyle 执行风格
	ScanRunStyle
)

// RunStyle 执行风格
type RunStyle int

const (
	// RunStyleUnknown 未知执行风格
	RunStyleUnknown RunStyle = iota
	// RunStyleSync 信号处理在调用方同步完成
	RunStyleSync
	// RunStyleAsync 信号处理发生在其他协程
	RunStyleAsync
)

// Scannable 可被观测的组件
type Scannable interface {
	// Scan 读取指定属性，不支持的属性返回nil
	Scan(attr ScanAttr) interface{}
}
