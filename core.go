// Package flowgo provides backpressured reactive stream primitives for Go
// 基于Reactive Streams规范的拉取式数据流库，专注于背压与谓词分窗
package flowgo

import (
	"context"
	"sync/atomic"
)

// ============================================================================
// 核心类型定义
// ============================================================================

// Item 表示流中的一个数据项，包含值或错误
type Item struct {
	Value interface{} // 数据值
	Error error       // 错误信息
}

// IsError 检查项目是否包含错误
func (item Item) IsError() bool {
	return item.Error != nil
}

// GetValue 获取项目的值，如果是错误则返回nil
func (item Item) GetValue() interface{} {
	if item.IsError() {
		return nil
	}
	return item.Value
}

// CreateItem 创建包含值的项目
func CreateItem(value interface{}) Item {
	return Item{Value: value}
}

// CreateErrorItem 创建包含错误的项目
func CreateErrorItem(err error) Item {
	return Item{Error: err}
}

// ============================================================================
// 函数类型定义
// ============================================================================

// OnNext 处理下一个值的函数
type OnNext func(value interface{})

// OnError 处理错误的函数
type OnError func(err error)

// OnComplete 处理完成的函数
type OnComplete func()

// Predicate 谓词函数，用于过滤和分窗边界判断
type Predicate func(value interface{}) bool

// Transformer 转换函数，用于映射
type Transformer func(value interface{}) (interface{}, error)

// ============================================================================
// 生命周期管理
// ============================================================================

// Disposable 可释放资源的接口
type Disposable interface {
	// Dispose 释放资源
	Dispose()
	// IsDisposed 检查是否已释放
	IsDisposed() bool
}

// baseDisposable 基础可释放资源实现
type baseDisposable struct {
	disposed int32
	action   func()
}

// NewBaseDisposable 创建基础可释放资源
func NewBaseDisposable(action func()) *baseDisposable {
	return &baseDisposable{
		action: action,
	}
}

// Dispose 释放资源
func (d *baseDisposable) Dispose() {
	if atomic.CompareAndSwapInt32(&d.disposed, 0, 1) {
		if d.action != nil {
			d.action()
		}
	}
}

// IsDisposed 检查是否已释放
func (d *baseDisposable) IsDisposed() bool {
	return atomic.LoadInt32(&d.disposed) == 1
}

// ============================================================================
// 调度器接口
// ============================================================================

// Scheduler 调度器接口，控制任务执行时机和方式
type Scheduler interface {
	// Schedule 调度一个任务
	Schedule(action func()) Disposable
}

// ============================================================================
// 工具函数
// ============================================================================

// SafeExecute 安全执行函数，捕获panic
func SafeExecute(action func()) (recovered interface{}) {
	defer func() {
		if r := recover(); r != nil {
			recovered = r
		}
	}()

	action()
	return nil
}

// ============================================================================
// 配置选项
// ============================================================================

// Option 配置选项接口
type Option interface {
	Apply(config *Config)
}

// Config 配置结构
type Config struct {
	BufferSize           int
	BackpressureStrategy BackpressureStrategy
	Context              context.Context
}

// BackpressureStrategy 背压策略
type BackpressureStrategy int

const (
	// BufferStrategy 缓冲策略
	BufferStrategy BackpressureStrategy = iota
	// DropStrategy 丢弃策略
	DropStrategy
	// BlockStrategy 阻塞策略
	BlockStrategy
)

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		BufferSize:           16,
		BackpressureStrategy: BufferStrategy,
		Context:              context.Background(),
	}
}

// optionFunc 函数式配置选项
type optionFunc func(*Config)

// Apply 应用配置
func (f optionFunc) Apply(config *Config) {
	f(config)
}

// WithBufferSize 设置缓冲区大小，同时是窗口操作符的默认prefetch
func WithBufferSize(size int) Option {
	return optionFunc(func(c *Config) {
		if size > 0 {
			c.BufferSize = size
		}
	})
}

// WithContext 设置订阅上下文
func WithContext(ctx context.Context) Option {
	return optionFunc(func(c *Config) {
		if ctx != nil {
			c.Context = ctx
		}
	})
}
