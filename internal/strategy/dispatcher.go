package strategy

import (
	"context"

	"github.com/dentalnet/offline-edge/internal/fetch"
)

// Result 携带响应以及分类/策略信息，供代理层输出响应头与日志。
type Result struct {
	Response *fetch.Response
	Category Category
	Strategy string
}

// Dispatcher 是“分类 → 策略”的查表分发器，表在构造后不再变化。
type Dispatcher struct {
	rules      Rules
	table      map[Category]Strategy
	background *Background
}

// NewDispatcher 按默认映射构建分发表，所有策略共享同一个 Background。
func NewDispatcher(rules Rules, deps Deps) *Dispatcher {
	if deps.Background == nil {
		deps.Background = NewBackground(deps.Logger)
	}
	return &Dispatcher{
		rules: rules,
		table: map[Category]Strategy{
			CategoryStatic:     NewCacheFirst(deps),
			CategoryAPI:        NewNetworkFirstCache(deps),
			CategoryNavigation: NewStaleWhileRevalidate(deps),
			CategoryOther:      NewNetworkOnly(deps),
		},
		background: deps.Background,
	}
}

// Lookup 返回某个分类对应的策略。
func (d *Dispatcher) Lookup(category Category) (Strategy, bool) {
	s, ok := d.table[category]
	return s, ok
}

// Dispatch 分类并执行对应策略。
func (d *Dispatcher) Dispatch(ctx context.Context, req *fetch.Request) Result {
	category := Classify(d.rules, req)
	s, ok := d.table[category]
	if !ok {
		s = d.table[CategoryOther]
	}
	return Result{
		Response: s.Handle(ctx, req),
		Category: category,
		Strategy: s.Name(),
	}
}

// Background 暴露共享的后台任务追踪器，便于优雅退出时等待缓存写入。
func (d *Dispatcher) Background() *Background {
	return d.background
}
