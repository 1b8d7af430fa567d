package strategy

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/dentalnet/offline-edge/internal/cache"
	"github.com/dentalnet/offline-edge/internal/fallback"
	"github.com/dentalnet/offline-edge/internal/fetch"
)

// Strategy 是可互换的取数算法。Handle 必须始终返回非 nil 响应。
type Strategy interface {
	Name() string
	Handle(ctx context.Context, req *fetch.Request) *fetch.Response
}

// Partition 是策略对缓存分区的最小依赖，*cache.Partition 满足该接口。
type Partition interface {
	Name() string
	Get(ctx context.Context, key cache.Key) (cache.CapturedResponse, error)
	Put(ctx context.Context, key cache.Key, resp cache.CapturedResponse) error
}

// Deps 汇总策略共享的依赖，由 lifecycle 在分区打开后构造。
type Deps struct {
	Network    fetch.Fetcher
	Static     Partition
	API        Partition
	Fallback   fallback.Provider
	Background *Background
	Logger     *logrus.Logger
	// MaxEntrySize 为单条缓存的最大正文字节数，<=0 表示不限制。
	MaxEntrySize int64
}

func (d Deps) logger() *logrus.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	silent := logrus.New()
	silent.SetOutput(io.Discard)
	return silent
}

func (d Deps) background() *Background {
	if d.Background != nil {
		return d.Background
	}
	return NewBackground(d.Logger)
}

// passThrough 挑出不属于网络故障的错误：上游已应答但结果无法转发时直接返回 502，
// 不用缓存或离线兜底掩盖。
func passThrough(err error) (*fetch.Response, bool) {
	if errors.Is(err, fetch.ErrBodyTooLarge) {
		return fallback.BadGateway("upstream_body_too_large"), true
	}
	return nil, false
}

// cacheAccess 封装“多分区查找 + 单分区异步写入”的公共逻辑。
type cacheAccess struct {
	lookupOrder  []Partition
	target       Partition
	bg           *Background
	logger       *logrus.Logger
	maxEntrySize int64
}

func newCacheAccess(deps Deps, target Partition, lookupOrder ...Partition) cacheAccess {
	filtered := make([]Partition, 0, len(lookupOrder))
	for _, p := range lookupOrder {
		if p != nil {
			filtered = append(filtered, p)
		}
	}
	return cacheAccess{
		lookupOrder:  filtered,
		target:       target,
		bg:           deps.background(),
		logger:       deps.logger(),
		maxEntrySize: deps.MaxEntrySize,
	}
}

// match 依次查找各分区。缓存 I/O 错误记录日志后按未命中处理。
func (a cacheAccess) match(ctx context.Context, key cache.Key) (*fetch.Response, bool) {
	for _, partition := range a.lookupOrder {
		captured, err := partition.Get(ctx, key)
		switch {
		case err == nil:
			return captured.Response(), true
		case errors.Is(err, cache.ErrNotFound):
			continue
		default:
			a.logger.WithError(err).
				WithFields(logrus.Fields{"partition": partition.Name(), "key": string(key)}).
				Warn("cache_get_failed")
		}
	}
	return nil, false
}

// storeLater 异步写入响应副本；只缓存 2xx，避免把错误正文写进缓存。
func (a cacheAccess) storeLater(ctx context.Context, key cache.Key, resp *fetch.Response) {
	if a.target == nil || !resp.OK() {
		return
	}
	if a.maxEntrySize > 0 && int64(len(resp.Body)) > a.maxEntrySize {
		a.logger.WithFields(logrus.Fields{
			"partition": a.target.Name(),
			"key":       string(key),
			"size":      len(resp.Body),
		}).Debug("cache_entry_too_large")
		return
	}
	snapshot := cache.Capture(resp)
	target := a.target
	a.bg.Go(ctx, "cache_put", logrus.Fields{"partition": target.Name(), "key": string(key)}, func(ctx context.Context) error {
		return target.Put(ctx, key, snapshot)
	})
}
