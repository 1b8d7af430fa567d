package strategy

import (
	"context"

	"github.com/dentalnet/offline-edge/internal/cache"
	"github.com/dentalnet/offline-edge/internal/fallback"
	"github.com/dentalnet/offline-edge/internal/fetch"
)

// CacheFirst 服务静态资源：命中直接返回且不访问网络；未命中回源并写入静态分区。
type CacheFirst struct {
	network fetch.Fetcher
	access  cacheAccess
}

// NewCacheFirst 构造 cache-first 策略。
func NewCacheFirst(deps Deps) *CacheFirst {
	return &CacheFirst{
		network: deps.Network,
		access:  newCacheAccess(deps, deps.Static, deps.Static, deps.API),
	}
}

func (s *CacheFirst) Name() string { return "cache-first" }

func (s *CacheFirst) Handle(ctx context.Context, req *fetch.Request) *fetch.Response {
	key := cache.KeyFor(req)
	if cached, ok := s.access.match(ctx, key); ok {
		return cached
	}

	resp, err := s.network.Fetch(ctx, req)
	if err != nil {
		if rejected, ok := passThrough(err); ok {
			return rejected
		}
		return fallback.Generic()
	}
	s.access.storeLater(ctx, key, resp)
	return resp
}
