package strategy

import (
	"context"

	"github.com/dentalnet/offline-edge/internal/cache"
	"github.com/dentalnet/offline-edge/internal/fallback"
	"github.com/dentalnet/offline-edge/internal/fetch"
)

// NetworkFirstCache 服务 API 请求：优先网络，成功且 2xx 时写入 API 分区；
// 只有网络层失败才回退缓存，非 2xx 响应原样返回但不缓存。
type NetworkFirstCache struct {
	network  fetch.Fetcher
	access   cacheAccess
	fallback fallback.Provider
}

// NewNetworkFirstCache 构造 network-first-with-cache 策略。
func NewNetworkFirstCache(deps Deps) *NetworkFirstCache {
	return &NetworkFirstCache{
		network:  deps.Network,
		access:   newCacheAccess(deps, deps.API, deps.API, deps.Static),
		fallback: deps.Fallback,
	}
}

func (s *NetworkFirstCache) Name() string { return "network-first-cache" }

func (s *NetworkFirstCache) Handle(ctx context.Context, req *fetch.Request) *fetch.Response {
	key := cache.KeyFor(req)

	resp, err := s.network.Fetch(ctx, req)
	if err == nil {
		s.access.storeLater(ctx, key, resp)
		return resp
	}
	if rejected, ok := passThrough(err); ok {
		return rejected
	}

	if cached, ok := s.access.match(ctx, key); ok {
		return cached
	}
	return s.fallback.For(req.Path())
}
