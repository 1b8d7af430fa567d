package strategy

import (
	"context"

	"github.com/dentalnet/offline-edge/internal/cache"
	"github.com/dentalnet/offline-edge/internal/fallback"
	"github.com/dentalnet/offline-edge/internal/fetch"
)

// NetworkOnly 服务未分类的请求：网络失败时尝试任意分区的缓存，自身从不写缓存。
type NetworkOnly struct {
	network fetch.Fetcher
	access  cacheAccess
}

// NewNetworkOnly 构造 network-first（不写缓存）策略。
func NewNetworkOnly(deps Deps) *NetworkOnly {
	return &NetworkOnly{
		network: deps.Network,
		access:  newCacheAccess(deps, nil, deps.Static, deps.API),
	}
}

func (s *NetworkOnly) Name() string { return "network-first" }

func (s *NetworkOnly) Handle(ctx context.Context, req *fetch.Request) *fetch.Response {
	resp, err := s.network.Fetch(ctx, req)
	if err == nil {
		return resp
	}
	if rejected, ok := passThrough(err); ok {
		return rejected
	}
	if cached, ok := s.access.match(ctx, cache.KeyFor(req)); ok {
		return cached
	}
	return fallback.Generic()
}
