package strategy

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/dentalnet/offline-edge/internal/cache"
	"github.com/dentalnet/offline-edge/internal/fallback"
	"github.com/dentalnet/offline-edge/internal/fetch"
)

// StaleWhileRevalidate 服务导航请求：有缓存立即返回，同时后台回源刷新缓存；
// 没有缓存时等待网络结果，网络也失败则返回通用离线占位。
// 刷新完成前的同一资源请求仍可能拿到旧内容。
type StaleWhileRevalidate struct {
	network fetch.Fetcher
	access  cacheAccess
}

// NewStaleWhileRevalidate 构造 stale-while-revalidate 策略，结果写入静态分区。
func NewStaleWhileRevalidate(deps Deps) *StaleWhileRevalidate {
	return &StaleWhileRevalidate{
		network: deps.Network,
		access:  newCacheAccess(deps, deps.Static, deps.Static, deps.API),
	}
}

func (s *StaleWhileRevalidate) Name() string { return "stale-while-revalidate" }

func (s *StaleWhileRevalidate) Handle(ctx context.Context, req *fetch.Request) *fetch.Response {
	key := cache.KeyFor(req)

	if cached, ok := s.access.match(ctx, key); ok {
		s.revalidate(ctx, key, req.Clone())
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

func (s *StaleWhileRevalidate) revalidate(ctx context.Context, key cache.Key, req *fetch.Request) {
	fields := logrus.Fields{"key": string(key)}
	s.access.bg.Go(ctx, "revalidate", fields, func(ctx context.Context) error {
		resp, err := s.network.Fetch(ctx, req)
		if err != nil {
			return err
		}
		if !resp.OK() || s.access.target == nil {
			return nil
		}
		if s.access.maxEntrySize > 0 && int64(len(resp.Body)) > s.access.maxEntrySize {
			return nil
		}
		return s.access.target.Put(ctx, key, cache.Capture(resp))
	})
}
