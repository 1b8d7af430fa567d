package lifecycle

import (
	"context"

	"github.com/dentalnet/offline-edge/internal/cache"
)

// View 是“当前服务版本”的某个分区。每次访问都重新解析，激活新版本后自动切换，
// 策略层因此只需构造一次。
type View struct {
	ctrl *Controller
	api  bool
}

// StaticView 返回静态分区视图。
func (c *Controller) StaticView() *View {
	return &View{ctrl: c}
}

// APIView 返回 API 分区视图。
func (c *Controller) APIView() *View {
	return &View{ctrl: c, api: true}
}

func (v *View) resolve() *cache.Partition {
	static, api := v.ctrl.Serving()
	if v.api {
		return api
	}
	return static
}

// Name 返回当前解析到的分区名，没有服务版本时为空。
func (v *View) Name() string {
	if p := v.resolve(); p != nil {
		return p.Name()
	}
	return ""
}

// Get 在没有服务版本时按未命中处理。
func (v *View) Get(ctx context.Context, key cache.Key) (cache.CapturedResponse, error) {
	p := v.resolve()
	if p == nil {
		return cache.CapturedResponse{}, cache.ErrNotFound
	}
	return p.Get(ctx, key)
}

// Put 在没有服务版本时丢弃写入。
func (v *View) Put(ctx context.Context, key cache.Key, resp cache.CapturedResponse) error {
	p := v.resolve()
	if p == nil {
		return nil
	}
	return p.Put(ctx, key, resp)
}
