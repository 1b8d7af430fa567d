package syncqueue

import (
	"context"
	"net/http"

	platformerrors "github.com/jmgilman/go/errors"

	"github.com/dentalnet/offline-edge/internal/fetch"
)

// IdempotencyHeader 随重放请求发送，后端据此对重复提交去重。
const IdempotencyHeader = "Idempotency-Key"

// Replayer 重新发出任务对应的写请求。返回的错误若被分类为永久错误，任务立即标记失败。
type Replayer interface {
	Replay(ctx context.Context, task Task) error
}

// ReplayerFunc 让普通函数满足 Replayer。
type ReplayerFunc func(ctx context.Context, task Task) error

// Replay implements Replayer.
func (f ReplayerFunc) Replay(ctx context.Context, task Task) error {
	return f(ctx, task)
}

// HTTPReplayer 通过 fetch.Fetcher（通常是 network.Client）重放任务。
type HTTPReplayer struct {
	network fetch.Fetcher
}

// NewHTTPReplayer 构造 HTTP 重放器。
func NewHTTPReplayer(network fetch.Fetcher) *HTTPReplayer {
	return &HTTPReplayer{network: network}
}

func (r *HTTPReplayer) Replay(ctx context.Context, task Task) error {
	req, err := fetch.NewRequest(task.Method, task.Endpoint)
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "invalid task endpoint")
	}
	req.Header = task.Header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if req.Header.Get(IdempotencyHeader) == "" {
		req.Header.Set(IdempotencyHeader, task.ID)
	}
	req.Body = task.Payload

	resp, err := r.network.Fetch(ctx, req)
	if err != nil {
		return err
	}
	return statusError(resp.Status)
}

// statusError 把上游状态码映射为平台错误：408/429/5xx 可重试，其余 4xx 为永久错误。
func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return platformerrors.Newf(platformerrors.CodeRateLimit, "upstream returned %d", status)
	case status == http.StatusRequestTimeout:
		return platformerrors.Newf(platformerrors.CodeTimeout, "upstream returned %d", status)
	case status == http.StatusConflict:
		return platformerrors.Newf(platformerrors.CodeConflict, "upstream returned %d", status)
	case status >= 500:
		return platformerrors.Newf(platformerrors.CodeUnavailable, "upstream returned %d", status)
	case status >= 400:
		return platformerrors.Newf(platformerrors.CodeInvalidInput, "upstream rejected task with %d", status)
	default:
		// 1xx/3xx 对写请求没有意义，按可重试处理
		return platformerrors.Newf(platformerrors.CodeUnavailable, "unexpected upstream status %d", status)
	}
}
