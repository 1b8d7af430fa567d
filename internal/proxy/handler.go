package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/dentalnet/offline-edge/internal/fallback"
	"github.com/dentalnet/offline-edge/internal/fetch"
	"github.com/dentalnet/offline-edge/internal/logging"
	"github.com/dentalnet/offline-edge/internal/network"
	"github.com/dentalnet/offline-edge/internal/server"
	"github.com/dentalnet/offline-edge/internal/strategy"
	"github.com/dentalnet/offline-edge/internal/syncqueue"
)

const (
	// HeaderSource 标记响应来自 network/cache/offline。
	HeaderSource = "X-Offline-Edge-Source"
	// HeaderStrategy 标记处理该请求的策略。
	HeaderStrategy = "X-Offline-Edge-Strategy"

	strategyPassthrough = "passthrough"
	strategyWrite       = "network-write"
	strategySyncQueue   = "sync-queue"
)

// Gate 表示当前缓存版本是否已接管流量。
type Gate interface {
	Controls() bool
}

// Enqueuer 持久化离线写请求。
type Enqueuer interface {
	Enqueue(ctx context.Context, task syncqueue.Task) (syncqueue.Task, error)
}

// Options 汇总 Handler 的依赖。
type Options struct {
	Gate        Gate
	Dispatcher  *strategy.Dispatcher
	Network     fetch.Fetcher
	Queue       Enqueuer
	SyncTag     string
	IsSyncRoute func(path string) bool
	Fallback    fallback.Provider
	Logger      *logrus.Logger
}

// Handler 把 Fiber 请求转换为 fetch.Request：GET 交给策略分发器，
// 写请求直连网络，离线时可入队的写请求进入后台同步队列。
type Handler struct {
	gate        Gate
	dispatcher  *strategy.Dispatcher
	network     fetch.Fetcher
	queue       Enqueuer
	syncTag     string
	isSyncRoute func(path string) bool
	fallback    fallback.Provider
	logger      *logrus.Logger
}

// outcome 记录一次请求的处理结果，用于响应头与日志。
type outcome struct {
	category string
	strategy string
	response *fetch.Response
	err      error
}

// NewHandler constructs a proxy handler with shared dependencies.
func NewHandler(opts Options) *Handler {
	isSyncRoute := opts.IsSyncRoute
	if isSyncRoute == nil {
		isSyncRoute = func(string) bool { return false }
	}
	return &Handler{
		gate:        opts.Gate,
		dispatcher:  opts.Dispatcher,
		network:     opts.Network,
		queue:       opts.Queue,
		syncTag:     opts.SyncTag,
		isSyncRoute: isSyncRoute,
		fallback:    opts.Fallback,
		logger:      opts.Logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.OriginRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req := buildRequest(c, route)
	var result outcome
	switch {
	case !req.IsGet():
		result = h.handleWrite(ctx, req)
	case !h.controls():
		result = h.passthrough(ctx, req)
	default:
		dispatched := h.dispatcher.Dispatch(ctx, req)
		result = outcome{
			category: dispatched.Category.String(),
			strategy: dispatched.Strategy,
			response: dispatched.Response,
		}
	}

	h.logResult(route, req, result, requestID, started)
	return writeResponse(c, result)
}

func (h *Handler) controls() bool {
	return h.dispatcher != nil && h.gate != nil && h.gate.Controls()
}

// passthrough 用于尚未接管流量的阶段，行为等同于没有 edge。
func (h *Handler) passthrough(ctx context.Context, req *fetch.Request) outcome {
	resp, err := h.network.Fetch(ctx, req)
	if err != nil {
		return outcome{category: "unclaimed", strategy: strategyPassthrough, response: upstreamError(), err: err}
	}
	return outcome{category: "unclaimed", strategy: strategyPassthrough, response: resp}
}

func (h *Handler) handleWrite(ctx context.Context, req *fetch.Request) outcome {
	resp, err := h.network.Fetch(ctx, req)
	if err == nil {
		return outcome{category: "write", strategy: strategyWrite, response: resp}
	}
	if !network.IsOffline(err) {
		return outcome{category: "write", strategy: strategyWrite, response: upstreamError(), err: err}
	}
	if h.queue == nil || !h.isSyncRoute(req.Path()) {
		return outcome{category: "write", strategy: strategyWrite, response: h.fallback.Unavailable(), err: err}
	}

	task := syncqueue.NewTask(h.syncTag, req.Method, req.URL.String(), replayHeaders(req.Header), req.Body)
	stored, qErr := h.queue.Enqueue(ctx, task)
	if qErr != nil {
		return outcome{category: "write", strategy: strategySyncQueue, response: h.fallback.Unavailable(), err: qErr}
	}
	return outcome{category: "write", strategy: strategySyncQueue, response: queuedResponse(stored, h.fallback.Message), err: err}
}

func buildRequest(c fiber.Ctx, route *server.OriginRoute) *fetch.Request {
	uri := c.Request().URI()
	relative := &url.URL{Path: string(uri.Path())}
	if relative.Path == "" {
		relative.Path = "/"
	}
	if query := uri.QueryString(); len(query) > 0 {
		relative.RawQuery = string(query)
	}
	target := route.PublicURL.ResolveReference(relative)

	header := fiberHeadersAsHTTP(c)
	req := &fetch.Request{
		Method: strings.ToUpper(c.Method()),
		URL:    target,
		Mode:   fetch.Mode(strings.ToLower(header.Get("Sec-Fetch-Mode"))),
		Header: header,
	}
	if body := c.Body(); len(body) > 0 {
		// fasthttp 会复用请求缓冲，入队前必须复制
		req.Body = append([]byte(nil), body...)
	}
	return req
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	header.Del("Host")
	return header
}

func replayHeaders(src http.Header) http.Header {
	header := http.Header{}
	network.CopyHeaders(header, src)
	header.Del("Content-Length")
	header.Del("Sec-Fetch-Mode")
	header.Del("Sec-Fetch-Site")
	header.Del("Sec-Fetch-Dest")
	return header
}

func writeResponse(c fiber.Ctx, result outcome) error {
	resp := result.response
	for key, values := range resp.Header {
		if network.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
	c.Set(HeaderSource, string(resp.Source))
	c.Set(HeaderStrategy, result.strategy)
	return c.Status(resp.Status).Send(resp.Body)
}

func upstreamError() *fetch.Response {
	return fallback.BadGateway("upstream_unreachable")
}

// queuedPayload 是写请求进入同步队列后返回给页面的 202 正文。
type queuedPayload struct {
	Queued  bool   `json:"queued"`
	Offline bool   `json:"offline"`
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

func queuedResponse(task syncqueue.Task, message string) *fetch.Response {
	if strings.TrimSpace(message) == "" {
		message = fallback.DefaultMessage
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	body, _ := json.Marshal(queuedPayload{Queued: true, Offline: true, TaskID: task.ID, Message: message})
	return &fetch.Response{
		Status: http.StatusAccepted,
		Header: header,
		Body:   body,
		Source: fetch.SourceOffline,
	}
}

func (h *Handler) logResult(route *server.OriginRoute, req *fetch.Request, result outcome, requestID string, started time.Time) {
	if h.logger == nil {
		return
	}
	fields := logging.RequestFields(result.category, result.strategy, string(result.response.Source), req.Method, req.Path())
	fields["action"] = "proxy"
	fields["route"] = route.Name
	fields["status"] = result.response.Status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if result.err != nil {
		fields["error"] = result.err.Error()
		h.logger.WithFields(fields).Warn("proxy_degraded")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}
