package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler 处理被拦截的请求，测试中可注入假实现。
type ProxyHandler interface {
	Handle(fiber.Ctx, *OriginRoute) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *OriginRoute) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *OriginRoute) error {
	return f(c, route)
}

// AppOptions 描述 edge 监听端口上的 Fiber 应用。
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *OriginRegistry
	Proxy      ProxyHandler
	ListenPort int
}

const (
	contextKeyRoute     = "_edge_route"
	contextKeyRequestID = "_edge_request_id"

	// DiagnosticsPrefix 下的路径不走拦截。
	DiagnosticsPrefix = "/-/"

	// HeaderRoute 回显命中的路由名称，便于在浏览器 devtools 中排查。
	HeaderRoute = "X-Offline-Edge-Route"
	// HeaderHost 在 host_unmapped 时回显收到的 Host。
	HeaderHost = "X-Offline-Edge-Host"

	headerRequestID = "X-Request-ID"
	maxBodySize     = 16 * 1024 * 1024
)

// NewApp 构建 Fiber 应用：请求 ID → Host 路由 → 拦截；/-/ 路径留给诊断接口。
// 未处理的错误与 panic 统一输出 JSON，页面侧只需解析一种错误格式。
func NewApp(opts AppOptions) (*fiber.App, error) {
	switch {
	case opts.Logger == nil:
		return nil, errors.New("logger is required")
	case opts.Registry == nil:
		return nil, errors.New("origin registry is required")
	case opts.Proxy == nil:
		return nil, errors.New("proxy handler is required")
	case opts.ListenPort <= 0:
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		BodyLimit:     maxBodySize,
		ErrorHandler:  jsonErrorHandler(opts.Logger),
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			opts.Logger.WithFields(logrus.Fields{
				"action":     "recover",
				"request_id": RequestID(c),
				"path":       c.Path(),
			}).Errorf("panic: %v", e)
		},
	}))
	app.Use(requestIDMiddleware())
	app.Use(routeMiddleware(opts))

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(c.Path()) {
			return c.Next()
		}
		route, ok := getRouteFromContext(c)
		if !ok {
			return renderHostUnmapped(c, opts.Logger, "", opts.ListenPort)
		}
		return opts.Proxy.Handle(c, route)
	})

	return app, nil
}

// requestIDMiddleware 沿用页面传入的合法 UUID 请求 ID，否则生成新的。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := strings.TrimSpace(c.Get(headerRequestID))
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}
		c.Locals(contextKeyRequestID, reqID)
		c.Set(headerRequestID, reqID)
		return c.Next()
	}
}

// routeMiddleware 基于 Host/Host:port 查找 OriginRoute 并放入 Locals。
func routeMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		if isDiagnosticsPath(c.Path()) {
			return c.Next()
		}

		rawHost := strings.TrimSpace(getHostHeader(c))
		route, ok := opts.Registry.Lookup(rawHost)
		if !ok {
			return renderHostUnmapped(c, opts.Logger, rawHost, opts.ListenPort)
		}

		c.Locals(contextKeyRoute, route)
		c.Set(HeaderRoute, route.Name)
		return c.Next()
	}
}

func jsonErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		code := "internal_error"
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
			code = strings.ToLower(strings.ReplaceAll(fiberErr.Message, " ", "_"))
		}
		if status >= fiber.StatusInternalServerError {
			logger.WithFields(logrus.Fields{
				"action":     "http_error",
				"request_id": RequestID(c),
				"path":       c.Path(),
				"status":     status,
			}).WithError(err).Error("request failed")
		}
		return c.Status(status).JSON(fiber.Map{"error": code})
	}
}

func renderHostUnmapped(c fiber.Ctx, logger *logrus.Logger, host string, port int) error {
	logger.WithFields(logrus.Fields{
		"action":     "host_lookup",
		"host":       host,
		"port":       port,
		"request_id": RequestID(c),
	}).Warn("host unmapped")

	if host != "" {
		c.Set(HeaderHost, host)
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "host_unmapped"})
}

func getHostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}

func getRouteFromContext(c fiber.Ctx) (*OriginRoute, bool) {
	route, ok := c.Locals(contextKeyRoute).(*OriginRoute)
	return route, ok && route != nil
}

// RequestID 返回路由中间件写入的请求 ID。
func RequestID(c fiber.Ctx) string {
	reqID, _ := c.Locals(contextKeyRequestID).(string)
	return reqID
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, DiagnosticsPrefix)
}
