package proxy

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/dentalnet/offline-edge/internal/server"
)

// Guard 包装代理 handler：panic 转为带路由信息的 500 JSON，并回显请求 ID 方便页面上报。
// 源站与 Remote 主机共用同一个 handler，路由差异由分类规则处理。
type Guard struct {
	next   server.ProxyHandler
	logger *logrus.Logger
}

// NewGuard 构造 Guard；next 为 nil 时所有请求得到 proxy_handler_missing。
func NewGuard(next server.ProxyHandler, logger *logrus.Logger) *Guard {
	return &Guard{next: next, logger: logger}
}

// Handle 实现 server.ProxyHandler。
func (g *Guard) Handle(c fiber.Ctx, route *server.OriginRoute) (err error) {
	requestID := server.RequestID(c)
	if g.next == nil {
		g.logFailure(route, requestID, "proxy_handler_missing", nil)
		return renderGuardError(c, requestID, "proxy_handler_missing")
	}

	defer func() {
		if r := recover(); r != nil {
			g.logFailure(route, requestID, "proxy_handler_panic", fmt.Errorf("panic: %v", r))
			err = renderGuardError(c, requestID, "proxy_handler_panic")
		}
	}()
	return g.next.Handle(c, route)
}

func renderGuardError(c fiber.Ctx, requestID, code string) error {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": code})
}

func (g *Guard) logFailure(route *server.OriginRoute, requestID, code string, err error) {
	if g.logger == nil {
		return
	}
	entry := g.logger.WithFields(logrus.Fields{
		"action":     "proxy",
		"error":      code,
		"request_id": requestID,
	})
	if route != nil {
		entry = entry.WithFields(logrus.Fields{
			"route":      route.Name,
			"route_kind": string(route.Kind),
			"domain":     route.Domain,
		})
	}
	if err != nil {
		entry.WithError(err).Error("proxy handler failed")
		return
	}
	entry.Error("proxy handler unavailable")
}
