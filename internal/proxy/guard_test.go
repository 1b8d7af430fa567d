package proxy

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/dentalnet/offline-edge/internal/server"
)

const requestIDKey = "_edge_request_id"

func newGuardCtx(t *testing.T, requestID string) fiber.CustomCtx {
	t.Helper()
	app := fiber.New()
	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	t.Cleanup(func() {
		app.ReleaseCtx(ctx)
		_ = app.Shutdown()
	})
	if requestID != "" {
		ctx.Locals(requestIDKey, requestID)
	}
	return ctx
}

func TestGuardWithoutHandler(t *testing.T) {
	ctx := newGuardCtx(t, "missing-req")
	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	if err := NewGuard(nil, logger).Handle(ctx, testRoute(server.RouteOrigin)); err != nil {
		t.Fatalf("guard returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for missing handler, got %d", status)
	}
	if body := string(ctx.Response().Body()); !strings.Contains(body, "proxy_handler_missing") {
		t.Fatalf("expected proxy_handler_missing, got %s", body)
	}
	if got := string(ctx.Response().Header.Peek("X-Request-ID")); got != "missing-req" {
		t.Fatalf("expected request id header missing-req, got %s", got)
	}
	if !strings.Contains(logBuf.String(), "missing-req") {
		t.Fatalf("expected log to include request id, got %s", logBuf.String())
	}
}

func TestGuardRecoversPanic(t *testing.T) {
	ctx := newGuardCtx(t, "panic-req")
	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	guard := NewGuard(server.ProxyHandlerFunc(func(fiber.Ctx, *server.OriginRoute) error {
		panic("boom")
	}), logger)

	if err := guard.Handle(ctx, testRoute(server.RouteRemote)); err != nil {
		t.Fatalf("guard returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for handler panic, got %d", status)
	}
	if body := string(ctx.Response().Body()); !strings.Contains(body, "proxy_handler_panic") {
		t.Fatalf("expected proxy_handler_panic, got %s", body)
	}
	logs := logBuf.String()
	if !strings.Contains(logs, "proxy_handler_panic") || !strings.Contains(logs, "remote") {
		t.Fatalf("expected log to carry the error code and route kind, got %s", logs)
	}
}

func TestGuardPassesThrough(t *testing.T) {
	ctx := newGuardCtx(t, "")
	var called string
	guard := NewGuard(server.ProxyHandlerFunc(func(c fiber.Ctx, route *server.OriginRoute) error {
		called = route.Name
		return c.SendStatus(fiber.StatusNoContent)
	}), nil)

	if err := guard.Handle(ctx, testRoute(server.RouteRemote)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "test" || ctx.Response().StatusCode() != fiber.StatusNoContent {
		t.Fatalf("guard should delegate to the wrapped handler")
	}
}

func testRoute(kind server.RouteKind) *server.OriginRoute {
	return &server.OriginRoute{
		Name:   "test",
		Domain: "test.local",
		Kind:   kind,
	}
}
