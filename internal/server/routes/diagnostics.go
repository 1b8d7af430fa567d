package routes

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/dentalnet/offline-edge/internal/cache"
	"github.com/dentalnet/offline-edge/internal/connectivity"
	"github.com/dentalnet/offline-edge/internal/lifecycle"
	"github.com/dentalnet/offline-edge/internal/push"
	"github.com/dentalnet/offline-edge/internal/server"
	"github.com/dentalnet/offline-edge/internal/syncqueue"
	"github.com/dentalnet/offline-edge/internal/version"
)

// MessageSkipWaiting 是页面发送的控制消息类型，要求等待中的版本立即激活。
const MessageSkipWaiting = "SKIP_WAITING"

// Deps 汇总 /-/ 接口需要读取或驱动的组件，任一字段为 nil 时对应接口不注册。
type Deps struct {
	Lifecycle *lifecycle.Controller
	Queue     *syncqueue.Queue
	Monitor   *connectivity.Monitor
	Push      *push.Center
	Registry  *server.OriginRegistry
	Logger    *logrus.Logger
}

// RegisterDiagnosticsRoutes 暴露 /-/status、控制消息、同步队列与通知接口。
func RegisterDiagnosticsRoutes(app *fiber.App, deps Deps) {
	if app == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(buildStatus(requestContext(c), deps))
	})

	if deps.Lifecycle != nil {
		app.Post("/-/control", func(c fiber.Ctx) error {
			return handleControl(c, deps)
		})
	}

	if deps.Monitor != nil {
		app.Post("/-/sync/:tag", func(c fiber.Ctx) error {
			tag := strings.TrimSpace(c.Params("tag"))
			remaining, err := deps.Monitor.Trigger(requestContext(c), tag)
			switch {
			case errors.Is(err, connectivity.ErrUnknownTag):
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "sync_tag_unknown"})
			case err != nil:
				return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "sync_drain_failed", "remaining": remaining})
			}
			return c.JSON(fiber.Map{"tag": tag, "remaining": remaining})
		})
	}

	if deps.Queue != nil {
		registerQueueRoutes(app, deps.Queue)
	}
	if deps.Push != nil {
		registerPushRoutes(app, deps)
	}
}

func registerQueueRoutes(app *fiber.App, queue *syncqueue.Queue) {
	app.Get("/-/sync/failed", func(c fiber.Ctx) error {
		tasks, err := queue.Failed(requestContext(c))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sync_store_error"})
		}
		return c.JSON(fiber.Map{"tasks": encodeTasks(tasks)})
	})

	app.Post("/-/sync/failed/:id/retry", func(c fiber.Ctx) error {
		task, err := queue.Retry(requestContext(c), c.Params("id"))
		if err != nil {
			return renderTaskError(c, err)
		}
		return c.JSON(encodeTask(task))
	})

	app.Delete("/-/sync/failed/:id", func(c fiber.Ctx) error {
		if err := queue.Discard(requestContext(c), c.Params("id")); err != nil {
			return renderTaskError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func registerPushRoutes(app *fiber.App, deps Deps) {
	center := deps.Push

	app.Post("/-/push", func(c fiber.Ctx) error {
		msg, err := push.ParseMessage(c.Body())
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "push_payload_invalid"})
		}
		n := center.Show(msg)
		if deps.Logger != nil {
			deps.Logger.WithFields(logrus.Fields{"action": "push", "notification_id": n.ID, "tag": n.Tag}).Info("notification_shown")
		}
		return c.Status(fiber.StatusCreated).JSON(n)
	})

	app.Get("/-/notifications", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"notifications": center.List()})
	})

	app.Post("/-/notifications/:id/click", func(c fiber.Ctx) error {
		action := strings.TrimSpace(c.Query("action"))
		result, err := center.Click(c.Params("id"), action)
		switch {
		case errors.Is(err, push.ErrNotificationNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "notification_not_found"})
		case errors.Is(err, push.ErrUnknownAction):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "notification_action_unknown"})
		}
		return c.JSON(result)
	})
}

type controlMessage struct {
	Type string `json:"type"`
}

func handleControl(c fiber.Ctx, deps Deps) error {
	var msg controlMessage
	if err := json.Unmarshal(c.Body(), &msg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "control_message_invalid"})
	}
	if !strings.EqualFold(strings.TrimSpace(msg.Type), MessageSkipWaiting) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "control_message_unknown", "type": msg.Type})
	}

	if err := deps.Lifecycle.SkipWaiting(requestContext(c)); err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "lifecycle_transition_invalid",
				"state": deps.Lifecycle.State(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lifecycle_activate_failed"})
	}
	return c.JSON(deps.Lifecycle.Status())
}

func renderTaskError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, syncqueue.ErrTaskNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "sync_task_not_found"})
	case errors.Is(err, syncqueue.ErrNotFailed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "sync_task_not_failed"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sync_store_error"})
	}
}

type statusPayload struct {
	Version    string            `json:"version"`
	Lifecycle  *lifecycle.Status `json:"lifecycle,omitempty"`
	Partitions []partitionStatus `json:"partitions"`
	Sync       *syncStatus       `json:"sync,omitempty"`
	Origins    []originPayload   `json:"origins"`
}

type partitionStatus struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
}

type syncStatus struct {
	Pending    int        `json:"pending"`
	Failed     int        `json:"failed"`
	Draining   bool       `json:"draining"`
	Registered []string   `json:"registered"`
	Online     bool       `json:"online"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
}

type originPayload struct {
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	Kind     string `json:"kind"`
	Upstream string `json:"upstream"`
}

type taskPayload struct {
	ID          string     `json:"id"`
	Tag         string     `json:"tag"`
	Method      string     `json:"method"`
	Endpoint    string     `json:"endpoint"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
}

func buildStatus(ctx context.Context, deps Deps) statusPayload {
	payload := statusPayload{
		Version:    version.Full(),
		Partitions: []partitionStatus{},
		Origins:    []originPayload{},
	}

	if deps.Lifecycle != nil {
		status := deps.Lifecycle.Status()
		payload.Lifecycle = &status
		static, api := deps.Lifecycle.Serving()
		if static == nil {
			static, api = deps.Lifecycle.Partitions()
		}
		payload.Partitions = encodePartitions(static, api)
	}

	if deps.Queue != nil || deps.Monitor != nil {
		payload.Sync = &syncStatus{Registered: []string{}}
	}
	if deps.Queue != nil {
		if pending, err := deps.Queue.Pending(ctx); err == nil {
			payload.Sync.Pending = len(pending)
		}
		if failed, err := deps.Queue.Failed(ctx); err == nil {
			payload.Sync.Failed = len(failed)
		}
		payload.Sync.Draining = deps.Queue.Draining()
	}
	if deps.Monitor != nil {
		payload.Sync.Registered = deps.Monitor.Registered()
		payload.Sync.Online = deps.Monitor.Online()
		if seen := deps.Monitor.LastSeen(); !seen.IsZero() {
			payload.Sync.LastSeen = &seen
		}
	}

	if deps.Registry != nil {
		for _, route := range deps.Registry.List() {
			payload.Origins = append(payload.Origins, originPayload{
				Name:     route.Name,
				Domain:   route.Domain,
				Kind:     string(route.Kind),
				Upstream: route.UpstreamURL.String(),
			})
		}
	}
	return payload
}

func encodePartitions(partitions ...*cache.Partition) []partitionStatus {
	out := make([]partitionStatus, 0, len(partitions))
	for _, p := range partitions {
		if p == nil {
			continue
		}
		out = append(out, partitionStatus{Name: p.Name(), Entries: p.Len()})
	}
	return out
}

func encodeTasks(tasks []syncqueue.Task) []taskPayload {
	out := make([]taskPayload, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, encodeTask(task))
	}
	return out
}

// encodeTask 省略请求头与正文，诊断接口不应回显患者数据。
func encodeTask(task syncqueue.Task) taskPayload {
	payload := taskPayload{
		ID:         task.ID,
		Tag:        task.Tag,
		Method:     task.Method,
		Endpoint:   task.Endpoint,
		Status:     string(task.Status),
		RetryCount: task.RetryCount,
		LastError:  task.LastError,
		CreatedAt:  task.CreatedAt,
	}
	if !task.LastAttempt.IsZero() {
		attempt := task.LastAttempt
		payload.LastAttempt = &attempt
	}
	return payload
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
