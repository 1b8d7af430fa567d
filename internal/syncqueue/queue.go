package syncqueue

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus"

	"github.com/dentalnet/offline-edge/internal/logging"
)

// DefaultMaxRetries 是任务转为 failed 之前允许的重放失败次数。
const DefaultMaxRetries = 5

// ErrNotFailed 表示只有 failed 状态的任务可以被 Retry 或 Discard。
var ErrNotFailed = errors.New("sync task is not in failed state")

// Waker 在任务入队后登记同步标签，连接恢复时由它触发 drain。
type Waker interface {
	Register(tag string)
}

// Options 配置 Queue。
type Options struct {
	Store      Store
	Replayer   Replayer
	Waker      Waker
	MaxRetries int
	Logger     *logrus.Logger
}

// DrainResult 汇总一次 drain 的结果。Skipped 表示已有 drain 在执行，本次未做任何事。
type DrainResult struct {
	Skipped   bool `json:"skipped"`
	Replayed  int  `json:"replayed"`
	Retrying  int  `json:"retrying"`
	Failed    int  `json:"failed"`
	Remaining int  `json:"remaining"`
}

// Queue 是后台同步队列。
type Queue struct {
	store      Store
	replayer   Replayer
	waker      Waker
	maxRetries int
	logger     *logrus.Logger
	now        func() time.Time

	draining atomic.Bool
}

// New 构造队列，MaxRetries<=0 时使用 DefaultMaxRetries。
func New(opts Options) *Queue {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Queue{
		store:      opts.Store,
		replayer:   opts.Replayer,
		waker:      opts.Waker,
		maxRetries: maxRetries,
		logger:     logger,
		now:        time.Now,
	}
}

// MaxRetries 返回配置的重试上限。
func (q *Queue) MaxRetries() int {
	return q.maxRetries
}

// Enqueue 持久化任务并登记同步标签。写入失败直接返回，登记是尽力而为的。
func (q *Queue) Enqueue(ctx context.Context, task Task) (Task, error) {
	task.Status = StatusPending
	task.RetryCount = 0
	if task.CreatedAt.IsZero() {
		task.CreatedAt = q.now().UTC()
	}
	stored, err := q.store.Append(ctx, task)
	if err != nil {
		return Task{}, err
	}
	q.logger.WithFields(taskFields(stored)).Info("sync_task_enqueued")
	if q.waker != nil {
		q.waker.Register(stored.Tag)
	}
	return stored, nil
}

// Drain 按入队顺序重放全部 pending 任务。同一时刻只允许一个 drain。
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return DrainResult{Skipped: true}, nil
	}
	defer q.draining.Store(false)

	tasks, err := q.store.List(ctx)
	if err != nil {
		return DrainResult{}, err
	}

	var result DrainResult
	for i, task := range tasks {
		if task.Status != StatusPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			result.Remaining = result.Retrying + countPending(tasks[i:])
			return result, err
		}

		replayErr := q.replayer.Replay(ctx, task)
		if replayErr == nil {
			if err := q.store.Delete(ctx, task.ID); err != nil && !errors.Is(err, ErrTaskNotFound) {
				return result, err
			}
			result.Replayed++
			q.logger.WithFields(taskFields(task)).Info("sync_task_replayed")
			continue
		}

		task.RetryCount++
		task.LastError = replayErr.Error()
		task.LastAttempt = q.now().UTC()
		if isPermanent(replayErr) || task.RetryCount >= q.maxRetries {
			task.Status = StatusFailed
			result.Failed++
			q.logger.WithFields(taskFields(task)).WithError(replayErr).Warn("sync_task_failed")
		} else {
			result.Retrying++
			q.logger.WithFields(taskFields(task)).WithError(replayErr).Info("sync_task_retry")
		}
		if err := q.store.Update(ctx, task); err != nil {
			return result, err
		}
	}

	// 重新从存储统计，drain 期间新入队的任务也计入剩余
	pending, err := q.Pending(ctx)
	if err != nil {
		return result, err
	}
	result.Remaining = len(pending)
	return result, nil
}

// DrainRemaining 执行一次 drain 并只返回剩余待重放数量，签名与 connectivity.DrainFunc 一致。
// 另一个 drain 正在执行时返回 1，使标签保持登记。
func (q *Queue) DrainRemaining(ctx context.Context) (int, error) {
	result, err := q.Drain(ctx)
	if result.Skipped {
		return 1, err
	}
	return result.Remaining, err
}

// Draining 表示当前是否有 drain 在执行。
func (q *Queue) Draining() bool {
	return q.draining.Load()
}

// Pending 返回等待重放的任务。
func (q *Queue) Pending(ctx context.Context) ([]Task, error) {
	return q.byStatus(ctx, StatusPending)
}

// Failed 返回已放弃重放、等待用户处理的任务。
func (q *Queue) Failed(ctx context.Context) ([]Task, error) {
	return q.byStatus(ctx, StatusFailed)
}

// Retry 把 failed 任务重新置为 pending 并清零重试计数。
func (q *Queue) Retry(ctx context.Context, id string) (Task, error) {
	task, err := q.store.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if task.Status != StatusFailed {
		return Task{}, ErrNotFailed
	}
	task.Status = StatusPending
	task.RetryCount = 0
	task.LastError = ""
	if err := q.store.Update(ctx, task); err != nil {
		return Task{}, err
	}
	if q.waker != nil {
		q.waker.Register(task.Tag)
	}
	return task, nil
}

// Discard 删除 failed 任务，用于用户放弃一个失败的提交。
// pending 任务可能正在被 drain 重放，不允许删除。
func (q *Queue) Discard(ctx context.Context, id string) error {
	task, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if task.Status != StatusFailed {
		return ErrNotFailed
	}
	return q.store.Delete(ctx, id)
}

func (q *Queue) byStatus(ctx context.Context, status Status) ([]Task, error) {
	tasks, err := q.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(tasks))
	for _, task := range tasks {
		if task.Status == status {
			out = append(out, task)
		}
	}
	return out, nil
}

func countPending(tasks []Task) int {
	n := 0
	for _, task := range tasks {
		if task.Status == StatusPending {
			n++
		}
	}
	return n
}

// isPermanent 只有明确分类为永久错误的 PlatformError 才跳过重试，未分类错误一律重试。
func isPermanent(err error) bool {
	var platformErr platformerrors.PlatformError
	if !platformerrors.As(err, &platformErr) {
		return false
	}
	return !platformErr.Classification().IsRetryable()
}

func taskFields(task Task) logrus.Fields {
	return logging.TaskFields(task.Tag, task.ID, task.Method, task.Endpoint, task.RetryCount)
}
